package validation

import (
	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/nih-cfde/deriva-action-provider/internal/apierr"
)

// BindAndValidate binds the JSON body into out and runs validation,
// translating failures into the InvalidRequest error class.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return apierr.InvalidRequest("invalid request body: %v", err)
	}

	if err := v.Struct(out); err != nil {
		if ve, ok := err.(validatorv10.ValidationErrors); ok && len(ve) > 0 {
			// Report just the first violation; the full list is too verbose
			// for a caller to act on.
			fe := ve[0]
			return apierr.InvalidRequest("validation failed on %s (%s)", fe.StructNamespace(), fe.Tag())
		}
		return apierr.InvalidRequest("validation failed: %v", err)
	}
	return nil
}
