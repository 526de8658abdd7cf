package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// Ingest and restore pull data from a remote bag, so both require a
	// data_url even though the schema marks it optional for other bodies.
	v.RegisterStructValidation(runBodyStructValidation, RunBody{})

	return v
}

func runBodyStructValidation(sl validatorv10.StructLevel) {
	body := sl.Current().Interface().(RunBody)

	if (body.Operation == "ingest" || body.Operation == "restore") && body.DataURL == "" {
		sl.ReportError(body.DataURL, "data_url", "DataURL", "data_url_required",
			"you must provide a data_url to ingest or restore")
	}
}
