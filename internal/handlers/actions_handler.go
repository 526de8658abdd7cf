package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/apierr"
	"github.com/nih-cfde/deriva-action-provider/internal/auth"
	"github.com/nih-cfde/deriva-action-provider/internal/config"
	"github.com/nih-cfde/deriva-action-provider/internal/controller"
	"github.com/nih-cfde/deriva-action-provider/internal/deriva"
	"github.com/nih-cfde/deriva-action-provider/internal/metrics"
	"github.com/nih-cfde/deriva-action-provider/internal/validation"
)

const identityKey = "caller_identity"

// HandlerConfig groups dependencies for the action provider routes.
type HandlerConfig struct {
	Controller    *controller.Controller
	Authenticator auth.Authenticator
	Config        *config.Config
	Logger        *zap.Logger
}

// RegisterActionRoutes registers the Action Provider HTTP surface.
func RegisterActionRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	logger := cfg.Logger.With(zap.String("component", "http"))

	r.Use(requestMetrics())

	// Liveness and metrics skip authentication.
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", authenticate(cfg.Authenticator, logger))

	authed.GET("/", func(c *gin.Context) {
		meta := providerMetadata(cfg.Config)
		if !auth.Authorized(callerFrom(c), cfg.Config.VisibleTo) {
			writeError(c, logger, apierr.NotAuthorized("you cannot view this Action Provider"))
			return
		}
		c.JSON(http.StatusOK, meta)
	})

	authed.POST("/run", func(c *gin.Context) {
		var req validation.RunRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			writeError(c, logger, err)
			return
		}

		submit := &controller.SubmitRequest{
			RequestID: req.RequestID,
			Body: deriva.Params{
				Operation: req.Body.Operation,
				DataURL:   req.Body.DataURL,
				CatalogID: req.Body.CatalogID,
				Server:    req.Body.Server,
				DCCID:     req.Body.DCCID,
				GlobusEP:  req.Body.GlobusEP,
			},
			Label:        req.Label,
			ManageBy:     req.ManageBy,
			MonitorBy:    req.MonitorBy,
			ReleaseAfter: req.ReleaseAfter,
			Deadline:     req.Deadline,
		}

		view, replayed, err := cfg.Controller.Submit(c.Request.Context(), callerFrom(c), submit)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		if replayed {
			c.JSON(http.StatusOK, view)
			return
		}
		c.JSON(http.StatusAccepted, view)
	})

	authed.GET("/:action_id/status", func(c *gin.Context) {
		view, err := cfg.Controller.Status(c.Request.Context(), callerFrom(c), c.Param("action_id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authed.POST("/:action_id/cancel", func(c *gin.Context) {
		view, err := cfg.Controller.Cancel(c.Request.Context(), callerFrom(c), c.Param("action_id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authed.POST("/:action_id/release", func(c *gin.Context) {
		view, err := cfg.Controller.Release(c.Request.Context(), callerFrom(c), c.Param("action_id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})
}

// providerMetadata is the introspection document served at the root path.
func providerMetadata(cfg *config.Config) gin.H {
	return gin.H{
		"types":             []string{"Action"},
		"api_version":       "1.0",
		"globus_auth_scope": cfg.GlobusScope,
		"title":             "CFDE Deriva Ingest",
		"subtitle": "A Globus Automate Action Provider ingesting " +
			"properly-formatted BDBags into DERIVA.",
		"visible_to":    cfg.VisibleTo,
		"runnable_by":   []string{"urn:globus:groups:id:" + cfg.RunnableGroup},
		"synchronous":   false,
		"log_supported": false,
		"input_schema": gin.H{
			"$schema":     "http://json-schema.org/draft-04/schema#",
			"title":       "Deriva Ingest Input",
			"description": "Input schema for the Deriva ingest Action Provider.",
			"type":        "object",
			"properties": gin.H{
				"operation": gin.H{
					"type": "string",
					"enum": []string{"ingest", "restore"},
				},
				"data_url": gin.H{
					"type":        "string",
					"format":      "uri",
					"description": "The URL of the BDBag or restore data.",
				},
				"catalog_id": gin.H{
					"type":        "string",
					"description": "The DERIVA catalog to ingest or restore into.",
				},
			},
			"required": []string{"operation"},
		},
	}
}

// authenticate resolves the bearer token into a caller identity or rejects
// the request.
func authenticate(a auth.Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		identity, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, logger, err)
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func callerFrom(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(*auth.Identity); ok {
			return id
		}
	}
	return nil
}

// requestMetrics counts requests by route template rather than raw path so
// action IDs don't explode the label cardinality.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// writeError maps the error taxonomy onto HTTP responses. Untyped errors
// are reported as opaque internal errors; their detail stays in the logs.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		logger.Error("unclassified handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  string(apierr.CodeInternalError),
			"error": "internal error",
		})
		return
	}
	if ae.Status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", string(ae.Code)), zap.Error(err))
	}
	c.JSON(ae.Status, gin.H{
		"code":  string(ae.Code),
		"error": ae.Message,
	})
}
