package deriva

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Reporter registers an out-of-band error for a submission with the Deriva
// registry, so that operators see timed-out submissions on the Deriva side
// as well. Reporting is always best-effort.
type Reporter interface {
	ReportExternalError(ctx context.Context, actionID, message string) error
}

// RegistryReporter posts submission errors to the Deriva registry over
// HTTPS.
type RegistryReporter struct {
	client *resty.Client
	server string
	logger *zap.Logger
}

// NewRegistryReporter builds a reporter for the given Deriva server.
// tokenFunc supplies a fresh bearer token per call.
func NewRegistryReporter(server string, tokenFunc func(ctx context.Context) (string, error), logger *zap.Logger) *RegistryReporter {
	client := resty.New().
		SetTimeout(15 * time.Second)
	r := &RegistryReporter{
		client: client,
		server: server,
		logger: logger.With(zap.String("component", "deriva-reporter")),
	}
	if tokenFunc != nil {
		client.SetAuthScheme("Bearer")
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			tok, err := tokenFunc(req.Context())
			if err != nil {
				return err
			}
			req.SetAuthToken(tok)
			return nil
		})
	}
	return r
}

// ReportExternalError marks the submission as failed in the registry.
func (r *RegistryReporter) ReportExternalError(ctx context.Context, actionID, message string) error {
	url := fmt.Sprintf("https://%s/ermrest/catalog/registry/entity/CFDE:datapackage/id=%s", r.server, actionID)
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"status":      "cfde_registry_dp_status:ops-error",
			"diagnostics": message,
		}).
		Put(url)
	if err != nil {
		return fmt.Errorf("report external error for %s: %w", actionID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("report external error for %s: registry returned %d", actionID, resp.StatusCode())
	}
	r.logger.Info("registered external ops error", zap.String("action_id", actionID))
	return nil
}
