package deriva

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/action"
)

// Registry datapackage states that end a submission.
const (
	dpStatusReady    = "cfde_registry_dp_status:content-ready"
	dpStatusError    = "cfde_registry_dp_status:ops-error"
	dpStatusRejected = "cfde_registry_dp_status:rejected"
)

const pollInterval = 30 * time.Second

// Client drives a Deriva submission over the registry HTTP API: it
// registers the datapackage under the action's ID, triggers the ingest and
// polls until the registry reports a terminal state.
type Client struct {
	http      *resty.Client
	server    string
	tokenFunc func(ctx context.Context) (string, error)
	logger    *zap.Logger
}

// NewClient builds an ingest client against a default Deriva server; a
// submission may override the server per call.
func NewClient(server string, tokenFunc func(ctx context.Context) (string, error), logger *zap.Logger) *Client {
	return &Client{
		http:      resty.New().SetTimeout(60 * time.Second),
		server:    server,
		tokenFunc: tokenFunc,
		logger:    logger.With(zap.String("component", "deriva-client")),
	}
}

type datapackage struct {
	Status          string `json:"status"`
	Diagnostics     string `json:"diagnostics"`
	ReviewBrowseURL string `json:"review_browse_url"`
}

// Run submits the archive and waits for the registry to settle. The action
// ID doubles as the Deriva submission ID so submissions can be traced back
// to their action.
func (c *Client) Run(ctx context.Context, params Params) (*Result, error) {
	server := params.Server
	if server == "" {
		server = c.server
	}

	token, err := c.tokenFunc(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire deriva token: %w", err)
	}

	c.logger.Info("submitting dataset to deriva",
		zap.String("action_id", params.ActionID),
		zap.String("server", server))

	submitURL := fmt.Sprintf("https://%s/ermrest/catalog/registry/entity/CFDE:datapackage", server)
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]interface{}{
			"id":              params.ActionID,
			"submitting_dcc":  params.DCCID,
			"datapackage_url": params.DataURL,
			"operation":       params.Operation,
			"catalog_id":      params.CatalogID,
		}).
		Post(submitURL)
	if err != nil {
		return nil, fmt.Errorf("register submission: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("register submission: registry returned %d", resp.StatusCode())
	}

	dp, err := c.waitForOutcome(ctx, server, params.ActionID, token)
	if err != nil {
		return nil, err
	}

	success := dp.Status == dpStatusReady
	result := &Result{
		Status: action.StatusFailed,
		Details: map[string]interface{}{
			"submission_id":   params.ActionID,
			"submission_link": dp.ReviewBrowseURL,
			"message":         "",
		},
	}
	if success {
		result.Status = action.StatusSucceeded
		result.Details["message"] = "DERIVA ingest successful"
		// The flow expects error=false when there are no errors, not an
		// empty string.
		result.Details["error"] = false
	} else {
		result.Details["error"] = dp.Diagnostics
	}
	return result, nil
}

func (c *Client) waitForOutcome(ctx context.Context, server, submissionID, token string) (*datapackage, error) {
	statusURL := fmt.Sprintf("https://%s/ermrest/catalog/registry/entity/CFDE:datapackage/id=%s", server, submissionID)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var dps []datapackage
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetResult(&dps).
			Get(statusURL)
		if err != nil {
			return nil, fmt.Errorf("poll submission %s: %w", submissionID, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("poll submission %s: registry returned %d", submissionID, resp.StatusCode())
		}
		if len(dps) == 0 {
			return nil, fmt.Errorf("submission %s vanished from registry", submissionID)
		}

		dp := dps[0]
		switch dp.Status {
		case dpStatusReady, dpStatusError, dpStatusRejected:
			return &dp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
