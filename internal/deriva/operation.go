package deriva

import (
	"context"

	"github.com/nih-cfde/deriva-action-provider/internal/apierr"
	"github.com/nih-cfde/deriva-action-provider/internal/config"
)

// Operation names accepted by the provider.
const (
	OpIngest  = "ingest"
	OpRestore = "restore"
)

// Params carries the operation-specific body of a submission to the ingest
// collaborator.
type Params struct {
	ActionID  string `json:"action_id"`
	Operation string `json:"operation"`
	DataURL   string `json:"data_url"`
	CatalogID string `json:"catalog_id,omitempty"`
	Server    string `json:"server,omitempty"`
	DCCID     string `json:"dcc_id,omitempty"`
	GlobusEP  string `json:"globus_ep,omitempty"`
}

// Result is what a completed operation reports back. Status must be a valid
// action status (SUCCEEDED or FAILED); Details is merged into the action
// record verbatim.
type Result struct {
	Status  string
	Details map[string]interface{}
}

// Operation runs the actual Deriva ingest/restore. The lifecycle core treats
// it as opaque: it may fail with any error, and the runner converts every
// failure into a terminal FAILED status.
type Operation interface {
	Run(ctx context.Context, params Params) (*Result, error)
}

// ResolveCatalog maps a keyword catalog_id to its registered catalog and
// server. An explicitly provided server must match the registered one
// exactly; a mismatch is a caller error caught before any work starts.
func ResolveCatalog(params *Params, known map[string]config.Catalog) error {
	info, ok := known[params.CatalogID]
	if !ok {
		return nil
	}
	params.CatalogID = info.CatalogID
	if params.Server == "" {
		params.Server = info.Server
	} else if params.Server != info.Server {
		return apierr.InvalidRequest(
			"server %q does not match server for catalog %q (%s)",
			params.Server, params.CatalogID, info.Server)
	}
	return nil
}
