package validation

// RunBody is the operation-specific input of a submission, matching the
// provider's published input schema.
type RunBody struct {
	Operation string `json:"operation" validate:"required,oneof=ingest restore"`
	DataURL   string `json:"data_url,omitempty" validate:"omitempty,url"`
	CatalogID string `json:"catalog_id,omitempty"`
	Server    string `json:"server,omitempty"`
	DCCID     string `json:"dcc_id,omitempty"`
	GlobusEP  string `json:"globus_ep,omitempty"`
}

// RunRequest is the payload for POST /run.
type RunRequest struct {
	RequestID    string   `json:"request_id" validate:"required"`
	Body         RunBody  `json:"body" validate:"required"`
	Label        string   `json:"label,omitempty"`
	ManageBy     []string `json:"manage_by,omitempty" validate:"omitempty,min=1,dive,required"`
	MonitorBy    []string `json:"monitor_by,omitempty" validate:"omitempty,min=1,dive,required"`
	ReleaseAfter string   `json:"release_after,omitempty"`
	Deadline     string   `json:"deadline,omitempty"`
}
