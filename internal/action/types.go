package action

import "time"

// Action statuses, per the Globus Automate Action Provider spec.
// INACTIVE is a legal protocol value reserved for a future cancellation
// implementation; this provider never produces it.
const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Terminal reports whether status permits no further transitions except
// deletion.
func Terminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// Record is the item stored in the action status DynamoDB table, one per
// submitted action.
type Record struct {
	ActionID     string                 `dynamodbav:"action_id" json:"action_id"` // PK, generated by the controller
	RequestID    string                 `dynamodbav:"request_id" json:"request_id"`
	Status       string                 `dynamodbav:"status" json:"status"`
	ManageBy     []string               `dynamodbav:"manage_by" json:"manage_by"`
	MonitorBy    []string               `dynamodbav:"monitor_by" json:"monitor_by"`
	CreatorID    string                 `dynamodbav:"creator_id" json:"creator_id"`
	Label        string                 `dynamodbav:"label,omitempty" json:"label,omitempty"`
	ReleaseAfter string                 `dynamodbav:"release_after" json:"release_after"` // ISO-8601 duration, e.g. P30D
	DateStarted  time.Time              `dynamodbav:"date_started" json:"date_started"`
	Details      map[string]interface{} `dynamodbav:"details,omitempty" json:"details,omitempty"`
}

// Update is a partial status update merged on top of an existing Record.
// A zero field means "leave unchanged".
type Update struct {
	Status  string                 `json:"status,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Apply deep-merges an Update into the record: the update's keys win, but
// nested maps merge key-by-key instead of being replaced wholesale, so
// detail keys set by earlier updates survive later partial ones.
func (r *Record) Apply(u Update) {
	if u.Status != "" {
		r.Status = u.Status
	}
	if u.Details != nil {
		r.Details = mergeMaps(r.Details, u.Details)
	}
}

// mergeMaps returns base with overlay merged on top. Overlay keys win;
// when both sides hold a map the merge recurses.
func mergeMaps(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		ov, overlayIsMap := v.(map[string]interface{})
		bv, baseIsMap := out[k].(map[string]interface{})
		if overlayIsMap && baseIsMap {
			out[k] = mergeMaps(bv, ov)
			continue
		}
		out[k] = v
	}
	return out
}

// View is the externally documented response shape for an action
// ("translated status").
type View struct {
	ActionID      string                 `json:"action_id"`
	Status        string                 `json:"status"`
	DisplayStatus string                 `json:"display_status"`
	CreatorID     string                 `json:"creator_id"`
	Label         string                 `json:"label,omitempty"`
	ManageBy      []string               `json:"manage_by"`
	MonitorBy     []string               `json:"monitor_by"`
	StartTime     string                 `json:"start_time"`
	ReleaseAfter  string                 `json:"release_after"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Translate reshapes the raw stored record into the response shape.
func (r *Record) Translate() View {
	return View{
		ActionID:      r.ActionID,
		Status:        r.Status,
		DisplayStatus: r.Status,
		CreatorID:     r.CreatorID,
		Label:         r.Label,
		ManageBy:      r.ManageBy,
		MonitorBy:     r.MonitorBy,
		StartTime:     r.DateStarted.UTC().Format(time.RFC3339),
		ReleaseAfter:  r.ReleaseAfter,
		Details:       r.Details,
	}
}
