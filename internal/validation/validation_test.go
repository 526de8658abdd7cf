package validation

import "testing"

func validRunRequest() RunRequest {
	return RunRequest{
		RequestID: "req-1",
		Body: RunBody{
			Operation: "ingest",
			DataURL:   "https://example.org/bag.zip",
		},
	}
}

func TestValidate_AcceptsWellFormedRequest(t *testing.T) {
	v := New()
	req := validRunRequest()
	if err := v.Struct(req); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestValidate_RequiresRequestID(t *testing.T) {
	v := New()
	req := validRunRequest()
	req.RequestID = ""
	if err := v.Struct(req); err == nil {
		t.Fatal("missing request_id should fail validation")
	}
}

func TestValidate_RejectsUnknownOperation(t *testing.T) {
	v := New()
	req := validRunRequest()
	req.Body.Operation = "destroy"
	if err := v.Struct(req); err == nil {
		t.Fatal("unknown operation should fail validation")
	}
}

func TestValidate_IngestRequiresDataURL(t *testing.T) {
	v := New()
	for _, op := range []string{"ingest", "restore"} {
		req := validRunRequest()
		req.Body.Operation = op
		req.Body.DataURL = ""
		if err := v.Struct(req); err == nil {
			t.Fatalf("%s without data_url should fail validation", op)
		}
	}
}

func TestValidate_RejectsMalformedDataURL(t *testing.T) {
	v := New()
	req := validRunRequest()
	req.Body.DataURL = "not a url"
	if err := v.Struct(req); err == nil {
		t.Fatal("malformed data_url should fail validation")
	}
}

func TestValidate_RejectsEmptyAclEntry(t *testing.T) {
	v := New()
	req := validRunRequest()
	req.ManageBy = []string{""}
	if err := v.Struct(req); err == nil {
		t.Fatal("empty manage_by entry should fail validation")
	}
}
