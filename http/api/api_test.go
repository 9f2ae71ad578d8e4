package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSONKindError(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONKindError(rec, errors.New("not approved: B"), "NotApproved", http.StatusForbidden)

	if have, want := rec.Code, http.StatusForbidden; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if have, want := resp.Kind, "NotApproved"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := resp.Err, "not approved: B"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestJSONErrorDefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONError(rec, errors.New("boom"), 0)
	if have, want := rec.Code, http.StatusInternalServerError; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := rec.Body.String(), "{\"error\":\"boom\"}\n"; have != want {
		t.Errorf("have: %q, want: %q", have, want)
	}
}
