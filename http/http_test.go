package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDumpHandler(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
	})

	for _, test := range []struct {
		name        string
		contentType string
		body        string
		dumped      bool
	}{
		{"json", "application/json; charset=utf-8", `{"creator_id":"A"}`, true},
		{"ciphertext", "application/octet-stream", "\x00\x01secret", false},
	} {
		t.Run(test.name, func(t *testing.T) {
			out := new(bytes.Buffer)
			r := httptest.NewRequest("POST", "/v1/workflows", strings.NewReader(test.body))
			r.Header.Set("Content-Type", test.contentType)
			DumpHandler(next, out).ServeHTTP(httptest.NewRecorder(), r)

			if have, want := seen, test.body; have != want {
				t.Errorf("body not passed on: have: %q, want: %q", have, want)
			}
			if !strings.HasPrefix(out.String(), "POST /v1/workflows\n") {
				t.Errorf("missing request line: %q", out.String())
			}
			if have, want := strings.Contains(out.String(), test.body), test.dumped; have != want {
				t.Errorf("dumped: have: %v, want: %v", have, want)
			}
		})
	}
}
