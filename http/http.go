// Package http includes handlers and utilties.
package http

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// ReadAllAndReplaceBody reads all of r.Body and replaces it with a new byte buffer.
func ReadAllAndReplaceBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return b, err
	}
	defer r.Body.Close()
	r.Body = io.NopCloser(bytes.NewBuffer(b))
	return b, nil
}

// dumpable reports whether the request body is textual.
// Object uploads carry ciphertext and are not dumped.
func dumpable(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return r.ContentLength != 0
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || mt == "text/plain"
}

// DumpHandler writes the method, path and textual body of each request
// to output before passing it to next.
func DumpHandler(next http.Handler, output io.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(output, "%s %s\n", r.Method, r.URL.Path)
		if dumpable(r) {
			body, _ := ReadAllAndReplaceBody(r)
			if len(body) > 0 {
				output.Write(append(body, '\n'))
			}
		}
		next.ServeHTTP(w, r)
	}
}
