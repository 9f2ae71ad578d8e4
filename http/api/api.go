// Package api encodes JSON API responses.
package api

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Err  string `json:"error"`
	Kind string `json:"kind,omitempty"`
}

// JSONError encodes err as JSON to w.
// A statusCode below 1 is sent as 500.
func JSONError(w http.ResponseWriter, err error, statusCode int) {
	JSONKindError(w, err, "", statusCode)
}

// JSONKindError encodes err and its stable kind name as JSON to w.
func JSONKindError(w http.ResponseWriter, err error, kind string, statusCode int) {
	w.Header().Set("Content-type", "application/json")
	if statusCode < 1 {
		statusCode = http.StatusInternalServerError
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(&ErrorResponse{Err: err.Error(), Kind: kind})
}

// JSON encodes v as JSON to w with statusCode.
// A statusCode below 1 is sent as 200.
func JSON(w http.ResponseWriter, v interface{}, statusCode int) error {
	w.Header().Set("Content-type", "application/json")
	if statusCode < 1 {
		statusCode = http.StatusOK
	}
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(v)
}
