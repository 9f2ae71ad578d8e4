package kv

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/collabtee/collabtee/logkeys"

	"github.com/micromdm/nanolib/log/ctxlog"
	"github.com/micromdm/nanolib/storage/kv"
)

// Handler serves signed object uploads (PUT) and downloads (GET).
// The object ref is the request path, so mount it with the URL prefix
// stripped (e.g. with http.StripPrefix).
func (s *KV) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), s.logger)
		ref := strings.TrimPrefix(r.URL.Path, "/")

		var op string
		switch r.Method {
		case http.MethodPut:
			op = opPut
		case http.MethodGet, http.MethodHead:
			op = opGet
		default:
			w.Header().Set("Allow", "GET, HEAD, PUT")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		if err := s.verify(op, ref, r.URL.Query()); err != nil {
			logger.Info(logkeys.Message, "verify object url", logkeys.Ref, ref, logkeys.Error, err)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		if op == opPut {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxSize))
			if err != nil {
				logger.Info(logkeys.Message, "reading object", logkeys.Ref, ref, logkeys.Error, err)
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			if err = s.Put(r.Context(), ref, body); err != nil {
				logger.Info(logkeys.Message, "storing object", logkeys.Ref, ref, logkeys.Error, err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			logger.Debug(logkeys.Message, "stored object", logkeys.Ref, ref, logkeys.GenericCount, len(body))
			w.WriteHeader(http.StatusCreated)
			return
		}

		body, err := s.Get(r.Context(), ref)
		if errors.Is(err, kv.ErrKeyNotFound) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			logger.Info(logkeys.Message, "retrieving object", logkeys.Ref, ref, logkeys.Error, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(body)
	})
}
