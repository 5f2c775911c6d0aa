package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/errs"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type errorBody struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // header already committed
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Timestamp: s.now()})
}

func (s *Server) created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: data, Timestamp: s.now()})
}

// fail writes err with the status its kind maps to. Server-side failures are logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		attrs := append([]any{"path", r.URL.Path, "request_id", middleware.GetReqID(r.Context())}, errs.LogAttrs(err)...)
		s.logger.Error("request failed", attrs...)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Timestamp: s.now()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return goerr.Wrap(errs.ErrInvalidInput, "invalid request body", goerr.V("cause", err.Error()))
	}
	return nil
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, goerr.Wrap(errs.ErrInvalidInput, "invalid "+key, goerr.V(key, raw))
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, goerr.Wrap(errs.ErrInvalidInput, "invalid "+key, goerr.V(key, raw))
	}
	return n, nil
}

// maxHours is the longest window a time.Duration can hold.
const maxHours = int64(math.MaxInt64 / time.Hour)

// queryHours parses an hour count into a window. Negative values and values beyond
// maxHours are rejected.
func queryHours(r *http.Request, key string, def int) (time.Duration, error) {
	h, err := queryInt(r, key, def)
	if err != nil {
		return 0, err
	}
	if h < 0 {
		return 0, goerr.Wrap(errs.ErrInvalidInput, key+" must not be negative", goerr.V(key, h))
	}
	if int64(h) > maxHours {
		return 0, goerr.Wrap(errs.ErrInvalidInput, key+" is too large",
			goerr.V(key, h), goerr.V("max", maxHours))
	}
	return time.Duration(h) * time.Hour, nil
}
