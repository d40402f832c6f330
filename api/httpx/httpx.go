// Package httpx holds the JSON helpers and middleware shared by the API handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/depotsched/core/jobs"
	"github.com/kilianp07/depotsched/core/logger"
	"github.com/kilianp07/depotsched/core/monitoring"
	"github.com/kilianp07/depotsched/core/pipeline"
	"github.com/kilianp07/depotsched/core/resource"
	"github.com/kilianp07/depotsched/core/store"
)

// maxBody bounds request payloads.
const maxBody = 1 << 20

// ErrorBody is the payload written for every non-2xx answer.
type ErrorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.CaptureException(fmt.Errorf("encode response: %w", err), map[string]string{"module": "api"})
	}
}

// Error writes a JSON error body.
func Error(w http.ResponseWriter, code int, msg string) {
	JSON(w, code, ErrorBody{Error: msg})
}

// Decode reads a JSON body into v. When allowEmpty is set an empty body
// leaves v untouched.
func Decode(r *http.Request, v any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// Fail maps a domain error onto a status code and writes it. Unexpected
// errors are reported to monitoring.
func Fail(w http.ResponseWriter, err error) {
	var rv *resource.ValidationError
	var jv *jobs.ValidationError
	switch {
	case errors.As(err, &rv):
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "validation failed", Fields: rv.Fields})
	case errors.As(err, &jv):
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "validation failed", Fields: jv.Fields})
	case errors.Is(err, pipeline.ErrDepotRequired):
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "validation failed", Fields: []string{"depot_id"}})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrPipelineNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrIllegalTransition), errors.Is(err, pipeline.ErrNotStaging):
		Error(w, http.StatusConflict, err.Error())
	default:
		monitoring.CaptureException(err, map[string]string{"module": "api"})
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// IntParam parses an optional integer query parameter.
func IntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// FloatParam parses an optional float query parameter; nil means absent.
func FloatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

// Recover turns handler panics into a 500 and reports them.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				monitoring.CapturePanic(v, map[string]string{"module": "api", "path": r.URL.Path})
				Error(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// Logging logs method, path, status and latency of every request.
func Logging(log logger.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debugf("%s %s -> %d in %s", r.Method, r.URL.Path, rec.code, time.Since(start))
		})
	}
}
