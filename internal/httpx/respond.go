package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/logger"
	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByKind = map[realty.Kind]int{
	realty.KindValidation: http.StatusBadRequest,
	realty.KindPermission: http.StatusForbidden,
	realty.KindNotFound:   http.StatusNotFound,
	realty.KindConflict:   http.StatusConflict,
	realty.KindState:      http.StatusUnprocessableEntity,
}

// writeError maps domain errors onto status codes; anything else is a 500
// whose detail only goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *realty.Error
	if errors.As(err, &e) {
		writeJSON(w, statusByKind[e.Kind], map[string]string{"error": e.Reason, "kind": string(e.Kind)})
		return
	}
	logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "kind": "internal"})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg, "kind": string(realty.KindValidation)})
}

// decode reads one JSON object; unknown fields are rejected when strict is set.
func decode(r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		msg := err.Error()
		if strings.HasPrefix(msg, "json: unknown field ") {
			return errors.New("unknown field " + strings.TrimPrefix(msg, "json: unknown field "))
		}
		return errors.New("invalid json")
	}
	return nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
