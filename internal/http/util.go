package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

const (
	maxBodyBytes  = 1 << 20
	maxPhotoBytes = 10 << 20
	// a submit carries the photo base64-encoded next to the other fields
	maxSubmitBytes = maxPhotoBytes/3*4 + maxBodyBytes
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return i
}

// readBody reads at most maxBytes; a longer body is rejected rather than truncated
func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, domain.InvalidInput("body too large: limit is %d bytes", maxBytes)
	}
	return body, nil
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := readBody(r, maxBytes)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.InvalidInput("invalid request body: %v", err)
	}
	return nil
}

// statusOf maps error kinds onto HTTP status codes
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status; internal errors are logged and not echoed
func writeError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, Fail(msg))
}

// pathIdent parses the {name} path segment as a domain.Identifier
func pathIdent(r *http.Request, name string) (domain.Identifier, error) {
	return domain.ParseIdentifier(r.PathValue(name))
}
