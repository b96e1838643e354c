package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

type StatusHandler struct {
	statuses *service.StatusRegistry
	logger   *zap.Logger
}

func NewStatusHandler(statuses *service.StatusRegistry, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{statuses: statuses, logger: logger}
}

func (h *StatusHandler) Keys(w http.ResponseWriter, r *http.Request) {
	list, err := h.statuses.Keys(r.Context(), domain.EntityType(r.PathValue("entity")))
	if err != nil {
		writeError(w, h.logger, "StatusKeys", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

// Count answers ?status=<key>, defaulting to all
func (h *StatusHandler) Count(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("status")
	if key == "" {
		key = domain.StatusAll
	}
	entity := domain.EntityType(r.PathValue("entity"))
	n, err := h.statuses.Count(r.Context(), entity, key)
	if err != nil {
		writeError(w, h.logger, "StatusCount", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"entity": entity, "status": key, "count": n}))
}
