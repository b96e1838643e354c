package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

type UserHandler struct {
	users      *service.UserService
	researches *service.ResearchService
	kits       *service.KitService
	logger     *zap.Logger
}

func NewUserHandler(users *service.UserService, researches *service.ResearchService, kits *service.KitService, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, researches: researches, kits: kits, logger: logger}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), callerFrom(r).UserID)
	if err != nil {
		writeError(w, h.logger, "GetUser", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(u))
}

// MyResearches lists researches the caller created (?as=creator) or takes part in (default)
func (h *UserHandler) MyResearches(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	var (
		list []*domain.Research
		err  error
	)
	if r.URL.Query().Get("as") == "creator" {
		list, err = h.researches.ListCreatedBy(r.Context(), caller.UserID)
	} else {
		list, err = h.researches.ListParticipatedBy(r.Context(), caller.UserID)
	}
	if err != nil {
		writeError(w, h.logger, "MyResearches", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *UserHandler) MyKits(w http.ResponseWriter, r *http.Request) {
	list, err := h.kits.ListKitsByOwner(r.Context(), callerFrom(r).UserID)
	if err != nil {
		writeError(w, h.logger, "ListKitsByOwner", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !callerFrom(r).IsAdmin() {
		writeError(w, h.logger, "ListUsers", domain.Forbidden("only admins may list users"))
		return
	}
	list, err := h.users.ListUsers(r.Context())
	if err != nil {
		writeError(w, h.logger, "ListUsers", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ident, err := pathIdent(r, "user")
	if err != nil {
		writeError(w, h.logger, "GetUser", err)
		return
	}
	id, err := h.users.ResolveUser(r.Context(), ident)
	if err != nil {
		writeError(w, h.logger, "GetUser", err)
		return
	}
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "GetUser", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(u))
}

func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "SetRole", err)
		return
	}
	ident, err := pathIdent(r, "user")
	if err != nil {
		writeError(w, h.logger, "SetRole", err)
		return
	}
	id, err := h.users.ResolveUser(r.Context(), ident)
	if err != nil {
		writeError(w, h.logger, "SetRole", err)
		return
	}
	u, err := h.users.SetRole(r.Context(), service.SetRoleRequest{
		UserID:      id,
		Role:        body.Role,
		RequesterID: callerFrom(r).UserID,
	})
	if err != nil {
		writeError(w, h.logger, "SetRole", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(u))
}
