package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

type KitHandler struct {
	kits   *service.KitService
	users  *service.UserService
	logger *zap.Logger
}

func NewKitHandler(kits *service.KitService, users *service.UserService, logger *zap.Logger) *KitHandler {
	return &KitHandler{kits: kits, users: users, logger: logger}
}

func (h *KitHandler) kitID(r *http.Request) (int64, error) {
	ident, err := pathIdent(r, "kit")
	if err != nil {
		return 0, err
	}
	return h.kits.ResolveKit(r.Context(), ident)
}

func (h *KitHandler) CreateKit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QRCount int `json:"qr_count"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "CreateKit", err)
		return
	}
	kit, err := h.kits.CreateKit(r.Context(), service.CreateKitRequest{
		QRCount:   body.QRCount,
		CreatorID: callerFrom(r).UserID,
	})
	if err != nil {
		writeError(w, h.logger, "CreateKit", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(kit))
}

// ListKits returns every kit to admins and the caller's own kits to everyone else
func (h *KitHandler) ListKits(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	var (
		list []*domain.Kit
		err  error
	)
	if caller.IsAdmin() {
		list, err = h.kits.ListKits(r.Context())
	} else {
		list, err = h.kits.ListKitsByOwner(r.Context(), caller.UserID)
	}
	if err != nil {
		writeError(w, h.logger, "ListKits", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *KitHandler) GetKit(w http.ResponseWriter, r *http.Request) {
	id, err := h.kitID(r)
	if err != nil {
		writeError(w, h.logger, "GetKit", err)
		return
	}
	info, err := h.kits.GetKitInfo(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "GetKit", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(info))
}

// SendKit hands the kit to {"owner": "<id or name>"}
func (h *KitHandler) SendKit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner string `json:"owner"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "SendKit", err)
		return
	}
	id, err := h.kitID(r)
	if err != nil {
		writeError(w, h.logger, "SendKit", err)
		return
	}
	ownerIdent, err := domain.ParseIdentifier(body.Owner)
	if err != nil {
		writeError(w, h.logger, "SendKit", err)
		return
	}
	ownerID, err := h.users.ResolveUser(r.Context(), ownerIdent)
	if err != nil {
		writeError(w, h.logger, "SendKit", err)
		return
	}
	kit, err := h.kits.SendKit(r.Context(), service.SendKitRequest{
		KitID:       id,
		NewOwnerID:  ownerID,
		RequesterID: callerFrom(r).UserID,
	})
	if err != nil {
		writeError(w, h.logger, "SendKit", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(kit))
}

func (h *KitHandler) ActivateKit(w http.ResponseWriter, r *http.Request) {
	id, err := h.kitID(r)
	if err != nil {
		writeError(w, h.logger, "ActivateKit", err)
		return
	}
	kit, err := h.kits.ActivateKit(r.Context(), service.ActivateKitRequest{
		KitID:       id,
		RequesterID: callerFrom(r).UserID,
	})
	if err != nil {
		writeError(w, h.logger, "ActivateKit", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(kit))
}

func (h *KitHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	info, err := h.kits.GetQRInfo(r.Context(), r.PathValue("hex"))
	if err != nil {
		writeError(w, h.logger, "GetQRInfo", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(info))
}
