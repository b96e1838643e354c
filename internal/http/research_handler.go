package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

type ResearchHandler struct {
	researches *service.ResearchService
	samples    *service.SampleService
	users      *service.UserService
	logger     *zap.Logger
}

func NewResearchHandler(researches *service.ResearchService, samples *service.SampleService, users *service.UserService, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{researches: researches, samples: samples, users: users, logger: logger}
}

// parseDay accepts YYYY-MM-DD or RFC 3339
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.InvalidInput("invalid date %q", s)
	}
	return t, nil
}

func (h *ResearchHandler) researchID(r *http.Request) (int64, error) {
	ident, err := pathIdent(r, "research")
	if err != nil {
		return 0, err
	}
	return h.researches.ResolveResearch(r.Context(), ident)
}

func (h *ResearchHandler) userID(r *http.Request) (int64, error) {
	ident, err := pathIdent(r, "user")
	if err != nil {
		return 0, err
	}
	return h.users.ResolveUser(r.Context(), ident)
}

type createResearchBody struct {
	Name             string  `json:"name"`
	DayStart         string  `json:"day_start"`
	DayEnd           *string `json:"day_end"`
	Comment          *string `json:"comment"`
	ApprovalRequired *bool   `json:"approval_required"`
}

func (h *ResearchHandler) CreateResearch(w http.ResponseWriter, r *http.Request) {
	var body createResearchBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "CreateResearch", err)
		return
	}
	req := service.CreateResearchRequest{
		Name:             body.Name,
		CreatorID:        callerFrom(r).UserID,
		Comment:          body.Comment,
		ApprovalRequired: body.ApprovalRequired,
	}
	if body.DayStart != "" {
		d, err := parseDay(body.DayStart)
		if err != nil {
			writeError(w, h.logger, "CreateResearch", err)
			return
		}
		req.DayStart = d
	}
	if body.DayEnd != nil {
		d, err := parseDay(*body.DayEnd)
		if err != nil {
			writeError(w, h.logger, "CreateResearch", err)
			return
		}
		req.DayEnd = &d
	}
	research, err := h.researches.CreateResearch(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "CreateResearch", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(research))
}

func (h *ResearchHandler) ListResearches(w http.ResponseWriter, r *http.Request) {
	list, err := h.researches.ListResearches(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, h.logger, "ListResearches", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *ResearchHandler) GetResearch(w http.ResponseWriter, r *http.Request) {
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "GetResearch", err)
		return
	}
	info, err := h.researches.GetResearchInfo(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "GetResearch", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(info))
}

// Transition handles start, pause, resume, end and cancel
func (h *ResearchHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var fn func(context.Context, int64, int64) (*domain.Research, error)
	switch action := r.PathValue("action"); action {
	case "start":
		fn = h.researches.StartResearch
	case "pause":
		fn = h.researches.PauseResearch
	case "resume":
		fn = h.researches.ResumeResearch
	case "end":
		fn = h.researches.EndResearch
	case "cancel":
		fn = h.researches.CancelResearch
	default:
		writeJSON(w, http.StatusNotFound, Fail(fmt.Sprintf("unknown action %q", action)))
		return
	}
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "ResearchTransition", err)
		return
	}
	research, err := fn(r.Context(), id, callerFrom(r).UserID)
	if err != nil {
		writeError(w, h.logger, "ResearchTransition", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(research))
}

// SendRequest asks to join the research as the caller
func (h *ResearchHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "SendRequest", err)
		return
	}
	if err := h.researches.SendRequest(r.Context(), id, callerFrom(r).UserID); err != nil {
		writeError(w, h.logger, "SendRequest", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// ReviewRequest approves or declines a candidate
func (h *ResearchHandler) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	var fn func(context.Context, int64, int64, int64) error
	switch decision := r.PathValue("decision"); decision {
	case "approve":
		fn = h.researches.ApproveRequest
	case "decline":
		fn = h.researches.DeclineRequest
	default:
		writeJSON(w, http.StatusNotFound, Fail(fmt.Sprintf("unknown decision %q", decision)))
		return
	}
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "ReviewRequest", err)
		return
	}
	candidate, err := h.userID(r)
	if err != nil {
		writeError(w, h.logger, "ReviewRequest", err)
		return
	}
	if err := fn(r.Context(), id, candidate, callerFrom(r).UserID); err != nil {
		writeError(w, h.logger, "ReviewRequest", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

func (h *ResearchHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "RemoveParticipant", err)
		return
	}
	user, err := h.userID(r)
	if err != nil {
		writeError(w, h.logger, "RemoveParticipant", err)
		return
	}
	if err := h.researches.DeleteAcceptedParticipant(r.Context(), id, user, callerFrom(r).UserID); err != nil {
		writeError(w, h.logger, "RemoveParticipant", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

func (h *ResearchHandler) members(w http.ResponseWriter, r *http.Request, candidates bool) {
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "ResearchMembers", err)
		return
	}
	var list []*domain.User
	if candidates {
		list, err = h.researches.GetCandidates(r.Context(), id)
	} else {
		list, err = h.researches.GetParticipants(r.Context(), id)
	}
	if err != nil {
		writeError(w, h.logger, "ResearchMembers", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *ResearchHandler) Participants(w http.ResponseWriter, r *http.Request) {
	h.members(w, r, false)
}

func (h *ResearchHandler) Candidates(w http.ResponseWriter, r *http.Request) { h.members(w, r, true) }

func (h *ResearchHandler) ChangeComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Comment *string `json:"comment"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "ChangeComment", err)
		return
	}
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "ChangeComment", err)
		return
	}
	research, err := h.researches.ChangeComment(r.Context(), id, callerFrom(r).UserID, body.Comment)
	if err != nil {
		writeError(w, h.logger, "ChangeComment", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(research))
}

// ChangeDayEnd sets {"day_end": "YYYY-MM-DD"} or clears it with null
func (h *ResearchHandler) ChangeDayEnd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DayEnd *string `json:"day_end"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "ChangeDayEnd", err)
		return
	}
	var dayEnd *time.Time
	if body.DayEnd != nil {
		d, err := parseDay(*body.DayEnd)
		if err != nil {
			writeError(w, h.logger, "ChangeDayEnd", err)
			return
		}
		dayEnd = &d
	}
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "ChangeDayEnd", err)
		return
	}
	research, err := h.researches.ChangeDayEnd(r.Context(), id, callerFrom(r).UserID, dayEnd)
	if err != nil {
		writeError(w, h.logger, "ChangeDayEnd", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(research))
}

func (h *ResearchHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := h.researchID(r)
	if err != nil {
		writeError(w, h.logger, "ExportResearchSamples", err)
		return
	}
	data, err := h.samples.ExportResearchSamples(r.Context(), id, callerFrom(r))
	if err != nil {
		writeError(w, h.logger, "ExportResearchSamples", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=research-%d-samples.xlsx", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
