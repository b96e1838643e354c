package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

type SampleHandler struct {
	samples    *service.SampleService
	researches *service.ResearchService
	logger     *zap.Logger
}

func NewSampleHandler(samples *service.SampleService, researches *service.ResearchService, logger *zap.Logger) *SampleHandler {
	return &SampleHandler{samples: samples, researches: researches, logger: logger}
}

func sampleID(r *http.Request) (int64, error) {
	raw := r.PathValue("sample")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.InvalidInput("invalid sample id %q", raw)
	}
	return id, nil
}

type submitSampleBody struct {
	QRHex       string     `json:"qr_hex"`
	Research    string     `json:"research"` // id or name
	CollectedAt time.Time  `json:"collected_at"`
	GPS         domain.GPS `json:"gps"`
	Weather     *string    `json:"weather"`
	Comment     *string    `json:"comment"`
	Photo       []byte     `json:"photo"` // base64
}

func (h *SampleHandler) SubmitSample(w http.ResponseWriter, r *http.Request) {
	var body submitSampleBody
	if err := readBodyJSON(r, maxSubmitBytes, &body); err != nil {
		writeError(w, h.logger, "SubmitSample", err)
		return
	}
	if body.QRHex == "" {
		writeError(w, h.logger, "SubmitSample", domain.InvalidInput("qr_hex is required"))
		return
	}
	if body.CollectedAt.IsZero() {
		writeError(w, h.logger, "SubmitSample", domain.InvalidInput("collected_at is required"))
		return
	}
	ident, err := domain.ParseIdentifier(body.Research)
	if err != nil {
		writeError(w, h.logger, "SubmitSample", err)
		return
	}
	researchID, err := h.researches.ResolveResearch(r.Context(), ident)
	if err != nil {
		writeError(w, h.logger, "SubmitSample", err)
		return
	}
	sample, err := h.samples.SubmitSample(r.Context(), service.SubmitSampleRequest{
		QRHex:       body.QRHex,
		ResearchID:  researchID,
		SubmitterID: callerFrom(r).UserID,
		CollectedAt: body.CollectedAt,
		GPS:         body.GPS,
		Weather:     body.Weather,
		Comment:     body.Comment,
		Photo:       body.Photo,
	})
	if err != nil {
		writeError(w, h.logger, "SubmitSample", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(sample))
}

// ListSamples filters by ?research=, ?owner= and ?status=
func (h *SampleHandler) ListSamples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := service.SampleListFilter{
		OwnerID:   parseInt64(q.Get("owner"), 0),
		StatusKey: q.Get("status"),
	}
	if raw := q.Get("research"); raw != "" {
		ident, err := domain.ParseIdentifier(raw)
		if err != nil {
			writeError(w, h.logger, "ListSamples", err)
			return
		}
		if filter.ResearchID, err = h.researches.ResolveResearch(r.Context(), ident); err != nil {
			writeError(w, h.logger, "ListSamples", err)
			return
		}
	}
	list, err := h.samples.ListSamples(r.Context(), callerFrom(r), filter)
	if err != nil {
		writeError(w, h.logger, "ListSamples", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

func (h *SampleHandler) GetSample(w http.ResponseWriter, r *http.Request) {
	id, err := sampleID(r)
	if err != nil {
		writeError(w, h.logger, "GetSample", err)
		return
	}
	sample, err := h.samples.GetSampleInfo(r.Context(), id, callerFrom(r))
	if err != nil {
		writeError(w, h.logger, "GetSample", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sample))
}

// ChangeStatus records lab progress; admins only
func (h *SampleHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	if !callerFrom(r).IsAdmin() {
		writeError(w, h.logger, "ChangeSampleStatus", domain.Forbidden("only admins may change sample status"))
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "ChangeSampleStatus", err)
		return
	}
	id, err := sampleID(r)
	if err != nil {
		writeError(w, h.logger, "ChangeSampleStatus", err)
		return
	}
	sample, err := h.samples.ChangeStatus(r.Context(), id, body.Status)
	if err != nil {
		writeError(w, h.logger, "ChangeSampleStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sample))
}

// writable checks that the caller may modify the sample
func (h *SampleHandler) writable(r *http.Request) (int64, error) {
	id, err := sampleID(r)
	if err != nil {
		return 0, err
	}
	if _, err := h.samples.GetSampleInfo(r.Context(), id, callerFrom(r)); err != nil {
		return 0, err
	}
	return id, nil
}

func (h *SampleHandler) PushComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Comment string `json:"comment"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeError(w, h.logger, "PushComment", err)
		return
	}
	id, err := h.writable(r)
	if err != nil {
		writeError(w, h.logger, "PushComment", err)
		return
	}
	if err := h.samples.PushComment(r.Context(), id, body.Comment); err != nil {
		writeError(w, h.logger, "PushComment", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// PushPhoto stores the raw request body as the sample photo
func (h *SampleHandler) PushPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := h.writable(r)
	if err != nil {
		writeError(w, h.logger, "PushPhoto", err)
		return
	}
	photo, err := readBody(r, maxPhotoBytes)
	if err != nil {
		writeError(w, h.logger, "PushPhoto", err)
		return
	}
	if err := h.samples.PushPhoto(r.Context(), id, photo); err != nil {
		writeError(w, h.logger, "PushPhoto", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

func (h *SampleHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := sampleID(r)
	if err != nil {
		writeError(w, h.logger, "GetPhoto", err)
		return
	}
	photo, err := h.samples.GetPhoto(r.Context(), id, callerFrom(r))
	if err != nil {
		writeError(w, h.logger, "GetPhoto", err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(photo))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(photo)
}

// GetWeather returns the stored provider response inside the envelope
func (h *SampleHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	id, err := sampleID(r)
	if err != nil {
		writeError(w, h.logger, "GetWeather", err)
		return
	}
	weather, err := h.samples.GetWeather(r.Context(), id, callerFrom(r))
	if err != nil {
		writeError(w, h.logger, "GetWeather", err)
		return
	}
	if json.Valid([]byte(weather)) {
		writeJSON(w, http.StatusOK, Ok(json.RawMessage(weather)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(weather))
}
