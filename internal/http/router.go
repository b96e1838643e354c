package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Router uses the standard library ServeMux with method patterns
type Router struct {
	mux    *http.ServeMux
	auth   *Authenticator
	logger *zap.Logger
}

func NewRouter(auth *Authenticator, logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		auth:   auth,
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers a plain http.Handler (metrics)
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

// api registers an authenticated route
func (r *Router) api(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.auth.Require(h))
}

// ServeHTTP tags every request with X-Request-ID (kept if the client sent one)
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	id := req.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
		req.Header.Set("X-Request-ID", id)
	}
	w.Header().Set("X-Request-ID", id)
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("HTTP request",
		zap.String("request_id", id),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("took", time.Since(start)),
	)
}

func (r *Router) RegisterHealth() {
	r.Handle("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

func (r *Router) RegisterUserRoutes(h *UserHandler) {
	r.api("GET /api/v1/users/me", h.Me)
	r.api("GET /api/v1/users/me/researches", h.MyResearches)
	r.api("GET /api/v1/users/me/kits", h.MyKits)
	r.api("GET /api/v1/users", h.ListUsers)
	r.api("GET /api/v1/users/{user}", h.GetUser)
	r.api("PUT /api/v1/users/{user}/role", h.SetRole)
}

func (r *Router) RegisterStatusRoutes(h *StatusHandler) {
	r.api("GET /api/v1/statuses/{entity}", h.Keys)
	r.api("GET /api/v1/statuses/{entity}/count", h.Count)
}

func (r *Router) RegisterKitRoutes(h *KitHandler) {
	r.api("POST /api/v1/kits", h.CreateKit)
	r.api("GET /api/v1/kits", h.ListKits)
	r.api("GET /api/v1/kits/{kit}", h.GetKit)
	r.api("POST /api/v1/kits/{kit}/send", h.SendKit)
	r.api("POST /api/v1/kits/{kit}/activate", h.ActivateKit)
	r.api("GET /api/v1/qr/{hex}", h.GetQR)
}

func (r *Router) RegisterResearchRoutes(h *ResearchHandler) {
	r.api("POST /api/v1/researches", h.CreateResearch)
	r.api("GET /api/v1/researches", h.ListResearches)
	r.api("GET /api/v1/researches/{research}", h.GetResearch)
	r.api("POST /api/v1/researches/{research}/{action}", h.Transition)
	r.api("POST /api/v1/researches/{research}/requests", h.SendRequest)
	r.api("POST /api/v1/researches/{research}/requests/{user}/{decision}", h.ReviewRequest)
	r.api("GET /api/v1/researches/{research}/participants", h.Participants)
	r.api("GET /api/v1/researches/{research}/candidates", h.Candidates)
	r.api("DELETE /api/v1/researches/{research}/participants/{user}", h.RemoveParticipant)
	r.api("PUT /api/v1/researches/{research}/comment", h.ChangeComment)
	r.api("PUT /api/v1/researches/{research}/day_end", h.ChangeDayEnd)
	r.api("GET /api/v1/researches/{research}/export", h.Export)
}

func (r *Router) RegisterSampleRoutes(h *SampleHandler) {
	r.api("POST /api/v1/samples", h.SubmitSample)
	r.api("GET /api/v1/samples", h.ListSamples)
	r.api("GET /api/v1/samples/{sample}", h.GetSample)
	r.api("PUT /api/v1/samples/{sample}/status", h.ChangeStatus)
	r.api("PUT /api/v1/samples/{sample}/comment", h.PushComment)
	r.api("PUT /api/v1/samples/{sample}/photo", h.PushPhoto)
	r.api("GET /api/v1/samples/{sample}/photo", h.GetPhoto)
	r.api("GET /api/v1/samples/{sample}/weather", h.GetWeather)
}
