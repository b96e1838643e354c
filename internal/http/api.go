package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/service"
)

// Services are the managers the API exposes
type Services struct {
	Statuses   *service.StatusRegistry
	Users      *service.UserService
	Kits       *service.KitService
	Researches *service.ResearchService
	Samples    *service.SampleService
}

// NewAPI registers every route. metrics may be nil.
func NewAPI(svc Services, auth *Authenticator, metrics http.Handler, logger *zap.Logger) *Router {
	r := NewRouter(auth, logger)
	r.RegisterHealth()
	if metrics != nil {
		r.HandleHandler("GET /metrics", metrics)
	}
	r.RegisterStatusRoutes(NewStatusHandler(svc.Statuses, logger))
	r.RegisterUserRoutes(NewUserHandler(svc.Users, svc.Researches, svc.Kits, logger))
	r.RegisterKitRoutes(NewKitHandler(svc.Kits, svc.Users, logger))
	r.RegisterResearchRoutes(NewResearchHandler(svc.Researches, svc.Samples, svc.Users, logger))
	r.RegisterSampleRoutes(NewSampleHandler(svc.Samples, svc.Researches, logger))
	return r
}
