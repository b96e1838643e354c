package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/identity"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/repository"
	"github.com/phlaster/biokeeper-backend/internal/service"
)

type tokenResolver map[string]domain.Caller

func (t tokenResolver) ResolveCaller(_ context.Context, tok string) (domain.Caller, error) {
	if tok == "expired" {
		return domain.Caller{}, identity.ErrExpired
	}
	c, ok := t[tok]
	if !ok {
		return domain.Caller{}, identity.ErrUnauthenticated
	}
	return c, nil
}

type apiFixture struct {
	t       *testing.T
	handler http.Handler
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	statuses := service.NewStatusRegistry(store)
	m := metrics.New()
	svc := Services{
		Statuses:   statuses,
		Users:      service.NewUserService(store, statuses, m, logger),
		Kits:       service.NewKitService(store, statuses, 0, m, logger),
		Researches: service.NewResearchService(store, statuses, m, logger),
		Samples:    service.NewSampleService(store, statuses, nil, nil, m, logger),
	}

	ctx := context.Background()
	for _, u := range []service.RegisterUserRequest{
		{ID: 1, Name: "admin", Role: domain.RoleAdmin},
		{ID: 2, Name: "vol", Role: domain.RoleVolunteer},
		{ID: 3, Name: "obs", Role: domain.RoleObserver},
	} {
		_, _, err := svc.Users.RegisterUser(ctx, u)
		require.NoError(t, err)
	}

	// token roles are stale on purpose: the directory must use the local table
	resolver := tokenResolver{
		"tok-admin": {UserID: 1, Name: "admin", Role: domain.RoleObserver},
		"tok-vol":   {UserID: 2, Name: "vol", Role: domain.RoleVolunteer},
		"tok-obs":   {UserID: 3, Name: "obs", Role: domain.RoleObserver},
	}
	auth := NewAuthenticator(identity.NewDirectory(resolver, svc.Users, logger), logger)
	return &apiFixture{t: t, handler: NewAPI(svc, auth, m.Handler(), logger)}
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var res Result[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	require.Equal(t, ResultSuccess, res.Code, res.Message)
	return res.Result
}

func TestAPI_Auth(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/users/me", "nope", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/users/me", "expired", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "60401")

	rec = f.do(http.MethodGet, "/api/v1/users/me", "tok-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[domain.User](t, rec)
	assert.Equal(t, domain.RoleAdmin, me.Role)

	rec = f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPI_SampleWorkflow(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodPost, "/api/v1/kits", "tok-vol", map[string]int{"qr_count": 2})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/kits", "tok-admin", map[string]int{"qr_count": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	kit := decode[domain.Kit](t, rec)
	kitPath := "/api/v1/kits/" + itoa(kit.ID)

	rec = f.do(http.MethodPost, kitPath+"/send", "tok-admin", map[string]string{"owner": "vol"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, kitPath+"/activate", "tok-vol", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, kitPath+"/activate", "tok-vol", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/users/me/kits", "tok-vol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Kit](t, rec), 1)

	rec = f.do(http.MethodPost, "/api/v1/researches", "tok-admin", map[string]any{
		"name": "soil", "day_start": "2024-06-01", "approval_required": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/api/v1/researches/soil/start", "tok-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/api/v1/researches/soil/explode", "tok-admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, kitPath, "tok-vol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[domain.KitInfo](t, rec)
	require.Len(t, info.QRCodes, 2)
	qr := info.QRCodes[0].UniqueHex

	submit := map[string]any{
		"qr_hex":       qr,
		"research":     "soil",
		"collected_at": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"gps":          map[string]float64{"latitude": 59.93, "longitude": 30.31},
		"photo":        []byte("\x89PNG\r\n\x1a\n"),
	}
	rec = f.do(http.MethodPost, "/api/v1/samples", "tok-vol", submit)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sample := decode[domain.Sample](t, rec)
	assert.True(t, sample.HasPhoto)

	rec = f.do(http.MethodPost, "/api/v1/samples", "tok-vol", submit)
	assert.Equal(t, http.StatusConflict, rec.Code)

	submit["qr_hex"] = info.QRCodes[1].UniqueHex
	submit["gps"] = map[string]float64{"latitude": 91, "longitude": 0}
	rec = f.do(http.MethodPost, "/api/v1/samples", "tok-vol", submit)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/api/v1/samples/" + itoa(sample.ID)
	rec = f.do(http.MethodGet, path, "tok-obs", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodGet, path, "tok-vol", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, path+"/photo", "tok-vol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = f.do(http.MethodGet, path+"/weather", "tok-vol", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPut, path+"/status", "tok-vol", map[string]string{"status": "sent"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodPut, path+"/status", "tok-admin", map[string]string{"status": "sent"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.SampleSent, decode[domain.Sample](t, rec).Status)

	rec = f.do(http.MethodGet, "/api/v1/statuses/sample/count?status=sent", "tok-obs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	count := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, count["count"])

	rec = f.do(http.MethodGet, "/api/v1/researches/soil/export", "tok-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `biokeeper_operations_total{operation="submit_sample",outcome="ok"} 1`)
}

func TestAPI_BadInput(t *testing.T) {
	f := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/kits", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer tok-admin")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/samples/abc", "tok-admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/kits/0", "tok-admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/statuses/planet", "tok-admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/researches", "tok-admin", map[string]any{"name": "x", "day_start": "June"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadBody_RejectsOversizedBody(t *testing.T) {
	var out map[string]string

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"a":"b"}`))
	require.NoError(t, readBodyJSON(req, 9, &out))
	assert.Equal(t, "b", out["a"])

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"a":"bc"}`))
	err := readBodyJSON(req, 9, &out)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "body too large")

	req = httptest.NewRequest(http.MethodPut, "/", bytes.NewReader(make([]byte, 11)))
	_, err = readBody(req, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(domain.NotFound("x")))
	assert.Equal(t, http.StatusConflict, statusOf(domain.Conflict("x")))
	assert.Equal(t, http.StatusForbidden, statusOf(domain.Forbidden("x")))
	assert.Equal(t, http.StatusBadRequest, statusOf(domain.InvalidInput("x")))
	assert.Equal(t, http.StatusInternalServerError, statusOf(context.Canceled))
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
