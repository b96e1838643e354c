package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/store"
)

type apiStub struct {
	weatherCalls atomic.Int32
	geoCalls     atomic.Int32
	failFirst    atomic.Int32
	status       int
}

func (s *apiStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		s.weatherCalls.Add(1)
		if s.failFirst.Load() > 0 {
			s.failFirst.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if s.status != 0 {
			w.WriteHeader(s.status)
			fmt.Fprint(w, `{"error":true,"reason":"bad"}`)
			return
		}
		q := r.URL.Query()
		assert.Equal(t, "2024-06-12", q.Get("start_date"))
		assert.Equal(t, "2024-06-15", q.Get("end_date"))
		assert.Contains(t, q.Get("hourly"), "soil_moisture_3_to_9cm")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"latitude":%s,"hourly":{"time":[1718150400]}}`, q.Get("latitude"))
	})
	mux.HandleFunc("/reverse", func(w http.ResponseWriter, r *http.Request) {
		s.geoCalls.Add(1)
		assert.Equal(t, "Biokeeper", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("lat") == "0.0000" {
			fmt.Fprint(w, `{"error":"Unable to geocode"}`)
			return
		}
		fmt.Fprint(w, `{"display_name":"Saint Petersburg, Russia"}`)
	})
	return mux
}

func newTestClient(t *testing.T, stub *apiStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewClient(Config{
		WeatherURL: srv.URL + "/v1/forecast",
		GeocodeURL: srv.URL,
		Retries:    2,
		RetryWait:  time.Millisecond,
		CacheTTL:   time.Hour,
	}, store.NewRedisKV(rdb, "test"), zap.NewNop())
}

var (
	from = time.Date(2024, 6, 12, 11, 0, 0, 0, time.UTC)
	to   = time.Date(2024, 6, 15, 11, 0, 0, 0, time.UTC)
)

func TestHistoricalWeather_Cached(t *testing.T) {
	stub := &apiStub{}
	c := newTestClient(t, stub)
	ctx := context.Background()

	first, err := c.HistoricalWeather(ctx, 59.93, 30.31, from, to)
	require.NoError(t, err)
	assert.JSONEq(t, `{"latitude":59.9300,"hourly":{"time":[1718150400]}}`, first)

	second, err := c.HistoricalWeather(ctx, 59.93, 30.31, from, to)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), stub.weatherCalls.Load())
}

func TestHistoricalWeather_RetriesServerErrors(t *testing.T) {
	stub := &apiStub{}
	stub.failFirst.Store(2)
	c := newTestClient(t, stub)

	_, err := c.HistoricalWeather(context.Background(), 59.93, 30.31, from, to)
	require.NoError(t, err)
	assert.Equal(t, int32(3), stub.weatherCalls.Load())
}

func TestHistoricalWeather_ClientError(t *testing.T) {
	stub := &apiStub{status: http.StatusBadRequest}
	c := newTestClient(t, stub)

	_, err := c.HistoricalWeather(context.Background(), 59.93, 30.31, from, to)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestReverseGeocode(t *testing.T) {
	stub := &apiStub{}
	c := newTestClient(t, stub)
	ctx := context.Background()

	name, err := c.ReverseGeocode(ctx, 59.93, 30.31)
	require.NoError(t, err)
	assert.Equal(t, "Saint Petersburg, Russia", name)

	_, err = c.ReverseGeocode(ctx, 59.93, 30.31)
	require.NoError(t, err)
	assert.Equal(t, int32(1), stub.geoCalls.Load())

	_, err = c.ReverseGeocode(ctx, 0, 0)
	assert.Error(t, err)
}
