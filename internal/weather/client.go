package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/service"
	"github.com/phlaster/biokeeper-backend/internal/store"
)

// DefaultHourly is the set of hourly variables requested from open-meteo
var DefaultHourly = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"soil_temperature_0cm",
	"soil_temperature_6cm",
	"soil_moisture_0_to_1cm",
	"soil_moisture_1_to_3cm",
	"soil_moisture_3_to_9cm",
	"uv_index",
}

type Config struct {
	WeatherURL string        `yaml:"weather_url"`
	GeocodeURL string        `yaml:"geocode_url"`
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	RetryWait  time.Duration `yaml:"retry_wait"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	Hourly     []string      `yaml:"hourly"`
}

func DefaultConfig() Config {
	return Config{
		WeatherURL: "https://api.open-meteo.com/v1/forecast",
		GeocodeURL: "https://nominatim.openstreetmap.org",
		UserAgent:  "Biokeeper",
		Timeout:    10 * time.Second,
		Retries:    5,
		RetryWait:  200 * time.Millisecond,
		CacheTTL:   time.Hour,
		Hourly:     DefaultHourly,
	}
}

// Client talks to open-meteo and Nominatim. Responses are cached by their inputs so
// repeated enrichment of one sample stores byte-identical values.
type Client struct {
	http   *resty.Client
	cfg    Config
	cache  store.KV
	logger *zap.Logger
}

var _ service.WeatherProvider = (*Client)(nil)

func NewClient(cfg Config, cache store.KV, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = def.WeatherURL
	}
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = def.GeocodeURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	if len(cfg.Hourly) == 0 {
		cfg.Hourly = def.Hourly
	}
	if cache == nil {
		cache = store.NopKV{}
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10*cfg.RetryWait).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= 500
		})

	return &Client{http: client, cfg: cfg, cache: cache, logger: logger}
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func (c *Client) cached(ctx context.Context, key string, fetch func() (string, error)) (string, error) {
	if val, err := c.cache.Get(ctx, key); err == nil {
		return val, nil
	} else if !errors.Is(err, store.ErrMiss) {
		c.logger.Warn("Weather cache read failed", zap.String("key", key), zap.Error(err))
	}

	val, err := fetch()
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, val, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("Weather cache write failed", zap.String("key", key), zap.Error(err))
	}
	return val, nil
}

// HistoricalWeather returns the hourly open-meteo response for the days covering [from, to]
func (c *Client) HistoricalWeather(ctx context.Context, lat, lon float64, from, to time.Time) (string, error) {
	start := from.UTC().Format(time.DateOnly)
	end := to.UTC().Format(time.DateOnly)
	key := fmt.Sprintf("weather:%s:%s:%s:%s", coord(lat), coord(lon), start, end)

	return c.cached(ctx, key, func() (string, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"latitude":        coord(lat),
				"longitude":       coord(lon),
				"hourly":          strings.Join(c.cfg.Hourly, ","),
				"wind_speed_unit": "ms",
				"timeformat":      "unixtime",
				"timezone":        "auto",
				"start_date":      start,
				"end_date":        end,
			}).
			Get(c.cfg.WeatherURL)
		if err != nil {
			return "", fmt.Errorf("failed to call weather API: %w", err)
		}
		if resp.IsError() {
			return "", fmt.Errorf("weather API returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
		}
		body := resp.Body()
		if !json.Valid(body) {
			return "", errors.New("weather API returned invalid JSON")
		}
		c.logger.Debug("Weather fetched", zap.String("key", key), zap.Int("bytes", len(body)))
		return string(body), nil
	})
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// ReverseGeocode returns the Nominatim display name closest to the point
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	key := fmt.Sprintf("geocode:%s:%s", coord(lat), coord(lon))

	return c.cached(ctx, key, func() (string, error) {
		var out reverseResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"format": "jsonv2",
				"lat":    coord(lat),
				"lon":    coord(lon),
			}).
			SetResult(&out).
			Get(strings.TrimRight(c.cfg.GeocodeURL, "/") + "/reverse")
		if err != nil {
			return "", fmt.Errorf("failed to call geocoding API: %w", err)
		}
		if resp.IsError() {
			return "", fmt.Errorf("geocoding API returned %d", resp.StatusCode())
		}
		if out.Error != "" {
			return "", fmt.Errorf("geocoding API error: %s", out.Error)
		}
		return out.DisplayName, nil
	})
}
