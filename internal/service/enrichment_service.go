package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

// WeatherProvider fetches historical weather and a place name for a coordinate.
// Identical inputs must yield identical output.
type WeatherProvider interface {
	HistoricalWeather(ctx context.Context, lat, lon float64, from, to time.Time) (string, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// EnrichmentConfig bounds one enrichment run
type EnrichmentConfig struct {
	Timeout  time.Duration
	PastDays int
}

// EnrichmentService attaches weather and locality to committed samples.
// It runs outside the ingestion path and shares no locks with it.
type EnrichmentService struct {
	store    repository.Store
	samples  *SampleService
	provider WeatherProvider
	cfg      EnrichmentConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewEnrichmentService(store repository.Store, samples *SampleService, provider WeatherProvider, cfg EnrichmentConfig, m *metrics.Metrics, logger *zap.Logger) *EnrichmentService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PastDays <= 0 {
		cfg.PastDays = 3
	}
	return &EnrichmentService{
		store:    store,
		samples:  samples,
		provider: provider,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// EnrichSample stores weather for [collected_at - PastDays, collected_at] and the locality,
// filling only what is still unset. Running it twice for one sample writes the same values.
func (s *EnrichmentService) EnrichSample(ctx context.Context, sampleID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err := s.enrich(ctx, sampleID)
	s.metrics.Enrichment(outcomeOf(err))
	if err != nil {
		s.logger.Warn("Sample enrichment failed", zap.Int64("sample_id", sampleID), zap.Error(err))
		return err
	}
	s.logger.Info("Sample enriched", zap.Int64("sample_id", sampleID))
	return nil
}

func (s *EnrichmentService) enrich(ctx context.Context, sampleID int64) error {
	sample, err := s.store.Repos().Samples.GetSample(ctx, sampleID)
	if err != nil {
		return err
	}
	lat, lon := sample.GPS.Latitude, sample.GPS.Longitude

	// stored values are never replaced: field-supplied weather wins and reruns are no-ops
	if sample.Weather == nil {
		to := sample.CollectedAt.UTC()
		from := to.AddDate(0, 0, -s.cfg.PastDays)
		weather, err := s.provider.HistoricalWeather(ctx, lat, lon, from, to)
		if err != nil {
			return fmt.Errorf("failed to fetch weather: %w", err)
		}
		if err := s.samples.PushWeather(ctx, sampleID, weather); err != nil {
			return err
		}
	}

	if sample.Locality != nil {
		return nil
	}
	locality, err := s.provider.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return fmt.Errorf("failed to reverse geocode: %w", err)
	}
	if locality == "" {
		return nil
	}
	return s.samples.PushLocality(ctx, sampleID, locality)
}

// IsPermanent reports whether retrying EnrichSample cannot help
func IsPermanent(err error) bool {
	return domain.KindOf(err) == domain.KindNotFound
}
