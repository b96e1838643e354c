package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	geocode int
	from    time.Time
	to      time.Time
	err     error
	delay   time.Duration
}

func (p *fakeProvider) HistoricalWeather(ctx context.Context, lat, lon float64, from, to time.Time) (string, error) {
	p.mu.Lock()
	p.calls++
	p.from, p.to = from, to
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf(`{"lat":%.4f,"lon":%.4f,"from":%q}`, lat, lon, from.Format(time.DateOnly)), nil
}

func (p *fakeProvider) ReverseGeocode(_ context.Context, lat, lon float64) (string, error) {
	p.mu.Lock()
	p.geocode++
	p.mu.Unlock()
	return "Saint Petersburg", nil
}

func enrichedSample(t *testing.T, f *fixture) *domain.Sample {
	t.Helper()
	kit := f.activatedKit(t, volunteerID, 1)
	r := f.ongoingResearch(t, "open", false)
	sample, err := f.submit(kit.QRCodes[0].UniqueHex, r.ID, volunteerID)
	require.NoError(t, err)
	return sample
}

func TestEnrichSample_StoresWeatherAndLocality(t *testing.T) {
	f := newFixture(t)
	sample := enrichedSample(t, f)
	provider := &fakeProvider{}
	svc := NewEnrichmentService(f.store, f.samples, provider, EnrichmentConfig{PastDays: 3}, nil, zap.NewNop())

	require.NoError(t, svc.EnrichSample(context.Background(), sample.ID))

	got, err := f.store.Repos().Samples.GetSample(context.Background(), sample.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Weather)
	require.NotNil(t, got.Locality)
	assert.Equal(t, "Saint Petersburg", *got.Locality)
	assert.Equal(t, sample.CollectedAt.UTC(), provider.to)
	assert.Equal(t, sample.CollectedAt.UTC().AddDate(0, 0, -3), provider.from)
}

func TestEnrichSample_Idempotent(t *testing.T) {
	f := newFixture(t)
	sample := enrichedSample(t, f)
	provider := &fakeProvider{}
	svc := NewEnrichmentService(f.store, f.samples, provider, EnrichmentConfig{}, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.EnrichSample(ctx, sample.ID))
	first, err := f.store.Repos().Samples.GetSample(ctx, sample.ID)
	require.NoError(t, err)

	require.NoError(t, svc.EnrichSample(ctx, sample.ID))
	second, err := f.store.Repos().Samples.GetSample(ctx, sample.ID)
	require.NoError(t, err)

	assert.Equal(t, *first.Weather, *second.Weather)
	assert.Equal(t, *first.Locality, *second.Locality)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, provider.geocode)
}

func TestEnrichSample_KeepsFieldWeather(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kit := f.activatedKit(t, volunteerID, 1)
	r := f.ongoingResearch(t, "field", false)
	measured := `{"field":"measured"}`
	sample, err := f.samples.SubmitSample(ctx, SubmitSampleRequest{
		QRHex:       kit.QRCodes[0].UniqueHex,
		ResearchID:  r.ID,
		SubmitterID: volunteerID,
		CollectedAt: f.now.Add(-time.Hour),
		GPS:         domain.GPS{Latitude: 1, Longitude: 1},
		Weather:     &measured,
	})
	require.NoError(t, err)

	provider := &fakeProvider{}
	svc := NewEnrichmentService(f.store, f.samples, provider, EnrichmentConfig{PastDays: 3}, nil, zap.NewNop())
	require.NoError(t, svc.EnrichSample(ctx, sample.ID))

	got, err := f.store.Repos().Samples.GetSample(ctx, sample.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Weather)
	assert.Equal(t, measured, *got.Weather)
	assert.Zero(t, provider.calls)
	require.NotNil(t, got.Locality)
	assert.Equal(t, "Saint Petersburg", *got.Locality)
}

func TestEnrichSample_ProviderFailureLeavesSampleIntact(t *testing.T) {
	f := newFixture(t)
	sample := enrichedSample(t, f)
	svc := NewEnrichmentService(f.store, f.samples, &fakeProvider{err: errors.New("503")}, EnrichmentConfig{}, nil, zap.NewNop())

	err := svc.EnrichSample(context.Background(), sample.ID)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	got, err := f.store.Repos().Samples.GetSample(context.Background(), sample.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Weather)
	assert.Equal(t, domain.SampleCollected, got.Status)
}

func TestEnrichSample_Timeout(t *testing.T) {
	f := newFixture(t)
	sample := enrichedSample(t, f)
	svc := NewEnrichmentService(f.store, f.samples, &fakeProvider{delay: time.Second},
		EnrichmentConfig{Timeout: 20 * time.Millisecond}, nil, zap.NewNop())

	err := svc.EnrichSample(context.Background(), sample.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnrichSample_MissingSampleIsPermanent(t *testing.T) {
	f := newFixture(t)
	svc := NewEnrichmentService(f.store, f.samples, &fakeProvider{}, EnrichmentConfig{}, nil, zap.NewNop())

	err := svc.EnrichSample(context.Background(), 404)
	requireKind(t, err, domain.ErrNotFound)
	assert.True(t, IsPermanent(err))
}
