package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

const (
	adminID     int64 = 1
	volunteerID int64 = 2
	observerID  int64 = 3
	otherVolID  int64 = 4
	otherAdmin  int64 = 5
)

type fakeQueue struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (q *fakeQueue) EnqueueEnrichment(_ context.Context, sampleID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, sampleID)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []SampleEvent
}

func (n *fakeNotifier) PublishSampleEvent(_ context.Context, e SampleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

type fixture struct {
	store      *repository.MemoryStore
	statuses   *StatusRegistry
	users      *UserService
	kits       *KitService
	researches *ResearchService
	samples    *SampleService
	queue      *fakeQueue
	notifier   *fakeNotifier
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	statuses := NewStatusRegistry(store)
	f := &fixture{
		store:    store,
		statuses: statuses,
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		now:      time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.users = NewUserService(store, statuses, nil, logger)
	f.kits = NewKitService(store, statuses, 0, nil, logger)
	f.researches = NewResearchService(store, statuses, nil, logger)
	f.researches.SetClock(clock)
	f.samples = NewSampleService(store, statuses, f.queue, f.notifier, nil, logger)
	f.samples.SetClock(clock)

	f.user(t, adminID, "admin", domain.RoleAdmin)
	f.user(t, volunteerID, "vol", domain.RoleVolunteer)
	f.user(t, observerID, "obs", domain.RoleObserver)
	f.user(t, otherVolID, "vol2", domain.RoleVolunteer)
	f.user(t, otherAdmin, "admin2", domain.RoleAdmin)
	return f
}

func (f *fixture) user(t *testing.T, id int64, name, role string) {
	t.Helper()
	_, _, err := f.users.RegisterUser(context.Background(), RegisterUserRequest{ID: id, Name: name, Role: role})
	require.NoError(t, err)
}

// activatedKit creates a kit owned and activated by owner
func (f *fixture) activatedKit(t *testing.T, owner int64, n int) *domain.KitInfo {
	t.Helper()
	ctx := context.Background()
	kit, err := f.kits.CreateKit(ctx, CreateKitRequest{QRCount: n, CreatorID: adminID})
	require.NoError(t, err)
	_, err = f.kits.SendKit(ctx, SendKitRequest{KitID: kit.ID, NewOwnerID: owner, RequesterID: adminID})
	require.NoError(t, err)
	_, err = f.kits.ActivateKit(ctx, ActivateKitRequest{KitID: kit.ID, RequesterID: owner})
	require.NoError(t, err)
	info, err := f.kits.GetKitInfo(ctx, kit.ID)
	require.NoError(t, err)
	return info
}

// ongoingResearch creates and starts a research owned by adminID
func (f *fixture) ongoingResearch(t *testing.T, name string, approval bool) *domain.Research {
	t.Helper()
	ctx := context.Background()
	r, err := f.researches.CreateResearch(ctx, CreateResearchRequest{
		Name:             name,
		CreatorID:        adminID,
		DayStart:         f.now,
		ApprovalRequired: &approval,
	})
	require.NoError(t, err)
	r, err = f.researches.StartResearch(ctx, r.ID, adminID)
	require.NoError(t, err)
	return r
}

func (f *fixture) submit(qrHex string, researchID, submitter int64) (*domain.Sample, error) {
	return f.samples.SubmitSample(context.Background(), SubmitSampleRequest{
		QRHex:       qrHex,
		ResearchID:  researchID,
		SubmitterID: submitter,
		CollectedAt: f.now.Add(-time.Hour),
		GPS:         domain.GPS{Latitude: 59.93, Longitude: 30.31},
	})
}

func requireKind(t *testing.T, err error, sentinel error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, sentinel), "want %v, got %v", sentinel, err)
}
