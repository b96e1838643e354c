package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

// EnrichmentQueue receives committed sample ids for asynchronous enrichment
type EnrichmentQueue interface {
	EnqueueEnrichment(ctx context.Context, sampleID int64) error
}

// Sample event names
const (
	EventCommitted     = "committed"
	EventStatusChanged = "status_changed"
)

// SampleEvent is published after a sample mutation commits
type SampleEvent struct {
	SampleID   int64     `json:"sample_id"`
	Event      string    `json:"event"`
	Status     string    `json:"status"`
	OwnerID    int64     `json:"owner_id"`
	ResearchID int64     `json:"research_id"`
	At         time.Time `json:"at"`
}

// SampleNotifier publishes sample events; failures never affect the committed mutation
type SampleNotifier interface {
	PublishSampleEvent(ctx context.Context, event SampleEvent) error
}

// SampleService ingests samples and maintains their auxiliary data
type SampleService struct {
	store    repository.Store
	statuses *StatusRegistry
	queue    EnrichmentQueue
	notifier SampleNotifier
	clock    func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewSampleService(
	store repository.Store,
	statuses *StatusRegistry,
	queue EnrichmentQueue,
	notifier SampleNotifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SampleService {
	return &SampleService{
		store:    store,
		statuses: statuses,
		queue:    queue,
		notifier: notifier,
		clock:    time.Now,
		metrics:  m,
		logger:   logger,
	}
}

// SetClock overrides the time source used for future-date warnings and lab stamps
func (s *SampleService) SetClock(clock func() time.Time) { s.clock = clock }

// SubmitSampleRequest carries everything the field app sends for one sample
type SubmitSampleRequest struct {
	QRHex       string
	ResearchID  int64
	SubmitterID int64
	CollectedAt time.Time
	GPS         domain.GPS
	Weather     *string
	Comment     *string
	Photo       []byte
}

// SubmitSample validates the chain of custody and commits the sample atomically.
//
// Gates, in order:
//  1. research exists; submitter participates if approval is required; research is ongoing
//  2. QR exists, is unused and belongs to a kit
//  3. kit exists, has an owner, the owner is the submitter, kit is activated
//  4. GPS is in bounds
//
// The sample insert, the QR flag and both counters share one transaction.
func (s *SampleService) SubmitSample(ctx context.Context, req SubmitSampleRequest) (*domain.Sample, error) {
	researchIDs, err := s.statuses.ids(ctx, domain.EntityResearch, domain.ResearchOngoing)
	if err != nil {
		return nil, err
	}
	kitIDs, err := s.statuses.ids(ctx, domain.EntityKit, domain.KitActivated)
	if err != nil {
		return nil, err
	}
	collectedID, err := s.statuses.Resolve(ctx, domain.EntitySample, domain.SampleCollected)
	if err != nil {
		return nil, err
	}

	if req.CollectedAt.IsZero() {
		req.CollectedAt = s.clock()
	}
	if req.CollectedAt.After(s.clock()) {
		s.logger.Warn("Sample collected_at is in the future",
			zap.String("qr_hex", req.QRHex),
			zap.Time("collected_at", req.CollectedAt),
		)
	}

	var sample *domain.Sample
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		// 1. research; locked for update since its counter changes below
		research, err := repos.Researches.GetResearch(ctx, req.ResearchID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if research.ApprovalRequired {
			ok, err := repos.Researches.IsParticipant(ctx, research.ID, req.SubmitterID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.Forbidden("user %d is not a participant of research %d", req.SubmitterID, research.ID)
			}
		}
		if research.StatusID != researchIDs[domain.ResearchOngoing] {
			return domain.Conflict("research %d is %s, expected %s", research.ID, research.Status, domain.ResearchOngoing)
		}

		// 2. qr
		qr, err := repos.Kits.GetQRByHex(ctx, req.QRHex, repository.LockUpdate)
		if err != nil {
			return err
		}
		if qr.IsUsed {
			return domain.Conflict("qr %s is already used", req.QRHex)
		}
		if qr.KitID == nil {
			return domain.Conflict("qr %s is not assigned to a kit", req.QRHex)
		}

		// 3. kit
		kit, err := repos.Kits.GetKit(ctx, *qr.KitID, repository.LockShare)
		if err != nil {
			return err
		}
		if !kit.HasOwner() {
			return domain.Forbidden("kit %d has no owner", kit.ID)
		}
		if !kit.OwnedBy(req.SubmitterID) {
			return domain.Forbidden("kit %d is not owned by user %d", kit.ID, req.SubmitterID)
		}
		owner, err := repos.Users.GetUser(ctx, req.SubmitterID)
		if err != nil {
			return err
		}
		if !domain.CanCollect(owner.Role) {
			return domain.Forbidden("user %d with role %s may not collect samples", owner.ID, owner.Role)
		}
		if kit.StatusID != kitIDs[domain.KitActivated] {
			return domain.Conflict("kit %d is %s, expected %s", kit.ID, kit.Status, domain.KitActivated)
		}

		// 4. location
		if err := req.GPS.Validate(); err != nil {
			return err
		}

		sample, err = repos.Samples.CreateSample(ctx, &domain.Sample{
			ResearchID:  research.ID,
			QRID:        qr.ID,
			OwnerID:     req.SubmitterID,
			CollectedAt: req.CollectedAt,
			GPS:         req.GPS,
			StatusID:    collectedID,
			Weather:     req.Weather,
			Comment:     req.Comment,
		}, req.Photo)
		if err != nil {
			return err
		}
		ok, err := repos.Kits.MarkQRUsed(ctx, qr.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflict("qr %s is already used", req.QRHex)
		}
		if _, err := repos.Users.IncrementSamples(ctx, req.SubmitterID); err != nil {
			return err
		}
		if _, err := repos.Researches.IncrementSamples(ctx, research.ID); err != nil {
			return err
		}
		return nil
	})
	s.metrics.Operation("submit_sample", outcomeOf(err))
	if err != nil {
		if isExpected(err) {
			s.logger.Info("SubmitSample rejected",
				zap.String("qr_hex", req.QRHex),
				zap.Int64("research_id", req.ResearchID),
				zap.Int64("submitter_id", req.SubmitterID),
				zap.Error(err),
			)
		} else {
			s.logger.Error("SubmitSample failed", zap.String("qr_hex", req.QRHex), zap.Error(err))
		}
		return nil, err
	}

	sample.Status = domain.SampleCollected
	s.logger.Info("Sample committed",
		zap.Int64("sample_id", sample.ID),
		zap.Int64("research_id", sample.ResearchID),
		zap.Int64("owner_id", sample.OwnerID),
	)

	s.afterCommit(ctx, sample)
	return sample, nil
}

// afterCommit hands the sample to enrichment and notifies listeners. Both are best effort.
func (s *SampleService) afterCommit(ctx context.Context, sample *domain.Sample) {
	if s.queue != nil {
		if err := s.queue.EnqueueEnrichment(ctx, sample.ID); err != nil {
			s.metrics.EnqueueFailed()
			s.logger.Warn("Failed to enqueue sample enrichment", zap.Int64("sample_id", sample.ID), zap.Error(err))
		}
	}
	s.publish(ctx, sample, EventCommitted)
}

func (s *SampleService) publish(ctx context.Context, sample *domain.Sample, event string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.PublishSampleEvent(ctx, SampleEvent{
		SampleID:   sample.ID,
		Event:      event,
		Status:     sample.Status,
		OwnerID:    sample.OwnerID,
		ResearchID: sample.ResearchID,
		At:         s.clock().UTC(),
	})
	if err != nil {
		s.logger.Warn("Failed to publish sample event", zap.Int64("sample_id", sample.ID), zap.String("event", event), zap.Error(err))
	}
}

// sampleOrder is the forward-only status sequence
var sampleOrder = []string{domain.SampleCollected, domain.SampleSent, domain.SampleDelivered}

// ChangeStatus moves a sample forward along collected -> sent -> delivered.
// Setting the current status again is a no-op.
func (s *SampleService) ChangeStatus(ctx context.Context, sampleID int64, key string) (*domain.Sample, error) {
	ids, err := s.statuses.ids(ctx, domain.EntitySample, sampleOrder...)
	if err != nil {
		return nil, err
	}
	target, ok := ids[key]
	if !ok {
		return nil, domain.NotFound("unknown sample status %q", key)
	}
	rank := func(id int64) int {
		for i, k := range sampleOrder {
			if ids[k] == id {
				return i
			}
		}
		return -1
	}
	stamp := repository.StampNone
	switch key {
	case domain.SampleSent:
		stamp = repository.StampSent
	case domain.SampleDelivered:
		stamp = repository.StampDelivered
	}

	var out *domain.Sample
	changed := false
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		cur, err := repos.Samples.GetSample(ctx, sampleID)
		if err != nil {
			return err
		}
		if cur.StatusID == target {
			out = cur
			return nil
		}
		if rank(target) < rank(cur.StatusID) {
			return domain.Conflict("sample %d is %s and cannot go back to %s", sampleID, cur.Status, key)
		}
		ok, err := repos.Samples.ChangeStatus(ctx, sampleID, cur.StatusID, target, stamp, s.clock().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflict("sample %d changed concurrently", sampleID)
		}
		changed = true
		out, err = repos.Samples.GetSample(ctx, sampleID)
		return err
	})
	s.metrics.Operation("change_sample_status", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("Sample status changed", zap.Int64("sample_id", sampleID), zap.String("status", out.Status))
		s.publish(ctx, out, EventStatusChanged)
	}
	return out, nil
}

// ========== Auxiliary pushes (idempotent overwrites) ==========

func (s *SampleService) setField(ctx context.Context, sampleID int64, field domain.SampleField, value any) error {
	err := s.store.Repos().Samples.SetField(ctx, sampleID, field, value)
	s.metrics.Operation("push_"+string(field), outcomeOf(err))
	if err != nil && !isExpected(err) {
		s.logger.Error("Sample field update failed", zap.Int64("sample_id", sampleID), zap.String("field", string(field)), zap.Error(err))
	}
	return err
}

func (s *SampleService) PushWeather(ctx context.Context, sampleID int64, weather string) error {
	return s.setField(ctx, sampleID, domain.SampleFieldWeather, weather)
}

func (s *SampleService) PushComment(ctx context.Context, sampleID int64, comment string) error {
	return s.setField(ctx, sampleID, domain.SampleFieldComment, comment)
}

func (s *SampleService) PushLocality(ctx context.Context, sampleID int64, locality string) error {
	return s.setField(ctx, sampleID, domain.SampleFieldLocality, locality)
}

func (s *SampleService) PushPhoto(ctx context.Context, sampleID int64, photo []byte) error {
	if len(photo) == 0 {
		return domain.InvalidInput("photo is empty")
	}
	return s.setField(ctx, sampleID, domain.SampleFieldPhoto, photo)
}

// ========== Reads ==========

// canRead allows admins and the sample owner
func canRead(caller domain.Caller, sample *domain.Sample) error {
	if caller.IsAdmin() || caller.UserID == sample.OwnerID {
		return nil
	}
	return domain.Forbidden("user %d may not read sample %d", caller.UserID, sample.ID)
}

// GetSampleInfo returns the sample if caller is an admin or its owner
func (s *SampleService) GetSampleInfo(ctx context.Context, sampleID int64, caller domain.Caller) (*domain.Sample, error) {
	sample, err := s.store.Repos().Samples.GetSample(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	if err := canRead(caller, sample); err != nil {
		return nil, err
	}
	return sample, nil
}

func (s *SampleService) GetPhoto(ctx context.Context, sampleID int64, caller domain.Caller) ([]byte, error) {
	if _, err := s.GetSampleInfo(ctx, sampleID, caller); err != nil {
		return nil, err
	}
	photo, err := s.store.Repos().Samples.GetPhoto(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	if len(photo) == 0 {
		return nil, domain.NotFound("sample %d has no photo", sampleID)
	}
	return photo, nil
}

func (s *SampleService) GetWeather(ctx context.Context, sampleID int64, caller domain.Caller) (string, error) {
	sample, err := s.GetSampleInfo(ctx, sampleID, caller)
	if err != nil {
		return "", err
	}
	if sample.Weather == nil {
		return "", domain.NotFound("sample %d has no weather yet", sampleID)
	}
	return *sample.Weather, nil
}

// SampleListFilter narrows ListSamples
type SampleListFilter struct {
	OwnerID    int64
	ResearchID int64
	StatusKey  string
}

// ListSamples lists samples visible to caller; non-admins only ever see their own
func (s *SampleService) ListSamples(ctx context.Context, caller domain.Caller, filter SampleListFilter) ([]*domain.Sample, error) {
	f := repository.SamplesFilter{OwnerID: filter.OwnerID, ResearchID: filter.ResearchID}
	if !caller.IsAdmin() {
		if !domain.CanCollect(caller.Role) {
			return nil, domain.Forbidden("role %s may not read samples", caller.Role)
		}
		if f.OwnerID != 0 && f.OwnerID != caller.UserID {
			return nil, domain.Forbidden("user %d may not read samples of user %d", caller.UserID, f.OwnerID)
		}
		f.OwnerID = caller.UserID
	}
	if filter.StatusKey != "" && filter.StatusKey != domain.StatusAll {
		id, err := s.statuses.Resolve(ctx, domain.EntitySample, filter.StatusKey)
		if err != nil {
			return nil, err
		}
		f.StatusID = id
	}
	return s.store.Repos().Samples.ListSamples(ctx, f)
}

func (s *SampleService) CountSamples(ctx context.Context, statusKey string) (int64, error) {
	return s.statuses.Count(ctx, domain.EntitySample, statusKey)
}
