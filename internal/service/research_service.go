package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

// ResearchService manages research campaigns and their membership.
//
//	pending -> ongoing <-> paused -> ended
//	cancelled from any non-terminal state
type ResearchService struct {
	store    repository.Store
	statuses *StatusRegistry
	clock    func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewResearchService(store repository.Store, statuses *StatusRegistry, m *metrics.Metrics, logger *zap.Logger) *ResearchService {
	return &ResearchService{
		store:    store,
		statuses: statuses,
		clock:    time.Now,
		metrics:  m,
		logger:   logger,
	}
}

// SetClock overrides the time source used for day_end
func (s *ResearchService) SetClock(clock func() time.Time) { s.clock = clock }

// CreateResearchRequest creates a pending research
type CreateResearchRequest struct {
	Name             string
	CreatorID        int64
	DayStart         time.Time
	DayEnd           *time.Time
	Comment          *string
	ApprovalRequired *bool // defaults to true
}

func (s *ResearchService) CreateResearch(ctx context.Context, req CreateResearchRequest) (*domain.Research, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, domain.InvalidInput("research name is required")
	}
	if req.DayStart.IsZero() {
		req.DayStart = s.clock()
	}
	dayStart := domain.Day(req.DayStart)
	var dayEnd *time.Time
	if req.DayEnd != nil {
		d := domain.Day(*req.DayEnd)
		if d.Before(dayStart) {
			return nil, domain.InvalidInput("day_end %s is before day_start %s", d.Format(time.DateOnly), dayStart.Format(time.DateOnly))
		}
		dayEnd = &d
	}
	approval := true
	if req.ApprovalRequired != nil {
		approval = *req.ApprovalRequired
	}

	pendingID, err := s.statuses.Resolve(ctx, domain.EntityResearch, domain.ResearchPending)
	if err != nil {
		return nil, err
	}

	var research *domain.Research
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		creator, err := repos.Users.GetUser(ctx, req.CreatorID)
		if err != nil {
			return err
		}
		if creator.Role != domain.RoleAdmin {
			return domain.Forbidden("only admins may create researches")
		}
		if _, err := repos.Researches.GetResearchByName(ctx, req.Name); err == nil {
			return domain.Conflict("research %q already exists", req.Name)
		} else if domain.KindOf(err) != domain.KindNotFound {
			return err
		}
		research, err = repos.Researches.CreateResearch(ctx, &domain.Research{
			Name:             req.Name,
			Comment:          req.Comment,
			CreatedBy:        req.CreatorID,
			StatusID:         pendingID,
			DayStart:         dayStart,
			DayEnd:           dayEnd,
			ApprovalRequired: approval,
		})
		return err
	})
	s.metrics.Operation("create_research", outcomeOf(err))
	if err != nil {
		if !isExpected(err) {
			s.logger.Error("CreateResearch failed", zap.String("name", req.Name), zap.Error(err))
		}
		return nil, err
	}

	research.Status = domain.ResearchPending
	s.logger.Info("Research created", zap.Int64("research_id", research.ID), zap.String("name", research.Name))
	return research, nil
}

// ResolveResearch turns an id or research name into a research id
func (s *ResearchService) ResolveResearch(ctx context.Context, ident domain.Identifier) (int64, error) {
	if ident.IsNumeric() {
		return ident.ID(), nil
	}
	r, err := s.store.Repos().Researches.GetResearchByName(ctx, ident.Key())
	if err != nil {
		return 0, err
	}
	return r.ID, nil
}

// ========== Status transitions ==========

// transition moves a research the creator owns from one of from to to.
// A guard violation is Conflict and leaves the row untouched.
func (s *ResearchService) transition(ctx context.Context, op string, researchID, requesterID int64, to string, setDayEnd bool, from ...string) (*domain.Research, error) {
	keys := append([]string{to}, from...)
	ids, err := s.statuses.ids(ctx, domain.EntityResearch, keys...)
	if err != nil {
		return nil, err
	}

	var out *domain.Research
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		cur, err := repos.Researches.GetResearch(ctx, researchID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if cur.CreatedBy != requesterID {
			return domain.Forbidden("only the creator may %s research %d", op, researchID)
		}
		allowed := false
		for _, k := range from {
			if cur.StatusID == ids[k] {
				allowed = true
				break
			}
		}
		if !allowed {
			return domain.Conflict("cannot %s research %d in status %s", op, researchID, cur.Status)
		}

		var dayEnd *time.Time
		if setDayEnd {
			d := domain.Day(s.clock())
			if d.Before(cur.DayStart) {
				d = cur.DayStart
			}
			dayEnd = &d
		}
		ok, err := repos.Researches.ChangeStatus(ctx, cur.ID, cur.StatusID, ids[to], dayEnd)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflict("research %d changed concurrently", researchID)
		}
		out, err = repos.Researches.GetResearch(ctx, cur.ID, repository.LockNone)
		return err
	})
	s.metrics.Operation(op+"_research", outcomeOf(err))
	if err != nil {
		if !isExpected(err) {
			s.logger.Error("Research transition failed", zap.String("op", op), zap.Int64("research_id", researchID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Research status changed",
		zap.Int64("research_id", researchID),
		zap.String("status", out.Status),
		zap.Int64("requester_id", requesterID),
	)
	return out, nil
}

func (s *ResearchService) StartResearch(ctx context.Context, researchID, requesterID int64) (*domain.Research, error) {
	return s.transition(ctx, "start", researchID, requesterID, domain.ResearchOngoing, false, domain.ResearchPending)
}

func (s *ResearchService) PauseResearch(ctx context.Context, researchID, requesterID int64) (*domain.Research, error) {
	return s.transition(ctx, "pause", researchID, requesterID, domain.ResearchPaused, false, domain.ResearchOngoing)
}

func (s *ResearchService) ResumeResearch(ctx context.Context, researchID, requesterID int64) (*domain.Research, error) {
	return s.transition(ctx, "resume", researchID, requesterID, domain.ResearchOngoing, false, domain.ResearchPaused)
}

// EndResearch finishes an ongoing or paused research; day_end becomes today if unset
func (s *ResearchService) EndResearch(ctx context.Context, researchID, requesterID int64) (*domain.Research, error) {
	return s.transition(ctx, "end", researchID, requesterID, domain.ResearchEnded, true,
		domain.ResearchOngoing, domain.ResearchPaused)
}

func (s *ResearchService) CancelResearch(ctx context.Context, researchID, requesterID int64) (*domain.Research, error) {
	return s.transition(ctx, "cancel", researchID, requesterID, domain.ResearchCancelled, false,
		domain.ResearchPending, domain.ResearchOngoing, domain.ResearchPaused)
}

// ========== Membership ==========

// terminal reports whether the research no longer accepts membership changes
func (s *ResearchService) terminal(ctx context.Context, r *domain.Research) (bool, error) {
	ids, err := s.statuses.ids(ctx, domain.EntityResearch, domain.ResearchEnded, domain.ResearchCancelled)
	if err != nil {
		return false, err
	}
	return r.StatusID == ids[domain.ResearchEnded] || r.StatusID == ids[domain.ResearchCancelled], nil
}

// SendRequest asks to join a research that requires approval
func (s *ResearchService) SendRequest(ctx context.Context, researchID, userID int64) error {
	if err := s.statuses.Load(ctx); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		research, err := repos.Researches.GetResearch(ctx, researchID, repository.LockUpdate)
		if err != nil {
			return err
		}
		user, err := repos.Users.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !domain.CanCollect(user.Role) {
			return domain.Forbidden("user %d with role %s cannot join researches", userID, user.Role)
		}
		done, err := s.terminal(ctx, research)
		if err != nil {
			return err
		}
		if done {
			return domain.Conflict("research %d is %s", researchID, research.Status)
		}
		if !research.ApprovalRequired {
			return domain.Conflict("research %d does not require approval", researchID)
		}
		if ok, err := repos.Researches.IsParticipant(ctx, researchID, userID); err != nil {
			return err
		} else if ok {
			return domain.Conflict("user %d already participates in research %d", userID, researchID)
		}
		if ok, err := repos.Researches.IsCandidate(ctx, researchID, userID); err != nil {
			return err
		} else if ok {
			return domain.Conflict("user %d already requested research %d", userID, researchID)
		}
		return repos.Researches.AddCandidate(ctx, researchID, userID)
	})
	s.metrics.Operation("send_request", outcomeOf(err))
	if err != nil {
		if !isExpected(err) {
			s.logger.Error("SendRequest failed", zap.Int64("research_id", researchID), zap.Int64("user_id", userID), zap.Error(err))
		}
		return err
	}
	s.logger.Info("Research request sent", zap.Int64("research_id", researchID), zap.Int64("user_id", userID))
	return nil
}

// reviewRequest checks the common guards of approve and decline and removes the candidate
func (s *ResearchService) reviewRequest(ctx context.Context, repos repository.Repos, researchID, candidateID, requesterID int64) error {
	research, err := repos.Researches.GetResearch(ctx, researchID, repository.LockUpdate)
	if err != nil {
		return err
	}
	requester, err := repos.Users.GetUser(ctx, requesterID)
	if err != nil {
		return err
	}
	if requester.Role != domain.RoleAdmin || research.CreatedBy != requesterID {
		return domain.Forbidden("only the admin who created research %d may review requests", researchID)
	}
	done, err := s.terminal(ctx, research)
	if err != nil {
		return err
	}
	if done {
		return domain.Conflict("research %d is %s", researchID, research.Status)
	}
	removed, err := repos.Researches.RemoveCandidate(ctx, researchID, candidateID)
	if err != nil {
		return err
	}
	if !removed {
		return domain.NotFound("user %d has no pending request for research %d", candidateID, researchID)
	}
	return nil
}

// ApproveRequest moves a candidate into the participant set in one transaction
func (s *ResearchService) ApproveRequest(ctx context.Context, researchID, candidateID, requesterID int64) error {
	if err := s.statuses.Load(ctx); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		if err := s.reviewRequest(ctx, repos, researchID, candidateID, requesterID); err != nil {
			return err
		}
		return repos.Researches.AddParticipant(ctx, researchID, candidateID)
	})
	s.metrics.Operation("approve_request", outcomeOf(err))
	if err != nil {
		if !isExpected(err) {
			s.logger.Error("ApproveRequest failed", zap.Int64("research_id", researchID), zap.Int64("candidate_id", candidateID), zap.Error(err))
		}
		return err
	}
	s.logger.Info("Research request approved", zap.Int64("research_id", researchID), zap.Int64("user_id", candidateID))
	return nil
}

func (s *ResearchService) DeclineRequest(ctx context.Context, researchID, candidateID, requesterID int64) error {
	if err := s.statuses.Load(ctx); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		return s.reviewRequest(ctx, repos, researchID, candidateID, requesterID)
	})
	s.metrics.Operation("decline_request", outcomeOf(err))
	if err != nil {
		return err
	}
	s.logger.Info("Research request declined", zap.Int64("research_id", researchID), zap.Int64("user_id", candidateID))
	return nil
}

// DeleteAcceptedParticipant removes a participant; only the creator may do it
func (s *ResearchService) DeleteAcceptedParticipant(ctx context.Context, researchID, userID, requesterID int64) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		research, err := repos.Researches.GetResearch(ctx, researchID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if research.CreatedBy != requesterID {
			return domain.Forbidden("only the creator may remove participants of research %d", researchID)
		}
		removed, err := repos.Researches.RemoveParticipant(ctx, researchID, userID)
		if err != nil {
			return err
		}
		if !removed {
			return domain.NotFound("user %d is not a participant of research %d", userID, researchID)
		}
		return nil
	})
	s.metrics.Operation("delete_participant", outcomeOf(err))
	if err != nil {
		return err
	}
	s.logger.Info("Research participant removed", zap.Int64("research_id", researchID), zap.Int64("user_id", userID))
	return nil
}

// ========== Attributes ==========

func (s *ResearchService) ChangeComment(ctx context.Context, researchID, requesterID int64, comment *string) (*domain.Research, error) {
	var out *domain.Research
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		cur, err := repos.Researches.GetResearch(ctx, researchID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if cur.CreatedBy != requesterID {
			return domain.Forbidden("only the creator may edit research %d", researchID)
		}
		if err := repos.Researches.UpdateComment(ctx, researchID, comment); err != nil {
			return err
		}
		out, err = repos.Researches.GetResearch(ctx, researchID, repository.LockNone)
		return err
	})
	s.metrics.Operation("change_comment", outcomeOf(err))
	return out, err
}

// ChangeDayEnd sets or clears day_end; it may not precede day_start
func (s *ResearchService) ChangeDayEnd(ctx context.Context, researchID, requesterID int64, dayEnd *time.Time) (*domain.Research, error) {
	var out *domain.Research
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		cur, err := repos.Researches.GetResearch(ctx, researchID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if cur.CreatedBy != requesterID {
			return domain.Forbidden("only the creator may edit research %d", researchID)
		}
		var d *time.Time
		if dayEnd != nil {
			day := domain.Day(*dayEnd)
			if day.Before(domain.Day(cur.DayStart)) {
				return domain.InvalidInput("day_end %s is before day_start %s",
					day.Format(time.DateOnly), cur.DayStart.Format(time.DateOnly))
			}
			d = &day
		}
		if err := repos.Researches.UpdateDayEnd(ctx, researchID, d); err != nil {
			return err
		}
		out, err = repos.Researches.GetResearch(ctx, researchID, repository.LockNone)
		return err
	})
	s.metrics.Operation("change_day_end", outcomeOf(err))
	return out, err
}

// ========== Reads ==========

// ResearchInfo is a research with its membership
type ResearchInfo struct {
	domain.Research
	Participants []int64 `json:"participants"`
	Candidates   []int64 `json:"candidates"`
}

func (s *ResearchService) GetResearchInfo(ctx context.Context, researchID int64) (*ResearchInfo, error) {
	repos := s.store.Repos()
	r, err := repos.Researches.GetResearch(ctx, researchID, repository.LockNone)
	if err != nil {
		return nil, err
	}
	info := &ResearchInfo{Research: *r}
	if info.Participants, err = repos.Researches.ListParticipants(ctx, researchID); err != nil {
		return nil, err
	}
	if info.Candidates, err = repos.Researches.ListCandidates(ctx, researchID); err != nil {
		return nil, err
	}
	return info, nil
}

// ListResearches lists researches, optionally only those in statusKey
func (s *ResearchService) ListResearches(ctx context.Context, statusKey string) ([]*domain.Research, error) {
	var filter repository.ResearchesFilter
	if statusKey != "" && statusKey != domain.StatusAll {
		id, err := s.statuses.Resolve(ctx, domain.EntityResearch, statusKey)
		if err != nil {
			return nil, err
		}
		filter.StatusID = id
	}
	return s.store.Repos().Researches.ListResearches(ctx, filter)
}

func (s *ResearchService) ListCreatedBy(ctx context.Context, adminID int64) ([]*domain.Research, error) {
	return s.store.Repos().Researches.ListResearches(ctx, repository.ResearchesFilter{CreatedBy: adminID})
}

func (s *ResearchService) ListParticipatedBy(ctx context.Context, userID int64) ([]*domain.Research, error) {
	return s.store.Repos().Researches.ListResearches(ctx, repository.ResearchesFilter{ParticipantID: userID})
}

func (s *ResearchService) GetParticipants(ctx context.Context, researchID int64) ([]*domain.User, error) {
	return s.members(ctx, researchID, false)
}

func (s *ResearchService) GetCandidates(ctx context.Context, researchID int64) ([]*domain.User, error) {
	return s.members(ctx, researchID, true)
}

func (s *ResearchService) members(ctx context.Context, researchID int64, candidates bool) ([]*domain.User, error) {
	repos := s.store.Repos()
	if _, err := repos.Researches.GetResearch(ctx, researchID, repository.LockNone); err != nil {
		return nil, err
	}
	var ids []int64
	var err error
	if candidates {
		ids, err = repos.Researches.ListCandidates(ctx, researchID)
	} else {
		ids, err = repos.Researches.ListParticipants(ctx, researchID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		u, err := repos.Users.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *ResearchService) CountResearches(ctx context.Context, statusKey string) (int64, error) {
	return s.statuses.Count(ctx, domain.EntityResearch, statusKey)
}
