package repository

import (
	"context"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// ResearchesFilter narrows ListResearches; zero values mean no filter
type ResearchesFilter struct {
	StatusID      int64
	CreatedBy     int64
	ParticipantID int64
}

// ResearchesRepository covers researches with their participant and candidate sets
type ResearchesRepository interface {
	// ========== Researches ==========
	// CreateResearch fails with domain.ErrConflict when the name is taken
	CreateResearch(ctx context.Context, research *domain.Research) (*domain.Research, error)
	GetResearch(ctx context.Context, id int64, lock LockMode) (*domain.Research, error)
	GetResearchByName(ctx context.Context, name string) (*domain.Research, error)
	ListResearches(ctx context.Context, filter ResearchesFilter) ([]*domain.Research, error)

	// ChangeStatus is the conditional status update; dayEnd, when set, is written only if day_end is NULL
	ChangeStatus(ctx context.Context, id, fromStatus, toStatus int64, dayEnd *time.Time) (ok bool, err error)
	UpdateComment(ctx context.Context, id int64, comment *string) error
	UpdateDayEnd(ctx context.Context, id int64, dayEnd *time.Time) error
	IncrementSamples(ctx context.Context, id int64) (int64, error)

	// ========== Membership ==========
	IsParticipant(ctx context.Context, researchID, userID int64) (bool, error)
	IsCandidate(ctx context.Context, researchID, userID int64) (bool, error)
	AddCandidate(ctx context.Context, researchID, userID int64) error
	RemoveCandidate(ctx context.Context, researchID, userID int64) (removed bool, err error)
	AddParticipant(ctx context.Context, researchID, userID int64) error
	RemoveParticipant(ctx context.Context, researchID, userID int64) (removed bool, err error)
	ListParticipants(ctx context.Context, researchID int64) ([]int64, error)
	ListCandidates(ctx context.Context, researchID int64) ([]int64, error)
}
