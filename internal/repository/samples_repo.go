package repository

import (
	"context"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// SamplesFilter narrows ListSamples; zero values mean no filter
type SamplesFilter struct {
	OwnerID    int64
	ResearchID int64
	StatusID   int64
}

// SamplesRepository covers samples; photos are read through GetPhoto only
type SamplesRepository interface {
	// CreateSample fails with domain.ErrConflict if the QR already has a sample
	CreateSample(ctx context.Context, sample *domain.Sample, photo []byte) (*domain.Sample, error)
	GetSample(ctx context.Context, id int64) (*domain.Sample, error)
	ListSamples(ctx context.Context, filter SamplesFilter) ([]*domain.Sample, error)
	GetPhoto(ctx context.Context, id int64) ([]byte, error)

	// ChangeStatus is the conditional status update; stamp is written to the
	// lab timestamp column matching toStatus when stampColumn is set
	ChangeStatus(ctx context.Context, id, fromStatus, toStatus int64, stamp StampColumn, at time.Time) (ok bool, err error)

	// SetField overwrites one nullable column; value is string for text fields and []byte for photo
	SetField(ctx context.Context, id int64, field domain.SampleField, value any) error
}

// StampColumn names the lab timestamp a sample status change writes
type StampColumn string

const (
	StampNone      StampColumn = ""
	StampSent      StampColumn = "sent_to_lab_at"
	StampDelivered StampColumn = "delivered_to_lab_at"
)
