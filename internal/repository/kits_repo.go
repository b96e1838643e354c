package repository

import (
	"context"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// KitsFilter narrows ListKits; zero values mean no filter
type KitsFilter struct {
	OwnerID  int64
	StatusID int64
}

// KitsRepository covers kits and their QR codes
type KitsRepository interface {
	// ========== Kits ==========
	// CreateKit inserts the kit and one QR row per hex; run it inside WithTx
	CreateKit(ctx context.Context, kit *domain.Kit, qrHexes []string) (*domain.Kit, error)
	GetKit(ctx context.Context, id int64, lock LockMode) (*domain.Kit, error)
	GetKitByHex(ctx context.Context, hex string) (*domain.Kit, error)
	ListKits(ctx context.Context, filter KitsFilter) ([]*domain.Kit, error)

	// AssignOwner sets owner and status only if the kit is unowned and still in fromStatus.
	// ok is false when no row matched.
	AssignOwner(ctx context.Context, kitID, ownerID, fromStatus, toStatus int64) (ok bool, err error)

	// ChangeStatus is the conditional status update: WHERE id AND status = fromStatus
	ChangeStatus(ctx context.Context, kitID, fromStatus, toStatus int64) (ok bool, err error)

	// ========== QR codes ==========
	ListQRCodes(ctx context.Context, kitID int64) ([]domain.QRCode, error)
	GetQRByHex(ctx context.Context, hex string, lock LockMode) (*domain.QRCode, error)

	// MarkQRUsed flips is_used false -> true; ok is false if it was already used
	MarkQRUsed(ctx context.Context, qrID int64) (ok bool, err error)
}
