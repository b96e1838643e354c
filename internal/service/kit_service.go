package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

const (
	kitHexBytes = 8  // 16 hex chars
	qrHexBytes  = 10 // 20 hex chars

	DefaultMaxQRsPerKit = 50
)

// KitService drives kits through created -> sent -> activated
type KitService struct {
	store    repository.Store
	statuses *StatusRegistry
	maxQRs   int
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewKitService(store repository.Store, statuses *StatusRegistry, maxQRs int, m *metrics.Metrics, logger *zap.Logger) *KitService {
	if maxQRs <= 0 {
		maxQRs = DefaultMaxQRsPerKit
	}
	return &KitService{store: store, statuses: statuses, maxQRs: maxQRs, metrics: m, logger: logger}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateKitRequest creates a kit with QRCount fresh QR codes
type CreateKitRequest struct {
	QRCount   int
	CreatorID int64
}

func (s *KitService) CreateKit(ctx context.Context, req CreateKitRequest) (*domain.Kit, error) {
	if req.QRCount <= 0 || req.QRCount > s.maxQRs {
		return nil, domain.InvalidInput("qr count must be between 1 and %d", s.maxQRs)
	}
	createdID, err := s.statuses.Resolve(ctx, domain.EntityKit, domain.KitCreated)
	if err != nil {
		return nil, err
	}

	kitHex, err := randomHex(kitHexBytes)
	if err != nil {
		return nil, err
	}
	qrHexes := make([]string, req.QRCount)
	for i := range qrHexes {
		if qrHexes[i], err = randomHex(qrHexBytes); err != nil {
			return nil, err
		}
	}

	var kit *domain.Kit
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		creator, err := repos.Users.GetUser(ctx, req.CreatorID)
		if err != nil {
			return err
		}
		if creator.Role != domain.RoleAdmin {
			return domain.Forbidden("only admins may create kits")
		}
		kit, err = repos.Kits.CreateKit(ctx, &domain.Kit{
			UniqueHex: kitHex,
			CreatorID: req.CreatorID,
			StatusID:  createdID,
			Status:    domain.KitCreated,
		}, qrHexes)
		return err
	})
	s.metrics.Operation("create_kit", outcomeOf(err))
	if err != nil {
		if !isExpected(err) {
			s.logger.Error("CreateKit failed", zap.Int64("creator_id", req.CreatorID), zap.Error(err))
		}
		return nil, err
	}

	kit.Status = domain.KitCreated
	s.logger.Info("Kit created",
		zap.Int64("kit_id", kit.ID),
		zap.String("unique_hex", kit.UniqueHex),
		zap.Int("n_qrs", kit.QRCount),
		zap.Int64("creator_id", req.CreatorID),
	)
	return kit, nil
}

// SendKitRequest hands a kit to a new owner
type SendKitRequest struct {
	KitID       int64
	NewOwnerID  int64
	RequesterID int64
}

func (s *KitService) SendKit(ctx context.Context, req SendKitRequest) (*domain.Kit, error) {
	ids, err := s.statuses.ids(ctx, domain.EntityKit, domain.KitCreated, domain.KitSent)
	if err != nil {
		return nil, err
	}

	var kit *domain.Kit
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		cur, err := repos.Kits.GetKit(ctx, req.KitID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if cur.CreatorID != req.RequesterID {
			return domain.Forbidden("only the kit creator may send kit %d", req.KitID)
		}
		owner, err := repos.Users.GetUser(ctx, req.NewOwnerID)
		if err != nil {
			return err
		}
		if !domain.CanCollect(owner.Role) {
			return domain.Forbidden("user %d with role %s cannot own kits", owner.ID, owner.Role)
		}
		if cur.HasOwner() {
			return domain.Conflict("kit %d already has an owner", req.KitID)
		}
		if cur.StatusID != ids[domain.KitCreated] {
			return domain.Conflict("kit %d is %s, expected %s", req.KitID, cur.Status, domain.KitCreated)
		}

		ok, err := repos.Kits.AssignOwner(ctx, cur.ID, owner.ID, ids[domain.KitCreated], ids[domain.KitSent])
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflict("kit %d changed concurrently", req.KitID)
		}
		kit, err = repos.Kits.GetKit(ctx, cur.ID, repository.LockNone)
		return err
	})
	s.metrics.Operation("send_kit", outcomeOf(err))
	if err != nil {
		if !isExpected(err) {
			s.logger.Error("SendKit failed", zap.Int64("kit_id", req.KitID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Kit sent", zap.Int64("kit_id", kit.ID), zap.Int64("owner_id", req.NewOwnerID))
	return kit, nil
}

// ActivateKitRequest is sent by the kit owner once the kit arrives
type ActivateKitRequest struct {
	KitID       int64
	RequesterID int64
}

func (s *KitService) ActivateKit(ctx context.Context, req ActivateKitRequest) (*domain.Kit, error) {
	ids, err := s.statuses.ids(ctx, domain.EntityKit, domain.KitSent, domain.KitActivated)
	if err != nil {
		return nil, err
	}

	var kit *domain.Kit
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		cur, err := repos.Kits.GetKit(ctx, req.KitID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if !cur.HasOwner() {
			return domain.Forbidden("kit %d has no owner", req.KitID)
		}
		if !cur.OwnedBy(req.RequesterID) {
			return domain.Forbidden("only the kit owner may activate kit %d", req.KitID)
		}
		switch cur.StatusID {
		case ids[domain.KitActivated]:
			return domain.Conflict("kit %d is already activated", req.KitID)
		case ids[domain.KitSent]:
		default:
			return domain.Conflict("kit %d is %s, expected %s", req.KitID, cur.Status, domain.KitSent)
		}

		ok, err := repos.Kits.ChangeStatus(ctx, cur.ID, ids[domain.KitSent], ids[domain.KitActivated])
		if err != nil {
			return err
		}
		if !ok {
			return domain.Conflict("kit %d changed concurrently", req.KitID)
		}
		kit, err = repos.Kits.GetKit(ctx, cur.ID, repository.LockNone)
		return err
	})
	s.metrics.Operation("activate_kit", outcomeOf(err))
	if err != nil {
		if !isExpected(err) {
			s.logger.Error("ActivateKit failed", zap.Int64("kit_id", req.KitID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Kit activated", zap.Int64("kit_id", kit.ID), zap.Int64("owner_id", req.RequesterID))
	return kit, nil
}

// ResolveKit turns an id or unique_hex into a kit id
func (s *KitService) ResolveKit(ctx context.Context, ident domain.Identifier) (int64, error) {
	if ident.IsNumeric() {
		return ident.ID(), nil
	}
	kit, err := s.store.Repos().Kits.GetKitByHex(ctx, ident.Key())
	if err != nil {
		return 0, err
	}
	return kit.ID, nil
}

// GetKitInfo returns the kit with its QR codes and owner
func (s *KitService) GetKitInfo(ctx context.Context, kitID int64) (*domain.KitInfo, error) {
	repos := s.store.Repos()
	kit, err := repos.Kits.GetKit(ctx, kitID, repository.LockNone)
	if err != nil {
		return nil, err
	}
	if kit.QRCodes, err = repos.Kits.ListQRCodes(ctx, kit.ID); err != nil {
		return nil, err
	}
	info := &domain.KitInfo{Kit: *kit}
	if kit.OwnerID != nil {
		owner, err := repos.Users.GetUser(ctx, *kit.OwnerID)
		if err != nil {
			return nil, err
		}
		info.Owner = owner
	}
	return info, nil
}

// QRInfo is a QR code with the kit it belongs to
type QRInfo struct {
	domain.QRCode
	Kit *domain.Kit `json:"kit,omitempty"`
}

func (s *KitService) GetQRInfo(ctx context.Context, qrHex string) (*QRInfo, error) {
	repos := s.store.Repos()
	qr, err := repos.Kits.GetQRByHex(ctx, qrHex, repository.LockNone)
	if err != nil {
		return nil, err
	}
	info := &QRInfo{QRCode: *qr}
	if qr.KitID != nil {
		if info.Kit, err = repos.Kits.GetKit(ctx, *qr.KitID, repository.LockNone); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func (s *KitService) ListKits(ctx context.Context) ([]*domain.Kit, error) {
	return s.store.Repos().Kits.ListKits(ctx, repository.KitsFilter{})
}

// ListKitsByOwner returns the kits a user holds
func (s *KitService) ListKitsByOwner(ctx context.Context, ownerID int64) ([]*domain.Kit, error) {
	return s.store.Repos().Kits.ListKits(ctx, repository.KitsFilter{OwnerID: ownerID})
}

func (s *KitService) CountKits(ctx context.Context, statusKey string) (int64, error) {
	return s.statuses.Count(ctx, domain.EntityKit, statusKey)
}
