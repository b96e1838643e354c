package domain

import "time"

// Kit mirrors the kits table
type Kit struct {
	ID        int64     `db:"id" json:"id"`
	UniqueHex string    `db:"unique_hex" json:"unique_hex"` // 16 hex chars, UNIQUE
	QRCount   int       `db:"n_qrs" json:"n_qrs"`
	CreatorID int64     `db:"creator_id" json:"creator_id"`
	OwnerID   *int64    `db:"owner_id" json:"owner_id"` // nullable until sent
	StatusID  int64     `db:"status" json:"status_id"`
	Status    string    `db:"-" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	QRCodes []QRCode `db:"-" json:"qr_codes,omitempty"`
}

// HasOwner reports whether the kit was handed to someone
func (k *Kit) HasOwner() bool { return k.OwnerID != nil }

// OwnedBy reports whether userID owns the kit
func (k *Kit) OwnedBy(userID int64) bool { return k.OwnerID != nil && *k.OwnerID == userID }

// QRCode mirrors the qr_codes table
type QRCode struct {
	ID        int64     `db:"id" json:"id"`
	UniqueHex string    `db:"unique_hex" json:"unique_hex"` // 20 hex chars, UNIQUE
	KitID     *int64    `db:"kit_id" json:"kit_id"`
	IsUsed    bool      `db:"is_used" json:"is_used"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// KitInfo is the read projection returned by kit lookups
type KitInfo struct {
	Kit
	Owner *User `json:"owner,omitempty"`
}
