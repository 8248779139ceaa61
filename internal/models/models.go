package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is one row of the canonical wallet event log. Sequence is
// assigned at acceptance time, strictly increasing per wallet, and is
// never reused. The row itself is immutable after insert.
type Event struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventID       uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_events_wallet_event,priority:2" json:"event_id"`
	WalletID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_events_wallet_event,priority:1;uniqueIndex:idx_events_wallet_seq,priority:1" json:"wallet_id"`
	UserID        uuid.UUID `gorm:"type:uuid" json:"user_id"`
	AggregateType string    `gorm:"index" json:"aggregate_type"`
	AggregateID   uuid.UUID `gorm:"type:uuid;index" json:"aggregate_id"`
	EventType     string    `json:"event_type"`
	Payload       []byte    `gorm:"type:jsonb" json:"payload"`
	Version       int       `json:"version"`
	Sequence      int64     `gorm:"uniqueIndex:idx_events_wallet_seq,priority:2" json:"sequence"`
	CreatedAt     time.Time `json:"created_at"`
	RecordedAt    time.Time `gorm:"autoCreateTime" json:"recorded_at"`
}

// ContactProjection is the current-state view of a contact aggregate,
// derived entirely from its event history. IsDeleted is the tombstone.
type ContactProjection struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID     uuid.UUID `gorm:"type:uuid;index" json:"wallet_id"`
	Name         string    `json:"name"`
	Username     *string   `json:"username"`
	Phone        *string   `json:"phone"`
	Email        *string   `json:"email"`
	Notes        *string   `json:"notes"`
	Balance      int64     `json:"balance"`
	IsDeleted    bool      `gorm:"index" json:"is_deleted"`
	LastSequence int64     `json:"last_sequence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TransactionProjection is the current-state view of a transaction
// aggregate. Amount is in minor currency units.
type TransactionProjection struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID     uuid.UUID  `gorm:"type:uuid;index" json:"wallet_id"`
	ContactID    uuid.UUID  `gorm:"type:uuid;index" json:"contact_id"`
	Direction    string     `json:"direction"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	Description  *string    `json:"description"`
	Date         *time.Time `json:"transaction_date"`
	DueDate      *time.Time `json:"due_date"`
	IsDeleted    bool       `gorm:"index" json:"is_deleted"`
	LastSequence int64      `json:"last_sequence"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Wallet owns its event log. LastSequence is the high-water mark used
// for sequence assignment; the row is locked for the duration of a push
// so concurrent writers to the same wallet are serialized.
type Wallet struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `json:"name"`
	LastSequence int64     `json:"last_sequence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Wallet roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// WalletUser associates a user with a wallet and a role.
type WalletUser struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	WalletID  uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_wallet_users,priority:1" json:"wallet_id"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_wallet_users,priority:2" json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserGroup is a named group inside a wallet. Each group grants a set
// of capability strings via GroupAction rows.
type UserGroup struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID uuid.UUID `gorm:"type:uuid;index" json:"wallet_id"`
	Name     string    `json:"name"`
}

// UserGroupMember places a user into a group.
type UserGroupMember struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserGroupID uuid.UUID `gorm:"type:uuid;index" json:"user_group_id"`
	UserID      uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
}

// GroupAction grants one capability string, e.g. "contact:create", to a group.
type GroupAction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserGroupID uuid.UUID `gorm:"type:uuid;index" json:"user_group_id"`
	Action      string    `json:"action"`
}

// User is a minimal account record. Login and password handling live in
// a separate service; sync only needs identity and the admin flag.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex" json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// APIToken is an opaque bearer token for a user. Admin sessions carry
// the user's admin flag and are barred from the sync surface.
type APIToken struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Token      string     `gorm:"uniqueIndex" json:"-"`
	UserID     uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
