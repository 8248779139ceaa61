// Package event defines the wire-level domain event and its typed payloads.
// Payloads are a tagged union keyed by (aggregate_type, event_type) and are
// decoded and validated at the store boundary, never passed around untyped.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Aggregate types.
const (
	AggregateContact     = "contact"
	AggregateTransaction = "transaction"
	AggregateWallet      = "wallet"
	AggregateUser        = "user"
)

// Event types, namespaced per aggregate by the aggregate_type field.
const (
	TypeCreated = "CREATED"
	TypeUpdated = "UPDATED"
	TypeDeleted = "DELETED"
)

// Transaction directions.
const (
	DirectionLent = "lent"
	DirectionOwed = "owed"
)

// Event is an immutable fact about one state change to an aggregate.
// Sequence is zero until the server accepts the event; Synced is
// client-side metadata and never crosses the wire.
type Event struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Version       int             `json:"version"`
	Sequence      int64           `json:"sequence,omitempty"`
	Synced        bool            `json:"-"`
}

// ContactPayload carries contact fields. On UPDATED only the non-nil
// fields are merged into the projection row.
type ContactPayload struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Username *string `json:"username,omitempty" validate:"omitempty,max=255"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=64"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Notes    *string `json:"notes,omitempty"`
}

// TransactionPayload carries transaction fields. Amount is in minor
// currency units. On UPDATED only the non-nil fields are merged.
type TransactionPayload struct {
	ContactID   *string `json:"contact_id,omitempty" validate:"omitempty,uuid4"`
	Direction   *string `json:"direction,omitempty" validate:"omitempty,oneof=lent owed"`
	Amount      *int64  `json:"amount,omitempty" validate:"omitempty,gte=0"`
	Currency    *string `json:"currency,omitempty" validate:"omitempty,len=3"`
	Description *string `json:"description,omitempty"`
	Date        *string `json:"transaction_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DueDate     *string `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

var (
	// ErrUnknownAggregateType rejects events outside the fixed aggregate set.
	ErrUnknownAggregateType = errors.New("unknown aggregate type")
	// ErrUnknownEventType rejects events outside {CREATED, UPDATED, DELETED}.
	ErrUnknownEventType = errors.New("unknown event type")
)

// NewID returns a fresh globally unique event id.
func NewID() string {
	return uuid.New().String()
}

// Validate checks the event envelope: id format, aggregate/event type
// membership and payload schema. It does not touch storage.
func (e *Event) Validate() error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return errors.Wrap(err, "invalid event id")
	}
	if _, err := uuid.Parse(e.AggregateID); err != nil {
		return errors.Wrap(err, "invalid aggregate id")
	}
	switch e.AggregateType {
	case AggregateContact, AggregateTransaction, AggregateWallet, AggregateUser:
	default:
		return errors.Wrapf(ErrUnknownAggregateType, "%q", e.AggregateType)
	}
	switch e.EventType {
	case TypeCreated, TypeUpdated, TypeDeleted:
	default:
		return errors.Wrapf(ErrUnknownEventType, "%q", e.EventType)
	}
	_, err := DecodePayload(e.AggregateType, e.EventType, e.Payload)
	return err
}

// DecodePayload decodes and validates the payload for the given aggregate
// and event type. DELETED events carry no payload and decode to nil.
func DecodePayload(aggregateType, eventType string, raw json.RawMessage) (interface{}, error) {
	if eventType == TypeDeleted {
		return nil, nil
	}
	switch aggregateType {
	case AggregateContact:
		var p ContactPayload
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal contact payload")
			}
		}
		if eventType == TypeCreated && (p.Name == nil || *p.Name == "") {
			return nil, errors.New("CREATED contact events must have 'name' in payload")
		}
		if err := validate.Struct(&p); err != nil {
			return nil, errors.Wrap(err, "invalid contact payload")
		}
		return &p, nil
	case AggregateTransaction:
		var p TransactionPayload
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal transaction payload")
			}
		}
		if eventType == TypeCreated {
			if p.ContactID == nil {
				return nil, errors.New("CREATED transaction events must have 'contact_id' in payload")
			}
			if p.Amount == nil {
				return nil, errors.New("CREATED transaction events must have 'amount' in payload")
			}
			if p.Direction == nil {
				return nil, errors.New("CREATED transaction events must have 'direction' in payload")
			}
		}
		if err := validate.Struct(&p); err != nil {
			return nil, errors.Wrap(err, "invalid transaction payload")
		}
		return &p, nil
	case AggregateWallet, AggregateUser:
		// Wallet and user events are produced by management flows outside
		// the sync surface; the store accepts them as opaque documents.
		return raw, nil
	}
	return nil, errors.Wrapf(ErrUnknownAggregateType, "%q", aggregateType)
}

// Action returns the permission action string this event requires,
// e.g. "contact:create" or "transaction:delete".
func (e *Event) Action() string {
	var op string
	switch e.EventType {
	case TypeCreated:
		op = "create"
	case TypeUpdated:
		op = "update"
	case TypeDeleted:
		op = "delete"
	default:
		op = "write"
	}
	return e.AggregateType + ":" + op
}
