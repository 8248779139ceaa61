package permission

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/debitum/internal/models"
)

// GormGate resolves permissions from the wallet membership and group
// tables.
type GormGate struct {
	db *gorm.DB
}

// NewGormGate creates a gate backed by db.
func NewGormGate(db *gorm.DB) *GormGate {
	return &GormGate{db: db}
}

func (g *GormGate) role(ctx context.Context, walletID, userID uuid.UUID) (string, error) {
	var wu models.WalletUser
	err := g.db.WithContext(ctx).
		Where("wallet_id = ? AND user_id = ?", walletID, userID).
		First(&wu).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to load wallet membership")
	}
	return wu.Role, nil
}

// IsMember reports whether the user has any role in the wallet.
func (g *GormGate) IsMember(ctx context.Context, walletID, userID uuid.UUID) (bool, error) {
	role, err := g.role(ctx, walletID, userID)
	return role != "", err
}

// ResolveUserGroups returns the ids of the groups the user belongs to
// in the wallet.
func (g *GormGate) ResolveUserGroups(ctx context.Context, walletID, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := g.db.WithContext(ctx).
		Model(&models.UserGroup{}).
		Select("user_groups.id").
		Joins("JOIN user_group_members ugm ON ugm.user_group_id = user_groups.id").
		Where("user_groups.wallet_id = ? AND ugm.user_id = ?", walletID, userID).
		Scan(&ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve user groups")
	}
	return ids, nil
}

// ActionsFor returns the union of actions granted by the user's groups,
// or the full set for owner/admin roles.
func (g *GormGate) ActionsFor(ctx context.Context, walletID, userID uuid.UUID) (map[string]bool, error) {
	role, err := g.role(ctx, walletID, userID)
	if err != nil {
		return nil, err
	}
	if role == models.RoleOwner || role == models.RoleAdmin {
		return fullSet(), nil
	}
	actions := make(map[string]bool)
	if role == "" {
		return actions, nil
	}
	groupIDs, err := g.ResolveUserGroups(ctx, walletID, userID)
	if err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return actions, nil
	}
	var names []string
	err = g.db.WithContext(ctx).
		Model(&models.GroupAction{}).
		Distinct("action").
		Where("user_group_id IN ?", groupIDs).
		Pluck("action", &names).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load group actions")
	}
	for _, n := range names {
		actions[n] = true
	}
	return actions, nil
}

// Authorize allows or denies one action in the wallet.
func (g *GormGate) Authorize(ctx context.Context, walletID, userID uuid.UUID, action string) error {
	actions, err := g.ActionsFor(ctx, walletID, userID)
	if err != nil {
		return err
	}
	if !actions[action] {
		return ErrInsufficientPermission
	}
	return nil
}
