// Package policy decides whether the bridge answers a group conversation.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"onebridge/pkg/config"
)

// ErrNotFound indicates no explicit setting exists for a group.
var ErrNotFound = errors.New("group setting not found")

// GroupSetting is the operator-controlled switch for one group.
type GroupSetting struct {
	GroupID   int64     `json:"group_id" yaml:"group_id"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store is the read path used by the Gate.
type Store interface {
	GetGroupSetting(ctx context.Context, groupID int64) (GroupSetting, error)
}

// AdminStore adds the write path used by the operator CLI.
type AdminStore interface {
	Store
	SetGroupSetting(ctx context.Context, setting GroupSetting) error
	DeleteGroupSetting(ctx context.Context, groupID int64) error
	ListGroupSettings(ctx context.Context) ([]GroupSetting, error)
	Close() error
}

// Open builds the store selected by cfg.
func Open(cfg config.GroupsConfig, logger *slog.Logger) (AdminStore, error) {
	switch cfg.Store {
	case "sqlite":
		return NewSQLiteStore(cfg.Path, logger)
	case "file":
		return NewFileStore(cfg.Path, logger), nil
	default:
		return nil, fmt.Errorf("unsupported group store %q", cfg.Store)
	}
}
