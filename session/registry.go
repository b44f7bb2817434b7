// Package session resolves session identifiers across the two storage
// tiers: file-backed ephemeral metadata and durable database rows.
package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kalichat/config"
	"kalichat/domain"
	"kalichat/store"
)

// Registry manages session lifecycle. Ephemeral sessions are kept as one
// metadata file per session under dir and expire by TTL; persistent sessions
// are durable rows owned by the store and are never auto-deleted.
type Registry struct {
	dir               string
	ttl               time.Duration
	defaultPersistent bool
	store             store.Store
	logger            *zap.Logger
}

// NewRegistry creates a registry rooted at cfg.SessionDir, creating the
// directory if needed.
func NewRegistry(cfg *config.Config, st store.Store, logger *zap.Logger) (*Registry, error) {
	if err := os.MkdirAll(cfg.SessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to initialize session storage: %w", err)
	}
	logger.Debug("session registry initialized",
		zap.String("dir", cfg.SessionDir),
		zap.Duration("ttl", cfg.SessionTTL))
	return &Registry{
		dir:               cfg.SessionDir,
		ttl:               cfg.SessionTTL,
		defaultPersistent: cfg.PersistentDefault,
		store:             st,
		logger:            logger,
	}, nil
}

// Resolve maps an optional inbound session id to a usable session. An empty
// id creates a new session. A valid id is returned unchanged. An invalid or
// expired id is silently replaced with a fresh session; a vanished session
// means "start fresh", never an error to the caller.
func (r *Registry) Resolve(ctx context.Context, id string, persistent *bool) (domain.ResolvedSession, error) {
	if id == "" {
		r.logger.Debug("no session id provided, creating new session")
		return r.Create(ctx, persistent)
	}

	if tier, ok := r.lookup(ctx, id); ok {
		r.logger.Debug("using existing session",
			zap.String("session_id", id),
			zap.String("tier", string(tier)))
		return domain.ResolvedSession{ID: id, Tier: tier}, nil
	}

	r.logger.Debug("invalid session, creating replacement", zap.String("session_id", id))
	return r.Create(ctx, persistent)
}

// Create generates a fresh session in exactly one tier. Persistent sessions
// get a durable row; ephemeral sessions get a metadata file.
func (r *Registry) Create(ctx context.Context, persistent *bool) (domain.ResolvedSession, error) {
	p := r.defaultPersistent
	if persistent != nil {
		p = *persistent
	}

	id := uuid.New().String()
	if p {
		if err := r.store.CreateSession(ctx, id, true); err != nil {
			return domain.ResolvedSession{}, fmt.Errorf("failed to create persistent session: %w", err)
		}
		r.logger.Info("created persistent session", zap.String("session_id", id))
		return domain.ResolvedSession{ID: id, Tier: domain.TierPersistent}, nil
	}

	now := time.Now()
	rec := record{
		ID:         id,
		Persistent: false,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := r.writeRecord(rec); err != nil {
		return domain.ResolvedSession{}, fmt.Errorf("failed to create ephemeral session: %w", err)
	}
	r.logger.Info("created ephemeral session", zap.String("session_id", id))
	return domain.ResolvedSession{ID: id, Tier: domain.TierEphemeral}, nil
}

// Validate reports whether the session id refers to a live session in
// either tier. The ephemeral tier is checked first (file existence plus TTL
// against last_active), then the durable tier.
func (r *Registry) Validate(ctx context.Context, id string) bool {
	_, ok := r.lookup(ctx, id)
	return ok
}

// lookup finds the session's tier, ephemeral tier first.
func (r *Registry) lookup(ctx context.Context, id string) (domain.Tier, bool) {
	if rec, ok := r.readRecord(id); ok {
		if time.Since(rec.LastActive) <= r.ttl {
			return domain.TierEphemeral, true
		}
		r.logger.Debug("ephemeral session expired",
			zap.String("session_id", id),
			zap.Time("last_active", rec.LastActive))
		return "", false
	}

	persistent, err := r.store.IsPersistent(ctx, id)
	if err != nil {
		r.logger.Error("session validation failed", zap.String("session_id", id), zap.Error(err))
		return "", false
	}
	if persistent {
		return domain.TierPersistent, true
	}
	return "", false
}

// IsPersistent is the authoritative persistence check, delegated to the
// durable tier. A session not found there is not persistent — ephemeral
// sessions are definitionally non-persistent.
func (r *Registry) IsPersistent(ctx context.Context, id string) bool {
	persistent, err := r.store.IsPersistent(ctx, id)
	if err != nil {
		r.logger.Error("persistence check failed", zap.String("session_id", id), zap.Error(err))
		return false
	}
	return persistent
}

// Touch bumps an ephemeral session's last_active so activity keeps it
// inside its TTL window. Persistent sessions have no metadata file and are
// left alone.
func (r *Registry) Touch(id string) {
	rec, ok := r.readRecord(id)
	if !ok {
		return
	}
	rec.LastActive = time.Now()
	if err := r.writeRecord(rec); err != nil {
		r.logger.Warn("failed to touch ephemeral session",
			zap.String("session_id", id), zap.Error(err))
	}
}
