package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	coreredis "github.com/vdjjd/faninteract/db/redis"
	"github.com/vdjjd/faninteract/pkg/providers"
)

// snapshotTTL bounds how long a stale event can be replayed to late joiners.
// Events past this age describe an attempt nobody is animating anymore.
const snapshotTTL = 12 * time.Hour

// SnapshotProvider implements providers.SnapshotProvider using Redis
type SnapshotProvider struct {
	redis  *coreredis.Client
	logger zerolog.Logger
}

// NewSnapshotProvider creates a new snapshot provider
func NewSnapshotProvider(redisClient *coreredis.Client, logger zerolog.Logger) *SnapshotProvider {
	return &SnapshotProvider{
		redis:  redisClient,
		logger: logger.With().Str("component", "snapshot_provider").Logger(),
	}
}

func (p *SnapshotProvider) snapshotKey(wheelID string) string {
	return fmt.Sprintf("wheel:spin:last-event:%s", wheelID)
}

// SaveSnapshot stores the last fan-out event for a wheel
func (p *SnapshotProvider) SaveSnapshot(ctx context.Context, wheelID string, snapshot interface{}) error {
	key := p.snapshotKey(wheelID)
	if err := p.redis.SetJSON(ctx, key, snapshot, snapshotTTL); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot loads the last fan-out event for a wheel
func (p *SnapshotProvider) LoadSnapshot(ctx context.Context, wheelID string, dest interface{}) error {
	key := p.snapshotKey(wheelID)
	err := p.redis.GetJSON(ctx, key, dest)
	if errors.Is(err, coreredis.ErrKeyNotFound) {
		return providers.ErrNoSnapshot
	}
	return err
}

// ClearSnapshot removes the stored event for a wheel
func (p *SnapshotProvider) ClearSnapshot(ctx context.Context, wheelID string) error {
	return p.redis.Delete(ctx, p.snapshotKey(wheelID))
}
