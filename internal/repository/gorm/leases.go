package gormrepository

import (
	"context"
	"time"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

const acquireLeaseSQL = `INSERT INTO orchestrator_leases (name, holder, expires_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE
SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
WHERE orchestrator_leases.expires_at < ? OR orchestrator_leases.holder = EXCLUDED.holder`

// AcquireLease takes the named lease if it is free, expired, or already ours.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return true, nil
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Exec(acquireLeaseSQL, name, holder, now.Add(ttl), now, now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("name = ? AND holder = ?", name, holder).
		Delete(&models.OrchestratorLease{}).Error
}
