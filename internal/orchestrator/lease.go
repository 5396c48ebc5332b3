package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

// Lease keeps two cycles from overlapping across replicas.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type DBLease struct {
	Repo   repository.LeaseRepository
	Name   string
	Holder string
	TTL    time.Duration
}

func (l *DBLease) Acquire(ctx context.Context) (bool, error) {
	if l == nil || l.Repo == nil {
		return true, nil
	}
	return l.Repo.AcquireLease(ctx, l.Name, l.Holder, l.TTL)
}

func (l *DBLease) Release(ctx context.Context) error {
	if l == nil || l.Repo == nil {
		return nil
	}
	return l.Repo.ReleaseLease(ctx, l.Name, l.Holder)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisLease struct {
	Client *redis.Client
	Key    string
	Holder string
	TTL    time.Duration
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	if l == nil || l.Client == nil {
		return true, nil
	}
	return l.Client.SetNX(ctx, l.Key, l.Holder, l.TTL).Result()
}

// Release deletes the key only while this holder still owns it.
func (l *RedisLease) Release(ctx context.Context) error {
	if l == nil || l.Client == nil {
		return nil
	}
	err := releaseScript.Run(ctx, l.Client, []string{l.Key}, l.Holder).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// NewLease picks the redis backend when configured and reachable by config,
// otherwise the database row lease.
func NewLease(cfg config.OrchestratorConfig, rcfg config.RedisConfig, client *redis.Client, repo repository.LeaseRepository, holder string) Lease {
	name := strings.TrimSpace(cfg.LeaseName)
	if name == "" {
		name = "orchestrator_cycle"
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if strings.EqualFold(cfg.LeaseBackend, "redis") && client != nil {
		prefix := strings.TrimSpace(rcfg.Prefix)
		if prefix == "" {
			prefix = "ta"
		}
		return &RedisLease{Client: client, Key: fmt.Sprintf("%s:lease:%s", prefix, name), Holder: holder, TTL: ttl}
	}
	return &DBLease{Repo: repo, Name: name, Holder: holder, TTL: ttl}
}
