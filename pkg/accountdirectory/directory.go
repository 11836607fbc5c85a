// Package accountdirectory resolves AWS account IDs to the display
// names and emails the rest of the pipeline attaches to event records,
// backed by a tiered cache: an in-process LRU, an optional Redis L2,
// and the Organizations API as the source of truth.
package accountdirectory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cloudops-platform/orgevents/infrastructure/cache"
	"github.com/cloudops-platform/orgevents/infrastructure/resilience"
	"github.com/cloudops-platform/orgevents/pkg/logger"
)

// Account is the directory entry for a single AWS account.
type Account struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OrganizationsClient is the subset of the AWS Organizations API the
// directory needs. Kept narrow so tests can supply an in-memory fake.
type OrganizationsClient interface {
	DescribeAccount(ctx context.Context, accountID string) (Account, error)
}

// Directory resolves account IDs to Account records with a two-tier
// cache in front of the Organizations API, mirroring the teacher's
// TTLCache-backed lookup pattern.
type Directory struct {
	client OrganizationsClient
	l1     *lru.Cache[string, Account]
	l2     *cache.TTLCache
	redis  *redis.Client
	ttl    time.Duration
	retry  resilience.RetryConfig
	log    *logger.Logger
}

// Config configures the directory's cache tiers.
type Config struct {
	Client     OrganizationsClient
	L1Size     int
	TTL        time.Duration
	RedisAddr  string
	Retry      resilience.RetryConfig
	Logger     *logger.Logger
}

// New builds a Directory. If RedisAddr is empty, the L2 tier falls
// back to the generic in-process TTL cache only.
func New(cfg Config) (*Directory, error) {
	if cfg.L1Size <= 0 {
		cfg.L1Size = 2048
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("accountdirectory")
	}
	if cfg.Retry == (resilience.RetryConfig{}) {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	l1, err := lru.New[string, Account](cfg.L1Size)
	if err != nil {
		return nil, err
	}

	d := &Directory{
		client: cfg.Client,
		l1:     l1,
		l2:     cache.NewTTLCache(cfg.TTL),
		ttl:    cfg.TTL,
		retry:  cfg.Retry,
		log:    cfg.Logger,
	}

	if cfg.RedisAddr != "" {
		d.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	return d, nil
}

// Resolve returns the Account for accountID, consulting the L1 LRU,
// then the L2 tier (Redis if configured, otherwise the in-process TTL
// cache), then finally the Organizations API.
func (d *Directory) Resolve(ctx context.Context, accountID string) (Account, error) {
	if acc, ok := d.l1.Get(accountID); ok {
		return acc, nil
	}

	if d.redis != nil {
		if raw, err := d.redis.Get(ctx, redisKey(accountID)).Result(); err == nil {
			var acc Account
			if jsonErr := json.Unmarshal([]byte(raw), &acc); jsonErr == nil {
				d.l1.Add(accountID, acc)
				return acc, nil
			}
		}
	} else if v, ok := d.l2.Get(ctx, accountID); ok {
		if acc, ok := v.(Account); ok {
			d.l1.Add(accountID, acc)
			return acc, nil
		}
	}

	var acc Account
	err := resilience.Retry(ctx, d.retry, func() error {
		var rErr error
		acc, rErr = d.client.DescribeAccount(ctx, accountID)
		return rErr
	})
	if err != nil {
		return Account{}, err
	}

	d.store(ctx, acc)
	return acc, nil
}

// ResolveBatch resolves many account IDs, tolerating partial failures:
// accounts that can't be resolved are omitted from the result rather
// than failing the whole batch, since a missing display name degrades
// gracefully (callers fall back to the bare account ID).
func (d *Directory) ResolveBatch(ctx context.Context, accountIDs []string) map[string]Account {
	out := make(map[string]Account, len(accountIDs))
	for _, id := range accountIDs {
		acc, err := d.Resolve(ctx, id)
		if err != nil {
			d.log.WithField("accountId", id).WithError(err).Warn("account directory lookup failed")
			continue
		}
		out[id] = acc
	}
	return out
}

func (d *Directory) store(ctx context.Context, acc Account) {
	d.l1.Add(acc.ID, acc)

	if d.redis != nil {
		if raw, err := json.Marshal(acc); err == nil {
			d.redis.Set(ctx, redisKey(acc.ID), raw, d.ttl)
		}
		return
	}

	d.l2.Set(ctx, acc.ID, acc)
}

// Invalidate drops a cached entry, forcing the next Resolve to hit the
// Organizations API.
func (d *Directory) Invalidate(ctx context.Context, accountID string) {
	d.l1.Remove(accountID)
	if d.redis != nil {
		d.redis.Del(ctx, redisKey(accountID))
		return
	}
	d.l2.Delete(ctx, accountID)
}

func redisKey(accountID string) string {
	return "account:" + accountID
}
