package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	versionKeyPrefix = "reports:version"
	bumpChannel      = "ledger.bump"
)

// ReportCache stores report results in Redis under per-company versioned
// keys. A nil cache or client computes every report directly.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewReportCache instantiates the cache helper.
func NewReportCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ReportCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportCache{client: client, ttl: ttl, logger: logger}
}

func versionKey(companyID int64) string {
	return versionKeyPrefix + ":" + strconv.FormatInt(companyID, 10)
}

// Version returns the company's cache version, initialising when missing.
func (c *ReportCache) Version(ctx context.Context, companyID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(companyID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX keeps a concurrent bump from being overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a report key with the company's current version.
func (c *ReportCache) BuildKey(ctx context.Context, companyID int64, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"reports", strconv.FormatInt(companyID, 10)}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, companyID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or builds it with loader. Concurrent misses
// on the same key share one build.
func (c *ReportCache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("reconcile: cache loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("report cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	raw, err := c.build(ctx, key, loader)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// build runs loader detached from ctx cancellation so one caller giving up
// does not fail the others waiting on key.
func (c *ReportCache) build(ctx context.Context, key string, loader func(context.Context) (any, error)) ([]byte, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(detached)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(detached, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("report cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Bump invalidates every cached report of a company and publishes the new version.
func (c *ReportCache) Bump(ctx context.Context, companyID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(companyID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, fmt.Sprintf("%d:%d", companyID, ver)).Err()
}

// LedgerChanged bumps the company version after a posting, reversal or void.
func (c *ReportCache) LedgerChanged(ctx context.Context, companyID int64) {
	if err := c.Bump(ctx, companyID); err != nil {
		c.logger.Warn("report cache invalidation failed", slog.Int64("company_id", companyID), slog.Any("error", err))
	}
}

// ListenForInvalidation applies version bumps published by other processes.
func (c *ReportCache) ListenForInvalidation(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				company, ver, found := strings.Cut(msg.Payload, ":")
				if !found {
					continue
				}
				id, err := strconv.ParseInt(company, 10, 64)
				if err != nil {
					continue
				}
				v, err := strconv.ParseInt(ver, 10, 64)
				if err != nil {
					continue
				}
				if err := c.raise(ctx, id, v); err != nil {
					c.logger.Warn("report cache version sync failed", slog.Int64("company_id", id), slog.Any("error", err))
				}
			}
		}
	}()
}

// raise moves the version forward to at least v.
func (c *ReportCache) raise(ctx context.Context, companyID, v int64) error {
	key := versionKey(companyID)
	current, err := c.client.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if current >= v {
		return nil
	}
	return c.client.Set(ctx, key, v, 0).Err()
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
