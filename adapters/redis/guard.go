package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard claims file groups with SETNX so that two detectors racing through
// the observe-then-act window of marker-based conflict detection cannot both
// proceed. Claims expire with a TTL; a crashed writer's claim simply ages
// out. Guard satisfies the marker package's FileGroupGuard capability.
type Guard struct {
	conn     *Connection
	basePath string
	ttl      time.Duration
}

// DefaultClaimTTL bounds how long a file group claim outlives its writer.
const DefaultClaimTTL = 15 * time.Minute

// NewFileGroupGuard returns a guard claiming keys scoped to the table at
// basePath. conn nil selects the package-level singleton connection. A ttl
// of zero selects DefaultClaimTTL.
func NewFileGroupGuard(conn *Connection, basePath string, ttl time.Duration) (*Guard, error) {
	if conn == nil {
		if connection == nil {
			return nil, fmt.Errorf("redis connection is not open; can't create file group guard")
		}
		conn = connection
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &Guard{
		conn:     conn,
		basePath: basePath,
		ttl:      ttl,
	}, nil
}

// Claim records instant's ownership of (partitionPath, fileGroupID). When the
// group is already claimed, ok is false and ownerInstant names the holder;
// re-claiming by the same instant succeeds and refreshes the TTL.
func (g *Guard) Claim(ctx context.Context, partitionPath, fileGroupID, instant string) (string, bool, error) {
	key := g.formatKey(partitionPath, fileGroupID)
	set, err := g.conn.Client.SetNX(ctx, key, instant, g.ttl).Result()
	if err != nil && err != redis.Nil {
		return "", false, err
	}
	if set {
		return instant, true, nil
	}
	owner, err := g.conn.Client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Claim expired between SetNX and Get; retry once.
			set, err = g.conn.Client.SetNX(ctx, key, instant, g.ttl).Result()
			if err != nil && err != redis.Nil {
				return "", false, err
			}
			if set {
				return instant, true, nil
			}
			return "", false, nil
		}
		return "", false, err
	}
	if owner == instant {
		// Duplicate-executing task of the same instant; refresh the TTL.
		g.conn.Client.Expire(ctx, key, g.ttl)
		return instant, true, nil
	}
	return owner, false, nil
}

// Release drops the claim when the owning instant completes or rolls back.
func (g *Guard) Release(ctx context.Context, partitionPath, fileGroupID, instant string) error {
	key := g.formatKey(partitionPath, fileGroupID)
	owner, err := g.conn.Client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	if owner != instant {
		return nil
	}
	return g.conn.Client.Del(ctx, key).Err()
}

func (g *Guard) formatKey(partitionPath, fileGroupID string) string {
	return fmt.Sprintf("lakemark:fg:%s:%s:%s", g.basePath, partitionPath, fileGroupID)
}
