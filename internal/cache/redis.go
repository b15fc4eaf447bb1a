package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/koi-net/koinet/internal/rid"
)

// Redis is a cache backend for deployments where several processes
// share one store. Bundles live under string keys; per-type index sets
// back the List enumeration.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// OpenRedis connects to a Redis server. keyPrefix namespaces all keys,
// defaulting to "koi:".
func OpenRedis(ctx context.Context, addr, keyPrefix string) (*Redis, error) {
	if keyPrefix == "" {
		keyPrefix = "koi:"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return &Redis{client: client, keyPrefix: keyPrefix}, nil
}

func (c *Redis) bundleKey(r rid.RID) string {
	return c.keyPrefix + "bundle:" + r.String()
}

func (c *Redis) indexKey(t rid.Type) string {
	return c.keyPrefix + "rids:" + string(t)
}

func (c *Redis) typesKey() string {
	return c.keyPrefix + "types"
}

func (c *Redis) Read(r rid.RID) (rid.Bundle, error) {
	ctx := context.Background()
	data, err := c.client.Get(ctx, c.bundleKey(r)).Bytes()
	if err == redis.Nil {
		return rid.Bundle{}, ErrNotFound
	}
	if err != nil {
		return rid.Bundle{}, fmt.Errorf("read %s: %w", r, err)
	}
	var bundle rid.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return rid.Bundle{}, fmt.Errorf("decode %s: %w", r, err)
	}
	return bundle, nil
}

func (c *Redis) Write(b rid.Bundle) error {
	ctx := context.Background()
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode %s: %w", b.RID(), err)
	}
	r := b.RID()
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.bundleKey(r), data, 0)
	pipe.SAdd(ctx, c.indexKey(r.Type()), r.String())
	pipe.SAdd(ctx, c.typesKey(), string(r.Type()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write %s: %w", r, err)
	}
	return nil
}

func (c *Redis) Delete(r rid.RID) error {
	ctx := context.Background()
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.bundleKey(r))
	pipe.SRem(ctx, c.indexKey(r.Type()), r.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", r, err)
	}
	return nil
}

func (c *Redis) Exists(r rid.RID) (bool, error) {
	n, err := c.client.Exists(context.Background(), c.bundleKey(r)).Result()
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", r, err)
	}
	return n > 0, nil
}

func (c *Redis) List(types ...rid.Type) ([]rid.RID, error) {
	ctx := context.Background()
	if len(types) == 0 {
		names, err := c.client.SMembers(ctx, c.typesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("list types: %w", err)
		}
		for _, name := range names {
			types = append(types, rid.Type(name))
		}
	}
	var rids []rid.RID
	for _, t := range types {
		members, err := c.client.SMembers(ctx, c.indexKey(t)).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
		for _, member := range members {
			r, err := rid.Parse(member)
			if err != nil {
				continue
			}
			rids = append(rids, r)
		}
	}
	return rids, nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}
