package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darkodi/snaplink/internal/model"
)

// Key layout:
//
//	link:{shortId}                 hash with the link fields
//	machine:{machineId}:links      sorted set of short ids scored by creation time
//	machine:{machineId}:urls       hash originalUrl -> first short id
//	machine:{machineId}:seq        insertion counter, breaks createdAt ties
const (
	linkKeyPrefix    = "link:"
	machineKeyPrefix = "machine:"
)

// createScript inserts the link only if the short id is free. Returns 1 on insert, 0 on conflict.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'originalUrl', ARGV[1],
	'shortId', ARGV[2],
	'machineId', ARGV[3],
	'createdAt', ARGV[4],
	'visitCount', ARGV[5],
	'seq', redis.call('INCR', KEYS[4]))
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[2])
redis.call('HSETNX', KEYS[3], ARGV[1], ARGV[2])
return 1
`)

// visitScript increments and returns the whole hash, or nil for unknown ids
var visitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
redis.call('HINCRBY', KEYS[1], 'visitCount', 1)
redis.call('HSET', KEYS[1], 'lastVisited', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// RedisStore keeps links in redis hashes
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func linkKey(shortID string) string {
	return linkKeyPrefix + shortID
}

func machineLinksKey(machineID string) string {
	return machineKeyPrefix + machineID + ":links"
}

func machineURLsKey(machineID string) string {
	return machineKeyPrefix + machineID + ":urls"
}

func machineSeqKey(machineID string) string {
	return machineKeyPrefix + machineID + ":seq"
}

func (s *RedisStore) Create(ctx context.Context, link *model.Link) error {
	keys := []string{
		linkKey(link.ShortID),
		machineLinksKey(link.MachineID),
		machineURLsKey(link.MachineID),
		machineSeqKey(link.MachineID),
	}
	created := link.CreatedAt.UTC()

	inserted, err := createScript.Run(ctx, s.client, keys,
		link.OriginalURL,
		link.ShortID,
		link.MachineID,
		created.Format(time.RFC3339Nano),
		link.VisitCount,
		created.UnixMicro(),
	).Int()
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	if inserted == 0 {
		return ErrDuplicateShortID
	}

	if link.LastVisited != nil {
		err := s.client.HSet(ctx, linkKey(link.ShortID), "lastVisited", link.LastVisited.UTC().Format(time.RFC3339Nano)).Err()
		if err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) GetByShortID(ctx context.Context, shortID string) (*model.Link, error) {
	fields, err := s.client.HGetAll(ctx, linkKey(shortID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return linkFromHash(fields)
}

func (s *RedisStore) FindByURLAndMachine(ctx context.Context, originalURL, machineID string) (*model.Link, error) {
	shortID, err := s.client.HGet(ctx, machineURLsKey(machineID), originalURL).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find link: %w", err)
	}
	return s.GetByShortID(ctx, shortID)
}

func (s *RedisStore) ListByMachine(ctx context.Context, machineID string) ([]model.Link, error) {
	ids, err := s.client.ZRevRange(ctx, machineLinksKey(machineID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	links := []model.Link{}
	if len(ids) == 0 {
		return links, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, linkKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	type ranked struct {
		link model.Link
		seq  int64
	}
	rows := make([]ranked, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		link, err := linkFromHash(fields)
		if err != nil {
			return nil, err
		}
		seq, _ := strconv.ParseInt(fields["seq"], 10, 64)
		rows = append(rows, ranked{link: *link, seq: seq})
	}

	// equal scores come back in member order, so ties are settled by insertion seq
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].link.CreatedAt.Equal(rows[j].link.CreatedAt) {
			return rows[i].link.CreatedAt.After(rows[j].link.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	for _, r := range rows {
		links = append(links, r.link)
	}
	return links, nil
}

func (s *RedisStore) RecordVisit(ctx context.Context, shortID string, at time.Time) (*model.Link, error) {
	res, err := visitScript.Run(ctx, s.client, []string{linkKey(shortID)},
		at.UTC().Format(time.RFC3339Nano)).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return linkFromHash(fields)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func linkFromHash(fields map[string]string) (*model.Link, error) {
	link := &model.Link{
		OriginalURL: fields["originalUrl"],
		ShortID:     fields["shortId"],
		MachineID:   fields["machineId"],
	}

	created, err := time.Parse(time.RFC3339Nano, fields["createdAt"])
	if err != nil {
		return nil, fmt.Errorf("parse createdAt of %s: %w", link.ShortID, err)
	}
	link.CreatedAt = created.UTC()

	if v := fields["visitCount"]; v != "" {
		link.VisitCount, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse visitCount of %s: %w", link.ShortID, err)
		}
	}

	if v := fields["lastVisited"]; v != "" {
		last, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse lastVisited of %s: %w", link.ShortID, err)
		}
		last = last.UTC()
		link.LastVisited = &last
	}
	return link, nil
}
