package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

func NewRedisPool(address string, maxConnections int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     maxConnections,
		MaxActive:   maxConnections,
		IdleTimeout: 240 * time.Second,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", address)
			if err != nil {
				return nil, err
			}
			return c, err
		},
	}
}

// RedisStore keeps one serialized entry per list element. RPUSH is atomic,
// so concurrent appends from several service instances are safe.
type RedisStore struct {
	pool *redis.Pool
	key  string
}

func NewRedisStore(pool *redis.Pool, key string) *RedisStore {
	return &RedisStore{pool: pool, key: key}
}

func (s *RedisStore) Append(ctx context.Context, entry datastructures.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	serialized, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "couldn't serialize history entry")
	}

	redisConn := s.pool.Get()
	defer redisConn.Close()

	if _, err := redisConn.Do("RPUSH", s.key, serialized); err != nil {
		log.Debug("[History] Couldn't append entry: ", err.Error())
		return errors.Wrap(err, "couldn't append history entry")
	}
	return nil
}

func (s *RedisStore) ReadAll(ctx context.Context) ([]datastructures.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	redisConn := s.pool.Get()
	defer redisConn.Close()

	values, err := redis.ByteSlices(redisConn.Do("LRANGE", s.key, 0, -1))
	if err != nil {
		if err == redis.ErrNil {
			return []datastructures.HistoryEntry{}, nil
		}
		log.Debug("[History] Couldn't read entries: ", err.Error())
		if _, ok := err.(redis.Error); ok {
			// e.g. WRONGTYPE, the key holds something else than our list
			return nil, commons.NewHistoryCorruptionError("redis key "+s.key, err)
		}
		return nil, errors.Wrap(err, "couldn't read history")
	}

	entries := make([]datastructures.HistoryEntry, 0, len(values))
	for i, value := range values {
		var entry datastructures.HistoryEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return nil, commons.NewHistoryCorruptionError("redis key "+s.key, errors.Wrapf(err, "element %d", i))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping() error {
	redisConn := s.pool.Get()
	defer redisConn.Close()
	_, err := redisConn.Do("PING")
	return err
}

func (s *RedisStore) Close() error {
	return s.pool.Close()
}
