package history

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

var ErrStoreClosed = errors.New("history store closed")

// Store persists HistoryEntry records in arrival order.
type Store interface {
	Append(ctx context.Context, entry datastructures.HistoryEntry) error
	// ReadAll returns every entry, oldest first. An empty history is an
	// empty, non-nil slice.
	ReadAll(ctx context.Context) ([]datastructures.HistoryEntry, error)
	Close() error
}

// Open creates the store selected by cfg.HistoryBackend.
func Open(cfg commons.Config) (Store, error) {
	switch cfg.HistoryBackend {
	case "file":
		return NewFileStore(cfg.HistoryFile), nil
	case "redis":
		return NewRedisStore(NewRedisPool(cfg.RedisAddress, cfg.RedisMaxConnections), cfg.RedisKey), nil
	default:
		return nil, errors.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}
}
