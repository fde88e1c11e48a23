package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

type fileRequest struct {
	// entry is nil for reads
	entry *datastructures.HistoryEntry
	reply chan fileResponse
}

type fileResponse struct {
	entries []datastructures.HistoryEntry
	err     error
}

// FileStore keeps the history as one JSON array in a file. A single
// goroutine owns the file and serves all requests in order, so appends from
// concurrent requests never overwrite each other.
type FileStore struct {
	path      string
	requests  chan fileRequest
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewFileStore(path string) *FileStore {
	s := &FileStore{
		path:     path,
		requests: make(chan fileRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			req.reply <- s.handle(req)
		case <-s.quit:
			return
		}
	}
}

func (s *FileStore) handle(req fileRequest) fileResponse {
	entries, err := s.load()
	if err != nil {
		return fileResponse{err: err}
	}
	if req.entry == nil {
		return fileResponse{entries: entries}
	}

	entries = append(entries, *req.entry)
	if err := s.write(entries); err != nil {
		log.Debug("[History] Couldn't write history: ", err.Error())
		return fileResponse{err: err}
	}
	return fileResponse{}
}

func (s *FileStore) do(ctx context.Context, req fileRequest) fileResponse {
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return fileResponse{err: ctx.Err()}
	case <-s.quit:
		return fileResponse{err: ErrStoreClosed}
	}
	// once accepted the request is always completed, so wait for it even if
	// ctx ends in between
	return <-req.reply
}

func (s *FileStore) Append(ctx context.Context, entry datastructures.HistoryEntry) error {
	return s.do(ctx, fileRequest{entry: &entry, reply: make(chan fileResponse, 1)}).err
}

func (s *FileStore) ReadAll(ctx context.Context) ([]datastructures.HistoryEntry, error) {
	res := s.do(ctx, fileRequest{reply: make(chan fileResponse, 1)})
	return res.entries, res.err
}

func (s *FileStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
	})
	return nil
}

func (s *FileStore) load() ([]datastructures.HistoryEntry, error) {
	return ReadFile(s.path)
}

// ReadFile parses a history document. A missing or blank file is an empty
// history; anything unparseable is a HistoryCorruptionError.
func ReadFile(path string) ([]datastructures.HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []datastructures.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read history")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []datastructures.HistoryEntry{}, nil
	}

	var entries []datastructures.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, commons.NewHistoryCorruptionError(path, err)
	}
	if entries == nil {
		entries = []datastructures.HistoryEntry{}
	}
	return entries, nil
}

// write replaces the document through a temp file in the same directory,
// so readers never see a half written array.
func (s *FileStore) write(entries []datastructures.HistoryEntry) (err error) {
	serialized, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return errors.Wrap(err, "couldn't serialize history")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.tmp")
	if err != nil {
		return errors.Wrap(err, "couldn't create temp file")
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(serialized)
	if err == nil {
		// CreateTemp uses 0600, the history stays readable like a plain write
		err = tmp.Chmod(0644)
	}
	if err == nil {
		err = tmp.Sync()
	}
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return errors.Wrap(err, "couldn't write temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "couldn't replace history")
}

// Quarantine moves a history file out of the way so the service starts
// with an empty history. The new location is returned.
func Quarantine(path string, now time.Time) (string, error) {
	_, err := ReadFile(path)
	var corruptErr *commons.HistoryCorruptionError
	if err == nil {
		return "", errors.Errorf("%s is not corrupt", path)
	}
	if !errors.As(err, &corruptErr) {
		// unreadable isn't corrupt, leave the file where it is
		return "", err
	}
	target := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, target); err != nil {
		return "", errors.Wrap(err, "couldn't quarantine history")
	}
	log.Info("[History] Moved ", path, " to ", target)
	return target, nil
}
