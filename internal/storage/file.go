package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tvrelay/pkg/logx"
)

// maxLine bounds a single JSON Lines record (formatted text included).
const maxLine = 8 << 20

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.alerts.jsonl (append-only JSON Lines)
//
// Pruning rewrites the file through a temp file and rename.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path string
	f    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	alertsPath := prefix + ".alerts.jsonl"
	f, err := os.OpenFile(alertsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", alertsPath))
	return &fileStore{log: log, path: alertsPath, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendAlert(ctx context.Context, r AlertRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("alert log closed")
	}
	return json.NewEncoder(s.f).Encode(r)
}

func (s *fileStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errors.New("alert log closed")
	}

	var kept []AlertRecord
	dropped := 0
	err := scanRecords(s.path, func(r AlertRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.At.Before(cutoff) {
			dropped++
			return nil
		}
		kept = append(kept, r)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if dropped == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(tf)
	enc := json.NewEncoder(w)
	for _, r := range kept {
		if err := enc.Encode(r); err != nil {
			_ = tf.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		_ = tf.Close()
		return 0, err
	}
	if err := tf.Close(); err != nil {
		return 0, err
	}

	_ = s.f.Close()
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.f = f
	return dropped, nil
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := make([]AlertRecord, 0, limit)
	err := scanRecords(s.path, func(r AlertRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ring, nil
}

// scanRecords streams records from path, skipping lines that do not decode.
func scanRecords(path string, fn func(AlertRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		var r AlertRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return sc.Err()
}
