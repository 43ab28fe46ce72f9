package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"curiosity/internal/domain"
	"curiosity/internal/metrics"
)

// Store owns the durable conversation log: a single JSON document of the
// form {"messages": [...]}. Reads are lenient and self-healing; writes are
// strict. All access to the file goes through mu, so concurrent appends are
// linearized.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

type StoreConfig struct {
	Path   string
	Logger *slog.Logger
	// Now overrides the clock used to stamp messages. Defaults to time.Now.
	Now func() time.Time
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		path:   cfg.Path,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// Path returns the location of the log file.
func (s *Store) Path() string { return s.path }

// ReadAll returns the full log. It never fails: a missing file is created
// empty, a malformed document is reset, and any other read error yields an
// empty log.
func (s *Store) ReadAll(ctx context.Context) *domain.ConversationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx)
}

// Append stamps a new message, appends it to the log and persists the
// whole document before returning the message.
func (s *Store) Append(ctx context.Context, author, content string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.readLocked(ctx)
	msg := domain.NewMessage(author, content, s.now())
	log.Messages = append(log.Messages, msg)

	if err := s.persistLocked(log); err != nil {
		s.logger.Error("append failed", "path", s.path, "author", author, "err", err)
		metrics.StorageErrors.WithLabelValues("append").Inc()
		return domain.Message{}, err
	}
	metrics.LogSize.Set(float64(len(log.Messages)))
	return msg, nil
}

// Persist writes the given log atomically, replacing the current file.
func (s *Store) Persist(log *domain.ConversationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(log)
}

// Stats summarizes the current log.
func (s *Store) Stats(ctx context.Context) domain.Stats {
	return domain.StatsOf(s.ReadAll(ctx).Messages)
}

func (s *Store) readLocked(ctx context.Context) *domain.ConversationLog {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.resetLocked("created")
	}
	if err != nil {
		s.logger.Error("cannot read conversation log", "path", s.path, "err", err)
		metrics.StorageErrors.WithLabelValues("read").Inc()
		return &domain.ConversationLog{Messages: []domain.Message{}}
	}

	var doc struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("conversation log is not valid JSON, resetting", "path", s.path, "err", err)
		s.quarantine(data)
		return s.resetLocked("unparseable")
	}

	raw := bytes.TrimSpace(doc.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		s.logger.Warn("conversation log has invalid structure, resetting", "path", s.path)
		return s.resetLocked("malformed")
	}

	var msgs []domain.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		s.logger.Warn("conversation log has invalid messages, resetting", "path", s.path, "err", err)
		s.quarantine(data)
		return s.resetLocked("malformed")
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return &domain.ConversationLog{Messages: msgs}
}

// resetLocked persists and returns an empty log. A failure to persist the
// reset is logged; the empty log is returned either way.
func (s *Store) resetLocked(reason string) *domain.ConversationLog {
	empty := &domain.ConversationLog{Messages: []domain.Message{}}
	if err := s.persistLocked(empty); err != nil {
		s.logger.Error("cannot persist empty conversation log", "path", s.path, "reason", reason, "err", err)
		metrics.StorageErrors.WithLabelValues("reset").Inc()
		return empty
	}
	if reason != "created" {
		metrics.LogResets.Inc()
	}
	s.logger.Info("conversation log initialized", "path", s.path, "reason", reason)
	return empty
}

const (
	quarantineStamp    = "20060102T150405.000Z"
	maxQuarantineTries = 100
)

// quarantine keeps a copy of bytes that could not be parsed next to the log.
// Each copy gets its own timestamped name so earlier copies survive.
func (s *Store) quarantine(data []byte) {
	base := s.path + ".corrupt-" + s.now().UTC().Format(quarantineStamp)
	dst := base
	for i := 1; ; i++ {
		err := writeExclusive(dst, data)
		if errors.Is(err, fs.ErrExist) && i < maxQuarantineTries {
			dst = fmt.Sprintf("%s-%d", base, i)
			continue
		}
		if err != nil {
			s.logger.Warn("cannot preserve corrupt conversation log", "path", dst, "err", err)
			return
		}
		break
	}
	s.logger.Warn("corrupt conversation log preserved", "path", dst)
}

// writeExclusive writes data to a file that must not exist yet.
func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) persistLocked(log *domain.ConversationLog) error {
	if log.Messages == nil {
		log.Messages = []domain.Message{}
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return &StorageError{Op: "persist", Path: s.path, Err: fmt.Errorf("marshal: %w", err)}
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return &StorageError{Op: "persist", Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path. The previous file survives any failure.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
