package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/logging"
)

// FileName is the audit trail file inside the audit directory.
const FileName = "audit.jsonl"

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	User      string         `json:"user"`
	Vehicle   int            `json:"vehicle"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Outcome   string         `json:"outcome"`
	Code      string         `json:"code"`
	LatencyMs int64          `json:"latencyMs"`
}

// Logger appends command records to a size-rotated JSONL file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	logger   *slog.Logger
}

// NewLogger creates the audit directory and the rotated writer.
func NewLogger(cfg config.AuditConfig, logger *slog.Logger) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, FileName)
	out := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}

	return &Logger{
		filePath: filePath,
		out:      out,
		logger:   logging.OrDiscard(logger),
	}, nil
}

// Record writes one command record. Timestamp and User are filled in when
// empty. A nil Logger drops the record.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if l == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.User == "" {
		entry.User = UserFromContext(ctx)
	}
	if entry.Params == nil {
		entry.Params = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", "action", entry.Action, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", "action", entry.Action, "error", err)
	}
}

// Rotate closes the current file and starts a new one, keeping the old one
// as a timestamped backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the audit file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// FilePath returns the path to the active audit file.
func (l *Logger) FilePath() string {
	return l.filePath
}

type userKey struct{}

// WithUser attaches the acting user to ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user set by WithUser, or "unknown".
func UserFromContext(ctx context.Context) string {
	if ctx != nil {
		if user, ok := ctx.Value(userKey{}).(string); ok && user != "" {
			return user
		}
	}
	return "unknown"
}
