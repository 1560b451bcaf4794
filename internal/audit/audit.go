// Package audit provides the append-only JSON-lines audit log with size
// rotation, credential redaction, filtered queries, and summary statistics.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Event types.
const (
	EventToolCall       = "tool_call"
	EventAuthentication = "authentication"
	EventHealthCheck    = "health_check"
	EventError          = "error"
	EventSystem         = "system"
)

// Levels.
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

const (
	defaultMaxBytes    = 10 << 20 // 10 MiB
	defaultBackupCount = 5
	logFilename        = "audit.log"
)

// sensitiveKeyParts triggers redaction when a map key contains any of these
// (case-insensitive).
var sensitiveKeyParts = []string{
	"password", "app_password", "token", "api_key", "secret",
	"credential", "auth", "private_key", "access_token", "refresh_token",
}

// Filter narrows a query. Zero values match everything.
type Filter struct {
	EventType   string
	Level       string
	ProjectID   string
	ToolName    string
	Since       time.Time
	Until       time.Time
	SuccessOnly bool
	Limit       int
}

// Stats is a derived summary of the current log file.
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	ByType       map[string]int `json:"by_type"`
	ByLevel      map[string]int `json:"by_level"`
	SuccessRate  float64        `json:"success_rate"`
	FileSize     int64          `json:"file_size_bytes"`
}

// Logger appends audit entries to a JSONL file with rotation. Entries are
// never mutated after write; only append and rotate touch the files.
type Logger struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	backupCount int
	entropy     *ulid.MonotonicEntropy
	logger      *zap.Logger
}

// Option tunes Logger construction.
type Option func(*Logger)

// WithMaxBytes overrides the rotation threshold.
func WithMaxBytes(n int64) Option {
	return func(l *Logger) { l.maxBytes = n }
}

// WithBackupCount overrides how many rotated files are kept.
func WithBackupCount(n int) Option {
	return func(l *Logger) { l.backupCount = n }
}

// NewLogger creates an audit logger writing to logDir/audit.log. Permission
// errors on logDir fall back to a writable temp directory.
func NewLogger(logDir string, logger *zap.Logger, opts ...Option) (*Logger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := logDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fallback := filepath.Join(os.TempDir(), "gateway-logs")
		logger.Warn("log directory not writable, falling back to temp",
			zap.String("log_dir", logDir),
			zap.String("fallback", fallback),
			zap.Error(err))
		if mkErr := os.MkdirAll(fallback, 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", mkErr)
		}
		dir = fallback
	}

	l := &Logger{
		path:        filepath.Join(dir, logFilename),
		maxBytes:    defaultMaxBytes,
		backupCount: defaultBackupCount,
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the current log file path.
func (l *Logger) Path() string { return l.path }

// Log appends one entry. eventType and level default to system/INFO.
// Logging failures are reported to the application log and never propagate.
func (l *Logger) Log(eventType, level string, fields map[string]any) {
	if eventType == "" {
		eventType = EventSystem
	}
	if level == "" {
		level = LevelInfo
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record := make(map[string]any, len(fields)+4)
	for k, v := range Redact(fields) {
		record[k] = v
	}
	record["id"] = ulid.MustNew(ulid.Timestamp(time.Now()), l.entropy).String()
	record["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	record["event_type"] = eventType
	record["level"] = level

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // preserve non-ASCII and markup characters as-is
	if err := enc.Encode(record); err != nil {
		l.logger.Error("failed to encode audit entry", zap.Error(err))
		return
	}

	if err := l.rotateIfNeeded(); err != nil {
		l.logger.Error("audit log rotation failed", zap.Error(err))
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.logger.Error("failed to open audit log", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		l.logger.Error("failed to append audit entry", zap.Error(err))
	}
}

// rotateIfNeeded shifts audit.log -> .1 -> .2 ... when the current size has
// reached the threshold, dropping files beyond backupCount.
func (l *Logger) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < l.maxBytes {
		return nil
	}

	for i := l.backupCount - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
	}
	if l.backupCount > 0 {
		return os.Rename(l.path, l.path+".1")
	}
	return os.Remove(l.path)
}

// Redact recursively replaces values whose key contains a sensitive token.
func Redact(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Query streams the current log file and returns up to filter.Limit
// matching entries, oldest first.
func (l *Logger) Query(filter Filter) ([]map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var matches []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // skip torn or foreign lines
		}
		if !matchesFilter(entry, filter) {
			continue
		}
		matches = append(matches, entry)
		if filter.Limit > 0 && len(matches) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return matches, fmt.Errorf("failed to scan audit log: %w", err)
	}
	return matches, nil
}

// GetRecentEntries returns the newest n entries, newest first.
func (l *Logger) GetRecentEntries(n int) ([]map[string]any, error) {
	all, err := l.Query(Filter{})
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	recent := make([]map[string]any, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		recent = append(recent, all[i])
	}
	return recent, nil
}

// GetStats summarizes the current log file.
func (l *Logger) GetStats() (*Stats, error) {
	entries, err := l.Query(Filter{})
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		TotalEntries: len(entries),
		ByType:       make(map[string]int),
		ByLevel:      make(map[string]int),
	}
	withSuccess, successes := 0, 0
	for _, e := range entries {
		if t, ok := e["event_type"].(string); ok {
			stats.ByType[t]++
		}
		if lv, ok := e["level"].(string); ok {
			stats.ByLevel[lv]++
		}
		if s, ok := e["success"].(bool); ok {
			withSuccess++
			if s {
				successes++
			}
		}
	}
	if withSuccess > 0 {
		stats.SuccessRate = float64(successes) / float64(withSuccess) * 100
	}
	if info, err := os.Stat(l.path); err == nil {
		stats.FileSize = info.Size()
	}
	return stats, nil
}

func matchesFilter(entry map[string]any, filter Filter) bool {
	if filter.EventType != "" && entry["event_type"] != filter.EventType {
		return false
	}
	if filter.Level != "" && entry["level"] != filter.Level {
		return false
	}
	if filter.ProjectID != "" && entry["project_id"] != filter.ProjectID {
		return false
	}
	if filter.ToolName != "" && entry["tool_name"] != filter.ToolName {
		return false
	}
	if filter.SuccessOnly {
		if s, ok := entry["success"].(bool); !ok || !s {
			return false
		}
	}
	if !filter.Since.IsZero() || !filter.Until.IsZero() {
		ts, ok := entry["timestamp"].(string)
		if !ok {
			return false
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return false
		}
		if !filter.Since.IsZero() && parsed.Before(filter.Since) {
			return false
		}
		if !filter.Until.IsZero() && parsed.After(filter.Until) {
			return false
		}
	}
	return true
}
