package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sammcj/mcp-workspace/internal/telemetry"
)

// DefaultLogRetentionDays is how long tool error entries are kept.
const DefaultLogRetentionDays = 60

// ToolErrorLogEntry is one JSON line in the tool error log.
type ToolErrorLogEntry struct {
	Timestamp string          `json:"timestamp"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Error     string          `json:"error"`
	Transport string          `json:"transport,omitempty"`
}

// ToolErrorLogger appends failed tool calls to a JSON lines file. Arguments
// pass through telemetry.SanitiseArguments so script source and credentials
// are not written out. A disabled logger drops everything.
type ToolErrorLogger struct {
	mu       sync.Mutex
	enabled  bool
	logFile  *os.File
	logger   *logrus.Logger
	filePath string
	now      func() time.Time
}

// NewToolErrorLogger opens dir/tool-errors.log when enabled and prunes entries
// older than DefaultLogRetentionDays in the background.
func NewToolErrorLogger(dir string, enabled bool, logger *logrus.Logger) (*ToolErrorLogger, error) {
	l := &ToolErrorLogger{enabled: enabled, logger: logger, now: time.Now}
	if !enabled {
		return l, nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	l.filePath = filepath.Join(dir, "tool-errors.log")
	if err := l.reopenLocked(); err != nil {
		return nil, err
	}

	go func() {
		if err := l.rotate(); err != nil {
			logger.WithError(err).Warn("Failed to rotate old tool error logs")
		}
	}()
	logger.WithField("path", l.filePath).Info("Tool error logging enabled")
	return l, nil
}

// LogToolError records a failed call. Safe for concurrent use.
func (l *ToolErrorLogger) LogToolError(toolName string, args map[string]any, err error, transport string) {
	if l == nil || !l.enabled || err == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return
	}

	line, marshalErr := json.Marshal(ToolErrorLogEntry{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		ToolName:  toolName,
		Arguments: json.RawMessage(telemetry.SanitiseArguments(args)),
		Error:     err.Error(),
		Transport: transport,
	})
	if marshalErr != nil {
		l.logger.WithError(marshalErr).Error("Failed to marshal tool error log entry")
		return
	}
	if _, writeErr := l.logFile.Write(append(line, '\n')); writeErr != nil {
		l.logger.WithError(writeErr).Error("Failed to write tool error log entry")
	}
}

func (l *ToolErrorLogger) IsEnabled() bool {
	return l != nil && l.enabled
}

func (l *ToolErrorLogger) Path() string {
	return l.filePath
}

func (l *ToolErrorLogger) Close() error {
	if l == nil || !l.enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// rotate rewrites the log without expired entries. Lines that fail to parse
// are kept.
func (l *ToolErrorLogger) rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close log file for rotation: %w", err)
		}
		l.logFile = nil
	}

	file, err := os.Open(l.filePath)
	if err != nil {
		return l.reopenLocked()
	}

	cutoff := l.now().AddDate(0, 0, -DefaultLogRetentionDays)
	var kept []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ToolErrorLogEntry
		if json.Unmarshal([]byte(line), &entry) == nil {
			if ts, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil && !ts.After(cutoff) {
				continue
			}
		}
		kept = append(kept, line)
	}
	scanErr := scanner.Err()
	_ = file.Close()
	if scanErr != nil {
		_ = l.reopenLocked()
		return fmt.Errorf("error reading log file during rotation: %w", scanErr)
	}

	body := ""
	if len(kept) > 0 {
		body = strings.Join(kept, "\n") + "\n"
	}
	tmp := l.filePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0600); err != nil {
		_ = l.reopenLocked()
		return fmt.Errorf("failed to write rotated log file: %w", err)
	}
	if err := os.Rename(tmp, l.filePath); err != nil {
		_ = os.Remove(tmp)
		_ = l.reopenLocked()
		return fmt.Errorf("failed to replace log file during rotation: %w", err)
	}
	return l.reopenLocked()
}

// reopenLocked opens the log for appending. Caller holds l.mu.
func (l *ToolErrorLogger) reopenLocked() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open tool error log file: %w", err)
	}
	l.logFile = f
	return nil
}
