package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

// Logger defines the interface for journal backends
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// FileLogger appends events to a JSON-lines file
type FileLogger struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.RWMutex
	rotation RotationConfig
}

// RotationConfig configures journal rotation
type RotationConfig struct {
	MaxSize    int64 // bytes before rotation
	MaxBackups int   // rotated files to keep
}

// NewFileLogger opens (or creates) the journal at path
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	return &FileLogger{
		path:     path,
		file:     file,
		encoder:  json.NewEncoder(file),
		rotation: rotation,
	}, nil
}

// Path returns the journal file path.
func (l *FileLogger) Path() string {
	return l.path
}

// Log appends one event, rotating first when the file is full
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotation.MaxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.rotation.MaxSize {
			if err := l.rotate(); err != nil {
				return fmt.Errorf("rotating audit log: %w", err)
			}
		}
	}

	return l.encoder.Encode(event)
}

// Query returns the events of the current journal file matching filter
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, err
	}
	defer file.Close()

	return ReadEvents(file, filter)
}

// Close closes the journal file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ReadEvents decodes a JSON-lines journal, skipping malformed lines, and
// applies filter including its offset and limit.
func ReadEvents(r io.Reader, filter Filter) ([]*Event, error) {
	var events []*Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.Warnf("audit: skipping malformed journal entry at line %d: %v", lineNum, err)
			continue
		}
		if filter.matches(&event) {
			events = append(events, &event)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			events = nil
		} else {
			events = events[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}

	return events, scanner.Err()
}

func (f Filter) matches(event *Event) bool {
	if f.Node != "" && event.Node != f.Node {
		return false
	}
	if f.Table != "" && event.Table != f.Table {
		return false
	}
	if f.Op != "" && event.Op != f.Op {
		return false
	}
	if f.Key != "" && event.Key != f.Key {
		return false
	}
	if !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && event.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SuccessOnly && !event.Success {
		return false
	}
	if f.FailureOnly && event.Success {
		return false
	}
	return true
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}

	rotatedPath := l.path + "." + time.Now().Format("20060102-150405.000000000")
	if err := os.Rename(l.path, rotatedPath); err != nil {
		return err
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.encoder = json.NewEncoder(file)

	if l.rotation.MaxBackups > 0 {
		l.cleanupOldFiles()
	}
	return nil
}

// cleanupOldFiles keeps the newest MaxBackups rotated files. Rotated names
// embed a sortable timestamp, so name order is age order.
func (l *FileLogger) cleanupOldFiles() {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil || len(matches) <= l.rotation.MaxBackups {
		return
	}
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-l.rotation.MaxBackups] {
		if err := os.Remove(path); err != nil {
			util.Warnf("audit: removing rotated journal %s: %v", path, err)
		}
	}
}

// Recorder journals every task an Orch applies. Journal write failures are
// logged and never fail the task.
type Recorder struct {
	Logger Logger
	Node   string
	Source string
}

var _ srv6.Recorder = (*Recorder)(nil)

// Record implements srv6.Recorder. Without a Logger it writes to the
// default journal, if one is set.
func (r *Recorder) Record(task srv6.Task, err error, elapsed time.Duration) {
	event := NewEvent(r.Node, task).
		WithSource(r.Source).
		WithResult(err).
		WithDuration(elapsed)
	var lerr error
	if r.Logger != nil {
		lerr = r.Logger.Log(event)
	} else {
		lerr = Log(event)
	}
	if lerr != nil {
		util.WithTable(task.Table, task.Key).Warnf("audit: writing journal: %v", lerr)
	}
}

// loggerHolder wraps a Logger so atomic.Value always stores the same concrete type.
type loggerHolder struct {
	logger Logger
}

var defaultLogger atomic.Value

// SetDefaultLogger sets the default journal
func SetDefaultLogger(logger Logger) {
	defaultLogger.Store(loggerHolder{logger: logger})
}

func getDefaultLogger() Logger {
	v := defaultLogger.Load()
	if v == nil {
		return nil
	}
	return v.(loggerHolder).logger
}

// Log logs an event using the default journal
func Log(event *Event) error {
	l := getDefaultLogger()
	if l == nil {
		return nil
	}
	return l.Log(event)
}

// Query queries events from the default journal
func Query(filter Filter) ([]*Event, error) {
	l := getDefaultLogger()
	if l == nil {
		return []*Event{}, nil
	}
	return l.Query(filter)
}
