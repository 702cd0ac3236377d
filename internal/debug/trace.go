package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
)

// TraceLogger writes JSON-lines trace entries for codec debugging
type TraceLogger struct {
	mu       sync.Mutex
	out      io.Writer
	file     *os.File
	enabled  bool
	filename string
	entries  int
}

// NewTraceLogger creates a trace logger writing to a timestamped file in the
// temp directory. A disabled logger drops every entry.
func NewTraceLogger(enabled bool) (*TraceLogger, error) {
	if !enabled {
		return &TraceLogger{enabled: false}, nil
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(os.TempDir(), fmt.Sprintf("odata_codec_trace_%s.log", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	logger := &TraceLogger{
		out:      file,
		file:     file,
		enabled:  true,
		filename: filename,
	}

	logger.Log("TRACE", "Trace logging started", map[string]any{
		"filename": filename,
		"pid":      os.Getpid(),
		"time":     time.Now().Format(time.RFC3339),
	})

	return logger, nil
}

// NewTraceLoggerTo creates an enabled trace logger writing to w
func NewTraceLoggerTo(w io.Writer) *TraceLogger {
	return &TraceLogger{out: w, enabled: true}
}

// Enabled reports whether entries are written
func (t *TraceLogger) Enabled() bool {
	return t != nil && t.enabled && t.out != nil
}

// Log writes a trace entry
func (t *TraceLogger) Log(level, message string, data any) {
	if !t.Enabled() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries++
	entry := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"seq":       t.entries,
		"level":     level,
		"message":   message,
	}
	if data != nil {
		entry["data"] = data
	}

	jsonData, err := json.Marshal(entry, json.Deterministic(true))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[TRACE ERROR] Failed to marshal entry: %v\n", err)
		return
	}
	fmt.Fprintf(t.out, "%s\n", jsonData)
	if t.file != nil {
		t.file.Sync()
	}
}

// LogEvent logs one structural event passing through a reader or writer
func (t *TraceLogger) LogEvent(direction, state string, data map[string]any) {
	t.Log("EVENT", direction+" "+state, data)
}

// LogError logs an error with context
func (t *TraceLogger) LogError(context string, err error, data any) {
	t.Log("ERROR", context, map[string]any{
		"error": err.Error(),
		"data":  data,
	})
}

// Entries returns how many entries have been written
func (t *TraceLogger) Entries() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries
}

// GetFilename returns the trace filename
func (t *TraceLogger) GetFilename() string {
	return t.filename
}

// Close closes the trace file
func (t *TraceLogger) Close() error {
	if t.file != nil {
		t.Log("TRACE", "Trace logging stopped", nil)
		return t.file.Close()
	}
	return nil
}
