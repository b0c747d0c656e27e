package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunLog appends one JSON object per line to a per-run event log file.
// Events carry a timestamp plus arbitrary key/value pairs; write failures are
// swallowed so that logging can never abort a run.
type RunLog struct {
	mu   sync.Mutex
	path string
}

// NewRunLog creates a run log writing to the given file path. The parent
// directory is created on first write.
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Path returns the log file path.
func (r *RunLog) Path() string {
	return r.path
}

// Event appends an event with the given name and fields.
func (r *RunLog) Event(name string, fields map[string]any) {
	if r == nil || r.path == "" {
		return
	}

	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}

	payload["event"] = name
	payload["ts"] = time.Now().UTC().Format(time.RFC3339)

	line, err := json.Marshal(payload)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintln(f, string(line))
}
