package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// AuditRecord is one control surface mutation.
type AuditRecord struct {
	At      string            `json:"at"`
	Actor   string            `json:"actor"`
	Action  string            `json:"action"`
	Details map[string]string `json:"details,omitempty"`
}

// AuditLog appends control surface mutations as JSON lines. The file is
// opened per append so external rotation never holds a stale handle.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog creates an audit log at path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Append writes one record with the given timestamp.
func (l *AuditLog) Append(at time.Time, actor, action string, details map[string]string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create audit log directory")
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "failed to open audit log")
	}
	defer f.Close()

	line, err := json.Marshal(AuditRecord{
		At:      at.UTC().Format(time.RFC3339),
		Actor:   actor,
		Action:  action,
		Details: details,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode audit record")
	}
	_, err = f.Write(append(line, '\n'))
	return errors.Wrap(err, "failed to write audit record")
}
