// Package audit is an append-only JSONL sink for LLM calls and ingest
// requests, used best-effort: callers log and continue on a write failure
// rather than failing the request. The sink directory comes from the
// configured StoragePath.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileName is the JSONL file every entry is appended to, relative to the
// configured audit directory.
const FileName = "audit.jsonl"

// Entry is one audit record. Kind distinguishes the two shapes this
// package carries: "llm_call" (Model/Prompt/Response populated) and
// "ingest" (TenantID/Op/Detail populated).
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`

	TenantID string `json:"tenant_id,omitempty"`
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`

	Op     string `json:"op,omitempty"`
	Detail string `json:"detail,omitempty"`
	Err    string `json:"error,omitempty"`
}

var (
	mu  sync.Mutex
	dir string
)

// Init sets the directory entries are appended under. Must be called
// once at process start; Append is a no-op error until it is.
func Init(auditDir string) error {
	if err := os.MkdirAll(auditDir, 0o750); err != nil {
		return fmt.Errorf("audit: mkdir %s: %w", auditDir, err)
	}
	mu.Lock()
	dir = auditDir
	mu.Unlock()
	return nil
}

// Append writes e as one JSON line, assigning ID/Timestamp if unset, and
// returns the assigned id. Safe for concurrent use.
func Append(e *Entry) (string, error) {
	mu.Lock()
	d := dir
	mu.Unlock()
	if d == "" {
		return "", fmt.Errorf("audit: not initialized")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: marshal entry: %w", err)
	}
	b = append(b, '\n')

	mu.Lock()
	defer mu.Unlock()
	f, err := os.OpenFile(filepath.Join(d, FileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return "", fmt.Errorf("audit: write: %w", err)
	}
	return e.ID, nil
}
