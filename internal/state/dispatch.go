// internal/state/dispatch.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/pilotsync/internal/types"
)

// DispatchLog is a JSONL-backed append-only log of dispatched steps.
// Records are stored per-canvas in canvases/<canvasID>/dispatches.jsonl.
type DispatchLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.CanvasID]*sync.Mutex
}

// NewDispatchLog creates a new file-backed DispatchLog rooted at the given directory.
func NewDispatchLog(root string) *DispatchLog {
	return &DispatchLog{
		root:  root,
		locks: make(map[types.CanvasID]*sync.Mutex),
	}
}

// getLock returns the per-canvas mutex, creating one if it doesn't exist.
func (l *DispatchLog) getLock(canvasID types.CanvasID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[canvasID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[canvasID] = lock
	return lock
}

func (l *DispatchLog) logPath(canvasID types.CanvasID) (string, error) {
	if err := canvasID.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(l.root, "canvases", string(canvasID), "dispatches.jsonl"), nil
}

// count reads the log file and counts lines. Caller must hold the canvas lock.
func (l *DispatchLog) count(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open dispatch log: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan dispatch log: %w", err)
	}
	return count, nil
}

// Append adds a record to the canvas's log with an auto-incremented sequence number.
func (l *DispatchLog) Append(_ context.Context, rec *types.DispatchRecord) error {
	path, err := l.logPath(rec.CanvasID)
	if err != nil {
		return err
	}

	lock := l.getLock(rec.CanvasID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create canvas dir: %w", err)
	}

	existing, err := l.count(path)
	if err != nil {
		return err
	}
	rec.Seq = existing + 1

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dispatch record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dispatch log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write dispatch record: %w", err)
	}
	return nil
}

// Tail returns the last N records for the given canvas. A limit <= 0 returns
// every record.
func (l *DispatchLog) Tail(_ context.Context, canvasID types.CanvasID, limit int) ([]*types.DispatchRecord, error) {
	path, err := l.logPath(canvasID)
	if err != nil {
		return nil, err
	}

	lock := l.getLock(canvasID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open dispatch log: %w", err)
	}
	defer f.Close()

	var records []*types.DispatchRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec types.DispatchRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal dispatch record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan dispatch log: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Count returns the number of records for the given canvas.
func (l *DispatchLog) Count(_ context.Context, canvasID types.CanvasID) (int64, error) {
	path, err := l.logPath(canvasID)
	if err != nil {
		return 0, err
	}

	lock := l.getLock(canvasID)
	lock.Lock()
	defer lock.Unlock()

	return l.count(path)
}
