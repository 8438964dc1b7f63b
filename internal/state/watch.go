// internal/state/watch.go
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/pilotsync/internal/types"
)

// ErrWatchNotFound is returned when no watch exists for a canvas.
var ErrWatchNotFound = errors.New("watch not found")

// Watch binds a canvas to the pilot session shown on it. The daemon restores
// every watch on start.
type Watch struct {
	CanvasID  types.CanvasID  `json:"canvas_id"`
	SessionID types.SessionID `json:"session_id"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WatchStore is a JSON-file-backed store for watches, one per canvas.
type WatchStore struct {
	path string
	mu   sync.RWMutex
}

// NewWatchStore creates a new file-backed WatchStore at the given file path.
func NewWatchStore(path string) *WatchStore {
	return &WatchStore{path: path}
}

// Path returns the file path used by this store.
func (s *WatchStore) Path() string {
	return s.path
}

// List returns all watches. Returns an empty slice if the file doesn't exist.
func (s *WatchStore) List() ([]*Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watches, err := s.load()
	if err != nil {
		return nil, err
	}
	if watches == nil {
		return []*Watch{}, nil
	}
	return watches, nil
}

// Get finds the watch for a canvas.
func (s *WatchStore) Get(canvasID types.CanvasID) (*Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watches, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, w := range watches {
		if w.CanvasID == canvasID {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWatchNotFound, canvasID)
}

// Put creates the watch for a canvas or points the existing one at a new
// session.
func (s *WatchStore) Put(canvasID types.CanvasID, sessionID types.SessionID) error {
	if canvasID == "" {
		return errors.New("canvas id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, w := range watches {
		if w.CanvasID == canvasID {
			w.SessionID = sessionID
			w.UpdatedAt = now
			return s.save(watches)
		}
	}

	watches = append(watches, &Watch{CanvasID: canvasID, SessionID: sessionID, UpdatedAt: now})
	return s.save(watches)
}

// Remove deletes the watch for a canvas.
func (s *WatchStore) Remove(canvasID types.CanvasID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load()
	if err != nil {
		return err
	}

	for i, w := range watches {
		if w.CanvasID == canvasID {
			watches = append(watches[:i], watches[i+1:]...)
			return s.save(watches)
		}
	}
	return fmt.Errorf("%w: %s", ErrWatchNotFound, canvasID)
}

// load reads the JSON file and returns the watch list. Returns nil if the file doesn't exist.
func (s *WatchStore) load() ([]*Watch, error) {
	var watches []*Watch
	if _, err := readJSON(s.path, &watches, "watches"); err != nil {
		return nil, err
	}
	return watches, nil
}

func (s *WatchStore) save(watches []*Watch) error {
	return writeJSON(s.path, watches, "watches")
}
