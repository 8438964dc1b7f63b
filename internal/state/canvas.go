// internal/state/canvas.go
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/pilotsync/internal/types"
)

// CanvasStore is a JSON-file-backed node graph store.
// Nodes of each canvas are stored in canvases/<canvasID>/nodes.json.
type CanvasStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.CanvasID]*sync.Mutex
}

// NewCanvasStore creates a new file-backed CanvasStore rooted at the given directory.
func NewCanvasStore(root string) *CanvasStore {
	return &CanvasStore{
		root:  root,
		locks: make(map[types.CanvasID]*sync.Mutex),
	}
}

// getLock returns the per-canvas mutex, creating one if it doesn't exist.
func (s *CanvasStore) getLock(canvasID types.CanvasID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[canvasID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[canvasID] = lock
	return lock
}

func (s *CanvasStore) canvasesDir() string {
	return filepath.Join(s.root, "canvases")
}

func (s *CanvasStore) nodesPath(canvasID types.CanvasID) (string, error) {
	if err := canvasID.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(s.root, "canvases", string(canvasID), "nodes.json"), nil
}

// List returns the ids of all canvases that have a node file, sorted.
func (s *CanvasStore) List() ([]types.CanvasID, error) {
	entries, err := os.ReadDir(s.canvasesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []types.CanvasID{}, nil
		}
		return nil, fmt.Errorf("read canvases dir: %w", err)
	}

	ids := make([]types.CanvasID, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := types.CanvasID(entry.Name())
		path, err := s.nodesPath(id)
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Board returns the node graph of one canvas.
func (s *CanvasStore) Board(canvasID types.CanvasID) *Board {
	return &Board{store: s, canvasID: canvasID}
}

func (s *CanvasStore) loadNodes(canvasID types.CanvasID) ([]*types.CanvasNode, error) {
	path, err := s.nodesPath(canvasID)
	if err != nil {
		return nil, err
	}
	var nodes []*types.CanvasNode
	if _, err := readJSON(path, &nodes, "canvas nodes"); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Board is one canvas of a CanvasStore. It implements types.Canvas.
type Board struct {
	store    *CanvasStore
	canvasID types.CanvasID
}

// ID returns the canvas id.
func (b *Board) ID() types.CanvasID {
	return b.canvasID
}

// Nodes returns all nodes on the canvas in insertion order.
func (b *Board) Nodes(_ context.Context) ([]*types.CanvasNode, error) {
	lock := b.store.getLock(b.canvasID)
	lock.Lock()
	defer lock.Unlock()

	nodes, err := b.store.loadNodes(b.canvasID)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		return []*types.CanvasNode{}, nil
	}
	return nodes, nil
}

// AddNode appends a node to the canvas. A missing ID or CreatedAt is filled
// in. Adding a node whose ID already exists is an error.
func (b *Board) AddNode(_ context.Context, node *types.CanvasNode) error {
	if node == nil {
		return errors.New("node is nil")
	}

	lock := b.store.getLock(b.canvasID)
	lock.Lock()
	defer lock.Unlock()

	nodes, err := b.store.loadNodes(b.canvasID)
	if err != nil {
		return err
	}

	if node.ID == "" {
		node.ID = types.NewNodeID()
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	for _, existing := range nodes {
		if existing.ID == node.ID {
			return fmt.Errorf("node already exists: %s", node.ID)
		}
	}

	path, err := b.store.nodesPath(b.canvasID)
	if err != nil {
		return err
	}
	nodes = append(nodes, node)
	return writeJSON(path, nodes, "canvas nodes")
}
