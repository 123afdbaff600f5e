package parcels

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EmpoweredVote/GIS-Backend/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrLayerNotFound = errors.New("layer not found")

// Archive persists layers outside the process. The in-memory catalogue stays
// authoritative; archive failures are logged and do not fail the caller.
type Archive interface {
	Save(ctx context.Context, l *Layer) error
	Delete(ctx context.Context, id uuid.UUID) error
	Load(ctx context.Context) ([]*Layer, error)
}

// Catalogue is the ordered set of loaded layers.
type Catalogue struct {
	mu      sync.RWMutex
	layers  []*Layer
	version uint64
	epoch   uuid.UUID
	archive Archive
}

// NewCatalogue returns an empty catalogue. archive may be nil.
func NewCatalogue(archive Archive) *Catalogue {
	return &Catalogue{archive: archive, epoch: uuid.New()}
}

// Epoch identifies this catalogue instance. Versions restart with every
// catalogue, so anything shared between processes keys on epoch and version
// together.
func (c *Catalogue) Epoch() uuid.UUID {
	return c.epoch
}

// Hydrate loads every archived layer. It is a no-op without an archive.
func (c *Catalogue) Hydrate(ctx context.Context) (int, error) {
	if c.archive == nil {
		return 0, nil
	}
	layers, err := c.archive.Load(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers = append(c.layers, layers...)
	c.version++
	return len(layers), nil
}

// Add appends layers in order.
func (c *Catalogue) Add(ctx context.Context, layers ...*Layer) {
	c.mu.Lock()
	c.layers = append(c.layers, layers...)
	c.version++
	c.mu.Unlock()

	for _, l := range layers {
		c.save(ctx, l)
	}
}

// Replace swaps the layer with the same id, keeping its position and
// creation time.
func (c *Catalogue) Replace(ctx context.Context, l *Layer) error {
	c.mu.Lock()
	idx := c.indexLocked(l.ID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrLayerNotFound
	}
	l.CreatedAt = c.layers[idx].CreatedAt
	l.UpdatedAt = time.Now().UTC()
	c.layers[idx] = l
	c.version++
	c.mu.Unlock()

	c.save(ctx, l)
	return nil
}

// Delete removes a layer.
func (c *Catalogue) Delete(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrLayerNotFound
	}
	c.layers = append(c.layers[:idx:idx], c.layers[idx+1:]...)
	c.version++
	c.mu.Unlock()

	if c.archive != nil {
		if err := c.archive.Delete(ctx, id); err != nil {
			logging.LogError("archive", "delete layer", err)
		}
	}
	return nil
}

// Get returns the layer with id.
func (c *Catalogue) Get(id uuid.UUID) (*Layer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.indexLocked(id)
	if idx < 0 {
		return nil, ErrLayerNotFound
	}
	return c.layers[idx], nil
}

// FindBySource returns the layers loaded from path.
func (c *Catalogue) FindBySource(path string) []*Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Layer
	for _, l := range c.layers {
		if l.SourcePath == path {
			out = append(out, l)
		}
	}
	return out
}

// Snapshot returns the current layers and the catalogue version they belong
// to. The slice is a copy; the layers themselves are shared and read-only.
func (c *Catalogue) Snapshot() ([]*Layer, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Layer, len(c.layers))
	copy(out, c.layers)
	return out, c.version
}

// List returns a summary per layer in upload order.
func (c *Catalogue) List() []Summary {
	layers, _ := c.Snapshot()
	out := make([]Summary, 0, len(layers))
	for _, l := range layers {
		out = append(out, l.Summary())
	}
	return out
}

func (c *Catalogue) indexLocked(id uuid.UUID) int {
	for i, l := range c.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (c *Catalogue) save(ctx context.Context, l *Layer) {
	if c.archive == nil {
		return
	}
	if err := c.archive.Save(ctx, l); err != nil {
		logging.L().Warn("archive save failed", zap.String("layer", l.ID.String()), zap.Error(err))
	}
}

// SyncSource swaps in freshly loaded layers for path. Existing layers from
// path are matched by position and keep their id and name; extra fresh layers
// are added and leftover old ones removed. It returns the resulting layers.
func (c *Catalogue) SyncSource(ctx context.Context, path string, fresh []*Layer) []*Layer {
	old := c.FindBySource(path)
	out := make([]*Layer, 0, len(fresh))
	var added []*Layer
	for i, l := range fresh {
		if i < len(old) {
			l.ID = old[i].ID
			l.Name = old[i].Name
			if err := c.Replace(ctx, l); err != nil {
				// Deleted concurrently; treat as new.
				added = append(added, l)
			}
		} else {
			added = append(added, l)
		}
		out = append(out, l)
	}
	if len(added) > 0 {
		c.Add(ctx, added...)
	}
	for i := len(fresh); i < len(old); i++ {
		_ = c.Delete(ctx, old[i].ID)
	}
	return out
}

// RemoveSource deletes every layer loaded from path and reports how many
// went.
func (c *Catalogue) RemoveSource(ctx context.Context, path string) int {
	n := 0
	for _, l := range c.FindBySource(path) {
		if c.Delete(ctx, l.ID) == nil {
			n++
		}
	}
	return n
}

// Stats returns the layer and feature counts.
func (c *Catalogue) Stats() (layers, features int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.layers {
		features += len(l.Collection.Features)
	}
	return len(c.layers), features
}
