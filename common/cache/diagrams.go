package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/ids"
	"github.com/dipeo/dipeo/common/logger"
)

// Entry is one stored diagram: the uploaded source document plus its
// compiled executable form.
type Entry struct {
	ID         ids.DiagramID
	FormatName string
	Source     []byte
	Executable *compile.ExecutableDiagram
	StoredAt   time.Time
}

// Diagrams is the in-process store of uploaded diagrams. Uploads compile
// once; executions reuse the executable without re-validating.
type Diagrams struct {
	mu      sync.RWMutex
	entries map[ids.DiagramID]*Entry
	log     *logger.Logger
}

// NewDiagrams creates an empty diagram store.
func NewDiagrams(log *logger.Logger) *Diagrams {
	if log == nil {
		log = logger.Discard()
	}
	return &Diagrams{
		entries: make(map[ids.DiagramID]*Entry),
		log:     log,
	}
}

// Put stores a diagram, replacing any previous version under the same ID.
func (d *Diagrams) Put(entry *Entry) {
	d.mu.Lock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	d.entries[entry.ID] = entry
	d.mu.Unlock()
	d.log.Debug("diagram stored", "diagram_id", entry.ID, "format", entry.FormatName)
}

// Get looks up a stored diagram.
func (d *Diagrams) Get(id ids.DiagramID) (*Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[id]
	return entry, ok
}

// Delete removes a stored diagram.
func (d *Diagrams) Delete(id ids.DiagramID) {
	d.mu.Lock()
	delete(d.entries, id)
	d.mu.Unlock()
}

// List returns every stored diagram, newest first.
func (d *Diagrams) List() []*Entry {
	d.mu.RLock()
	out := make([]*Entry, 0, len(d.entries))
	for _, entry := range d.entries {
		out = append(out, entry)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StoredAt.Equal(out[j].StoredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StoredAt.After(out[j].StoredAt)
	})
	return out
}

// Len reports the number of stored diagrams.
func (d *Diagrams) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
