package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// FileRepository persists one JSON document per execution under
// {baseDir}/executions/{execution_id}.json. Writes happen on terminal
// transitions only; in-flight state lives in the cache.
type FileRepository struct {
	dir string
	mu  sync.Mutex // serializes directory-level operations
}

// NewFileRepository creates the executions directory when missing.
func NewFileRepository(baseDir string) (*FileRepository, error) {
	dir := filepath.Join(baseDir, "executions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create executions dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(id ids.ExecutionID) string {
	return filepath.Join(r.dir, string(id)+".json")
}

func (r *FileRepository) Create(ctx context.Context, s *execution.State) error {
	return r.Save(ctx, s)
}

func (r *FileRepository) Get(_ context.Context, id ids.ExecutionID) (*execution.State, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: read %s: %w", id, err)
	}
	var s execution.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", id, err)
	}
	return &s, nil
}

func (r *FileRepository) List(ctx context.Context, filter execution.Filter) ([]*execution.State, error) {
	r.mu.Lock()
	entries, err := os.ReadDir(r.dir)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("state: list executions: %w", err)
	}

	var out []*execution.State
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := ids.ExecutionID(strings.TrimSuffix(entry.Name(), ".json"))
		s, err := r.Get(ctx, id)
		if err != nil {
			continue // partially written or foreign file
		}
		if matches(s, filter) {
			out = append(out, s)
		}
	}
	sortByStartedAt(out)
	return paginate(out, filter), nil
}

// Save writes atomically: temp file then rename.
func (r *FileRepository) Save(_ context.Context, s *execution.State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", s.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp := r.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp, r.path(s.ID)); err != nil {
		return fmt.Errorf("state: commit %s: %w", s.ID, err)
	}
	return nil
}

func (r *FileRepository) Delete(_ context.Context, id ids.ExecutionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("state: delete %s: %w", id, err)
	}
	return nil
}

func (r *FileRepository) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := r.List(ctx, execution.Filter{})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range all {
		if s.Status.Terminal() && s.EndedAt != nil && s.EndedAt.Before(cutoff) {
			if err := r.Delete(ctx, s.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
