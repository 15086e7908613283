// Package file provides file-based persistence for funnels and enrollments.
// It is intended for development and tests; claims are serialized with an
// in-process mutex, so it must not be shared between worker processes.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
)

const dirPerm = 0o755

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   sync.Mutex
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) dir(kind string) string {
	return filepath.Join(p.root, kind)
}

func (p *Persistence) write(kind, id string, value any) error {
	dir := p.dir(kind)

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	err = os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

func (p *Persistence) read(kind, id string, value any) error {
	data, err := os.ReadFile(filepath.Join(p.dir(kind), id+".json"))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, value)
}

// readAll decodes every record of the given kind, calling visit per record.
func readAll[T any](p *Persistence, kind string, visit func(*T)) error {
	entries, err := os.ReadDir(p.dir(kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to read %s directory: %w", kind, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(p.dir(kind), entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s file %s: %w", kind, entry.Name(), err)
		}

		record := new(T)

		err = json.Unmarshal(data, record)
		if err != nil {
			return fmt.Errorf("failed to unmarshal %s file %s: %w", kind, entry.Name(), err)
		}

		visit(record)
	}

	return nil
}

// --- funnels ---

func (p *Persistence) SaveFunnel(_ context.Context, funnel *models.Funnel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if funnel.CreatedAt.IsZero() {
		funnel.CreatedAt = now
	}

	funnel.UpdatedAt = now

	return p.write("funnels", funnel.ID, funnel)
}

func (p *Persistence) FunnelByID(_ context.Context, id string) (*models.Funnel, error) {
	funnel := &models.Funnel{}

	err := p.read("funnels", id, funnel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &persistence.FunnelError{Op: "FunnelByID", FunnelID: id, Err: persistence.ErrFunnelNotFound}
		}

		return nil, &persistence.FunnelError{Op: "FunnelByID", FunnelID: id, Err: err}
	}

	return funnel, nil
}

func (p *Persistence) FunnelBySlug(ctx context.Context, slug string) (*models.Funnel, error) {
	var found *models.Funnel

	err := readAll(p, "funnels", func(funnel *models.Funnel) {
		if funnel.Slug == slug {
			found = funnel
		}
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, &persistence.FunnelError{Op: "FunnelBySlug", FunnelID: slug, Err: persistence.ErrFunnelNotFound}
	}

	return found, nil
}

func (p *Persistence) Funnels(_ context.Context) ([]*models.Funnel, error) {
	var funnels []*models.Funnel

	err := readAll(p, "funnels", func(funnel *models.Funnel) {
		funnels = append(funnels, funnel)
	})
	if err != nil {
		return nil, err
	}

	return funnels, nil
}

func (p *Persistence) DeleteFunnel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(filepath.Join(p.dir("funnels"), id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &persistence.FunnelError{Op: "DeleteFunnel", FunnelID: id, Err: persistence.ErrFunnelNotFound}
		}

		return &persistence.FunnelError{Op: "DeleteFunnel", FunnelID: id, Err: err}
	}

	return nil
}
