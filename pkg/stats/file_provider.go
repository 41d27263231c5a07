package stats

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fixtureFile is the on-disk layout read by LoadFile.
//
//	customers:
//	  cust-1:
//	    days_since_signup: 12
//	    profile_completed: true
type fixtureFile struct {
	Customers map[string]map[string]any `yaml:"customers"`
}

// LoadFile reads a YAML stats fixture into a MemoryProvider.
// Every snapshot is validated against the documented key set.
func LoadFile(path string) (*MemoryProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load stats %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a MemoryProvider from YAML fixture bytes.
func Parse(data []byte) (*MemoryProvider, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	p := NewMemoryProvider()
	for id, raw := range f.Customers {
		values := make(map[Key]any, len(raw))
		for k, v := range raw {
			values[Key(k)] = v
		}
		snap, err := NewSnapshot(values)
		if err != nil {
			return nil, fmt.Errorf("customer %q: %w", id, err)
		}
		p.Set(id, snap)
	}
	return p, nil
}

// Reload replaces every snapshot with the contents of the fixture at path.
// On error the current snapshots are kept.
func (p *MemoryProvider) Reload(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next, err := LoadFile(path)
	if err != nil {
		return err
	}
	next.mu.RLock()
	defer next.mu.RUnlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = next.snapshots
	return nil
}
