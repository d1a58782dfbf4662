// Package gating decides when and how gated features are introduced and unlocked.
package gating

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/adaptly/pkg/models"
)

// gateFile is the on-disk layout of a gate definitions file.
type gateFile struct {
	Gates []models.ContentGate `yaml:"gates"`
}

// Registry is the immutable set of gate definitions plus their analytics counters.
// It is built once at startup and shared read-only.
type Registry struct {
	gates    map[string]*models.ContentGate
	counters map[string]*Counters
	order    []string
}

// LoadFile reads and validates gate definitions from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gates %q: %w", path, err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("gates %q: %w", path, err)
	}
	return reg, nil
}

// Parse decodes YAML gate definitions. Unknown fields are rejected.
func Parse(data []byte) (*Registry, error) {
	var file gateFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode gates: %v", models.ErrInvalidConfig, err)
	}
	return NewRegistry(file.Gates)
}

// NewRegistry validates gates and builds a registry.
func NewRegistry(gates []models.ContentGate) (*Registry, error) {
	r := &Registry{
		gates:    make(map[string]*models.ContentGate, len(gates)),
		counters: make(map[string]*Counters, len(gates)),
		order:    make([]string, 0, len(gates)),
	}

	for i := range gates {
		g := gates[i]
		g.ID = strings.TrimSpace(g.ID)
		if g.ID == "" {
			return nil, fmt.Errorf("%w: gate %d has no id", models.ErrInvalidConfig, i)
		}
		if _, dup := r.gates[g.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate gate id %q", models.ErrInvalidConfig, g.ID)
		}
		if err := validateGate(&g); err != nil {
			return nil, fmt.Errorf("%w: gate %q: %v", models.ErrInvalidConfig, g.ID, err)
		}
		if g.Name == "" {
			g.Name = g.ID
		}
		r.gates[g.ID] = &g
		r.counters[g.ID] = newCounters()
		r.order = append(r.order, g.ID)
	}

	for _, id := range r.order {
		for _, dep := range r.gates[id].Conditions.Dependencies {
			if _, ok := r.gates[dep]; !ok {
				return nil, fmt.Errorf("%w: gate %q depends on unknown gate %q", models.ErrInvalidConfig, id, dep)
			}
		}
	}
	if cycle := r.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: dependency cycle %s", models.ErrInvalidConfig, strings.Join(cycle, " -> "))
	}

	sort.Strings(r.order)
	return r, nil
}

func validateGate(g *models.ContentGate) error {
	switch g.Type {
	case models.GateTypeFeature, models.GateTypeContent, models.GateTypeTool, models.GateTypeCommunity:
	case "":
		g.Type = models.GateTypeFeature
	default:
		return fmt.Errorf("unknown type %q", g.Type)
	}
	if err := g.Introduction.Validate(); err != nil {
		return err
	}

	c := g.Conditions
	if !c.MinSkill.Valid() {
		return fmt.Errorf("invalid min_skill %d", int(c.MinSkill))
	}
	if c.MinSessions < 0 {
		return fmt.Errorf("negative min_sessions %d", c.MinSessions)
	}
	if c.MinAge < 0 || c.MaxAge < 0 {
		return fmt.Errorf("negative age bound")
	}
	if c.MinAge > 0 && c.MaxAge > 0 && c.MinAge > c.MaxAge {
		return fmt.Errorf("min_age %d exceeds max_age %d", c.MinAge, c.MaxAge)
	}
	if w := c.Window; w != nil && !w.Start.IsZero() && !w.End.IsZero() && !w.Start.Before(w.End) {
		return fmt.Errorf("window start %s not before end %s", w.Start, w.End)
	}
	if slices.Contains(c.Dependencies, g.ID) {
		return fmt.Errorf("depends on itself")
	}
	return nil
}

// findCycle returns one dependency cycle, or nil when the graph is acyclic.
func (r *Registry) findCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.gates))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		path = append(path, id)
		for _, dep := range r.gates[id].Conditions.Dependencies {
			switch state[dep] {
			case visiting:
				start := slices.Index(path, dep)
				return append(slices.Clone(path[start:]), dep)
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	ids := slices.Clone(r.order)
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// Get returns the gate definition for id.
func (r *Registry) Get(id string) (*models.ContentGate, error) {
	g, ok := r.gates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownGate, id)
	}
	return g, nil
}

// List returns every gate sorted by id.
func (r *Registry) List() []*models.ContentGate {
	out := make([]*models.ContentGate, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.gates[id])
	}
	return out
}

// Len returns the number of gates.
func (r *Registry) Len() int {
	return len(r.order)
}

// Counters returns the analytics counters for a gate, or nil for an unknown id.
func (r *Registry) Counters(id string) *Counters {
	return r.counters[id]
}

// Stats snapshots every gate's counters keyed by gate id.
func (r *Registry) Stats() map[string]CounterSnapshot {
	out := make(map[string]CounterSnapshot, len(r.counters))
	for id, c := range r.counters {
		out[id] = c.Snapshot()
	}
	return out
}
