package zcl

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds cluster definitions used to name decoded frames.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clusters: make(map[uint16]*ClusterDef),
		logger:   logger.With("component", "zcl"),
	}
}

// NewStandardRegistry creates a registry preloaded with the common
// Home Automation and Light Link clusters.
func NewStandardRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	for _, c := range standardClusters {
		r.Register(c)
	}
	return r
}

// Register adds c, merging into an existing definition with the same id.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.merge(&c)
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", c.ID), "name", existing.Name)
		return
	}
	r.clusters[c.ID] = c.clone()
}

// LoadFile merges cluster definitions from a YAML list of clusters.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("zcl: read %s: %w", path, err)
	}
	var defs []ClusterDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("zcl: parse %s: %w", path, err)
	}
	for _, d := range defs {
		r.Register(d)
	}
	r.logger.Info("cluster definitions loaded", "path", path, "count", len(defs))
	return nil
}

// Get returns a copy of the cluster definition, or nil.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.clone()
}

// All returns copies of every definition ordered by cluster id.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		out = append(out, *c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClusterName names a cluster, falling back to its hex id.
func (r *Registry) ClusterName(id uint16) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clusters[id]; ok {
		return c.Name
	}
	return fmt.Sprintf("Cluster(0x%04X)", id)
}

// CommandName names the command described by h on cluster.
func (r *Registry) CommandName(cluster uint16, h Header) string {
	if h.FrameType == FrameGlobal {
		return GlobalCommandName(h.Command)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clusters[cluster]; ok {
		if cmd := c.FindCommand(h.Command, h.Direction); cmd != nil {
			return cmd.Name
		}
	}
	return fmt.Sprintf("Command(0x%02X)", h.Command)
}

// AttributeName names an attribute of cluster.
func (r *Registry) AttributeName(cluster, id uint16) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clusters[cluster]; ok {
		if a := c.FindAttribute(id); a != nil {
			return a.Name
		}
	}
	return fmt.Sprintf("Attribute(0x%04X)", id)
}
