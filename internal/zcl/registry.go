package zcl

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Registry holds the known cluster definitions and the server clusters
// each local endpoint implements.
type Registry struct {
	mu        sync.RWMutex
	clusters  map[uint16]*ClusterDef
	endpoints map[uint8][]uint16
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clusters:  make(map[uint16]*ClusterDef),
		endpoints: make(map[uint8][]uint16),
		logger:    logger,
	}
}

// Register adds a cluster definition. Registering an id twice merges the
// attributes and commands of the second definition into the first.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.merge(&c)
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", c.ID), "name", existing.Name)
		return
	}
	r.clusters[c.ID] = c.clone()
	r.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", c.ID), "name", c.Name)
}

// Get returns a copy of a cluster definition, or nil if not found.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.clone()
}

// All returns copies of all registered cluster definitions, ordered by id.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		result = append(result, *c.clone())
	}
	slices.SortFunc(result, func(a, b ClusterDef) int { return int(a.ID) - int(b.ID) })
	return result
}

// AddEndpoint declares the server clusters of a local endpoint. Cluster
// ids without a registered definition are accepted and logged.
func (r *Registry) AddEndpoint(ep uint8, servers []uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range servers {
		if _, ok := r.clusters[id]; !ok {
			r.logger.Warn("endpoint cluster has no definition", "endpoint", ep, "cluster", fmt.Sprintf("0x%04X", id))
		}
		if !slices.Contains(r.endpoints[ep], id) {
			r.endpoints[ep] = append(r.endpoints[ep], id)
		}
	}
}

// Endpoints returns the local endpoint ids in ascending order.
func (r *Registry) Endpoints() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eps := make([]uint8, 0, len(r.endpoints))
	for ep := range r.endpoints {
		eps = append(eps, ep)
	}
	slices.Sort(eps)
	return eps
}

// ServerClusters returns the server clusters of a local endpoint.
func (r *Registry) ServerClusters(ep uint8) []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.endpoints[ep])
}

// HasCluster reports whether any local endpoint implements the cluster
// as a server.
func (r *Registry) HasCluster(cluster uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ids := range r.endpoints {
		if slices.Contains(ids, cluster) {
			return true
		}
	}
	return false
}
