// Package memory implements the in-process, map-backed backend.Backend kind
// named "memory" in spec §3/§6 — no persistence across restarts.
package memory

import (
	"buxton/internal/backend"
	"buxton/internal/layer"
)

type store struct {
	groups map[string]map[string]backend.Record
}

// Open constructs a memory backend for one layer identity. The uid and
// hasUID arguments are accepted to satisfy backend.Opener's signature; a
// memory store has no on-disk path to derive from them.
func Open(l layer.Layer, uid uint32, hasUID bool) (backend.Backend, error) {
	return &store{groups: make(map[string]map[string]backend.Record)}, nil
}

func (s *store) Get(group, name string) (backend.Record, bool, error) {
	g, ok := s.groups[group]
	if !ok {
		return backend.Record{}, false, nil
	}
	rec, ok := g[name]
	return rec, ok, nil
}

func (s *store) Set(group, name string, rec backend.Record) error {
	g, ok := s.groups[group]
	if !ok {
		g = make(map[string]backend.Record)
		s.groups[group] = g
	}
	g[name] = rec
	return nil
}

func (s *store) Unset(group, name string) error {
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	delete(g, name)
	if name == "" {
		delete(s.groups, group)
	}
	return nil
}

func (s *store) List(group string) ([]string, error) {
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(g))
	for name := range g {
		if name == "" {
			continue // group sentinel itself is not a listable name
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *store) Close() error { return nil }
