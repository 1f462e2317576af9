// Package layer holds the Layer, Key and Group types shared by the
// resolver, backend registry, and notifier (spec §3).
package layer

import "fmt"

// Kind is a layer's type, which governs the root-check and owning-uid rules.
type Kind int

const (
	System Kind = iota
	User
)

func (k Kind) String() string {
	if k == System {
		return "system"
	}
	return "user"
}

// Layer is a named, priority-ranked namespace bound to one backend (spec §3).
// Layers are loaded once at startup and are immutable thereafter; the
// resolver and registry only ever read them.
type Layer struct {
	Name        string
	Kind        Kind
	BackendID   string
	Priority    int
	Description string

	// Order is this layer's position in the configuration file, used as the
	// insertion-order tie-breaker for cross-layer resolution (spec invariant 6,
	// Design Notes "Layer map iteration order").
	Order int
}

// OwningUID resolves the effective uid to bind a user layer's storage
// identity to. System layers ignore the caller's uid entirely (spec §3).
func (l Layer) OwningUID(callerUID uint32) (uid uint32, applies bool) {
	if l.Kind != User {
		return 0, false
	}
	return callerUID, true
}

// Key is the (layer?, group, name?) triple from spec §3.
type Key struct {
	Layer    string
	HasLayer bool
	Group    string
	Name     string
	HasName  bool
}

// GroupKey builds a key denoting the group sentinel itself (no name).
func GroupKey(layer, group string) Key {
	return Key{Layer: layer, HasLayer: true, Group: group}
}

// ValueKey builds a key denoting a name inside a group.
func ValueKey(layer, group, name string) Key {
	return Key{Layer: layer, HasLayer: true, Group: group, Name: name, HasName: true}
}

// Validate checks the non-empty, no-embedded-NUL constraints spec §3 places
// on group and name, and that mutations (which require a layer) have one.
func (k Key) Validate(requireLayer bool) error {
	if requireLayer && !k.HasLayer {
		return fmt.Errorf("layer: key requires an explicit layer")
	}
	if k.Group == "" {
		return fmt.Errorf("layer: group must be non-empty")
	}
	if containsNUL(k.Group) {
		return fmt.Errorf("layer: group contains an embedded NUL")
	}
	if k.HasName {
		if k.Name == "" {
			return fmt.Errorf("layer: name must be non-empty when present")
		}
		if containsNUL(k.Name) {
			return fmt.Errorf("layer: name contains an embedded NUL")
		}
	}
	return nil
}

func containsNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}

// String renders the key the way log lines and error messages reference it.
func (k Key) String() string {
	layer := "*"
	if k.HasLayer {
		layer = k.Layer
	}
	if k.HasName {
		return fmt.Sprintf("(%s, %s, %s)", layer, k.Group, k.Name)
	}
	return fmt.Sprintf("(%s, %s, ⊥)", layer, k.Group)
}
