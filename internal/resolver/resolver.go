// Package resolver implements the layered resolution engine: get/set/unset/
// list/create-group/remove-group/set-label against the right layer, with
// group existence, label checks, and cross-layer priority ordering
// (spec §4.3).
package resolver

import (
	"sort"

	"buxton/internal/acl"
	"buxton/internal/backend"
	"buxton/internal/layer"
	"buxton/internal/notify"
	"buxton/internal/wire"
)

// BackendErrorRecorder records backend open/load failures for the debug
// metrics surface (spec §6 ADD "buxton_backend_load_errors_total"). A nil
// recorder simply skips the increment.
type BackendErrorRecorder interface {
	IncBackendLoadError(layer string)
}

// Caller is the resolver's view of the requesting peer: spec §3's Client,
// reduced to the fields access decisions need. A direct (in-process) caller
// has HasLabel=false, which disables every access check (spec §3).
type Caller struct {
	Label    string
	HasLabel bool
	PeerUID  uint32
}

// Result is the outcome of a resolver operation: a status code plus an
// optional payload (spec §4.3 "each producing a status code and optional
// payload"). Deliveries is populated by mutating operations and is the set
// of CHANGED frames the event loop must now send (spec §4.6).
type Result struct {
	Status     wire.Status
	Value      wire.Value
	HasValue   bool
	Label      string
	Names      []string
	Deliveries []notify.Delivery
}

func statusResult(s wire.Status) Result { return Result{Status: s} }

// Resolver holds the immutable layer set and the collaborators the resolver
// dispatches to (spec §9 "Global daemon state": inject a fresh one per test
// rather than relying on a process-wide singleton).
type Resolver struct {
	layers    []layer.Layer
	byName    map[string]layer.Layer
	registry  *backend.Registry
	checker   acl.Checker
	notifier  *notify.Notifier
	rootCheck bool // BUXTON_ROOT_CHECK: true unless explicitly disabled
	metrics   BackendErrorRecorder

	// subjectLabel resolves a subscriber's label for Publish's filtering; the
	// event loop wires its client table lookup in via SetSubjectLabel. Until
	// then every subscriber is treated as labelless (no filtering applied).
	subjectLabel notify.SubjectLabel
}

func noSubjectLabel(uint64) (string, bool) { return "", false }

// SetSubjectLabel wires the event loop's client-table label lookup into the
// notifier's per-delivery access check.
func (r *Resolver) SetSubjectLabel(f notify.SubjectLabel) {
	r.subjectLabel = f
}

// New builds a Resolver. rootCheck corresponds to spec invariant 4's default
// (enabled); pass false only when BUXTON_ROOT_CHECK=0 is set in the daemon
// environment. metrics may be nil (tests that don't care about the metrics
// surface).
func New(layers []layer.Layer, registry *backend.Registry, checker acl.Checker, notifier *notify.Notifier, rootCheck bool, metrics BackendErrorRecorder) *Resolver {
	byName := make(map[string]layer.Layer, len(layers))
	for _, l := range layers {
		byName[l.Name] = l
	}
	return &Resolver{
		layers:       layers,
		byName:       byName,
		registry:     registry,
		checker:      checker,
		notifier:     notifier,
		rootCheck:    rootCheck,
		metrics:      metrics,
		subjectLabel: noSubjectLabel,
	}
}

func (r *Resolver) backendFor(l layer.Layer, caller Caller) (backend.Backend, error) {
	b, err := r.registry.Handle(l, caller.PeerUID)
	if err != nil && r.metrics != nil {
		r.metrics.IncBackendLoadError(l.Name)
	}
	return b, err
}

// requireRoot enforces spec invariant 4: CREATE-GROUP/SET-LABEL/REMOVE-GROUP
// on a system layer requires peer_uid==0 unless BUXTON_ROOT_CHECK=0.
func (r *Resolver) requireRoot(l layer.Layer, caller Caller) bool {
	if l.Kind != layer.System {
		return true
	}
	if !r.rootCheck {
		return true
	}
	return caller.PeerUID == 0
}

// Get implements spec §4.3 "get": delegates to GetInLayer when key.layer is
// set, otherwise performs cross-layer resolution per invariant 6.
func (r *Resolver) Get(caller Caller, key layer.Key) Result {
	if key.HasLayer {
		return r.GetInLayer(caller, key)
	}

	candidates := make([]layer.Layer, len(r.layers))
	copy(candidates, r.layers)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Kind != b.Kind {
			return a.Kind == layer.System // system before user at any priority
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Order < b.Order
	})

	for _, l := range candidates {
		res := r.GetInLayer(caller, layer.ValueKey(l.Name, key.Group, key.Name))
		if res.Status == wire.StatusOK {
			return res
		}
	}
	return statusResult(wire.StatusNotFound)
}

// GetInLayer implements spec §4.3 "get_in_layer".
func (r *Resolver) GetInLayer(caller Caller, key layer.Key) Result {
	l, ok := r.byName[key.Layer]
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	b, err := r.backendFor(l, caller)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	// The group sentinel itself, or the owning group of a name lookup.
	groupRec, ok, err := b.Get(key.Group, "")
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	if caller.HasLabel && !r.checker.MayAccess(caller.Label, groupRec.Label, acl.Read) {
		return statusResult(wire.StatusEPerm)
	}

	if !key.HasName {
		return Result{Status: wire.StatusOK, Value: groupRec.Value, HasValue: true, Label: groupRec.Label}
	}

	rec, ok, err := b.Get(key.Group, key.Name)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	if caller.HasLabel && rec.Label != "" && !r.checker.MayAccess(caller.Label, rec.Label, acl.Read) {
		return statusResult(wire.StatusEPerm)
	}
	return Result{Status: wire.StatusOK, Value: rec.Value, HasValue: true, Label: rec.Label}
}

// Set implements spec §4.3 "set".
func (r *Resolver) Set(caller Caller, key layer.Key, value wire.Value) Result {
	l, ok := r.byName[key.Layer]
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	b, err := r.backendFor(l, caller)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	groupRec, ok, err := b.Get(key.Group, "")
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	if !ok {
		return statusResult(wire.StatusNotFound)
	}

	existing, exists, err := b.Get(key.Group, key.Name)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	// A client-supplied value.Label never seeds a new record: spec §4.3
	// mandates the new value adopt the caller's own label (or "_" for a
	// direct caller), not whatever the wire request happened to carry.
	label := wire.DefaultLabel
	if caller.HasLabel {
		label = caller.Label
		if !r.checker.MayAccess(caller.Label, groupRec.Label, acl.Write) {
			return statusResult(wire.StatusEPerm)
		}
		if exists {
			if !r.checker.MayAccess(caller.Label, existing.Label, acl.Write) {
				return statusResult(wire.StatusEPerm)
			}
			label = existing.Label // existing label sticks (spec invariant 3 / property 3)
		}
	} else if exists {
		label = existing.Label
	}

	rec := backend.Record{Value: value, Label: label}
	if err := b.Set(key.Group, key.Name, rec); err != nil {
		return statusResult(wire.StatusFailed)
	}

	deliveries := r.fanout(notify.Change{Layer: key.Layer, Group: key.Group, Name: key.Name, Value: value, Label: label})
	return Result{Status: wire.StatusOK, Deliveries: deliveries}
}

// Unset implements spec §4.3 "unset".
func (r *Resolver) Unset(caller Caller, key layer.Key) Result {
	l, ok := r.byName[key.Layer]
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	b, err := r.backendFor(l, caller)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	groupRec, ok, err := b.Get(key.Group, "")
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	if !ok {
		return statusResult(wire.StatusNotFound)
	}

	existing, exists, err := b.Get(key.Group, key.Name)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	if !exists {
		return statusResult(wire.StatusNotFound)
	}

	if caller.HasLabel {
		if !r.checker.MayAccess(caller.Label, groupRec.Label, acl.Write) {
			return statusResult(wire.StatusEPerm)
		}
		if !r.checker.MayAccess(caller.Label, existing.Label, acl.Write) {
			return statusResult(wire.StatusEPerm)
		}
	}

	if err := b.Unset(key.Group, key.Name); err != nil {
		return statusResult(wire.StatusFailed)
	}

	deliveries := r.fanout(notify.Change{Layer: key.Layer, Group: key.Group, Name: key.Name, Unset: true})
	return Result{Status: wire.StatusOK, Deliveries: deliveries}
}

// CreateGroup implements spec §4.3 "create-group".
func (r *Resolver) CreateGroup(caller Caller, key layer.Key, label string) Result {
	l, ok := r.byName[key.Layer]
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	if !r.requireRoot(l, caller) {
		return statusResult(wire.StatusEPerm)
	}
	b, err := r.backendFor(l, caller)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	if _, exists, err := b.Get(key.Group, ""); err != nil {
		return statusResult(wire.StatusFailed)
	} else if exists {
		return statusResult(wire.StatusEExist)
	}

	if label == "" {
		label = wire.DefaultLabel
	}
	rec := backend.Record{Value: wire.Value{Type: wire.TypeString, Str: wire.GroupValue}, Label: label}
	if err := b.Set(key.Group, "", rec); err != nil {
		return statusResult(wire.StatusFailed)
	}

	deliveries := r.fanout(notify.Change{Layer: key.Layer, Group: key.Group, Name: "", Value: rec.Value, Label: label})
	return Result{Status: wire.StatusOK, Deliveries: deliveries}
}

// RemoveGroup implements spec §4.3 "remove-group": enforces the root rule,
// then atomically removes the sentinel and every (L, G, *) (spec invariant
// 3), fanning out one CHANGED per removed key.
func (r *Resolver) RemoveGroup(caller Caller, key layer.Key) Result {
	l, ok := r.byName[key.Layer]
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	if !r.requireRoot(l, caller) {
		return statusResult(wire.StatusEPerm)
	}
	b, err := r.backendFor(l, caller)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	groupRec, exists, err := b.Get(key.Group, "")
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	if !exists {
		return statusResult(wire.StatusNotFound)
	}

	if l.Kind == layer.User && caller.HasLabel {
		if !r.checker.MayAccess(caller.Label, groupRec.Label, acl.Write) {
			return statusResult(wire.StatusEPerm)
		}
	}

	names, err := b.List(key.Group)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	var deliveries []notify.Delivery
	for _, name := range names {
		if err := b.Unset(key.Group, name); err != nil {
			return statusResult(wire.StatusFailed)
		}
		deliveries = append(deliveries, r.fanout(notify.Change{Layer: key.Layer, Group: key.Group, Name: name, Unset: true})...)
	}
	if err := b.Unset(key.Group, ""); err != nil {
		return statusResult(wire.StatusFailed)
	}
	deliveries = append(deliveries, r.fanout(notify.Change{Layer: key.Layer, Group: key.Group, Name: "", Unset: true})...)

	return Result{Status: wire.StatusOK, Deliveries: deliveries}
}

// SetLabel implements spec §4.3 "set-label": system layers only, root-gated.
func (r *Resolver) SetLabel(caller Caller, key layer.Key, label string) Result {
	l, ok := r.byName[key.Layer]
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	if l.Kind != layer.System {
		return statusResult(wire.StatusEPerm)
	}
	if !r.requireRoot(l, caller) {
		return statusResult(wire.StatusEPerm)
	}
	b, err := r.backendFor(l, caller)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}

	name := ""
	if key.HasName {
		name = key.Name
	}
	rec, exists, err := b.Get(key.Group, name)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	if !exists {
		return statusResult(wire.StatusNotFound)
	}

	rec.Label = label
	if err := b.Set(key.Group, name, rec); err != nil {
		return statusResult(wire.StatusFailed)
	}
	deliveries := r.fanout(notify.Change{Layer: key.Layer, Group: key.Group, Name: name, Value: rec.Value, Label: label})
	return Result{Status: wire.StatusOK, Deliveries: deliveries}
}

// List implements spec §4.3 "list": no per-key access check, the surface is
// already restricted to this layer.
func (r *Resolver) List(caller Caller, layerName, group string) Result {
	l, ok := r.byName[layerName]
	if !ok {
		return statusResult(wire.StatusNotFound)
	}
	b, err := r.backendFor(l, caller)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	names, err := b.List(group)
	if err != nil {
		return statusResult(wire.StatusFailed)
	}
	return Result{Status: wire.StatusOK, Names: names}
}

// Notify registers a subscription (spec §4.6 "NOTIFY protocol").
func (r *Resolver) Notify(group, name string, sub notify.Subscription) {
	r.notifier.Notify(group, name, sub)
}

// Unnotify removes a subscription by its originating msgid.
func (r *Resolver) Unnotify(clientID, msgid uint64) bool {
	return r.notifier.Unnotify(clientID, msgid)
}

// RetractClient removes every subscription owned by clientID.
func (r *Resolver) RetractClient(clientID uint64) {
	r.notifier.RetractClient(clientID)
}

func (r *Resolver) fanout(c notify.Change) []notify.Delivery {
	return r.notifier.Publish(c, r.subjectLabel)
}
