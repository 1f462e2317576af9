// Package client implements the per-peer state and connection table the
// event loop owns (spec §4.4). Grounded on the teacher's Client/connection
// pool (internal/shared/connection.go), but reduced to the unsynchronized
// case: the event loop is this table's sole owner (spec §5 "no locking
// required server-side"), so none of the teacher's sync.Pool, atomic
// counters, or copy-on-write subscription index are needed.
package client

// Client is one connected peer's state (spec §3 "Client").
type Client struct {
	ID uint64 // Stable identity, independent of fd reuse across accepts.
	FD int

	PeerUID uint32
	PeerPID int32

	Label    string
	HasLabel bool // false for a direct (in-process) client; disables access checks.

	ReadBuf    []byte
	WriteQueue [][]byte

	// Subscriptions is allocated empty by NewClient; nothing in this
	// repository adds NOTIFY msgids to it or reads it. Eviction retracts a
	// client's subscriptions through Table.Remove's onRetract callback, which
	// the notifier resolves by client ID (spec §4.4, §5 "Cancellation").
	Subscriptions map[uint64]struct{}
}

// NewClient builds a fresh Client for an accepted fd.
func NewClient(id uint64, fd int, peerUID uint32, peerPID int32, label string, hasLabel bool) *Client {
	return &Client{
		ID:            id,
		FD:            fd,
		PeerUID:       peerUID,
		PeerPID:       peerPID,
		Label:         label,
		HasLabel:      hasLabel,
		Subscriptions: make(map[uint64]struct{}),
	}
}

// QueueWrite appends an encoded frame to the client's write queue (spec
// §4.4 "write_queue"). The event loop flushes it on write-readiness.
func (c *Client) QueueWrite(frame []byte) {
	c.WriteQueue = append(c.WriteQueue, frame)
}

// Table provides O(1) lookup by fd for the event loop (spec §4.4).
type Table struct {
	byFD   map[int]*Client
	nextID uint64
}

func NewTable() *Table {
	return &Table{byFD: make(map[int]*Client)}
}

// Add registers a newly accepted client and assigns it a stable ID.
func (t *Table) Add(fd int, peerUID uint32, peerPID int32, label string, hasLabel bool) *Client {
	t.nextID++
	c := NewClient(t.nextID, fd, peerUID, peerPID, label, hasLabel)
	t.byFD[fd] = c
	return c
}

// Get returns the client for fd, if connected.
func (t *Table) Get(fd int) (*Client, bool) {
	c, ok := t.byFD[fd]
	return c, ok
}

// Remove evicts a client (spec §4.4 "destroyed on EOF, write error, or
// server shutdown"). onRetract is called with the client's ID so the caller
// can retract its subscriptions from the notifier before the entry is gone.
func (t *Table) Remove(fd int, onRetract func(clientID uint64)) {
	c, ok := t.byFD[fd]
	if !ok {
		return
	}
	if onRetract != nil {
		onRetract(c.ID)
	}
	delete(t.byFD, fd)
}

// Len returns the number of currently connected clients.
func (t *Table) Len() int {
	return len(t.byFD)
}

// Range calls f for every connected client; f returning false stops iteration.
func (t *Table) Range(f func(*Client) bool) {
	for _, c := range t.byFD {
		if !f(c) {
			return
		}
	}
}

// LabelByID looks up a client's label by ID, for wiring into
// notify.SubjectLabel via the resolver's SetSubjectLabel.
func (t *Table) LabelByID(id uint64) (string, bool) {
	c, ok := t.ByID(id)
	if !ok {
		return "", false
	}
	return c.Label, c.HasLabel
}

// ByID finds a client by its stable ID, used by the event loop to address a
// CHANGED delivery (notify.Delivery.ClientID) back to a live fd.
func (t *Table) ByID(id uint64) (*Client, bool) {
	for _, c := range t.byFD {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}
