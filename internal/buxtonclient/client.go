// Package buxtonclient implements the client side of the Buxton protocol:
// dial the control socket, issue get/set/unset/list/create-group/
// remove-group/notify/unnotify requests, and receive asynchronous CHANGED
// deliveries (spec §5). There is no helper for SET-LABEL requests.
//
// The correlation table below is the one genuinely multi-threaded structure
// in this repository (spec §5 "a correlation table guarded by a mutex
// because application threads may dispatch alongside a reader thread
// draining the socket") — everywhere else, the server's single-threaded
// event loop is the sole state owner. Grounded on the promise/callback
// correlation idiom in the corpus's Kafka client
// (other_examples/1ba6c3e6_rkruze-franz-go__pkg-kgo-broker.go.go
// promisedReq/promisedResp), adapted from a channel-fed single connection
// to Buxton's msgid-keyed map, since Buxton correlates by msgid rather than
// strict per-connection FIFO order.
package buxtonclient

import (
	"fmt"
	"net"
	"sync"
	"time"

	"buxton/internal/wire"
)

// Timeout is the correlation table's sweep age (spec §5 "TIMEOUT = 3s").
const Timeout = 3 * time.Second

// Callback receives one reply for a request (a STATUS) or one delivery for
// a subscription (a CHANGED).
type Callback func(msgType wire.MsgType, params []wire.Param)

type pendingRequest struct {
	callback Callback
	created  time.Time
	isNotify bool
}

type subscription struct {
	callback Callback
}

// Client is one connection to the daemon's control socket.
type Client struct {
	conn net.Conn

	mu            sync.Mutex
	nextMsgid     uint64
	pending       map[uint64]*pendingRequest
	subscriptions map[uint64]*subscription

	done chan struct{}
}

// Dial connects to the daemon's UNIX control socket and starts the reader
// goroutine that drains replies and dispatches them to callbacks.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("buxtonclient: dial %s: %w", socketPath, err)
	}
	c := &Client{
		conn:          conn,
		pending:       make(map[uint64]*pendingRequest),
		subscriptions: make(map[uint64]*subscription),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the underlying connection and stops the reader goroutine.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// send encodes and writes a request frame, registering its correlation
// entry first so a reply racing the write is never missed.
func (c *Client) send(msgType wire.MsgType, params []wire.Param, isNotify bool, cb Callback) (uint64, error) {
	c.mu.Lock()
	c.sweepLocked()
	c.nextMsgid++
	msgid := c.nextMsgid
	c.pending[msgid] = &pendingRequest{callback: cb, created: time.Now(), isNotify: isNotify}
	c.mu.Unlock()

	frame, err := wire.Encode(msgType, msgid, params)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, msgid)
		c.mu.Unlock()
		return 0, err
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, msgid)
		c.mu.Unlock()
		return 0, fmt.Errorf("buxtonclient: write: %w", err)
	}
	return msgid, nil
}

// sweepLocked drops correlation records older than Timeout (spec §5 "On
// every send the correlator sweeps and drops records older than TIMEOUT").
// Must be called with c.mu held.
func (c *Client) sweepLocked() {
	now := time.Now()
	for id, p := range c.pending {
		if now.Sub(p.created) > Timeout {
			delete(c.pending, id)
		}
	}
}

// readLoop decodes frames off the wire and routes STATUS replies to their
// pending request, CHANGED deliveries to their subscription, migrating a
// NOTIFY's pending record into the subscription table on STATUS(OK) (spec
// §5 "NOTIFY records migrate ... upon STATUS(OK)").
func (c *Client) readLoop() {
	var buf []byte
	tmp := make([]byte, wire.MaxFrameSize)
	for {
		n, err := c.conn.Read(tmp)
		if err != nil {
			return
		}
		buf = append(buf, tmp[:n]...)

		for {
			total, ok, err := wire.PeekSize(buf)
			if err != nil {
				return
			}
			if !ok || len(buf) < int(total) {
				break
			}
			frame := buf[:total]
			buf = buf[total:]
			c.handleFrame(frame)
		}
	}
}

func (c *Client) handleFrame(frame []byte) {
	msgType, msgid, params, err := wire.Decode(frame)
	if err != nil {
		return
	}

	switch msgType {
	case wire.MsgStatus:
		c.handleStatus(msgid, params)
	case wire.MsgChanged:
		c.mu.Lock()
		sub, ok := c.subscriptions[msgid]
		c.mu.Unlock()
		if ok {
			sub.callback(msgType, params)
		}
	}
}

func (c *Client) handleStatus(msgid uint64, params []wire.Param) {
	c.mu.Lock()
	p, ok := c.pending[msgid]
	if ok {
		delete(c.pending, msgid)
		if p.isNotify && len(params) > 0 {
			if status, err := statusFromParam(params[0]); err == nil && status == wire.StatusOK {
				c.subscriptions[msgid] = &subscription{callback: p.callback}
			}
		}
	}
	c.mu.Unlock()
	if ok {
		p.callback(wire.MsgStatus, params)
	}
}

func statusFromParam(p wire.Param) (wire.Status, error) {
	v, err := p.ToValue()
	if err != nil {
		return 0, err
	}
	return wire.Status(v.I32), nil
}

// Get issues a synchronous GET (spec §4.3 "get"/"get_in_layer"). An empty
// layer requests cross-layer resolution.
func (c *Client) Get(layerName, group, name string) (wire.Status, wire.Value, error) {
	params := []wire.Param{wire.StringParam(layerName), wire.StringParam(group)}
	if name != "" {
		params = append(params, wire.StringParam(name))
	}
	reply, err := c.request(wire.MsgGet, params)
	if err != nil {
		return 0, wire.Value{}, err
	}
	status, err := statusFromParam(reply[0])
	if err != nil {
		return 0, wire.Value{}, err
	}
	if status != wire.StatusOK || len(reply) < 2 {
		return status, wire.Value{}, nil
	}
	value, err := reply[1].ToValue()
	return status, value, err
}

// Set issues a synchronous SET (spec §4.3 "set").
func (c *Client) Set(layerName, group, name string, value wire.Value) (wire.Status, error) {
	valueParam, err := wire.ValueParam(value)
	if err != nil {
		return 0, err
	}
	params := []wire.Param{wire.StringParam(layerName), wire.StringParam(group), wire.StringParam(name), valueParam}
	reply, err := c.request(wire.MsgSet, params)
	if err != nil {
		return 0, err
	}
	return statusFromParam(reply[0])
}

// Unset issues a synchronous UNSET (spec §4.3 "unset").
func (c *Client) Unset(layerName, group, name string) (wire.Status, error) {
	params := []wire.Param{wire.StringParam(layerName), wire.StringParam(group), wire.StringParam(name)}
	reply, err := c.request(wire.MsgUnset, params)
	if err != nil {
		return 0, err
	}
	return statusFromParam(reply[0])
}

// List issues a synchronous LIST (spec §4.3 "list").
func (c *Client) List(layerName, group string) (wire.Status, []string, error) {
	params := []wire.Param{wire.StringParam(layerName), wire.StringParam(group)}
	reply, err := c.request(wire.MsgList, params)
	if err != nil {
		return 0, nil, err
	}
	status, err := statusFromParam(reply[0])
	if err != nil {
		return 0, nil, err
	}
	names := make([]string, 0, len(reply)-1)
	for _, p := range reply[1:] {
		names = append(names, p.AsString())
	}
	return status, names, nil
}

// CreateGroup issues a synchronous CREATE-GROUP (spec §4.3 "create-group").
func (c *Client) CreateGroup(layerName, group, label string) (wire.Status, error) {
	params := []wire.Param{wire.StringParam(layerName), wire.StringParam(group)}
	if label != "" {
		params = append(params, wire.StringParam(label))
	}
	reply, err := c.request(wire.MsgCreateGroup, params)
	if err != nil {
		return 0, err
	}
	return statusFromParam(reply[0])
}

// RemoveGroup issues a synchronous REMOVE-GROUP (spec §4.3 "remove-group").
func (c *Client) RemoveGroup(layerName, group string) (wire.Status, error) {
	params := []wire.Param{wire.StringParam(layerName), wire.StringParam(group)}
	reply, err := c.request(wire.MsgRemoveGroup, params)
	if err != nil {
		return 0, err
	}
	return statusFromParam(reply[0])
}

// Notify registers an asynchronous subscription (spec §4.6 "NOTIFY
// protocol"). onChange is invoked once per CHANGED delivery; it returns the
// msgid needed to later call Unnotify.
func (c *Client) Notify(group, name string, onChange Callback) (uint64, error) {
	params := []wire.Param{wire.StringParam(group), wire.StringParam(name)}
	result := make(chan error, 1)
	msgid, err := c.send(wire.MsgNotify, params, true, func(msgType wire.MsgType, statusParams []wire.Param) {
		if msgType != wire.MsgStatus {
			onChange(msgType, statusParams)
			return
		}
		status, err := statusFromParam(statusParams[0])
		if err != nil || status != wire.StatusOK {
			result <- fmt.Errorf("buxtonclient: notify failed with status %v", status)
			return
		}
		result <- nil
	})
	if err != nil {
		return 0, err
	}
	select {
	case err := <-result:
		return msgid, err
	case <-time.After(Timeout):
		return msgid, fmt.Errorf("buxtonclient: notify timed out")
	}
}

// Unnotify cancels a subscription previously registered with Notify (spec
// §4.6 "On UNNOTIFY, reply STATUS(OK, msgid_to_remove)").
func (c *Client) Unnotify(notifyMsgid uint64) error {
	removed, err := wire.ValueParam(wire.Value{Type: wire.TypeUint64, U64: notifyMsgid})
	if err != nil {
		return err
	}
	reply, err := c.request(wire.MsgUnnotify, []wire.Param{removed})
	if err != nil {
		return err
	}
	status, err := statusFromParam(reply[0])
	if err != nil {
		return err
	}
	if status != wire.StatusOK {
		return fmt.Errorf("buxtonclient: unnotify failed with status %v", status)
	}
	c.mu.Lock()
	delete(c.subscriptions, notifyMsgid)
	c.mu.Unlock()
	return nil
}

// request is the synchronous request/reply helper every simple RPC above
// builds on: send, block for the matching STATUS, and return its params.
func (c *Client) request(msgType wire.MsgType, params []wire.Param) ([]wire.Param, error) {
	replyCh := make(chan []wire.Param, 1)
	_, err := c.send(msgType, params, false, func(_ wire.MsgType, statusParams []wire.Param) {
		replyCh <- statusParams
	})
	if err != nil {
		return nil, err
	}
	select {
	case reply := <-replyCh:
		if len(reply) == 0 {
			return nil, fmt.Errorf("buxtonclient: empty STATUS reply")
		}
		return reply, nil
	case <-time.After(Timeout):
		return nil, fmt.Errorf("buxtonclient: request timed out")
	}
}
