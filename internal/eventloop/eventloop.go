// Package eventloop implements the single-threaded, readiness-driven core
// loop (spec §4.5): a listening UNIX stream socket, connected client
// sockets, and an optional rule-change descriptor, all multiplexed through
// one epoll instance.
//
// Grounded on the teacher's raw-syscall EpollServer
// (go-server/pkg/websocket/netpoll.go), generalized from net.Listener-backed
// TCP sockets to AF_UNIX and from syscall to golang.org/x/sys/unix, because
// (per spec §4.5 ADD) mixing Go's runtime netpoller with a hand-rolled
// readiness loop would fight the runtime for readiness notifications.
package eventloop

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/rs/zerolog"

	"buxton/internal/acl"
	"buxton/internal/client"
	"buxton/internal/dispatch"
	"buxton/internal/metrics"
	"buxton/internal/notify"
	"buxton/internal/rate"
	"buxton/internal/resolver"
	"buxton/internal/resources"
	"buxton/internal/wire"
)

// highPriority is the SO_PRIORITY value newly accepted fds are set to (spec
// §4.5 "Accept: ... set SO_PRIORITY to the high-priority level").
const highPriority = 6

// pollTimeoutMillis bounds each EpollWait call so Run notices ctx
// cancellation promptly even with no socket activity.
const pollTimeoutMillis = 250

const readBufSize = wire.MaxFrameSize

// Config bundles everything the loop needs beyond the resolver it dispatches
// requests to.
type Config struct {
	// SocketPath is used for the manual bind-and-listen acquisition path
	// (spec §4.5 "(ii)"). Ignored if an inherited listener fd is found.
	SocketPath string

	Guard       *resources.Guard
	Limiter     *rate.Limiter
	Metrics     *metrics.Metrics
	LabelSource acl.LabelSource
	Logger      zerolog.Logger

	// RuleChangeFD, when >= 0, is registered as the access-control
	// rule-change descriptor (spec §4.5 "(c)"); OnRuleChange is invoked
	// after draining its readiness data. Left unset (-1) when no MAC
	// backend with a reload signal is configured (spec.md scopes the
	// concrete MAC mechanism out as an external collaborator).
	RuleChangeFD int
	OnRuleChange func() error
}

// Loop owns the epoll fd, the listening socket, and the client table — the
// only server-side state in the daemon (spec §5 "the event loop... no
// locking required").
type Loop struct {
	cfg Config
	res *resolver.Resolver

	epfd         int
	listenFD     int
	ownsListener bool

	table  *client.Table
	events []unix.EpollEvent
}

// New builds a Loop. It acquires the listening socket via whichever of the
// two startup paths spec §4.5 describes applies, and registers it (and the
// optional rule-change descriptor) with a fresh epoll instance.
func New(cfg Config, res *resolver.Resolver) (*Loop, error) {
	if cfg.RuleChangeFD == 0 {
		cfg.RuleChangeFD = -1
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}

	listenFD, owns, err := acquireListener(cfg.SocketPath)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	l := &Loop{
		cfg:          cfg,
		res:          res,
		epfd:         epfd,
		listenFD:     listenFD,
		ownsListener: owns,
		table:        client.NewTable(),
		events:       make([]unix.EpollEvent, 128),
	}

	if err := l.register(listenFD, unix.EPOLLIN); err != nil {
		l.Close()
		return nil, err
	}
	if cfg.RuleChangeFD >= 0 {
		if err := l.register(cfg.RuleChangeFD, unix.EPOLLIN); err != nil {
			l.Close()
			return nil, err
		}
	}

	res.SetSubjectLabel(l.table.LabelByID)
	return l, nil
}

// acquireListener implements spec §4.5's two socket-acquisition paths: an
// inherited fd from a supervisor, or a manual unlink+bind+listen+chmod.
func acquireListener(path string) (fd int, owned bool, err error) {
	if inherited, ok := inheritedListenerFD(); ok {
		return inherited, false, nil
	}
	fd, err = bindUnixListener(path)
	return fd, true, err
}

// inheritedListenerFD follows the systemd socket-activation convention: a
// supervisor sets LISTEN_PID to this process and LISTEN_FDS to the count of
// fds handed over starting at fd 3.
func inheritedListenerFD() (int, bool) {
	pidStr := os.Getenv("LISTEN_PID")
	fdsStr := os.Getenv("LISTEN_FDS")
	if pidStr == "" || fdsStr == "" {
		return 0, false
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid != os.Getpid() {
		return 0, false
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil || n < 1 {
		return 0, false
	}
	return 3, true
}

// bindUnixListener performs the manual acquisition path (spec §4.5 "(ii)"):
// unlink any stale socket file, bind, listen, then chmod 0666 so any local
// peer may connect (access control happens at the label layer, not the
// filesystem).
func bindUnixListener(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("eventloop: socket: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		unix.Close(fd)
		return -1, fmt.Errorf("eventloop: unlink stale socket %s: %w", path, err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("eventloop: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("eventloop: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("eventloop: chmod %s: %w", path, err)
	}
	return fd, nil
}

func (l *Loop) register(fd int, events uint32) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (l *Loop) modify(fd int, events uint32) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (l *Loop) deregister(fd int) {
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Close releases the epoll fd, every connected client, and (if this Loop
// bound it) the listening socket.
func (l *Loop) Close() error {
	l.table.Range(func(c *client.Client) bool {
		unix.Close(c.FD)
		return true
	})
	if l.ownsListener {
		unix.Close(l.listenFD)
	}
	return unix.Close(l.epfd)
}

// Run drives the readiness loop until ctx is cancelled (spec §5 "server
// shutdown"). It closes nothing on return; client fds, the listener and the
// epoll fd stay open until the caller invokes Close.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(l.epfd, l.events, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("eventloop: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(l.events[i].Fd)
			ev := l.events[i].Events

			switch {
			case fd == l.listenFD:
				l.acceptReady()
			case fd == l.cfg.RuleChangeFD:
				l.ruleChangeReady()
			default:
				l.clientReady(fd, ev)
			}
		}
	}
}

// acceptReady drains every connection currently pending on the listen
// socket (spec §4.5 "Accept").
func (l *Loop) acceptReady() {
	for {
		fd, _, err := unix.Accept4(l.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err != unix.EAGAIN {
				l.cfg.Logger.Error().Err(err).Msg("accept failed")
			}
			return
		}
		l.admit(fd)
	}
}

// admit applies the resource guard, reads peer credentials and the initial
// label, and registers the new client for read readiness.
func (l *Loop) admit(fd int) {
	if l.cfg.Guard != nil {
		if ok, err := l.cfg.Guard.AllowAccept(); !ok {
			if err != nil {
				l.cfg.Logger.Warn().Err(err).Msg("resource guard check failed, rejecting accept")
			}
			unix.Close(fd)
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.ClientsEvicted.WithLabelValues("resource_guard").Inc()
			}
			return
		}
	}

	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, highPriority)

	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		l.cfg.Logger.Error().Err(err).Msg("getsockopt(SO_PEERCRED) failed")
		unix.Close(fd)
		return
	}

	label, labelErr := "", error(nil)
	if l.cfg.LabelSource != nil {
		label, labelErr = l.cfg.LabelSource.PeerLabel(fd)
	}
	hasLabel := labelErr == nil

	if err := l.register(fd, unix.EPOLLIN); err != nil {
		l.cfg.Logger.Error().Err(err).Msg("epoll_ctl(ADD) failed for new client")
		unix.Close(fd)
		return
	}

	l.table.Add(fd, ucred.Uid, ucred.Pid, label, hasLabel)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ClientsActive.Inc()
		l.cfg.Metrics.ClientsTotal.Inc()
	}
}

func (l *Loop) ruleChangeReady() {
	var buf [4096]byte
	for {
		n, err := unix.Read(l.cfg.RuleChangeFD, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	if l.cfg.OnRuleChange != nil {
		if err := l.cfg.OnRuleChange(); err != nil {
			l.cfg.Logger.Error().Err(err).Msg("rule reload failed")
		}
	}
}

func (l *Loop) clientReady(fd int, events uint32) {
	c, ok := l.table.Get(fd)
	if !ok {
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		l.evict(c, "hangup")
		return
	}
	if events&unix.EPOLLIN != 0 {
		if !l.readFrom(c) {
			return // client already evicted
		}
	}
	if events&unix.EPOLLOUT != 0 {
		if !l.flushWrites(c) {
			return
		}
	}
}

// readFrom appends newly readable bytes to c's buffer and dispatches every
// complete frame now available (spec §4.5 "Read"). It reports whether c is
// still connected.
func (l *Loop) readFrom(c *client.Client) bool {
	var buf [readBufSize]byte
	n, err := unix.Read(c.FD, buf[:])
	if n == 0 && err == nil {
		l.evict(c, "eof")
		return false
	}
	if err != nil {
		if err == unix.EAGAIN {
			return true
		}
		l.evict(c, "read_error")
		return false
	}

	c.ReadBuf = append(c.ReadBuf, buf[:n]...)

	frames, rest, err := drainFrames(c.ReadBuf)
	if err != nil {
		l.evict(c, "message_corrupt")
		return false
	}
	c.ReadBuf = rest

	for _, frame := range frames {
		if !l.dispatchFrame(c, frame) {
			return false
		}
	}
	return true
}

// drainFrames extracts every complete frame buffered so far, per spec §4.5
// "append ... until peek_size yields total_len, then until total_len bytes
// are buffered". It is a pure function so the buffering logic can be tested
// without a live socket.
func drainFrames(buf []byte) (frames [][]byte, rest []byte, err error) {
	for {
		total, ok, err := wire.PeekSize(buf)
		if err != nil {
			return frames, buf, err
		}
		if !ok || len(buf) < int(total) {
			return frames, buf, nil
		}
		frames = append(frames, buf[:total])
		buf = buf[total:]
	}
}

// dispatchFrame decodes and serves one request, queuing the STATUS reply and
// any fanned-out CHANGED deliveries. It reports whether c is still connected.
func (l *Loop) dispatchFrame(c *client.Client, frame []byte) bool {
	msgType, msgid, params, err := wire.Decode(frame)
	if err != nil {
		l.evict(c, "message_corrupt")
		return false
	}

	if l.cfg.Limiter != nil && !l.cfg.Limiter.Allow(c.FD) {
		return true // admission check only; drop the request, keep the connection
	}

	// Label is re-read on every inbound message (spec §4.4): the kernel may
	// have updated it since accept.
	if l.cfg.LabelSource != nil {
		if label, err := l.cfg.LabelSource.PeerLabel(c.FD); err == nil {
			c.Label, c.HasLabel = label, true
		} else {
			c.HasLabel = false
		}
	}

	caller := resolver.Caller{Label: c.Label, HasLabel: c.HasLabel, PeerUID: c.PeerUID}
	reply := dispatch.Handle(l.res, caller, c.ID, msgid, msgType, params)

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RequestsByStatus.WithLabelValues(msgType.String(), reply.Status.String()).Inc()
	}

	statusFrame, err := wire.Encode(wire.MsgStatus, msgid, reply.StatusParams)
	if err != nil {
		l.cfg.Logger.Error().Err(err).Msg("failed to encode STATUS reply")
		l.evict(c, "encode_error")
		return false
	}
	l.queueWrite(c, statusFrame)

	for _, d := range reply.Deliveries {
		l.deliverChanged(d)
	}
	return true
}

func (l *Loop) deliverChanged(d notify.Delivery) {
	target, ok := l.table.ByID(d.ClientID)
	if !ok {
		return // subscriber disconnected between NOTIFY and this mutation
	}
	params, err := dispatch.ChangedFrame(d)
	if err != nil {
		l.cfg.Logger.Error().Err(err).Msg("failed to encode CHANGED frame")
		return
	}
	frame, err := wire.Encode(wire.MsgChanged, d.Msgid, params)
	if err != nil {
		l.cfg.Logger.Error().Err(err).Msg("failed to encode CHANGED frame")
		return
	}
	l.queueWrite(target, frame)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.Notifications.Inc()
	}
}

func (l *Loop) queueWrite(c *client.Client, frame []byte) {
	c.QueueWrite(frame)
	if err := l.modify(c.FD, unix.EPOLLIN|unix.EPOLLOUT); err != nil {
		l.cfg.Logger.Error().Err(err).Msg("epoll_ctl(MOD) failed registering write interest")
	}
}

// flushWrites writes as much of c's queue as the socket accepts right now
// (spec §4.5 "Write: flush as much as possible; on EAGAIN stop"). It reports
// whether c is still connected.
func (l *Loop) flushWrites(c *client.Client) bool {
	for len(c.WriteQueue) > 0 {
		front := c.WriteQueue[0]
		n, err := unix.Write(c.FD, front)
		if err != nil {
			if err == unix.EAGAIN {
				return true
			}
			l.evict(c, "write_error")
			return false
		}
		if n < len(front) {
			c.WriteQueue[0] = front[n:]
			return true
		}
		c.WriteQueue = c.WriteQueue[1:]
	}
	if err := l.modify(c.FD, unix.EPOLLIN); err != nil {
		l.cfg.Logger.Error().Err(err).Msg("epoll_ctl(MOD) failed clearing write interest")
	}
	return true
}

func (l *Loop) evict(c *client.Client, reason string) {
	l.deregister(c.FD)
	unix.Close(c.FD)
	if l.cfg.Limiter != nil {
		l.cfg.Limiter.Remove(c.FD)
	}
	l.table.Remove(c.FD, l.res.RetractClient)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ClientsActive.Dec()
		l.cfg.Metrics.ClientsEvicted.WithLabelValues(reason).Inc()
	}
}
