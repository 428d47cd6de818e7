package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	"github.com/gluk-w/pingmatrix/internal/metrics"
	"github.com/gluk-w/pingmatrix/internal/model"
)

const (
	// defaultConnectTimeout bounds TCP dial plus SSH handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultPort is the management SSH port on the mesh routers.
	defaultPort = 222
)

// keepaliveTimeout bounds the liveness check on a cached session.
var keepaliveTimeout = 5 * time.Second

// ConnectError is returned when the TCP connect or SSH handshake to a
// router fails. Nothing is cached, so the next Acquire starts over.
type ConnectError struct {
	Host model.HostID
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ssh connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Options configures a SessionCache.
type Options struct {
	User            string
	Port            int
	Signer          ssh.Signer
	Timeout         time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

// SessionCache holds at most one live SSH client per router. It is safe for
// concurrent use: Acquire calls for different hosts proceed independently
// and concurrent calls for the same host share a single connect.
type SessionCache struct {
	cfg     *ssh.ClientConfig
	port    int
	timeout time.Duration

	mu    sync.RWMutex
	conns map[model.HostID]*managedConn

	group   singleflight.Group
	backoff *connectBackoff
	states  *stateTracker
}

// managedConn wraps a cached client with when it was established.
type managedConn struct {
	client      *ssh.Client
	connectedAt time.Time
}

// NewSessionCache creates an empty cache. The signer is the fleet-wide
// identity; no per-host credentials are negotiated.
func NewSessionCache(opts Options) *SessionCache {
	if opts.Port == 0 {
		opts.Port = defaultPort
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultConnectTimeout
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	var auth []ssh.AuthMethod
	if opts.Signer != nil {
		auth = append(auth, ssh.PublicKeys(opts.Signer))
	}

	return &SessionCache{
		cfg: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            auth,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		port:    opts.Port,
		timeout: opts.Timeout,
		conns:   make(map[model.HostID]*managedConn),
		backoff: newConnectBackoff(),
		states:  newStateTracker(),
	}
}

// Acquire returns the cached client for host, connecting first if there is
// none or the cached one no longer answers keepalives.
func (c *SessionCache) Acquire(ctx context.Context, host model.HostID) (*ssh.Client, error) {
	if client, ok := c.lookup(host); ok {
		return client, nil
	}
	if err := c.backoff.Allow(host); err != nil {
		return nil, err
	}

	// The connect itself is detached from any single caller so that one
	// caller giving up does not fail the others waiting on the same flight.
	ch := c.group.DoChan(host, func() (any, error) {
		if client, ok := c.lookup(host); ok {
			return client, nil
		}
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.connect(connectCtx, host)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

// lookup returns a cached client that still answers keepalives. A dead
// client is dropped from the cache.
func (c *SessionCache) lookup(host model.HostID) (*ssh.Client, bool) {
	c.mu.RLock()
	mc, ok := c.conns[host]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	errCh := make(chan error, 1)
	go func() {
		_, _, err := mc.client.SendRequest("keepalive@openssh.com", true, nil)
		errCh <- err
	}()

	t := time.NewTimer(keepaliveTimeout)
	defer t.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			c.drop(host, mc.client, fmt.Sprintf("keepalive failed: %v", err))
			return nil, false
		}
	case <-t.C:
		c.drop(host, mc.client, fmt.Sprintf("keepalive timed out after %s", keepaliveTimeout))
		return nil, false
	}
	return mc.client, true
}

func (c *SessionCache) connect(ctx context.Context, host model.HostID) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(c.port))
	c.states.setState(host, StateConnecting, "connecting to "+addr)

	dialer := net.Dialer{Timeout: c.timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, c.connectFailed(host, fmt.Errorf("dial %s: %w", addr, err))
	}

	// ssh.NewClientConn has no context; bound the handshake by deadline.
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, c.cfg)
	if err != nil {
		netConn.Close()
		return nil, c.connectFailed(host, fmt.Errorf("ssh handshake with %s: %w", addr, err))
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	if existing, ok := c.conns[host]; ok {
		existing.client.Close()
	}
	c.conns[host] = &managedConn{client: client, connectedAt: time.Now()}
	open := len(c.conns)
	c.mu.Unlock()

	metrics.SessionsOpen.Set(float64(open))
	c.backoff.RecordSuccess(host)
	c.states.setState(host, StateConnected, "connected to "+addr)
	log.Info().Str("host", host).Str("addr", addr).Msg("ssh connected")

	go func() {
		err := client.Wait()
		reason := "connection closed"
		if err != nil {
			reason = fmt.Sprintf("connection lost: %v", err)
		}
		c.drop(host, client, reason)
	}()

	return client, nil
}

func (c *SessionCache) connectFailed(host model.HostID, err error) error {
	c.backoff.RecordFailure(host)
	c.states.setState(host, StateFailed, err.Error())
	return &ConnectError{Host: host, Err: err}
}

// drop removes client from the cache if it is still the entry for host.
func (c *SessionCache) drop(host model.HostID, client *ssh.Client, reason string) {
	c.mu.Lock()
	mc, ok := c.conns[host]
	removed := ok && mc.client == client
	if removed {
		delete(c.conns, host)
	}
	open := len(c.conns)
	c.mu.Unlock()

	if !removed {
		return
	}
	client.Close()
	metrics.SessionsOpen.Set(float64(open))
	c.states.setState(host, StateDisconnected, reason)
	log.Debug().Str("host", host).Str("reason", reason).Msg("ssh session dropped")
}

// Invalidate closes and forgets the session for host so the next Acquire
// reconnects. It is a no-op when nothing is cached.
func (c *SessionCache) Invalidate(host model.HostID, reason string) {
	c.mu.RLock()
	mc, ok := c.conns[host]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.drop(host, mc.client, reason)
}

// CloseAll closes every cached session. Used during shutdown.
func (c *SessionCache) CloseAll() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[model.HostID]*managedConn)
	c.mu.Unlock()

	var errs []error
	for host, mc := range conns {
		if err := mc.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close ssh session for %s: %w", host, err))
		}
		c.states.setState(host, StateDisconnected, "shutdown")
	}
	metrics.SessionsOpen.Set(0)
	log.Info().Int("count", len(conns)).Msg("all ssh sessions closed")
	return errors.Join(errs...)
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// States returns the last known session state of every host seen so far.
func (c *SessionCache) States() map[model.HostID]StateInfo {
	return c.states.snapshot()
}
