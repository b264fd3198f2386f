// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lsiv568/mongotap/pkg/breaker"
	"github.com/lsiv568/mongotap/pkg/buffer"
	perrors "github.com/lsiv568/mongotap/pkg/errors"
	"github.com/lsiv568/mongotap/pkg/filter"
	"github.com/lsiv568/mongotap/pkg/metrics"
	"github.com/lsiv568/mongotap/pkg/ratelimit"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

const defaultReadChunk = 32 * 1024

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the backend server address to proxy to (host:port)
	TargetAddress string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// DialTimeout bounds backend dial attempts.
	DialTimeout time.Duration

	// LowWatermark and HighWatermark bound the per-direction staging
	// buffer between socket read and socket write. Crossing the high
	// watermark pauses reads for the connection until the buffer
	// drains below the low watermark. A zero HighWatermark disables
	// flow control.
	LowWatermark  int
	HighWatermark int

	// Limiter, if set, rejects connections per client IP on the accept path.
	Limiter *ratelimit.Limiter

	// Breaker, if set, guards backend dials.
	Breaker *breaker.CircuitBreaker

	// Metrics, if set, records transport-level Prometheus metrics.
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// FilterFactory builds the traffic engine for one accepted connection.
// host delivers timer fires and read resumption back to that
// connection; the returned engine is owned by it exclusively.
type FilterFactory func(sessionID, remoteAddr string, host filter.Host) *filter.ProxyFilter

// Server accepts client connections, pipes them to a backend server,
// and runs every proxied byte past a per-connection filter engine.
type Server struct {
	config    Config
	newFilter FilterFactory
	wg        sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
}

// New creates a new TCP server with the given configuration and filter factory.
func New(cfg Config, newFilter FilterFactory) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &Server{
		config:    cfg,
		newFilter: newFilter,
	}
}

// Addr returns the bound listener address, or nil before Listen has
// bound it. Useful when Address was given with a ":0" port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Listen starts the TCP server and blocks until the context is cancelled.
// It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	s.config.Logger.Info("TCP server started",
		slog.String("address", s.config.Address),
		slog.String("target", s.config.TargetAddress))

	// Separate context for active connections so shutdown can force
	// close the stragglers after the drain timeout.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(connCtx, conn); err != nil && !errors.Is(err, io.EOF) {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	<-acceptDone

	// Wait for active connections to drain with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// handleConn processes a single client connection: rate limit check,
// backend dial through the circuit breaker, then a bidirectional pipe
// with the filter engine observing both directions.
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) error {
	defer inbound.Close()

	remoteAddr := inbound.RemoteAddr().String()

	if s.config.Limiter != nil {
		host, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			host = remoteAddr
		}
		if !s.config.Limiter.Allow(host) {
			if s.config.Metrics != nil {
				s.config.Metrics.RateLimited.Inc()
			}
			s.config.Logger.Warn("connection rate limited", slog.String("client", remoteAddr))
			return perrors.New("accept", "", remoteAddr, perrors.ErrRateLimited)
		}
	}

	if tlsConn, ok := inbound.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
	}

	outbound, err := s.dialBackend()
	if err != nil {
		if s.config.Metrics != nil {
			s.config.Metrics.BackendDialErrors.Inc()
		}
		return perrors.New("dial", "", remoteAddr,
			fmt.Errorf("%w %s: %w", perrors.ErrBackendUnavailable, s.config.TargetAddress, err))
	}
	defer outbound.Close()

	sessionID := uuid.New().String()
	sess := newSession(s.config, sessionID, inbound, outbound)
	sess.engine = s.newFilter(sessionID, remoteAddr, sess)

	s.config.Logger.Debug("connection established",
		slog.String("session", sessionID),
		slog.String("client", remoteAddr),
		slog.String("backend", s.config.TargetAddress))

	run := func() error { return sess.run(ctx) }
	if s.config.Metrics != nil {
		err = s.config.Metrics.ObserveConnection(run)
	} else {
		err = run()
	}

	s.config.Logger.Debug("connection closed", slog.String("session", sessionID))

	return err
}

func (s *Server) dialBackend() (net.Conn, error) {
	var outbound net.Conn
	dial := func() error {
		c, err := net.DialTimeout("tcp", s.config.TargetAddress, s.config.DialTimeout)
		if err != nil {
			return err
		}
		outbound = c
		return nil
	}

	if s.config.Breaker == nil {
		return outbound, dial()
	}
	if err := s.config.Breaker.Call(dial); err != nil {
		return nil, err
	}
	return outbound, nil
}

// session owns one proxied connection pair and the engine observing
// it. All engine entry points, including timer fires, are serialized
// under engineMu.
type session struct {
	cfg      Config
	id       string
	inbound  net.Conn
	outbound net.Conn
	engine   *filter.ProxyFilter

	engineMu sync.Mutex

	// Read gate. faultPaused is raised when the engine returns Pause
	// and cleared by ResumeReads; flowPaused counts staging buffers
	// above their high watermark. Both pumps stop reading while
	// either is set.
	gateMu      sync.Mutex
	gateCond    *sync.Cond
	faultPaused bool
	flowPaused  int
	closed      bool

	eventOnce sync.Once
}

var _ filter.Host = (*session)(nil)

func newSession(cfg Config, id string, inbound, outbound net.Conn) *session {
	sess := &session{
		cfg:      cfg,
		id:       id,
		inbound:  inbound,
		outbound: outbound,
	}
	sess.gateCond = sync.NewCond(&sess.gateMu)
	return sess
}

// ResumeReads implements filter.Host. It may be called from a timer
// fire, which already holds engineMu, so it must only touch the gate.
func (c *session) ResumeReads() {
	c.gateMu.Lock()
	c.faultPaused = false
	c.gateCond.Broadcast()
	c.gateMu.Unlock()
}

// StartTimer implements filter.Host. The fire callback runs under
// engineMu so it is serialized with the data path.
func (c *session) StartTimer(d time.Duration, fire func()) filter.Timer {
	return time.AfterFunc(d, func() {
		c.engineMu.Lock()
		defer c.engineMu.Unlock()
		fire()
	})
}

func (c *session) run(ctx context.Context) error {
	c.engineMu.Lock()
	c.engine.OnNewConnection()
	c.engineMu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-stop:
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- c.pump(c.inbound, c.outbound, c.engine.OnData, filter.RemoteClose, metrics.DirectionUpstream)
	}()
	go func() {
		errCh <- c.pump(c.outbound, c.inbound, c.engine.OnWrite, filter.LocalClose, metrics.DirectionDownstream)
	}()

	err := <-errCh
	c.close()
	<-errCh
	close(stop)

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, perrors.ErrConnectionClosed) {
		return perrors.New("proxy", c.id, c.inbound.RemoteAddr().String(), err)
	}
	return nil
}

// pump moves bytes src to dst in one direction. Each chunk is shown
// to the engine, staged, and flushed to dst. A Pause from the engine
// holds staged bytes and stops further reads until ResumeReads; a
// staging buffer above its high watermark stops reads until it drains
// below the low watermark. Held bytes are delivered, never dropped.
func (c *session) pump(src, dst net.Conn, observe func([]byte) filter.Status, event filter.ConnectionEvent, direction string) error {
	staged := buffer.New(c.releaseFlow, c.holdFlow)
	if c.cfg.HighWatermark > 0 {
		staged.SetWatermarks(c.cfg.LowWatermark, c.cfg.HighWatermark)
	}

	chunk := make([]byte, defaultReadChunk)
	for {
		// Deliver anything held from a pause before reading more.
		if err := c.waitDeliverable(); err != nil {
			c.raiseEvent(event)
			return err
		}
		if werr := c.flush(staged, dst); werr != nil {
			c.raiseEvent(event)
			return werr
		}
		if err := c.waitReadable(); err != nil {
			c.raiseEvent(event)
			return err
		}

		n, err := src.Read(chunk)
		if n > 0 {
			c.engineMu.Lock()
			status := observe(chunk[:n])
			if status == filter.Pause {
				// The gate must be raised before engineMu is
				// released: a pending timer fire acquires engineMu
				// for ResumeReads, and a resume must never land
				// before the pause it releases.
				c.holdFault()
			}
			c.engineMu.Unlock()

			staged.Add(chunk[:n])
			if !c.paused() {
				if werr := c.flush(staged, dst); werr != nil {
					c.raiseEvent(event)
					return werr
				}
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.AddBytes(direction, n)
			}
		}
		if err != nil {
			c.raiseEvent(event)
			return err
		}
	}
}

func (c *session) flush(staged *buffer.Buffer, dst net.Conn) error {
	for staged.Length() > 0 {
		data := staged.Linearize()
		n, err := dst.Write(data)
		staged.Drain(n)
		if err != nil {
			return err
		}
	}
	return nil
}

// raiseEvent reports the close reason to the engine exactly once,
// from whichever pump observes it first.
func (c *session) raiseEvent(event filter.ConnectionEvent) {
	c.eventOnce.Do(func() {
		c.engineMu.Lock()
		c.engine.OnEvent(event)
		c.engineMu.Unlock()
	})
}

func (c *session) waitReadable() error {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	for (c.faultPaused || c.flowPaused > 0) && !c.closed {
		c.gateCond.Wait()
	}
	if c.closed {
		return perrors.ErrConnectionClosed
	}
	return nil
}

// waitDeliverable blocks only on the fault gate. Flow control must not
// gate delivery: draining the staged buffer is what releases it.
func (c *session) waitDeliverable() error {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	for c.faultPaused && !c.closed {
		c.gateCond.Wait()
	}
	if c.closed {
		return perrors.ErrConnectionClosed
	}
	return nil
}

func (c *session) paused() bool {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	return c.faultPaused || c.flowPaused > 0
}

func (c *session) holdFault() {
	c.gateMu.Lock()
	c.faultPaused = true
	c.gateMu.Unlock()
}

func (c *session) holdFlow() {
	c.gateMu.Lock()
	c.flowPaused++
	c.gateMu.Unlock()
}

func (c *session) releaseFlow() {
	c.gateMu.Lock()
	c.flowPaused--
	c.gateCond.Broadcast()
	c.gateMu.Unlock()
}

func (c *session) close() {
	c.gateMu.Lock()
	if !c.closed {
		c.closed = true
		c.gateCond.Broadcast()
	}
	c.gateMu.Unlock()
	c.inbound.Close()
	c.outbound.Close()
}
