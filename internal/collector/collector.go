// Package collector implements component F: the server half of the
// tracing pipeline, hosted by a driver process. It accepts many
// concurrent reporter connections over a Unix domain socket, ingests
// NDJSON frames, deduplicates and bounds the resulting trace buffer,
// and coordinates a drain-before-close shutdown.
//
// Grounded on internal/sinks.LocalFileSink for the accept/worker
// lifecycle (Start binds a resource and spawns goroutines, Stop cancels
// a context and closes everything under a mutex) and on
// pkg/deduplication.DeduplicationManager for the hash-based dedupe
// cache shape, adapted here from a TTL/LRU cache to the spec's simpler
// "per-id set, evicted alongside its buffer slot" contract.
package collector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/taist-dev/taist/internal/filterconfig"
	"github.com/taist-dev/taist/pkg/trace"
)

const defaultGraceWindow = 500 * time.Millisecond

// Recorder receives collector telemetry. Implemented by
// internal/telemetry; nil is safe (every call site checks first).
type Recorder interface {
	IngestAccepted()
	IngestDuplicate()
	IngestEvicted()
	IngestParseError()
	QueueDepth(n int)
}

// Hooks are the events spec.md §4.F names: started, stopped, trace,
// flush, error, connectionError, parseError. Any field left nil is
// simply not called.
type Hooks struct {
	OnStarted         func()
	OnStopped         func()
	OnTrace           func(trace.Record)
	OnFlush           func(workerID string)
	OnError           func(err error)
	OnConnectionError func(err error)
	OnParseError      func(err error)
}

// Collector is the bounded, deduplicating trace buffer and its Unix
// socket server.
type Collector struct {
	cfg      *filterconfig.Config
	logger   *logrus.Logger
	hooks    Hooks
	names    filterconfig.NamePredicate
	recorder Recorder

	listener net.Listener

	mu      sync.Mutex
	buffer  []trace.Record
	dedupe  map[string]struct{}
	conns   map[net.Conn]struct{}
	running bool
}

// Option configures optional Collector dependencies.
type Option func(*Collector)

// WithHooks registers event callbacks.
func WithHooks(h Hooks) Option { return func(c *Collector) { c.hooks = h } }

// WithRecorder registers a telemetry sink.
func WithRecorder(r Recorder) Option { return func(c *Collector) { c.recorder = r } }

// New builds a Collector bound to cfg.SocketPath once Start is called.
func New(cfg *filterconfig.Config, logger *logrus.Logger, opts ...Option) *Collector {
	c := &Collector{
		cfg:    cfg,
		logger: logger,
		names:  filterconfig.NewNamePredicate(cfg.ExcludeNames),
		dedupe: make(map[string]struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start binds the Unix socket and begins accepting connections.
func (c *Collector) Start() error {
	os.Remove(c.cfg.SocketPath)
	ln, err := net.Listen("unix", c.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("collector: listen %s: %w", c.cfg.SocketPath, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.running = true
	c.mu.Unlock()

	go c.acceptLoop(ln)

	if c.hooks.OnStarted != nil {
		c.hooks.OnStarted()
	}
	c.logger.WithField("socket", c.cfg.SocketPath).Info("collector: started")
	return nil
}

func (c *Collector) acceptLoop(ln net.Listener) {
	connSeq := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			c.mu.Lock()
			stopped := !c.running
			c.mu.Unlock()
			if stopped {
				return
			}
			c.emitError(err)
			return
		}

		c.mu.Lock()
		if len(c.conns) >= c.cfg.MaxClients {
			c.mu.Unlock()
			c.emitConnectionError(fmt.Errorf("collector: max clients (%d) reached", c.cfg.MaxClients))
			conn.Close()
			continue
		}
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		connSeq++
		go c.handleConn(conn)
	}
}

// handleConn implements the per-connection ingest loop (spec.md §4.F
// steps 1-5). bufio.Reader.ReadBytes plays the role of the manual
// rolling-buffer split on '\n': it already retains a partial trailing
// line across reads and, on EOF, returns whatever is left unterminated
// so it can be drained as one final message.
func (c *Collector) handleConn(conn net.Conn) {
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			c.ingestLine(trimmed)
		}
		if err != nil {
			if err != io.EOF {
				c.emitConnectionError(err)
			}
			return
		}
	}
}

func (c *Collector) ingestLine(line []byte) {
	var env trace.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		c.emitParseError(fmt.Errorf("collector: malformed line: %w", err))
		return
	}

	switch env.Type {
	case trace.MessageTrace:
		if env.Data != nil {
			c.ingestRecord(*env.Data)
		}
	case trace.MessageBatch:
		for _, r := range env.Records {
			c.ingestRecord(r)
		}
	case trace.MessageFlush:
		if c.hooks.OnFlush != nil {
			c.hooks.OnFlush(env.WorkerID)
		}
	default:
		c.emitParseError(fmt.Errorf("collector: unexpected message type %q", env.Type))
	}
}

// ingestRecord applies the name filter, then dedupes and admits r into
// the bounded FIFO buffer (spec.md §4.F step 3, §8 properties 6-8).
func (c *Collector) ingestRecord(r trace.Record) {
	if !c.names(r.Name) {
		return
	}

	key := dedupeKey(r)

	c.mu.Lock()
	if _, dup := c.dedupe[key]; dup {
		c.mu.Unlock()
		c.recordDuplicate()
		return
	}

	c.dedupe[key] = struct{}{}
	c.buffer = append(c.buffer, r)

	var evicted bool
	maxTraces := c.cfg.BufferSize
	if maxTraces > 0 && len(c.buffer) > maxTraces {
		evictedRecord := c.buffer[0]
		c.buffer = c.buffer[1:]
		delete(c.dedupe, dedupeKey(evictedRecord))
		evicted = true
	}
	depth := len(c.buffer)
	c.mu.Unlock()

	if evicted {
		c.recordEvicted()
	}
	c.recordAccepted(depth)

	if c.hooks.OnTrace != nil {
		c.hooks.OnTrace(r)
	}
}

// dedupeKey implements spec.md §4.F step 3's dedupe contract: by id
// when present, else by (name, timestamp, type).
func dedupeKey(r trace.Record) string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%d|%s", r.Name, r.TimestampMS, r.Type)
	return fmt.Sprintf("hash:%x", h.Sum64())
}

// GetTraces returns a snapshot copy of the buffer; callers may iterate
// it without synchronization.
func (c *Collector) GetTraces() []trace.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]trace.Record, len(c.buffer))
	copy(out, c.buffer)
	return out
}

// GetTraceCount returns the number of records currently buffered.
func (c *Collector) GetTraceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// ClearTraces empties the buffer and dedupe set.
func (c *Collector) ClearTraces() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = nil
	c.dedupe = make(map[string]struct{})
}

// Stop runs the coordinated drain protocol from spec.md §4.F:
// shutdown frame, busy-wait, half-close, grace window, force-destroy.
func (c *Collector) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	ln := c.listener
	conns := make([]net.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	shutdownFrame, _ := json.Marshal(trace.Envelope{Type: trace.MessageShutdown})
	shutdownFrame = append(shutdownFrame, '\n')
	for _, conn := range conns {
		conn.Write(shutdownFrame)
	}

	deadline := time.Now().Add(timeout / 2)
	for time.Now().Before(deadline) {
		if c.activeConnCount() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, conn := range c.remainingConns() {
		if half, ok := conn.(interface{ CloseWrite() error }); ok {
			half.CloseWrite()
		}
	}

	time.Sleep(defaultGraceWindow)

	remaining := c.remainingConns()
	for _, conn := range remaining {
		conn.Close()
	}
	if len(remaining) > 0 && c.hooks.OnError != nil {
		c.hooks.OnError(fmt.Errorf("collector: %d connection(s) force-destroyed after grace window", len(remaining)))
	}

	if ln != nil {
		ln.Close()
	}
	os.Remove(c.cfg.SocketPath)

	if c.hooks.OnStopped != nil {
		c.hooks.OnStopped()
	}
	c.logger.Info("collector: stopped")
	return nil
}

func (c *Collector) activeConnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *Collector) remainingConns() []net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]net.Conn, 0, len(c.conns))
	for conn := range c.conns {
		out = append(out, conn)
	}
	return out
}

func (c *Collector) emitError(err error) {
	c.logger.WithError(err).Error("collector: error")
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}

func (c *Collector) emitConnectionError(err error) {
	c.logger.WithError(err).Warn("collector: connection error")
	if c.hooks.OnConnectionError != nil {
		c.hooks.OnConnectionError(err)
	}
}

func (c *Collector) emitParseError(err error) {
	c.logger.WithError(err).Debug("collector: parse error")
	if c.recorder != nil {
		c.recorder.IngestParseError()
	}
	if c.hooks.OnParseError != nil {
		c.hooks.OnParseError(err)
	}
}

func (c *Collector) recordAccepted(depth int) {
	if c.recorder == nil {
		return
	}
	c.recorder.IngestAccepted()
	c.recorder.QueueDepth(depth)
}

func (c *Collector) recordDuplicate() {
	if c.recorder != nil {
		c.recorder.IngestDuplicate()
	}
}

func (c *Collector) recordEvicted() {
	if c.recorder != nil {
		c.recorder.IngestEvicted()
	}
}
