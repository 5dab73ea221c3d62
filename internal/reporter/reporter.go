// Package reporter implements component E: the per-process client that
// ships trace records to a collector over a Unix domain socket.
//
// Grounded on internal/sinks.LocalFileSink's queue+worker+Start/Stop
// shape (a buffered channel drained by background goroutines, a mutex
// guarding running state, a context cancelled on Stop) and on
// dispatcher.Dispatcher's batch/flush timer pairing
// (batchTimeout triggering a partial-batch send). Both are adapted here
// from "batch records into sink writes" to "batch records into NDJSON
// frames over a socket", with the shutdown-frame half-close protocol
// spec.md §4.E adds on top.
package reporter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taist-dev/taist/internal/apperr"
	"github.com/taist-dev/taist/pkg/trace"
)

const (
	defaultSizeThreshold = 100
	defaultFlushInterval = time.Second
)

// Dialer abstracts the transport so tests can substitute an in-memory
// pipe instead of a real Unix socket.
type Dialer func() (net.Conn, error)

// Client is the buffered NDJSON sender described in spec.md §4.E. It
// implements wrapper.Emitter.
type Client struct {
	logger *logrus.Logger
	dial   Dialer

	workerID      string
	sizeThreshold int
	flushInterval time.Duration
	eagerConnect  bool

	mu         sync.Mutex
	queue      []trace.Record
	conn       net.Conn
	connecting chan struct{} // non-nil while a connect attempt is in flight; closed when it resolves

	stopCh       chan struct{}
	stopped      chan struct{}
	shuttingDown bool // guards against the signal path and the shutdown-frame path both draining

	signalOnce sync.Once
}

// New builds a Client dialing a Unix socket at socketPath. workerID
// identifies this process in "batch" frames sent to the collector.
func New(socketPath string, workerID string, logger *logrus.Logger) *Client {
	return NewWithDialer(func() (net.Conn, error) {
		return net.Dial("unix", socketPath)
	}, workerID, logger)
}

// NewWithDialer builds a Client using a caller-supplied Dialer.
func NewWithDialer(dial Dialer, workerID string, logger *logrus.Logger) *Client {
	return &Client{
		logger:        logger,
		dial:          dial,
		workerID:      workerID,
		sizeThreshold: defaultSizeThreshold,
		flushInterval: defaultFlushInterval,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// WithEagerConnect makes Start dial immediately instead of waiting for
// the first Emit (spec.md §4.E: "an option to connect eagerly at startup").
func (c *Client) WithEagerConnect() *Client {
	c.eagerConnect = true
	return c
}

// Start launches the periodic flusher and, if configured, connects
// immediately. It also installs the SIGINT/SIGTERM best-effort flush
// path described in spec.md §4.E's second shutdown paragraph.
func (c *Client) Start(ctx context.Context) error {
	if c.eagerConnect {
		if _, err := c.getConn(); err != nil {
			c.logger.WithError(err).Warn("reporter: eager connect failed, will retry lazily")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go c.flushLoop(ctx)
	go c.signalLoop(ctx, sigCh)

	return nil
}

func (c *Client) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			close(c.stopped)
			return
		case <-ctx.Done():
			close(c.stopped)
			return
		}
	}
}

func (c *Client) signalLoop(ctx context.Context, sigCh chan os.Signal) {
	select {
	case <-sigCh:
		c.bestEffortFlush()
	case <-c.stopCh:
	case <-ctx.Done():
	}
	signal.Stop(sigCh)
}

// Emit appends r to the outbound queue, triggering an async flush once
// the size threshold is reached. When a record lands in an empty queue
// and no connection is live or being dialed, it also starts an async
// connect.
func (c *Client) Emit(r trace.Record) {
	c.mu.Lock()
	c.queue = append(c.queue, r)
	shouldFlush := len(c.queue) >= c.sizeThreshold
	shouldConnect := len(c.queue) == 1 && c.conn == nil && c.connecting == nil
	c.mu.Unlock()

	if shouldConnect {
		go c.getConn()
	}
	if shouldFlush {
		go c.flush()
	}
}

// flush drains the queue and writes one batch frame. On write failure
// the records are returned to the head of the queue (spec.md §4.E).
func (c *Client) flush() {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.queue
	c.queue = nil
	c.mu.Unlock()

	if err := c.writeBatch(batch); err != nil {
		c.logger.WithError(err).Warn("reporter: flush failed, requeueing batch")
		c.mu.Lock()
		c.queue = append(batch, c.queue...)
		c.mu.Unlock()
	}
}

// bestEffortFlush is the signal-driven path. The shuttingDown flag
// ensures it and handleShutdownFrame never both attempt to drain.
func (c *Client) bestEffortFlush() {
	var run bool
	c.signalOnce.Do(func() {
		c.mu.Lock()
		if !c.shuttingDown {
			c.shuttingDown = true
			run = true
		}
		c.mu.Unlock()
	})
	if !run {
		return
	}
	c.flush()
}

func (c *Client) writeBatch(records []trace.Record) error {
	conn, err := c.getConn()
	if err != nil {
		return apperr.New(apperr.KindTransport, "reporter", "writeBatch", err)
	}
	env := trace.Envelope{Type: trace.MessageBatch, WorkerID: c.workerID, Records: records}
	data, err := json.Marshal(env)
	if err != nil {
		return apperr.New(apperr.KindTransform, "reporter", "writeBatch", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		c.dropConn()
		return apperr.New(apperr.KindTransport, "reporter", "writeBatch", err)
	}
	return nil
}

// getConn returns the live connection, dialing if necessary. Concurrent
// callers share a single in-flight connect attempt (spec.md §4.E:
// "exactly one concurrent connect attempt").
func (c *Client) getConn() (net.Conn, error) {
	c.mu.Lock()
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	if c.connecting != nil {
		wait := c.connecting
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return nil, errors.New("reporter: connect failed")
		}
		return conn, nil
	}
	done := make(chan struct{})
	c.connecting = done
	c.mu.Unlock()

	conn, err := c.dial()

	c.mu.Lock()
	if err == nil {
		c.conn = conn
		go c.readLoop(conn)
	}
	c.connecting = nil
	close(done)
	c.mu.Unlock()

	return conn, err
}

func (c *Client) dropConn() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

// readLoop watches for the collector's {"type":"shutdown"} frame, the
// only message the server ever sends back (spec.md §4.E).
func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var env trace.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue
		}
		if env.Type == trace.MessageShutdown {
			c.handleShutdownFrame(conn)
			return
		}
	}
}

// handleShutdownFrame implements spec.md §4.E's shutdown protocol:
// stop the periodic flusher, write one final batch synchronously, then
// half-close this side.
func (c *Client) handleShutdownFrame(conn net.Conn) {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return
	}
	c.shuttingDown = true
	c.mu.Unlock()

	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.stopped

	c.flush()

	if half, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := half.CloseWrite(); err != nil {
			c.logger.WithError(err).Debug("reporter: half-close failed")
		}
		return
	}
	conn.Close()
}

// Close stops the background loops without waiting for a shutdown
// frame; used when the reporter itself owns the process lifecycle.
func (c *Client) Close() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
