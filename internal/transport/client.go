// Package transport moves frame reports from source workers to the central
// aggregator over a websocket. Delivery is at-least-once: the client buffers
// reports while disconnected, drops the oldest when the buffer fills, and
// the receiving side deduplicates on (source, frame timestamp).
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/watchgrid/proximity.report/internal/monitoring"
	"github.com/watchgrid/proximity.report/internal/report"
	"github.com/watchgrid/proximity.report/internal/timeutil"
)

// AuthHeader carries the pre-shared key on the ingest handshake.
const AuthHeader = "X-Queue-Auth"

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// ClientConfig configures a report client.
type ClientConfig struct {
	URL       string // ws:// or wss:// ingest endpoint
	AuthKey   string
	QueueSize int            // buffered reports while disconnected; 0 means 256
	Clock     timeutil.Clock // nil means real time
}

// Client ships frame reports to the aggregator. Enqueue never blocks the
// caller: when the buffer is full the oldest report is discarded, since a
// fresh frame is worth more than a stale one.
type Client struct {
	config ClientConfig
	clock  timeutil.Clock

	mu      sync.Mutex
	queue   []report.FrameReport
	pending chan struct{} // signals queued work, capacity 1

	dropped int64
	sent    int64
}

// NewClient creates a client for the given ingest endpoint.
func NewClient(config ClientConfig) *Client {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	clock := config.Clock
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &Client{
		config:  config,
		clock:   clock,
		pending: make(chan struct{}, 1),
	}
}

// Enqueue buffers a report for delivery. Returns false if an older report
// was dropped to make room.
func (c *Client) Enqueue(r report.FrameReport) bool {
	c.mu.Lock()
	kept := true
	if len(c.queue) >= c.config.QueueSize {
		c.queue = c.queue[1:]
		c.dropped++
		kept = false
	}
	c.queue = append(c.queue, r)
	c.mu.Unlock()

	select {
	case c.pending <- struct{}{}:
	default:
	}
	return kept
}

// Stats returns the lifetime sent and dropped counts.
func (c *Client) Stats() (sent, dropped int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.dropped
}

// QueueLen returns the number of buffered reports.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) peek() (report.FrameReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return report.FrameReport{}, false
	}
	return c.queue[0], true
}

func (c *Client) popIfHead(r report.FrameReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 && c.queue[0].SourceID == r.SourceID && c.queue[0].FrameTimestamp.Equal(r.FrameTimestamp) {
		c.queue = c.queue[1:]
		c.sent++
	}
}

// Run connects to the ingest endpoint and drains the queue until ctx is
// cancelled, reconnecting with exponential backoff. On cancellation it makes
// one best-effort pass at flushing whatever remains.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			c.flush()
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			monitoring.Logf("transport: connect %s: %v (retrying in %v)", c.config.URL, err, backoff)
			select {
			case <-ctx.Done():
				c.flush()
				return
			case <-c.clock.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		if err := c.drain(ctx, conn); err != nil {
			monitoring.Logf("transport: connection to %s lost: %v", c.config.URL, err)
		}
		conn.Close()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.config.AuthKey != "" {
		header.Set(AuthHeader, c.config.AuthKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// drain sends queued reports over conn until the context ends or a write
// fails. A report is only removed from the queue after a successful write.
func (c *Client) drain(ctx context.Context, conn *websocket.Conn) error {
	for {
		r, ok := c.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.pending:
				continue
			}
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(&r); err != nil {
			return err
		}
		c.popIfHead(r)
	}
}

// flush makes one synchronous attempt to deliver the remaining queue.
func (c *Client) flush() {
	if c.QueueLen() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		monitoring.Logf("transport: final flush skipped (%d queued): %v", c.QueueLen(), err)
		return
	}
	defer conn.Close()

	for {
		r, ok := c.peek()
		if !ok {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(&r); err != nil {
			monitoring.Logf("transport: final flush aborted (%d queued): %v", c.QueueLen(), err)
			return
		}
		c.popIfHead(r)
	}
}
