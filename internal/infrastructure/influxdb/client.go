package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/depot-core/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// Auth events are charted per minute at best; millisecond stamps keep
	// the line protocol short.
	writePrecision = time.Millisecond
)

// Stats counts points since Connect. A point is Queued when handed to the
// batcher and Dropped when the client was already closed. FailedBatches
// counts batches the server rejected or never received.
type Stats struct {
	Queued        uint64
	Dropped       uint64
	FailedBatches uint64
}

// Client queues auth event points into one org and bucket through the
// library's batching write API. Every point carries an instance tag so
// several depot-core processes can share a bucket.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string
	instance string
	logger   *slog.Logger

	mu        sync.RWMutex
	connected bool

	queued  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Connect pings the server and prepares the batched write API. The ping is
// bounded by ctx and a short timeout. It returns ErrDisabled without touching
// the network when cfg.Enabled is false.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	instance := instanceName()

	// #nosec G115 -- values validated above to be positive
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(time.Duration(flushInterval)*time.Second/time.Millisecond)).
		SetPrecision(writePrecision).
		AddDefaultTag("instance", instance)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:    cfg.Bucket,
		instance:  instance,
		logger:    logger.With("bucket", cfg.Bucket),
		connected: true,
	}
	go c.watchFailures(c.writeAPI.Errors())

	return c, nil
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

// watchFailures counts and logs rejected batches until the write API closes
// its error channel.
func (c *Client) watchFailures(errs <-chan error) {
	for err := range errs {
		n := c.failed.Add(1)
		c.logger.Error("auth event batch not written", "failed_batches", n, "error", err)
	}
}

// Close flushes queued points and shuts the client down. Safe on nil and
// safe to call twice.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if !wasConnected {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()

	s := c.Stats()
	c.logger.Info("influxdb client closed",
		"queued", s.Queued, "dropped", s.Dropped, "failed_batches", s.FailedBatches)
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns the point counters. Zero on nil.
func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Queued:        c.queued.Load(),
		Dropped:       c.dropped.Load(),
		FailedBatches: c.failed.Load(),
	}
}

// Flush blocks until queued points are sent. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
