package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parisxmas/OxiDB/OxiField/internal/oxidb"
)

const (
	dialTimeout       = 5 * time.Second
	keepaliveInterval = 10 * time.Second
)

// Pool is a round-robin connection pool for OxiDB with auto-reconnect.
// Connections that are down or broken are redialled lazily by Get and
// eagerly by the keepalive loop, so the pool can be created while offline.
type Pool struct {
	host    string
	port    int
	clients []*oxidb.Client
	mu      []sync.Mutex
	idx     uint64
	stop    chan struct{}
	logger  *slog.Logger
}

// NewPool creates a pool of size OxiDB connections. Connection failures are
// logged, not returned: an offline node still starts.
func NewPool(host string, port, size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: size must be positive, got %d", size)
	}
	p := &Pool{
		host:    host,
		port:    port,
		clients: make([]*oxidb.Client, size),
		mu:      make([]sync.Mutex, size),
		stop:    make(chan struct{}),
		logger:  logger,
	}
	for i := 0; i < size; i++ {
		if _, err := p.reconnect(i); err != nil {
			logger.Warn("pool: initial connect failed", "client", i, "error", err)
		}
	}
	// Start keepalive pings every 10 seconds to prevent idle timeout
	go p.keepalive()
	return p, nil
}

// Get returns the next client in round-robin order, reconnecting if needed.
func (p *Pool) Get() (*oxidb.Client, error) {
	n := atomic.AddUint64(&p.idx, 1)
	i := int(n % uint64(len(p.clients)))

	p.mu[i].Lock()
	c := p.clients[i]
	p.mu[i].Unlock()
	if c != nil && !c.Broken() {
		return c, nil
	}
	return p.reconnect(i)
}

// reconnect replaces a missing or broken client at index i.
func (p *Pool) reconnect(i int) (*oxidb.Client, error) {
	p.mu[i].Lock()
	defer p.mu[i].Unlock()
	if c := p.clients[i]; c != nil {
		if !c.Broken() {
			return c, nil
		}
		c.Close()
		p.clients[i] = nil
	}
	c, err := oxidb.Connect(p.host, p.port, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("pool: connect client %d: %w", i, err)
	}
	p.clients[i] = c
	return c, nil
}

// Ping checks that at least one connection reaches the server.
func (p *Pool) Ping(ctx context.Context) error {
	c, err := p.Get()
	if err != nil {
		return err
	}
	_, err = c.Ping(ctx)
	return err
}

func (p *Pool) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			for i := range p.clients {
				p.mu[i].Lock()
				c := p.clients[i]
				p.mu[i].Unlock()
				if c != nil && !c.Broken() {
					ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
					_, err := c.Ping(ctx)
					cancel()
					if err == nil {
						continue
					}
					p.logger.Debug("pool: ping failed, reconnecting", "client", i, "error", err)
					c.Close()
				}
				if _, err := p.reconnect(i); err != nil {
					p.logger.Debug("pool: reconnect failed", "client", i, "error", err)
				}
			}
		}
	}
}

// Close closes all connections.
func (p *Pool) Close() {
	close(p.stop)
	for i := range p.clients {
		p.mu[i].Lock()
		if c := p.clients[i]; c != nil {
			c.Close()
		}
		p.mu[i].Unlock()
	}
}
