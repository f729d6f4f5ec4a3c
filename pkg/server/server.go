// Package server implements the udpchat server: a single UDP receive loop
// that owns the session registry and dispatches every datagram to the auth,
// messaging, group and file-offer handlers.
package server

import (
	"context"
	"net"
	"time"

	"github.com/udpchat/udpchat/pkg/datastore"
)

// PacketConn is the datagram transport the router reads from and writes to.
// *net.UDPConn satisfies it.
type PacketConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Server is the main udpchat server.
type Server struct {
	cfg      Config
	now      func() time.Time
	registry *Registry
	offers   *Coordinator
	metrics  *Metrics
	store    datastore.DataProviderFactory
	conn     PacketConn
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		now:      now,
		registry: NewRegistry(cfg.SessionTimeout, now),
		offers:   NewCoordinator(cfg.OfferTimeout, now),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.metrics.observe(s.registry, s.offers)
	return s
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Offers returns the file-offer coordinator.
func (s *Server) Offers() *Coordinator {
	return s.offers
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the bound UDP address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
