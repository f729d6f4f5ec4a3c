package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/udpchat/udpchat/pkg/model"
	"github.com/udpchat/udpchat/pkg/protocol"
)

type offerKey struct {
	initiator int
	target    int
}

// Coordinator tracks pending file offers between two live sessions. At most
// one offer is pending per (initiator, target) pair; a new offer replaces it.
type Coordinator struct {
	mu      sync.Mutex
	now     func() time.Time
	timeout time.Duration
	offers  map[offerKey]*model.FileOffer
}

// NewCoordinator creates a coordinator whose offers expire after timeout.
func NewCoordinator(timeout time.Duration, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		now:     now,
		timeout: timeout,
		offers:  make(map[offerKey]*model.FileOffer),
	}
}

// Offer records a new pending offer.
func (c *Coordinator) Offer(initiator, target int, filename string, size int64) model.FileOffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := model.NewFileOffer(initiator, target, filename, size, c.now())
	c.offers[offerKey{initiator, target}] = o
	return *o
}

// Resolve settles the pending offer from initiator to target. It reports
// false when no such offer is pending.
func (c *Coordinator) Resolve(initiator, target int, accepted bool) (model.FileOffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := offerKey{initiator, target}
	o, ok := c.offers[key]
	if !ok {
		return model.FileOffer{}, false
	}
	delete(c.offers, key)
	if accepted {
		o.State = model.OfferAccepted
	} else {
		o.State = model.OfferRejected
	}
	return *o, true
}

// Expire drops offers older than the timeout.
func (c *Coordinator) Expire() []model.FileOffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.timeout)
	var out []model.FileOffer
	for key, o := range c.offers {
		if o.CreatedAt.Before(cutoff) {
			o.State = model.OfferExpired
			out = append(out, *o)
			delete(c.offers, key)
		}
	}
	return out
}

// DropPeer discards every offer that involves port.
func (c *Coordinator) DropPeer(port int) []model.FileOffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.FileOffer
	for key, o := range c.offers {
		if key.initiator == port || key.target == port {
			o.State = model.OfferExpired
			out = append(out, *o)
			delete(c.offers, key)
		}
	}
	return out
}

// Pending returns the number of unanswered offers.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offers)
}

func (s *Server) handleFileRequest(sess model.Session, req protocol.FileRequest) {
	target, ok := s.registry.Get(req.Peer)
	if !ok || target.ID == sess.ID {
		s.unicast(sess, protocol.Notice{Text: "Unknown recipient " + itoa(req.Peer)})
		return
	}
	offer := s.offers.Offer(sess.ID, target.ID, req.Filename, req.Size)
	s.metrics.FileOffers.WithLabelValues("offered").Inc()
	slog.Debug("file offer", "offer", offer.ID, "from", sess.ID, "to", target.ID, "file", req.Filename, "size", req.Size)
	s.unicast(target, protocol.FileRequest{Peer: sess.ID, Filename: req.Filename, Size: req.Size})
}

func (s *Server) handleFileResponse(sess model.Session, res protocol.FileResponse) {
	if res.Decision == protocol.DecisionTimeout {
		return // server-generated only
	}
	offer, ok := s.offers.Resolve(res.Peer, sess.ID, res.Decision == protocol.DecisionAccept)
	if !ok {
		slog.Debug("file response without pending offer", "from", sess.ID, "initiator", res.Peer)
		return
	}
	s.metrics.FileOffers.WithLabelValues(offer.State.String()).Inc()
	initiator, ok := s.registry.Get(offer.Initiator)
	if !ok {
		return
	}
	s.unicast(initiator, protocol.FileResponse{Peer: sess.ID, Decision: res.Decision, Port: res.Port})
}

// timeoutOffers tells each still-live initiator that its offer lapsed.
func (s *Server) timeoutOffers(offers []model.FileOffer) {
	for _, o := range offers {
		s.metrics.FileOffers.WithLabelValues(o.State.String()).Inc()
		initiator, ok := s.registry.Get(o.Initiator)
		if !ok {
			continue
		}
		s.unicast(initiator, protocol.FileResponse{Peer: o.Target, Decision: protocol.DecisionTimeout})
	}
}
