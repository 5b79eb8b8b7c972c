package rtc

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/logger"
)

// The coordinator exchanges the relay's wire types directly.
type (
	SessionDescription = domain.SessionDescription
	ICECandidate       = domain.ICECandidate
)

// Track is a local media source attached to the connection
type Track interface {
	ID() string
	Stop() error
}

// PeerConnection is the narrow surface the coordinator drives. The media
// engine behind it is pluggable; the coordinator only owns negotiation
// ordering.
type PeerConnection interface {
	CreateOffer() (*SessionDescription, error)
	CreateAnswer() (*SessionDescription, error)
	SetRemoteDescription(desc *SessionDescription) error
	AddICECandidate(candidate *ICECandidate) error
	AddTrack(track Track) error
	Close() error
}

// PeerConnectionFactory builds a fresh connection for each negotiation
type PeerConnectionFactory func() (PeerConnection, error)

// FrameSender delivers signaling frames to the peer (the relay client)
type FrameSender interface {
	Send(frame *domain.Frame) error
}

// Coordinator sequences media negotiation for one session. Remote ICE
// candidates arriving before the remote description are queued and
// flushed in arrival order exactly once; local tracks attach before an
// answer is created; a new offer over a live connection rebuilds the
// connection from scratch.
type Coordinator struct {
	factory PeerConnectionFactory
	sender  FrameSender

	mu          sync.Mutex
	pc          PeerConnection
	localTracks map[string]Track
	pending     []*ICECandidate
	remoteSet   bool
	closed      bool
}

// NewCoordinator creates a coordinator. Tracks added before the first
// offer or answer are attached to every connection the coordinator builds.
func NewCoordinator(factory PeerConnectionFactory, sender FrameSender) *Coordinator {
	return &Coordinator{
		factory:     factory,
		sender:      sender,
		localTracks: make(map[string]Track),
	}
}

// AddLocalTrack registers a local media source. A track with an ID already
// registered is rejected.
func (c *Coordinator) AddLocalTrack(track Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("coordinator is closed")
	}
	if _, exists := c.localTracks[track.ID()]; exists {
		return fmt.Errorf("track %s already attached", track.ID())
	}
	c.localTracks[track.ID()] = track

	if c.pc != nil {
		if err := c.pc.AddTrack(track); err != nil {
			delete(c.localTracks, track.ID())
			return fmt.Errorf("attach track failed: %w", err)
		}
	}
	return nil
}

// StartCall builds a connection, attaches local tracks and sends an offer.
func (c *Coordinator) StartCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("coordinator is closed")
	}
	if err := c.rebuildLocked(); err != nil {
		return err
	}

	offer, err := c.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer failed: %w", err)
	}
	return c.sendDescription(domain.FrameTypeOffer, offer)
}

// HandleOffer answers a remote offer. An offer received while a
// connection is already live means the peer renegotiated from zero
// (typically after a relay reconnect), so the old connection is torn
// down and replaced before answering.
func (c *Coordinator) HandleOffer(frame *domain.Frame) error {
	if frame.SDP == nil {
		return errors.New("offer frame without sdp")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("coordinator is closed")
	}
	if err := c.rebuildLocked(); err != nil {
		return err
	}

	if err := c.pc.SetRemoteDescription(frame.SDP); err != nil {
		return fmt.Errorf("set remote offer failed: %w", err)
	}
	c.remoteSet = true
	c.flushCandidatesLocked()

	answer, err := c.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer failed: %w", err)
	}
	return c.sendDescription(domain.FrameTypeAnswer, answer)
}

// HandleAnswer applies the remote answer to the offer this side sent.
func (c *Coordinator) HandleAnswer(frame *domain.Frame) error {
	if frame.SDP == nil {
		return errors.New("answer frame without sdp")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.pc == nil {
		return errors.New("no pending offer")
	}
	if err := c.pc.SetRemoteDescription(frame.SDP); err != nil {
		return fmt.Errorf("set remote answer failed: %w", err)
	}
	c.remoteSet = true
	c.flushCandidatesLocked()
	return nil
}

// HandleRemoteCandidate applies a remote ICE candidate, queueing it if the
// remote description has not arrived yet.
func (c *Coordinator) HandleRemoteCandidate(frame *domain.Frame) error {
	if frame.Candidate == nil {
		return errors.New("candidate frame without candidate")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("coordinator is closed")
	}
	if !c.remoteSet {
		c.pending = append(c.pending, frame.Candidate)
		return nil
	}
	return c.pc.AddICECandidate(frame.Candidate)
}

// SendLocalCandidate forwards a locally gathered candidate to the peer.
func (c *Coordinator) SendLocalCandidate(candidate *ICECandidate) error {
	return c.sender.Send(&domain.Frame{
		Type:      domain.FrameTypeICECandidate,
		Candidate: candidate,
	})
}

// HandleICEFailure recovers from a failed transport by renegotiating from
// scratch with a fresh offer.
func (c *Coordinator) HandleICEFailure() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}

	logger.Warn("ICE failed, renegotiating")
	return c.StartCall()
}

// Close stops every local track and closes the connection. Safe to call
// more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for id, track := range c.localTracks {
		if err := track.Stop(); err != nil {
			logger.Warn("Failed to stop track",
				zap.String("track_id", id),
				zap.Error(err))
		}
	}
	c.localTracks = nil
	c.pending = nil

	if c.pc != nil {
		pc := c.pc
		c.pc = nil
		return pc.Close()
	}
	return nil
}

// rebuildLocked discards any live connection and builds a fresh one with
// all local tracks attached. Callers hold c.mu.
func (c *Coordinator) rebuildLocked() error {
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			logger.Warn("Closing stale peer connection failed", zap.Error(err))
		}
		c.pc = nil
	}
	c.remoteSet = false
	c.pending = nil

	pc, err := c.factory()
	if err != nil {
		return fmt.Errorf("build peer connection failed: %w", err)
	}

	for _, track := range c.localTracks {
		if err := pc.AddTrack(track); err != nil {
			pc.Close()
			return fmt.Errorf("attach track failed: %w", err)
		}
	}
	c.pc = pc
	return nil
}

// flushCandidatesLocked drains the queue in arrival order. Callers hold
// c.mu and have set the remote description.
func (c *Coordinator) flushCandidatesLocked() {
	for _, candidate := range c.pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			logger.Warn("Queued candidate rejected", zap.Error(err))
		}
	}
	c.pending = nil
}

func (c *Coordinator) sendDescription(frameType string, desc *SessionDescription) error {
	return c.sender.Send(&domain.Frame{Type: frameType, SDP: desc})
}
