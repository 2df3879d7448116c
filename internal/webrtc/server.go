// Package webrtc pushes entity snapshots to browsers over WebRTC data
// channels, for clients that want lower latency than SSE.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
)

// ChannelLabel is the data channel the browser must open in its offer.
const ChannelLabel = "entities"

var (
	// ErrMaxClients is returned by HandleOffer when the server is full.
	ErrMaxClients = errors.New("maximum clients reached")
	// ErrInvalidOffer is returned by HandleOffer when the offer cannot be
	// parsed or applied.
	ErrInvalidOffer = errors.New("invalid offer")
)

// Client represents a connected WebRTC client
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	channel       atomic.Pointer[webrtc.DataChannel]
	frameChan     chan []byte
	closeChan     chan struct{}
	closeOnce     sync.Once
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.closeChan) })
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. With no STUN servers only host
// candidates are gathered. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if maxClients <= 0 {
		maxClients = 10
	}

	settingsEngine := webrtc.SettingEngine{}

	// Reduce DTLS retransmission timeout (faster connection, less CPU on retries)
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only; no media codecs are registered
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The client is
// registered before the offer is applied, so connection state callbacks
// always find it; any failure after that removes it again.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOffer, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("%w: expected type offer with sdp", ErrInvalidOffer)
	}

	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		frameChan: make(chan []byte, 8),
		closeChan: make(chan struct{}),
	}

	s.clientsMu.Lock()
	if len(s.clients) >= s.maxClients {
		s.clientsMu.Unlock()
		peerConn.Close()
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unknown channel %q, ignoring", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.channel.Store(dc)
			logger.Info("WebRTC", "Client %s data channel open", client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	go s.sendFrames(client)

	answerJSON, err := s.negotiate(peerConn, offer)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TotalWebRTCClients.Add(1)
	}
	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// negotiate applies the offer and returns the answer once ICE gathering is
// complete, so the answer carries every candidate.
func (s *Server) negotiate(peerConn *webrtc.PeerConnection, offer webrtc.SessionDescription) ([]byte, error) {
	if err := peerConn.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOffer, err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// SendFrame queues an encoded entity snapshot for every connected client.
func (s *Server) SendFrame(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.frameChan <- data:
		default:
			// Channel full, drop frame
			client.framesDropped.Add(1)
		}
	}
}

// sendFrames writes queued snapshots to one client's data channel
func (s *Server) sendFrames(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case data := <-client.frameChan:
			dc := client.channel.Load()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				// Not negotiated yet; snapshots are superseded quickly anyway
				client.framesDropped.Add(1)
				continue
			}
			if err := dc.Send(data); err != nil {
				logger.Warn("WebRTC", "Error sending to client %s: %v", client.id, err)
				s.RemoveClient(client.id)
				return
			}
			client.framesSent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	// Closing the connection fires state callbacks that call back in here
	client.close()
	if err := client.peerConn.Close(); err != nil {
		logger.Debug("WebRTC", "Client %s close: %v", clientID, err)
	}
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(^uint64(0))
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.framesSent.Load(), client.framesDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"frames_sent":    client.framesSent.Load(),
			"frames_dropped": client.framesDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
