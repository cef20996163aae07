// Package webrtc pushes session status to browsers over a WebRTC data channel.
package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/internal/metrics"
	"github.com/dj-oyu/wefit/rep-counter/internal/webmonitor"
)

const (
	// StatusLabel is the data channel label. Browsers open it as a
	// negotiated channel with StatusChannelID before creating the offer.
	StatusLabel     = "status"
	StatusChannelID = 0
)

// Client represents a connected WebRTC client
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	channel   *webrtc.DataChannel
	sendChan  chan []byte
	closeChan chan struct{}
	opened    chan struct{}
	sent      atomic.Uint64
	dropped   atomic.Uint64
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

// NewServer creates a new WebRTC server. An empty iceServers list gathers
// host candidates only. m may be nil.
func NewServer(iceServers []string, maxClients int, m *metrics.Metrics) *Server {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		servers = append(servers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only; no media codecs are registered.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: servers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("expected offer, got %q", offer.Type.String())
	}

	s.clientsMu.RLock()
	numClients := len(s.clients)
	s.clientsMu.RUnlock()

	if numClients >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", webmonitor.ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	negotiated := true
	id := uint16(StatusChannelID)
	channel, err := peerConn.CreateDataChannel(StatusLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	client := &Client{
		id:        "client-" + uuid.NewString(),
		peerConn:  peerConn,
		channel:   channel,
		sendChan:  make(chan []byte, 8),
		closeChan: make(chan struct{}),
		opened:    make(chan struct{}),
	}

	channel.OnOpen(func() {
		logger.Debug("WebRTC", "Client %s status channel open", client.id)
		close(client.opened)
	})
	channel.OnClose(func() {
		s.RemoveClient(client.id)
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

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.updateClientMetricLocked()
	s.clientsMu.Unlock()

	go s.sendStatus(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// Broadcast queues a status message for every client without blocking.
func (s *Server) Broadcast(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.sendChan <- data:
		default:
			client.dropped.Add(1)
		}
	}
}

// Relay forwards status events until events is closed.
func (s *Server) Relay(events <-chan *webmonitor.SerializedEvent) {
	for event := range events {
		s.Broadcast(event.JSONData)
	}
}

// sendStatus writes queued messages once the channel is open.
func (s *Server) sendStatus(client *Client) {
	select {
	case <-client.opened:
	case <-client.closeChan:
		return
	}

	for {
		select {
		case <-client.closeChan:
			return
		case data := <-client.sendChan:
			if err := client.channel.SendText(string(data)); err != nil {
				logger.Warn("WebRTC", "Error sending status to client %s: %v", client.id, err)
				return
			}
			client.sent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID. Safe to call repeatedly and from
// pion callbacks.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
		s.updateClientMetricLocked()
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	// Closing the peer fires state callbacks that re-enter RemoveClient,
	// so it happens outside the lock.
	close(client.closeChan)
	if err := client.peerConn.Close(); err != nil {
		logger.Debug("WebRTC", "Client %s close: %v", clientID, err)
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.sent.Load(), client.dropped.Load())
}

func (s *Server) updateClientMetricLocked() {
	if s.metrics != nil {
		s.metrics.DataChannels.Store(uint64(len(s.clients)))
	}
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
			"messages_sent":    client.sent.Load(),
			"messages_dropped": client.dropped.Load(),
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
