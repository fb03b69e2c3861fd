package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
	"gridsync/internal/core/services"
	"gridsync/internal/infrastructure/monitoring"
	"gridsync/pkg/utils"
	"gridsync/pkg/validation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ConnectionIndex mirrors local connections into a store shared by all
// gateway instances. Optional; nil when running single-instance.
type ConnectionIndex interface {
	RegisterConnection(ctx context.Context, connID domain.ConnectionID, userID domain.UserID) error
	UnregisterConnection(ctx context.Context, connID domain.ConnectionID) error
	RefreshConnection(ctx context.Context, connID domain.ConnectionID) error
}

// WebSocketServer is the realtime gateway. Clients authenticate with a JWT,
// get a permission snapshot loaded for their connection, and subscribe to
// tenant-scoped channels. It doubles as the ConnectionRegistry the
// revocation propagator walks.
type WebSocketServer struct {
	authService services.AuthService
	cache       *services.PermissionCache
	subs        ports.SubscriptionRegistry
	repo        ports.MembershipRepository
	records     ports.RecordRepository
	collector   *monitoring.PrometheusCollector
	index       ConnectionIndex

	connections map[domain.ConnectionID]*clientSocket
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

type GatewayMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	TenantID domain.TenantID `json:"tenant_id"`
	Channel  string          `json:"channel"`
}

type UnsubscribePayload struct {
	TenantID domain.TenantID `json:"tenant_id"`
	Channel  string          `json:"channel"`
}

type FetchRecordsPayload struct {
	TenantID domain.TenantID `json:"tenant_id"`
	Channel  string          `json:"channel"`
	Limit    int             `json:"limit,omitempty"`
}

// clientSocket wraps a websocket connection behind a write mutex so the
// propagator and the message loop can both push frames safely.
type clientSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (s *clientSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *clientSocket) Close() error {
	return s.conn.Close()
}

func (s *clientSocket) sendJSON(data interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.Send(encoded)
}

func NewWebSocketServer(
	authService services.AuthService,
	cache *services.PermissionCache,
	subs ports.SubscriptionRegistry,
	repo ports.MembershipRepository,
	collector *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		authService:  authService,
		cache:        cache,
		subs:         subs,
		repo:         repo,
		collector:    collector,
		connections:  make(map[domain.ConnectionID]*clientSocket),
		pingInterval: 30 * time.Second, // Default ping interval
		pongTimeout:  60 * time.Second, // Default pong timeout
		readTimeout:  60 * time.Second, // Default read timeout
		writeTimeout: 10 * time.Second, // Default write timeout
		logger:       logger,
	}
}

// SetConnectionIndex enables mirroring connections into a shared index
func (s *WebSocketServer) SetConnectionIndex(index ConnectionIndex) {
	s.index = index
}

// SetRecordSource enables client-initiated record fetches from the given
// backlog store.
func (s *WebSocketServer) SetRecordSource(records ports.RecordRepository) {
	s.records = records
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets pong timeout for WebSocket connections
func (s *WebSocketServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := s.authService.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := domain.ConnectionID(utils.GenerateConnectionID())
	socket := &clientSocket{conn: conn, writeTimeout: s.writeTimeout}

	// A failed permission load closes the connection: an unknown
	// authorization state must not be treated as "no access granted yet".
	if _, err := s.cache.LoadPermissions(r.Context(), connID, claims.UserID); err != nil {
		s.logger.Errorw("failed to load permissions on connect",
			"connection_id", connID,
			"user_id", claims.UserID,
			"error", err,
		)
		if s.collector != nil {
			s.collector.PermissionLoadFailed()
		}
		socket.sendJSON(map[string]interface{}{
			"type":    "error",
			"message": "failed to load permissions",
		})
		return
	}

	s.mu.Lock()
	s.connections[connID] = socket
	s.mu.Unlock()

	if s.index != nil {
		if err := s.index.RegisterConnection(r.Context(), connID, claims.UserID); err != nil {
			s.logger.Warnw("failed to register connection in shared index",
				"connection_id", connID,
				"error", err,
			)
		}
	}

	if s.collector != nil {
		s.collector.ConnectionOpened()
		s.collector.PermissionLoaded()
		s.collector.SetCachedSnapshots(s.cache.ActiveConnectionCount())
	}

	s.logger.Infow("client connected",
		"connection_id", connID,
		"user_id", claims.UserID,
	)

	socket.sendJSON(map[string]interface{}{
		"type":          "connected",
		"connection_id": connID,
	})

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan GatewayMessage, 10)
	errorChan := make(chan error, 1)

	// Start message reader goroutine
	go func() {
		for {
			var msg GatewayMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(r.Context(), connID, socket, msg); err != nil {
				s.logger.Infow("error handling message", "connection_id", connID, "error", err)
				socket.sendJSON(map[string]interface{}{
					"type":    "error",
					"message": err.Error(),
				})
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "connection_id", connID, "error", err)
				goto cleanup
			}
			if s.index != nil {
				s.index.RefreshConnection(r.Context(), connID)
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "connection_id", connID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	delete(s.connections, connID)
	s.mu.Unlock()

	s.subs.RemoveConnection(connID)
	s.cache.RemoveConnection(connID)

	if s.index != nil {
		if err := s.index.UnregisterConnection(context.Background(), connID); err != nil {
			s.logger.Warnw("failed to unregister connection from shared index",
				"connection_id", connID,
				"error", err,
			)
		}
	}

	if s.collector != nil {
		s.collector.ConnectionClosed()
		s.collector.SetCachedSnapshots(s.cache.ActiveConnectionCount())
	}

	s.logger.Infow("client disconnected", "connection_id", connID)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, connID domain.ConnectionID, socket *clientSocket, msg GatewayMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	switch msg.Type {
	case "subscribe":
		return s.handleSubscribe(ctx, connID, socket, msg)
	case "unsubscribe":
		return s.handleUnsubscribe(connID, socket, msg)
	case "fetch_records":
		return s.handleFetchRecords(ctx, connID, socket, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleSubscribe(ctx context.Context, connID domain.ConnectionID, socket *clientSocket, msg GatewayMessage) error {
	var payload SubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid subscribe payload: %w", err)
	}
	if err := validation.ValidateTenantID(string(payload.TenantID)); err != nil {
		return err
	}
	if err := validation.ValidateChannel(payload.Channel); err != nil {
		return err
	}

	// Any membership grants read feeds; the cache answers false on expiry,
	// which forces a refresh before new subscriptions are accepted.
	if !s.cache.HasRole(connID, payload.TenantID, domain.RoleViewer) {
		// A live connection with no snapshot means the TTL lapsed.
		if s.collector != nil && s.cache.GetConnectionPermissions(connID) == nil {
			s.collector.ExpiredLookup()
		}
		if _, err := s.cache.RefreshPermissions(ctx, connID); err != nil {
			return fmt.Errorf("failed to refresh permissions: %w", err)
		}
		if !s.cache.HasRole(connID, payload.TenantID, domain.RoleViewer) {
			return fmt.Errorf("not authorized for tenant %s", payload.TenantID)
		}
	}

	s.subs.Subscribe(connID, payload.TenantID, payload.Channel)

	s.logger.Infow("subscribed",
		"connection_id", connID,
		"tenant_id", payload.TenantID,
		"channel", payload.Channel,
	)

	return socket.sendJSON(map[string]interface{}{
		"type":      "subscribed",
		"tenant_id": payload.TenantID,
		"channel":   payload.Channel,
	})
}

func (s *WebSocketServer) handleUnsubscribe(connID domain.ConnectionID, socket *clientSocket, msg GatewayMessage) error {
	var payload UnsubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid unsubscribe payload: %w", err)
	}
	if payload.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	s.subs.Unsubscribe(connID, payload.TenantID, payload.Channel)

	return socket.sendJSON(map[string]interface{}{
		"type":      "unsubscribed",
		"tenant_id": payload.TenantID,
		"channel":   payload.Channel,
	})
}

// handleFetchRecords replies with the channel's backlog filtered for the
// requesting connection's user. The filter is the authorization gate here;
// no subscription is required, and a user with no membership in the tenant
// gets an empty batch rather than an error.
func (s *WebSocketServer) handleFetchRecords(ctx context.Context, connID domain.ConnectionID, socket *clientSocket, msg GatewayMessage) error {
	var payload FetchRecordsPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid fetch_records payload: %w", err)
	}
	if err := validation.ValidateTenantID(string(payload.TenantID)); err != nil {
		return err
	}
	if err := validation.ValidateChannel(payload.Channel); err != nil {
		return err
	}

	if s.records == nil {
		return fmt.Errorf("record fetch is not available")
	}

	userID, ok := s.cache.UserIDFor(connID)
	if !ok {
		return fmt.Errorf("connection has no permission snapshot")
	}

	records, err := s.records.ListByChannel(ctx, payload.TenantID, payload.Channel, payload.Limit)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	start := time.Now()
	result, err := services.FilterRecordsForUser(ctx, userID, payload.TenantID, records, s.repo)
	if err != nil {
		return fmt.Errorf("failed to filter records: %w", err)
	}
	if s.collector != nil {
		s.collector.RecordFilterPass(len(result.Allowed), result.DeniedCount, time.Since(start))
	}

	return socket.sendJSON(map[string]interface{}{
		"type":      "records",
		"tenant_id": payload.TenantID,
		"channel":   payload.Channel,
		"records":   result.Allowed,
	})
}

// PushRecords fans a record batch out to every connection subscribed to the
// channel, filtering each connection's copy against a fresh membership read.
// Send failures are logged and skipped; a dead client is cleaned up by its
// own read loop.
func (s *WebSocketServer) PushRecords(ctx context.Context, tenantID domain.TenantID, channel string, records []domain.Record) error {
	s.mu.RLock()
	targets := make(map[domain.ConnectionID]*clientSocket, len(s.connections))
	for connID, socket := range s.connections {
		targets[connID] = socket
	}
	s.mu.RUnlock()

	for connID, socket := range targets {
		subscribed := false
		for _, ch := range s.subs.SubscriptionsForConnection(connID)[tenantID] {
			if ch == channel {
				subscribed = true
				break
			}
		}
		if !subscribed {
			continue
		}

		userID, ok := s.cache.UserIDFor(connID)
		if !ok {
			continue
		}

		start := time.Now()
		result, err := services.FilterRecordsForUser(ctx, userID, tenantID, records, s.repo)
		if err != nil {
			return fmt.Errorf("failed to filter records for connection %s: %w", connID, err)
		}
		if s.collector != nil {
			s.collector.RecordFilterPass(len(result.Allowed), result.DeniedCount, time.Since(start))
		}

		if len(result.Allowed) == 0 {
			continue
		}

		err = socket.sendJSON(map[string]interface{}{
			"type":      "records",
			"tenant_id": tenantID,
			"channel":   channel,
			"records":   result.Allowed,
		})
		if err != nil {
			s.logger.Infow("failed to push records",
				"connection_id", connID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	return nil
}

// GetConnection implements ports.ConnectionRegistry.
func (s *WebSocketServer) GetConnection(connID domain.ConnectionID) (ports.ClientSocket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	socket, exists := s.connections[connID]
	return socket, exists
}

// ConnectionIDs implements ports.ConnectionRegistry.
func (s *WebSocketServer) ConnectionIDs() []domain.ConnectionID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.ConnectionID, 0, len(s.connections))
	for connID := range s.connections {
		ids = append(ids, connID)
	}
	return ids
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
