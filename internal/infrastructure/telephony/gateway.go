package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/config"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/dispatch"
)

// command is one outbound frame to the telephony gateway.
type command struct {
	Action    string    `json:"action"`
	CallID    uuid.UUID `json:"call_id"`
	Phone     string    `json:"phone,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives each decoded gateway event.
type EventHandler func(ev dispatch.Event)

// Gateway speaks the telephony collaborator's websocket protocol: JSON
// command frames out, JSON event frames in. It implements the dispatcher's
// transport. A lost connection is re-established with backoff; events for
// calls placed before the drop still arrive once the gateway replays them.
type Gateway struct {
	cfg     config.TelephonyConfig
	logger  *zap.Logger
	handler EventHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewGateway connects to the gateway and starts the read loop.
func NewGateway(cfg config.TelephonyConfig, handler EventHandler, logger *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}
	if err := g.connect(); err != nil {
		return nil, err
	}
	go g.readLoop()
	go g.pingLoop()
	return g, nil
}

func (g *Gateway) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: g.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(g.cfg.GatewayURL, nil)
	if err != nil {
		return fmt.Errorf("gateway dial failed: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	g.logger.Info("telephony gateway connected", zap.String("url", g.cfg.GatewayURL))
	return nil
}

// Dial asks the gateway to originate a call.
func (g *Gateway) Dial(ctx context.Context, callID uuid.UUID, phone values.PhoneNumber) error {
	return g.send(ctx, command{
		Action:    "dial",
		CallID:    callID,
		Phone:     phone.String(),
		Timestamp: time.Now().UTC(),
	})
}

// Hangup terminates a call.
func (g *Gateway) Hangup(ctx context.Context, callID uuid.UUID, reason string) error {
	return g.send(ctx, command{
		Action:    "hangup",
		CallID:    callID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// PlayMessage plays a prerecorded message into the call.
func (g *Gateway) PlayMessage(ctx context.Context, callID uuid.UUID, messageID string) error {
	return g.send(ctx, command{
		Action:    "play_message",
		CallID:    callID,
		MessageID: messageID,
		Timestamp: time.Now().UTC(),
	})
}

// TransferToAgent bridges the call to an agent's endpoint.
func (g *Gateway) TransferToAgent(ctx context.Context, callID uuid.UUID, agentID uuid.UUID) error {
	return g.send(ctx, command{
		Action:    "transfer",
		CallID:    callID,
		AgentID:   agentID.String(),
		Timestamp: time.Now().UTC(),
	})
}

// Close shuts the connection down and stops reconnecting.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

func (g *Gateway) send(ctx context.Context, cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("gateway not connected")
	}

	deadline := time.Now().Add(g.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := g.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := g.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gateway write failed: %w", err)
	}
	return nil
}

// readLoop decodes inbound event frames and hands them to the dispatcher.
// Malformed frames are logged and dropped; a read error triggers reconnect.
func (g *Gateway) readLoop() {
	for {
		g.mu.Lock()
		conn := g.conn
		closed := g.closed
		g.mu.Unlock()
		if closed {
			return
		}
		if conn == nil {
			time.Sleep(g.cfg.ReconnectBackoff)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if g.reconnect(conn, err) {
				continue
			}
			return
		}

		var ev dispatch.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			g.logger.Warn("malformed gateway event", zap.Error(err))
			continue
		}
		if ev.CallID == uuid.Nil || ev.Type == "" {
			g.logger.Warn("incomplete gateway event", zap.ByteString("frame", data))
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		g.handler(ev)
	}
}

// reconnect replaces a dead connection. Returns false when the gateway was
// closed deliberately.
func (g *Gateway) reconnect(dead *websocket.Conn, cause error) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	if g.conn == dead {
		g.conn.Close()
		g.conn = nil
	}
	g.mu.Unlock()

	g.logger.Warn("gateway connection lost, reconnecting", zap.Error(cause))
	for {
		time.Sleep(g.cfg.ReconnectBackoff)

		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return false
		}
		g.mu.Unlock()

		if err := g.connect(); err != nil {
			g.logger.Warn("gateway reconnect failed", zap.Error(err))
			continue
		}
		return true
	}
}

func (g *Gateway) pingLoop() {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return
		}
		conn := g.conn
		if conn != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
		g.mu.Unlock()
	}
}
