// Package hub implements the worker's push channel to the control plane: a
// websocket carrying ticket-state events and user chat inbound, and
// conversation mirrors outbound.
package hub

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/logx"
	"agentd/pkg/ticket"
)

const (
	// reconnectWait bounds how long a best-effort send waits for the
	// automatic reconnect before attempting one manual restart.
	reconnectWait      = 15 * time.Second
	reconnectBaseDelay = time.Second
	queueCapacity      = 64
)

// Frame types on the wire. The hub speaks JSON frames tagged with a type.
const (
	frameRegisterWorker     = "register_worker"
	frameTicketUpdated      = "ticket_updated"
	frameChatMessage        = "chat_message"
	frameClearConversation  = "clear_conversation"
	frameSettingsUpdated    = "settings_updated"
	frameSyncConversation   = "sync_conversation"
	frameFinishConversation = "finish_conversation"
	frameResetConversation  = "reset_conversation"
)

type frame struct {
	Type           string             `json:"type"`
	TicketID       string             `json:"ticketId,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	Text           string             `json:"text,omitempty"`
	Ticket         *ticket.Ticket     `json:"ticket,omitempty"`
	LLMConfigs     []config.LLMConfig `json:"llmConfigs,omitempty"`
	Snapshot       *convo.Snapshot    `json:"snapshot,omitempty"`
}

// ChatMessage is a user message routed to a specific conversation.
type ChatMessage struct {
	ConversationID string
	Text           string
}

// ClearEvent asks the worker to reset a conversation's history.
type ClearEvent struct {
	ConversationID string
}

// Client is the durable hub connection for one ticket. Incoming events land
// in buffered queues the orchestrator drains; outgoing sends are best-effort
// and tolerate transient disconnects.
type Client struct {
	url      string
	ticketID string
	logger   *logx.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	// ticketChanged coalesces change notifications: any number of pending
	// updates collapse into one wake.
	ticketChanged chan struct{}

	chatMu     sync.Mutex
	chatQueues map[string]chan ChatMessage

	clearQueue    chan ClearEvent
	settingsQueue chan []config.LLMConfig

	cancelMu     sync.Mutex
	activeCancel context.CancelFunc

	closed chan struct{}
}

// NewClient creates an unconnected client for the given hub URL and ticket.
func NewClient(url, ticketID string, logger *logx.Logger) *Client {
	return &Client{
		url:           url,
		ticketID:      ticketID,
		logger:        logger,
		ticketChanged: make(chan struct{}, 1),
		chatQueues:    make(map[string]chan ChatMessage),
		clearQueue:    make(chan ClearEvent, queueCapacity),
		settingsQueue: make(chan []config.LLMConfig, queueCapacity),
		closed:        make(chan struct{}),
	}
}

// Connect dials the hub, registers the worker for ticket routing and starts
// the listen loop. The loop reconnects automatically until ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)
	go c.listen(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("hub dial failed: %w", err)
	}
	if err := conn.WriteJSON(frame{Type: frameRegisterWorker, TicketID: c.ticketID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("worker registration failed: %w", err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Close tears the connection down. Pending queue contents stay readable.
func (c *Client) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// listen reads frames until the context ends, reconnecting with backoff after
// read failures.
func (c *Client) listen(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		conn := c.currentConn()
		if conn == nil {
			if !c.sleepOrDone(ctx, delay) {
				return
			}
			if delay < 30*time.Second {
				delay *= 2
			}
			if conn, err := c.dial(ctx); err == nil {
				c.setConn(conn)
				delay = reconnectBaseDelay
			}
			continue
		}

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			default:
			}
			c.logger.Warn("hub read failed, reconnecting: %v", err)
			c.setConn(nil)
			continue
		}
		c.handleFrame(&f)
	}
}

func (c *Client) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) handleFrame(f *frame) {
	switch f.Type {
	case frameTicketUpdated:
		if f.Ticket == nil || f.Ticket.ID != c.ticketID {
			return
		}
		c.signalTicketChange()
		if f.Ticket.Status != ticket.StatusActive {
			c.cancelActive()
		}
	case frameChatMessage:
		if f.TicketID != c.ticketID {
			return
		}
		c.enqueueChat(ChatMessage{ConversationID: f.ConversationID, Text: f.Text})
	case frameClearConversation:
		if f.TicketID != c.ticketID {
			return
		}
		select {
		case c.clearQueue <- ClearEvent{ConversationID: f.ConversationID}:
		default:
			c.logger.Warn("clear queue full, dropping event")
		}
	case frameSettingsUpdated:
		select {
		case c.settingsQueue <- f.LLMConfigs:
		default:
			c.logger.Warn("settings queue full, dropping event")
		}
	default:
		c.logger.Debug("ignoring hub frame type %q", f.Type)
	}
}

func (c *Client) signalTicketChange() {
	select {
	case c.ticketChanged <- struct{}{}:
	default: // a wake is already pending, coalesce
	}
}

func (c *Client) enqueueChat(msg ChatMessage) {
	q := c.GetChatQueue(msg.ConversationID)
	select {
	case q <- msg:
	default:
		c.logger.Warn("chat queue for %s full, dropping message", msg.ConversationID)
	}
}

// WaitForTicketChange blocks until a change event for the bound ticket is
// observed or ctx ends. Multiple pending changes collapse into one wake.
func (c *Client) WaitForTicketChange(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ticketChanged:
		return nil
	}
}

// DrainPendingSignals clears any pending ticket-change wake without blocking.
func (c *Client) DrainPendingSignals() {
	select {
	case <-c.ticketChanged:
	default:
	}
}

// GetChatQueue returns the chat queue for a conversation, creating it on
// first use.
func (c *Client) GetChatQueue(conversationID string) chan ChatMessage {
	c.chatMu.Lock()
	defer c.chatMu.Unlock()
	q, ok := c.chatQueues[conversationID]
	if !ok {
		q = make(chan ChatMessage, queueCapacity)
		c.chatQueues[conversationID] = q
	}
	return q
}

// GetClearQueue returns the conversation-clear queue.
func (c *Client) GetClearQueue() chan ClearEvent { return c.clearQueue }

// GetSettingsQueue returns the settings-update queue.
func (c *Client) GetSettingsQueue() chan []config.LLMConfig { return c.settingsQueue }

// SetActiveCancel registers the cancellation for the current active-work
// scope; it fires when the ticket leaves the active status. Pass nil when the
// scope ends.
func (c *Client) SetActiveCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	c.activeCancel = cancel
}

func (c *Client) cancelActive() {
	c.cancelMu.Lock()
	cancel := c.activeCancel
	c.activeCancel = nil
	c.cancelMu.Unlock()
	if cancel != nil {
		c.logger.Info("ticket left active status, cancelling active work")
		cancel()
	}
}

// SyncConversation mirrors a conversation snapshot to the hub. Best-effort.
func (c *Client) SyncConversation(snapshot convo.Snapshot) {
	c.send(frame{Type: frameSyncConversation, TicketID: c.ticketID, Snapshot: &snapshot})
}

// FinishConversation marks a conversation closed on the hub. Best-effort.
func (c *Client) FinishConversation(conversationID string) {
	c.send(frame{Type: frameFinishConversation, TicketID: c.ticketID, ConversationID: conversationID})
}

// ResetConversation clears a conversation on the hub side. Best-effort.
func (c *Client) ResetConversation(conversationID string) {
	c.send(frame{Type: frameResetConversation, TicketID: c.ticketID, ConversationID: conversationID})
}

// send writes a frame, waiting out a transient disconnect while the listen
// loop reconnects, then trying one manual restart. Failures only log.
func (c *Client) send(f frame) {
	if c.trySend(f) {
		return
	}

	deadline := time.Now().Add(reconnectWait)
	for time.Now().Before(deadline) {
		select {
		case <-c.closed:
			return
		case <-time.After(500 * time.Millisecond):
		}
		if c.trySend(f) {
			return
		}
	}

	// One manual restart attempt after the automatic reconnect window.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("hub send dropped after manual restart failed: %v", err)
		return
	}
	c.setConn(conn)
	if !c.trySend(f) {
		c.logger.Warn("hub send dropped: frame type %s", f.Type)
	}
}

func (c *Client) trySend(f frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	if err := c.conn.WriteJSON(f); err != nil {
		c.conn.Close()
		c.conn = nil
		return false
	}
	return true
}
