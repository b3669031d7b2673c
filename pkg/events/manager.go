package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit caps how many persisted events one catchup response may
// replay. Past that, the client is told to do a full REST reload
// instead of paginating catchup frames.
const catchupLimit = 200

// listenTimeout bounds the synchronous LISTEN issued on a channel's
// first subscriber, so a stalled listener connection can't wedge a
// client's read loop.
const listenTimeout = 10 * time.Second

// ConnectionManager owns every WebSocket client of one pod and their
// channel subscriptions. Frames published on other pods arrive through
// the NotifyListener and fan out via Broadcast.
type ConnectionManager struct {
	conns   map[string]*Connection // connection id → connection
	connsMu sync.RWMutex

	subscribers map[string]map[string]bool // channel → connection ids
	subMu       sync.RWMutex

	catchup CatchupQuerier

	listener   *NotifyListener
	listenerMu sync.RWMutex

	writeTimeout time.Duration
}

// Connection is one WebSocket client.
//
// channels is touched only from the goroutine running HandleConnection
// (its read loop and deferred cleanup), so it needs no lock. That
// holds as long as nothing outside this file mutates a Connection.
type Connection struct {
	ID       string
	Conn     *websocket.Conn
	channels map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConnectionManager builds a manager; catchup may be nil for
// deployments that don't replay missed events.
func NewConnectionManager(catchup CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		conns:        make(map[string]*Connection),
		subscribers:  make(map[string]map[string]bool),
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// SetListener attaches the NotifyListener used for dynamic
// LISTEN/UNLISTEN. Called once at startup, after both sides exist.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection runs one WebSocket client's lifecycle: register,
// announce, then loop over inbound frames until the peer goes away.
// Blocks for the life of the connection.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:       uuid.New().String(),
		Conn:     conn,
		channels: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.ID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid websocket frame", "connection_id", c.ID, "error", err)
			continue
		}
		m.dispatch(ctx, c, &msg)
	}
}

// Broadcast sends a raw event frame to every subscriber of channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.subMu.RLock()
	ids := make([]string, 0, len(m.subscribers[channel]))
	for id := range m.subscribers[channel] {
		ids = append(ids, id)
	}
	m.subMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	// Snapshot connection pointers, then send without holding either
	// lock: a slow client write (up to writeTimeout) must not stall
	// register/unregister.
	m.connsMu.RLock()
	targets := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	m.connsMu.RUnlock()

	for _, c := range targets {
		if err := m.sendRaw(c, event); err != nil {
			slog.Warn("websocket send failed", "connection_id", c.ID, "error", err)
		}
	}
}

// ActiveConnections returns the live client count, reported by the
// health endpoint.
func (m *ConnectionManager) ActiveConnections() int {
	m.connsMu.RLock()
	defer m.connsMu.RUnlock()
	return len(m.conns)
}

// subscriberCount is polled by tests instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscribers[channel])
}

func (m *ConnectionManager) dispatch(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		if err := m.subscribe(c, msg.Channel); err != nil {
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"channel": msg.Channel,
				"message": "failed to subscribe to channel",
			})
			return
		}
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Replay everything already persisted so a late subscriber
		// starts from a complete picture.
		m.replay(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.AfterCursor != nil {
			m.replay(ctx, c, msg.Channel, *msg.AfterCursor)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe adds the connection to a channel, issuing a synchronous
// LISTEN when it is the channel's first subscriber. LISTEN completing
// before the subsequent replay closes the window where an event
// published between the two would be lost. A LISTEN failure is
// returned so the caller reports it instead of confirming a
// subscription that will never deliver.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.subMu.Lock()
	first := false
	if _, ok := m.subscribers[channel]; !ok {
		m.subscribers[channel] = make(map[string]bool)
		first = true
	}
	m.subscribers[channel][c.ID] = true
	m.subMu.Unlock()

	if first {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
			defer listenCancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("LISTEN failed", "channel", channel, "error", err)
				m.dropFailedChannel(c, channel)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	c.channels[channel] = true
	return nil
}

// dropFailedChannel removes a channel whose LISTEN failed, notifying
// any other connection that raced in after the channel entry was
// created (they saw an existing entry, skipped LISTEN, and were
// confirmed against a subscription that never reached PostgreSQL).
// Clients treat subscription.error as authoritative: discard prior
// frames for the channel and re-subscribe or fall back to REST.
func (m *ConnectionManager) dropFailedChannel(triggering *Connection, channel string) {
	m.subMu.Lock()
	orphaned := make([]string, 0, len(m.subscribers[channel]))
	for id := range m.subscribers[channel] {
		if id != triggering.ID {
			orphaned = append(orphaned, id)
		}
	}
	delete(m.subscribers, channel)
	m.subMu.Unlock()

	if len(orphaned) == 0 {
		return
	}

	m.connsMu.RLock()
	targets := make([]*Connection, 0, len(orphaned))
	for _, id := range orphaned {
		if c, ok := m.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	m.connsMu.RUnlock()

	for _, c := range targets {
		slog.Warn("dropping orphaned subscriber after LISTEN failure",
			"connection_id", c.ID, "channel", channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "channel listen failed; subscription removed",
		})
	}
}

// unsubscribe removes the connection from a channel and, when it was
// the last subscriber, UNLISTENs in the background. The goroutine
// re-checks membership first: a rapid unsubscribe/resubscribe cycle
// must not drop a LISTEN a newer subscriber depends on.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.subMu.Lock()
	if subs, ok := m.subscribers[channel]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.subscribers, channel)
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					m.subMu.RLock()
					_, resubscribed := m.subscribers[channel]
					m.subMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("UNLISTEN failed", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.subMu.Unlock()

	delete(c.channels, channel)
}

// replay sends persisted events after the cursor, stamping each frame
// with its row id so the client can track position across reconnects.
func (m *ConnectionManager) replay(ctx context.Context, c *Connection, channel string, afterCursor int) {
	if m.catchup == nil {
		return
	}

	evts, err := m.catchup.GetCatchupEvents(ctx, channel, afterCursor, catchupLimit+1)
	if err != nil {
		slog.Error("catchup query failed", "channel", channel, "error", err)
		return
	}

	overflow := len(evts) > catchupLimit
	if overflow {
		evts = evts[:catchupLimit]
	}

	for _, evt := range evts {
		evt.Payload["cursor"] = evt.Cursor
		frame, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, frame); err != nil {
			slog.Warn("catchup send failed", "connection_id", c.ID, "error", err)
			return
		}
	}

	if overflow {
		m.sendJSON(c, map[string]any{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.connsMu.Lock()
	defer m.connsMu.Unlock()
	m.conns[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	for ch := range c.channels {
		m.unsubscribe(c, ch)
	}

	m.connsMu.Lock()
	delete(m.conns, c.ID)
	m.connsMu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal websocket frame failed", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("websocket send failed", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
