package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// listenCmd is one LISTEN/UNLISTEN to be executed by the receive loop,
// the sole goroutine allowed to touch the pgx connection. Routing the
// commands through it avoids the "conn busy" race between
// WaitForNotification and Exec.
type listenCmd struct {
	unlisten bool
	channel  string
	result   chan error
}

// NotifyListener holds one dedicated PostgreSQL connection in LISTEN
// mode and fans received notifications out to the local
// ConnectionManager. Each pod runs exactly one.
type NotifyListener struct {
	connString string
	conn       *pgx.Conn
	connMu     sync.Mutex
	manager    *ConnectionManager

	// desired is the set of channels that should currently be
	// LISTENed. It is the source of truth for reconnect re-LISTENs
	// and for dropping a stale UNLISTEN that lost a race against a
	// newer Subscribe.
	desired   map[string]bool
	desiredMu sync.RWMutex

	cmdCh   chan listenCmd
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener builds a listener; Start must be called before any
// Subscribe.
func NewNotifyListener(connString string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		manager:    manager,
		desired:    make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
	}
}

// Start opens the dedicated connection and launches the receive loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("notify listener started")
	return nil
}

// Subscribe LISTENs a channel. Always sent, even if the channel is
// already marked desired: PostgreSQL treats duplicate LISTEN as a
// no-op, and re-sending closes the race where a concurrent UNLISTEN
// from a prior unsubscribe lands after this call's early-return check
// would have.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	l.desiredMu.Lock()
	l.desired[channel] = true
	l.desiredMu.Unlock()

	cmd := listenCmd{channel: channel, result: make(chan error, 1)}
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			l.desiredMu.Lock()
			delete(l.desired, channel)
			l.desiredMu.Unlock()
			return fmt.Errorf("LISTEN %s: %w", channel, err)
		}
		slog.Debug("subscribed to NOTIFY channel", "channel", channel)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe UNLISTENs a channel. The channel is removed from the
// desired set up front; if a newer Subscribe re-adds it before the
// receive loop processes this command, the loop sees the channel is
// desired again and skips the UNLISTEN as stale.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.desiredMu.Lock()
	if !l.desired[channel] {
		l.desiredMu.Unlock()
		return nil
	}
	delete(l.desired, channel)
	l.desiredMu.Unlock()

	if !l.running.Load() {
		return nil
	}

	cmd := listenCmd{unlisten: true, channel: channel, result: make(chan error, 1)}
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("UNLISTEN %s: %w", channel, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isListening is polled by tests instead of sleeping.
func (l *NotifyListener) isListening(channel string) bool {
	l.desiredMu.RLock()
	defer l.desiredMu.RUnlock()
	return l.desired[channel]
}

// receiveLoop waits for notifications and executes pending
// LISTEN/UNLISTEN commands between waits.
func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.drainCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		// Short wait so pending commands on cmdCh are picked up
		// promptly even on a quiet channel set.
		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.manager.Broadcast(notification.Channel, []byte(notification.Payload))
	}
}

// drainCmds executes queued LISTEN/UNLISTEN commands. An UNLISTEN
// whose channel is desired again (re-subscribed since the command was
// queued) is acknowledged without executing.
func (l *NotifyListener) drainCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			if cmd.unlisten {
				l.desiredMu.RLock()
				resubscribed := l.desired[cmd.channel]
				l.desiredMu.RUnlock()
				if resubscribed {
					cmd.result <- nil
					continue
				}
			}

			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()
			if conn == nil {
				cmd.result <- fmt.Errorf("LISTEN connection not established")
				continue
			}

			verb := "LISTEN "
			if cmd.unlisten {
				verb = "UNLISTEN "
			}
			_, err := conn.Exec(ctx, verb+pgx.Identifier{cmd.channel}.Sanitize())
			cmd.result <- err
		default:
			return
		}
	}
}

// reconnect re-establishes the dedicated connection with exponential
// backoff and re-LISTENs every desired channel.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.desiredMu.RLock()
		for ch := range l.desired {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.desiredMu.RUnlock()

		slog.Info("notify listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection. Ordering matters: closing while WaitForNotification is
// in flight races on the pgx connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
