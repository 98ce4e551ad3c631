// Package engine is the composition root: it wires the credential
// monitor, connection manager, router, feed, presence tracker, and
// read-state reconciler into one per-session engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edupulse/edupulse/internal/api"
	"github.com/edupulse/edupulse/internal/conn"
	"github.com/edupulse/edupulse/internal/credential"
	"github.com/edupulse/edupulse/internal/feed"
	"github.com/edupulse/edupulse/internal/model"
	"github.com/edupulse/edupulse/internal/presence"
	"github.com/edupulse/edupulse/internal/readsync"
	"github.com/edupulse/edupulse/internal/router"
)

// persistTimeout bounds the final feed write during shutdown.
const persistTimeout = 5 * time.Second

// Engine runs one authenticated session: a single connection, one merged
// feed, one presence map. Construct once per session and share by
// reference; consumers observe the feed and presence stores and act
// through the engine's mutating methods.
type Engine struct {
	cfg        *model.AppConfig
	monitor    *credential.Monitor
	client     *api.Client
	manager    *conn.Manager
	router     *router.Router
	feed       *feed.Store
	presence   *presence.Tracker
	reconciler *readsync.Reconciler
	persist    *feed.PersistStore
	log        *slog.Logger

	// snapToken implements latest-request-wins for snapshot fetches: a
	// response is applied only if no newer fetch started meanwhile.
	snapToken atomic.Uint64

	mu      sync.Mutex
	cur     *conn.Conn
	userID  string
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	triggerCh chan struct{}
}

// New wires an engine from configuration. persist may be nil, in which
// case the feed is memory-only.
func New(cfg *model.AppConfig, monitor *credential.Monitor, persist *feed.PersistStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:       cfg,
		monitor:   monitor,
		persist:   persist,
		feed:      feed.NewStore(cfg.Feed.Capacity, logger),
		presence:  presence.NewTracker(),
		log:       logger,
		triggerCh: make(chan struct{}, 1),
	}

	e.client = api.NewClient(cfg.Server.BaseURL, func() string {
		sess, err := monitor.Current()
		if err != nil {
			return ""
		}
		return sess.Token
	})
	e.manager = conn.NewManager(cfg.Server.WSURL, monitor, logger)
	e.router = router.New(e.feed, e.presence, e.feed, logger)
	e.reconciler = readsync.New(e.feed, e.client, e.currentBroadcaster, logger)

	// Forced logout must also destroy the connection.
	monitor.OnTeardown(e.manager.Close)

	return e
}

// Feed exposes the merge store to observers.
func (e *Engine) Feed() *feed.Store { return e.feed }

// Presence exposes the presence tracker to observers.
func (e *Engine) Presence() *presence.Tracker { return e.presence }

// Start restores the persisted feed, establishes the connection, and
// begins the snapshot poll. It returns conn.ErrNoCredential when no valid
// session exists.
func (e *Engine) Start(ctx context.Context) error {
	sess, err := e.monitor.Current()
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return conn.ErrNoCredential
		}
		return fmt.Errorf("reading session: %w", err)
	}
	if !e.monitor.Valid(sess) {
		e.monitor.ForceLogout("session credential expired")
		return conn.ErrNoCredential
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.running = true
	e.userID = sess.UserID
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	// Seed the feed from durable storage so it is non-empty before the
	// first snapshot arrives.
	if e.persist != nil {
		restored, err := e.persist.LoadFeed(runCtx, sess.UserID)
		if err != nil {
			e.log.Warn("restoring persisted feed", "error", err)
		} else if len(restored) > 0 {
			e.feed.LoadSnapshot(restored)
		}
	}

	e.wg.Add(2)
	go e.connectionLoop(runCtx)
	go e.pollLoop(runCtx)
	return nil
}

// Stop shuts the session down: the subscription ends, the most recent
// feed slice is persisted, and the connection is closed.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	userID := e.userID
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.manager.Close()

	if e.persist != nil && userID != "" {
		ctx, cancelPersist := context.WithTimeout(context.Background(), persistTimeout)
		defer cancelPersist()
		if err := e.persist.SaveFeed(ctx, userID, e.feed.Recent(e.cfg.Feed.PersistSize)); err != nil {
			e.log.Warn("persisting feed", "error", err)
		}
	}
}

// RefreshNow requests an immediate snapshot fetch.
func (e *Engine) RefreshNow() {
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

// MarkRead flips one notification read locally and acknowledges it to the
// server best-effort. Local state is not rolled back on ack failure.
func (e *Engine) MarkRead(ctx context.Context, id string) bool {
	changed := e.feed.MarkRead(id)
	if changed && !model.IsProvisional(id) {
		if err := e.client.MarkNotificationRead(ctx, id); err != nil {
			e.log.Warn("read ack failed", "id", id, "error", err)
		}
	}
	return changed
}

// MarkAllRead flips every unread notification and acknowledges each
// server-backed one best-effort.
func (e *Engine) MarkAllRead(ctx context.Context) int {
	changed := e.feed.MarkAllRead()
	for _, id := range changed {
		if model.IsProvisional(id) {
			continue
		}
		if err := e.client.MarkNotificationRead(ctx, id); err != nil {
			e.log.Warn("read ack failed", "id", id, "error", err)
		}
	}
	return len(changed)
}

// MarkThreadRead reconciles a thread read across local state, REST, and
// the push broadcast.
func (e *Engine) MarkThreadRead(ctx context.Context, partnerID string) int {
	return len(e.reconciler.MarkThreadRead(ctx, partnerID))
}

// FetchThread returns the message history of a direct thread.
func (e *Engine) FetchThread(ctx context.Context, partnerID string) ([]model.ChatMessage, error) {
	msgs, err := e.client.FetchThread(ctx, partnerID)
	if err != nil {
		return nil, e.checkAuth(err)
	}
	return msgs, nil
}

// SendChat sends a direct message and returns the persisted copy.
func (e *Engine) SendChat(ctx context.Context, partnerID, body string) (*model.ChatMessage, error) {
	msg, err := e.client.SendMessage(ctx, partnerID, body)
	if err != nil {
		return nil, e.checkAuth(err)
	}
	return msg, nil
}

// connectionLoop keeps a connection attached to the router for the life
// of the session. When a connection dies the manager redials with the
// latest credential; when the credential is gone the loop ends.
func (e *Engine) connectionLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		c, err := e.manager.Get(ctx)
		if err != nil {
			if errors.Is(err, conn.ErrNoCredential) || ctx.Err() != nil {
				return
			}
			e.log.Warn("connection unavailable", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		e.mu.Lock()
		e.cur = c
		e.mu.Unlock()

		sub := e.router.Attach(c)
		select {
		case <-ctx.Done():
			sub.Cancel()
			return
		case <-sub.Done():
			// Connection lost; presence will be rebuilt from the next
			// bulk snapshot after reconnect.
			e.mu.Lock()
			e.cur = nil
			e.mu.Unlock()
		}
	}
}

// pollLoop periodically reconciles the feed against the REST snapshot.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.Feed.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial fetch immediately.
	e.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refresh(ctx)
		case <-e.triggerCh:
			e.refresh(ctx)
		}
	}
}

// refresh fetches one snapshot and merges it, unless a newer fetch
// started while this one was in flight. A failed fetch leaves the
// previously-loaded feed untouched.
func (e *Engine) refresh(ctx context.Context) {
	token := e.snapToken.Add(1)

	items, err := e.client.FetchNotifications(ctx, e.cfg.Feed.SnapshotLimit)
	if err != nil {
		if api.IsAuthError(err) {
			e.monitor.ForceLogout("credential rejected by server")
			return
		}
		if ctx.Err() == nil {
			e.log.Warn("snapshot fetch failed", "error", err)
		}
		return
	}

	if e.snapToken.Load() != token {
		e.log.Debug("discarding stale snapshot")
		return
	}
	e.feed.LoadSnapshot(items)
}

// checkAuth routes auth failures on REST calls into a forced logout
// before handing the error back.
func (e *Engine) checkAuth(err error) error {
	if api.IsAuthError(err) {
		e.monitor.ForceLogout("credential rejected by server")
	}
	return err
}

// currentBroadcaster returns the live connection, or nil when offline.
func (e *Engine) currentBroadcaster() readsync.Broadcaster {
	e.mu.Lock()
	c := e.cur
	e.mu.Unlock()
	if c == nil || !c.Alive() {
		return nil
	}
	return c
}
