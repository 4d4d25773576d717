package hub

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"sort"
	"sync"
	"time"

	"CarryChat/internal/event"
	"CarryChat/internal/moderation"
	"CarryChat/internal/repo"
	"CarryChat/internal/session"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Options carries the messaging-core tunables.
type Options struct {
	HandshakeTimeout time.Duration
	MaxConnsPerUser  int
	TypingTTL        time.Duration
	RateWindow       time.Duration
	RateMaxMessages  int
	MaxFrameBytes    int64
	MaxContentLen    int
	MaxAttachments   int
	WorkerPoolSize   int
	AllowedOrigins   []string
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		MaxConnsPerUser:  3,
		TypingTTL:        3 * time.Second,
		RateWindow:       60 * time.Second,
		RateMaxMessages:  60,
		MaxFrameBytes:    100 * 1024,
		MaxContentLen:    10_000,
		MaxAttachments:   3,
		WorkerPoolSize:   16,
	}
}

type inboundFrame struct {
	client *Client
	data   []byte
}

// Hub owns the connection registry: the only component that maps user
// identities to live connections. Registration and removal go through the
// actor loop; reads take the registry lock with narrow critical sections and
// never hold it across a store call.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[string]*Client // userID -> clientID -> client
	lastSeen map[string]time.Time

	register   chan *Client
	unregister chan *Client

	// One queue per worker. A connection always hashes to the same queue, so
	// its frames are handled in submission order.
	inbound []chan inboundFrame

	resolver session.Resolver
	pipeline *Pipeline
	typing   *TypingTracker

	opts   Options
	clk    clock.Clock
	logger *zap.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(store repo.MessageStore, resolver session.Resolver, filter *moderation.Filter, clk clock.Clock, logger *zap.Logger, opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.WorkerPoolSize < 1 {
		opts.WorkerPoolSize = 1
	}

	h := &Hub{
		conns:      make(map[string]map[string]*Client),
		lastSeen:   make(map[string]time.Time),
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make([]chan inboundFrame, opts.WorkerPoolSize),
		resolver:   resolver,
		opts:       opts,
		clk:        clk,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	h.typing = NewTypingTracker(opts.TypingTTL, clk, func(targetID string, ev event.TypingIndicator) {
		h.DeliverToUser(targetID, ev)
	})
	h.pipeline = NewPipeline(h, store, filter, h.typing, clk, logger, opts)

	go h.run()
	go h.typing.Run(ctx)

	for i := 0; i < opts.WorkerPoolSize; i++ {
		queue := make(chan inboundFrame, 256) // buffer for burst handling
		h.inbound[i] = queue
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in := <-queue:
					h.handleFrame(in.client, in.data)
				}
			}
		}()
	}

	return h
}

// inboundQueue maps a connection to its worker queue. Every frame from one
// connection lands on the same queue.
func (h *Hub) inboundQueue(c *Client) chan inboundFrame {
	hash := fnv.New32a()
	hash.Write([]byte(c.ID))
	return h.inbound[hash.Sum32()%uint32(len(h.inbound))]
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// -----------------------------------------------------------------
// Frame dispatch
// -----------------------------------------------------------------

func (h *Hub) handleFrame(c *Client, data []byte) {
	frame, err := event.DecodeInbound(data)
	if err != nil {
		if !c.Authenticated() {
			// Malformed traffic before authentication is a protocol
			// violation, not a retryable user error.
			c.CloseWithReason(websocket.ClosePolicyViolation, CloseReasonProtocolViolation)
			return
		}
		code := event.CodeInvalidPayload
		if errors.Is(err, event.ErrUnknownType) {
			code = event.CodeUnknownType
		}
		c.Reply(event.NewError(code, err.Error(), ""))
		return
	}

	if auth, ok := frame.(*event.Auth); ok {
		h.handleAuth(c, auth)
		return
	}

	if !c.Authenticated() {
		c.Reply(event.NewError(event.CodeNotAuthenticated, "authenticate first", ""))
		return
	}

	c.touch()

	switch f := frame.(type) {
	case *event.Typing:
		c.setTypingTarget(f.ReceiverID)
		h.typing.Start(c.UserID(), f.ReceiverID)
	case *event.StopTyping:
		c.setTypingTarget("")
		h.typing.Stop(c.UserID(), f.ReceiverID)
	case *event.SendMessage:
		c.setTypingTarget("")
		h.pipeline.HandleSend(h.ctx, c, f)
	case *event.ReadReceipt:
		h.pipeline.HandleReadReceipt(h.ctx, c, f)
	case *event.UploadProgress:
		h.pipeline.HandleUploadProgress(c, f)
	}
}

func (h *Hub) handleAuth(c *Client, auth *event.Auth) {
	if c.Authenticated() {
		// Re-auth on a live connection is a no-op.
		return
	}

	userID, err := h.resolver.Resolve(auth.Token)
	if err != nil {
		h.logger.Info("rejected connection: invalid session",
			zap.String("client_id", c.ID), zap.Error(err))
		c.CloseWithReason(websocket.ClosePolicyViolation, CloseReasonUnauthorized)
		return
	}

	// Fast-path reject. The authoritative cap check runs in addClient under
	// the registry lock, because registrations from other workers may still
	// be queued behind this one.
	if h.ConnectionCount(userID) >= h.opts.MaxConnsPerUser {
		h.logger.Info("rejected connection: per-user cap reached",
			zap.String("user_id", userID), zap.Int("cap", h.opts.MaxConnsPerUser))
		c.CloseWithReason(websocket.ClosePolicyViolation, CloseReasonTooManyConnections)
		return
	}

	c.setAuthenticated(userID)

	select {
	case h.register <- c:
	case <-h.ctx.Done():
	}
}

// -----------------------------------------------------------------
// Registry
// -----------------------------------------------------------------

func (h *Hub) addClient(c *Client) {
	userID := c.UserID()

	h.mu.Lock()
	userConns, ok := h.conns[userID]
	if ok && len(userConns) >= h.opts.MaxConnsPerUser {
		// A burst of auth frames can pass handleAuth's fast-path check
		// before any of them lands here, so the cap is enforced again under
		// the registry lock.
		h.mu.Unlock()
		h.logger.Info("rejected connection: per-user cap reached",
			zap.String("user_id", userID), zap.Int("cap", h.opts.MaxConnsPerUser))
		c.CloseWithReason(websocket.ClosePolicyViolation, CloseReasonTooManyConnections)
		return
	}
	if !ok {
		userConns = make(map[string]*Client)
		h.conns[userID] = userConns
	}
	userConns[c.ID] = c
	first := len(userConns) == 1
	delete(h.lastSeen, userID)
	h.mu.Unlock()

	h.logger.Info("client registered",
		zap.String("client_id", c.ID),
		zap.String("user_id", userID),
		zap.Bool("first_connection", first))

	// The fresh connection gets the full presence snapshot; everyone else
	// only hears about a status flip.
	c.SafeSend(event.NewOnlineUsers(h.OnlineUserIDs()), sendTimeout)

	if first {
		h.Broadcast(event.NewUserStatus(userID, StatusOnline, h.clk.Now().UnixMilli()))
	}
}

func (h *Hub) removeClient(c *Client) {
	defer c.Close()

	if !c.Authenticated() {
		// Never registered; a handshake-timeout close must not leave a
		// partially registered identity.
		return
	}
	userID := c.UserID()

	h.mu.Lock()
	last := false
	if userConns, ok := h.conns[userID]; ok {
		delete(userConns, c.ID)
		if len(userConns) == 0 {
			delete(h.conns, userID)
			h.lastSeen[userID] = h.clk.Now()
			last = true
		}
	}
	h.mu.Unlock()

	h.logger.Info("client removed",
		zap.String("client_id", c.ID),
		zap.String("user_id", userID),
		zap.Bool("last_connection", last))

	// Disconnect is an implicit typing stop.
	if last {
		h.typing.StopAllFor(userID)
	} else if target := c.TypingTarget(); target != "" {
		h.typing.Stop(userID, target)
	}

	if last {
		h.Broadcast(event.NewUserStatus(userID, StatusOffline, h.clk.Now().UnixMilli()))
	}
}

// ConnectionCount reports how many live connections a user currently holds.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// OnlineUserIDs returns a sorted snapshot of every identity with at least one
// live connection. Online status is always computed from the registry, never
// cached.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	sort.Strings(users)
	return users
}

// LastSeen returns when a now-offline user closed their last connection.
func (h *Hub) LastSeen(userID string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ts, ok := h.lastSeen[userID]
	return ts, ok
}

// DeliverToUser fans a frame out to every live connection of one user.
// Returns true if at least one connection accepted it.
func (h *Hub) DeliverToUser(userID string, frame any) bool {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns[userID]))
	for _, c := range h.conns[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range clients {
		if c.SafeSend(frame, sendTimeout) {
			delivered = true
		}
	}
	return delivered
}

// Broadcast delivers a frame to every live connection, best-effort. A
// connection that cannot accept the write is treated as already closing.
func (h *Hub) Broadcast(frame any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns))
	for _, userConns := range h.conns {
		for _, c := range userConns {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SafeSend(frame, sendTimeout)
	}
}

// Stop tears down every client and stops the worker pool. The inbound queues
// are never closed: read pumps may still be selecting a send into them, so
// the workers drain out through context cancellation instead.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.RLock()
	for _, userConns := range h.conns {
		for _, c := range userConns {
			c.Close()
		}
	}
	h.mu.RUnlock()

	h.wg.Wait()
}

// -----------------------------------------------------------------
// WebSocket upgrade
// -----------------------------------------------------------------

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.opts.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS upgrades the request and hands the connection to a new client. The
// client stays out of the registry until its auth frame resolves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	NewClient(conn, h)
}
