package hub

import (
	"context"
	"testing"
	"time"

	"CarryChat/internal/event"
	"CarryChat/internal/moderation"
	"CarryChat/internal/session"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticResolver maps credentials to user ids without JWT machinery.
type staticResolver map[string]string

func (r staticResolver) Resolve(credential string) (string, error) {
	if userID, ok := r[credential]; ok {
		return userID, nil
	}
	return "", session.ErrInvalidSession
}

func newTestHub(resolver session.Resolver) (*Hub, *fakeStore, *clock.Mock) {
	store := newFakeStore()
	mock := clock.NewMock()
	h := NewHub(store, resolver, moderation.NewFilter(), mock, zap.NewNop(), DefaultOptions())
	return h, store, mock
}

// newUnauthClient builds a client without a transport, so registry and
// handshake behavior can be exercised directly. The real handshake timer is
// armed; it only fires when a test advances the hub's mock clock.
func newUnauthClient(h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:         uuid.New().String(),
		hub:        h,
		egress:     make(chan any, sendBufSize),
		limiter:    NewLimiter(h.clk, h.opts.RateWindow, h.opts.RateMaxMessages),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}
	c.armHandshakeTimer()
	return c
}

func newBareClient(h *Hub, userID string) *Client {
	c := newUnauthClient(h)
	c.setAuthenticated(userID)
	return c
}

// drain empties a client's egress buffer.
func drain(c *Client) []any {
	var frames []any
	for {
		select {
		case frame := <-c.egress:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func TestRegistry_RegisterSendsSnapshotAndBroadcast(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{})
	defer h.Stop()

	a := newBareClient(h, "A")
	h.addClient(a)

	frames := drain(a)
	require.Len(t, frames, 2)

	snapshot, ok := frames[0].(event.OnlineUsers)
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, snapshot.Users)

	status, ok := frames[1].(event.UserStatus)
	require.True(t, ok)
	assert.Equal(t, "A", status.UserID)
	assert.Equal(t, StatusOnline, status.Status)

	b := newBareClient(h, "B")
	h.addClient(b)

	// the fresh connection gets the full snapshot, A only the flip
	bFrames := drain(b)
	require.Len(t, bFrames, 2)
	assert.Equal(t, []string{"A", "B"}, bFrames[0].(event.OnlineUsers).Users)

	aFrames := drain(a)
	require.Len(t, aFrames, 1)
	assert.Equal(t, "B", aFrames[0].(event.UserStatus).UserID)
}

func TestRegistry_SecondConnectionNoStatusChange(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{})
	defer h.Stop()

	a1 := newBareClient(h, "A")
	h.addClient(a1)
	drain(a1)

	a2 := newBareClient(h, "A")
	h.addClient(a2)

	assert.Equal(t, 2, h.ConnectionCount("A"))

	// no duplicate online broadcast for an already-online identity
	assert.Empty(t, drain(a1))

	// removing one of two connections flips nothing
	h.removeClient(a2)
	assert.Equal(t, 1, h.ConnectionCount("A"))
	assert.Empty(t, drain(a1))
	assert.Equal(t, []string{"A"}, h.OnlineUserIDs())
}

func TestRegistry_LastConnectionGoesOffline(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{})
	defer h.Stop()

	a := newBareClient(h, "A")
	b := newBareClient(h, "B")
	h.addClient(a)
	h.addClient(b)
	drain(a)
	drain(b)

	h.removeClient(a)

	assert.Equal(t, []string{"B"}, h.OnlineUserIDs())

	_, seen := h.LastSeen("A")
	assert.True(t, seen)

	frames := drain(b)
	require.Len(t, frames, 1)
	status := frames[0].(event.UserStatus)
	assert.Equal(t, "A", status.UserID)
	assert.Equal(t, StatusOffline, status.Status)
}

func TestRegistry_UnauthenticatedRemovalIsNoop(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{})
	defer h.Stop()

	c := newUnauthClient(h)

	h.removeClient(c)

	assert.Empty(t, h.OnlineUserIDs())
	assert.True(t, c.IsClosed())
}

func TestHandleAuth_InvalidCredentialNeverRegisters(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{"good": "A"})
	defer h.Stop()

	c := newUnauthClient(h)
	h.handleAuth(c, &event.Auth{Type: event.TypeAuth, Token: "bad"})

	assert.True(t, c.IsClosed())
	assert.Empty(t, h.OnlineUserIDs())
}

func TestHandleAuth_ConnectionCap(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{"tok": "A"})
	defer h.Stop()

	for i := 0; i < h.opts.MaxConnsPerUser; i++ {
		c := newUnauthClient(h)
		h.handleAuth(c, &event.Auth{Type: event.TypeAuth, Token: "tok"})
		require.False(t, c.IsClosed())
	}

	require.Eventually(t, func() bool {
		return h.ConnectionCount("A") == h.opts.MaxConnsPerUser
	}, time.Second, 10*time.Millisecond)

	over := newUnauthClient(h)
	h.handleAuth(over, &event.Auth{Type: event.TypeAuth, Token: "tok"})

	assert.True(t, over.IsClosed())
	assert.Equal(t, h.opts.MaxConnsPerUser, h.ConnectionCount("A"))
}

func TestHandleAuth_ConnectionCapUnderBurst(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{"tok": "A"})
	defer h.Stop()

	// Every auth lands before any registration does, so all of them pass the
	// fast-path check and the cap must hold in the registry itself.
	clients := make([]*Client, 0, 2*h.opts.MaxConnsPerUser)
	for i := 0; i < 2*h.opts.MaxConnsPerUser; i++ {
		c := newUnauthClient(h)
		clients = append(clients, c)
		h.handleAuth(c, &event.Auth{Type: event.TypeAuth, Token: "tok"})
	}

	require.Eventually(t, func() bool {
		closed := 0
		for _, c := range clients {
			if c.IsClosed() {
				closed++
			}
		}
		return h.ConnectionCount("A") == h.opts.MaxConnsPerUser &&
			closed == len(clients)-h.opts.MaxConnsPerUser
	}, time.Second, 10*time.Millisecond)

	assert.LessOrEqual(t, h.ConnectionCount("A"), h.opts.MaxConnsPerUser)
}

func TestHandshakeTimeout_ClosesAndNeverRegisters(t *testing.T) {
	h, _, mock := newTestHub(staticResolver{"tok": "A"})
	defer h.Stop()

	c := newUnauthClient(h)
	require.False(t, c.IsClosed())

	mock.Add(h.opts.HandshakeTimeout)

	require.Eventually(t, c.IsClosed, time.Second, 10*time.Millisecond)
	assert.Empty(t, h.OnlineUserIDs())
	assert.Zero(t, h.ConnectionCount("A"))
}

func TestHandshakeTimeout_DisarmedByAuth(t *testing.T) {
	h, _, mock := newTestHub(staticResolver{"tok": "A"})
	defer h.Stop()

	c := newUnauthClient(h)
	h.handleAuth(c, &event.Auth{Type: event.TypeAuth, Token: "tok"})

	mock.Add(2 * h.opts.HandshakeTimeout)

	assert.False(t, c.IsClosed())
	require.Eventually(t, func() bool {
		return h.ConnectionCount("A") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInbound_SameConnectionKeepsSubmissionOrder(t *testing.T) {
	h, store, _ := newTestHub(staticResolver{})
	defer h.Stop()

	// A slow first insert would let a second worker overtake it if frames
	// from one connection could fan out across the pool.
	store.slowFirst = 150 * time.Millisecond

	c := newBareClient(h, "A")
	queue := h.inboundQueue(c)
	queue <- inboundFrame{client: c, data: []byte(`{"type":"send_message","receiverId":"B","content":"first","clientMessageId":"c1"}`)}
	queue <- inboundFrame{client: c, data: []byte(`{"type":"send_message","receiverId":"B","content":"second","clientMessageId":"c2"}`)}

	require.Eventually(t, func() bool {
		return store.messageCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"first", "second"}, store.contents())
}

func TestInbound_StableQueuePerConnection(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{})
	defer h.Stop()

	c := newBareClient(h, "A")
	queue := h.inboundQueue(c)
	for i := 0; i < 8; i++ {
		if h.inboundQueue(c) != queue {
			t.Fatal("connection mapped to different queues across calls")
		}
	}
}

func TestHandleFrame_RejectsUnauthenticatedTraffic(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{})
	defer h.Stop()

	c := newUnauthClient(h)
	h.handleFrame(c, []byte(`{"type":"typing","receiverId":"B"}`))

	frames := drain(c)
	require.Len(t, frames, 1)
	errFrame := frames[0].(event.Error)
	assert.Equal(t, event.CodeNotAuthenticated, errFrame.Code)
	assert.False(t, c.IsClosed())
}

func TestHandleFrame_PreAuthMalformedClosesConnection(t *testing.T) {
	h, _, _ := newTestHub(staticResolver{})
	defer h.Stop()

	c := newUnauthClient(h)
	h.handleFrame(c, []byte(`not json at all`))

	assert.True(t, c.IsClosed())
}
