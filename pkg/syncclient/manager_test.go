package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncproto"
)

func TestBackoffDelay(t *testing.T) {
	initial := time.Second
	max := 30 * time.Second

	assert.Equal(t, time.Second, backoffDelay(initial, max, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(initial, max, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(initial, max, 3))

	// Non-decreasing, and clamped at the ceiling.
	prev := time.Duration(0)
	for failures := 1; failures <= 20; failures++ {
		d := backoffDelay(initial, max, failures)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, max)
		prev = d
	}
	assert.Equal(t, max, backoffDelay(initial, max, 20))

	// A reset schedule starts over at the initial delay.
	assert.Equal(t, initial, backoffDelay(initial, max, 1))
}

// fakeSyncServer speaks just enough of the sync protocol to drive the
// manager: it answers authenticate with a canned hello (or a rejection) and
// echoes every mutation back as an applied broadcast. The first-session
// knobs simulate a flaky server for the reconnection tests.
type fakeSyncServer struct {
	t          *testing.T
	srv        *httptest.Server
	rejectAuth bool
	hello      syncproto.AuthenticatedPayload

	dropFirstMutation  bool // first session: close on the first mutation without replying
	silentFirstSession bool // first session: swallow pings after the hello

	mu       sync.Mutex
	received []syncproto.Envelope
	sessions int
}

func newFakeSyncServer(t *testing.T, rejectAuth bool) *fakeSyncServer {
	entries := []domain.LedgerEntry{fundsEntry("e1", "100")}
	fs := &fakeSyncServer{
		t:          t,
		rejectAuth: rejectAuth,
		hello: syncproto.AuthenticatedPayload{
			User:        dto.UserResponse{UserID: "u1", Username: "alice"},
			Entries:     entries,
			BudgetState: domain.ComputeBudgetState(entries),
		},
	}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		fs.serve(conn)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeSyncServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeSyncServer) messages() []syncproto.Envelope {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]syncproto.Envelope(nil), fs.received...)
}

func (fs *fakeSyncServer) sessionCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sessions
}

func (fs *fakeSyncServer) serve(conn *websocket.Conn) {
	fs.mu.Lock()
	fs.sessions++
	session := fs.sessions
	fs.mu.Unlock()

	for {
		var envelope syncproto.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}
		fs.mu.Lock()
		fs.received = append(fs.received, envelope)
		fs.mu.Unlock()

		switch envelope.Type {
		case syncproto.TypeAuthenticate:
			if fs.rejectAuth {
				reply, _ := syncproto.NewEnvelope(syncproto.TypeAuthError, envelope.RequestID,
					syncproto.ErrorPayload{Code: syncproto.CodeUnauthorized, Message: "bad token"})
				_ = conn.WriteJSON(reply)
				return
			}
			reply, _ := syncproto.NewEnvelope(syncproto.TypeAuthenticated, envelope.RequestID, fs.hello)
			_ = conn.WriteJSON(reply)
		case syncproto.TypePing:
			if fs.silentFirstSession && session == 1 {
				continue
			}
			reply, _ := syncproto.NewEnvelope(syncproto.TypePong, "", nil)
			_ = conn.WriteJSON(reply)
		case syncproto.TypeAddFunds:
			if fs.dropFirstMutation && session == 1 {
				return
			}
			var payload syncproto.AddFundsPayload
			require.NoError(fs.t, decodePayload(envelope, &payload))
			entry := domain.LedgerEntry{EntryID: "srv-" + envelope.RequestID, Kind: domain.FundAddition, Amount: payload.Amount}
			entries := append([]domain.LedgerEntry{entry}, fs.hello.Entries...)
			reply, _ := syncproto.NewEnvelope(syncproto.AppliedType(envelope.Type), envelope.RequestID,
				syncproto.MutationAppliedPayload{
					UserID:      fs.hello.User.UserID,
					Entry:       &entry,
					BudgetState: domain.ComputeBudgetState(entries),
				})
			_ = conn.WriteJSON(reply)
		case syncproto.TypeDeleteTransaction:
			reply, _ := syncproto.NewEnvelope(syncproto.TypeError, envelope.RequestID,
				syncproto.ErrorPayload{Code: syncproto.CodeNotFound, Message: "no such entry"})
			_ = conn.WriteJSON(reply)
		}
	}
}

func awaitStatus(t *testing.T, changes <-chan Status, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-changes:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func awaitResult(t *testing.T, req *Request) Result {
	t.Helper()
	select {
	case res := <-req.Done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for request result")
		return Result{}
	}
}

func TestManagerAuthenticatesAndAppliesBroadcast(t *testing.T) {
	fs := newFakeSyncServer(t, false)
	m := New(Config{URL: fs.url(), Token: "token"}, nil)
	defer m.Close()

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusAuthenticated)

	require.NotNil(t, m.User())
	assert.Equal(t, "u1", m.User().UserID)
	assert.True(t, m.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("100")))

	req, err := m.AddFunds(decimal.RequireFromString("50"))
	require.NoError(t, err)
	res := awaitResult(t, req)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Applied)

	assert.True(t, m.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("150")))
	assert.Equal(t, 0, m.Reconciler().PendingCount())
}

func TestManagerRollsBackOnServerError(t *testing.T) {
	fs := newFakeSyncServer(t, false)
	m := New(Config{URL: fs.url(), Token: "token"}, nil)
	defer m.Close()

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusAuthenticated)

	req, err := m.DeleteTransaction("e1")
	require.NoError(t, err)
	res := awaitResult(t, req)

	var serverErr *ServerError
	require.ErrorAs(t, res.Err, &serverErr)
	assert.Equal(t, syncproto.CodeNotFound, serverErr.Code)

	// The optimistic removal is rolled back.
	assert.True(t, m.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("100")))
	assert.Len(t, m.Reconciler().Entries(), 1)
}

func TestManagerQueuesWhileDisconnectedAndDrainsOnConnect(t *testing.T) {
	fs := newFakeSyncServer(t, false)
	m := New(Config{URL: fs.url(), Token: "token"}, nil)
	defer m.Close()

	// Issued before Start: the request waits in the queue with its
	// optimistic projection already applied.
	req, err := m.AddFunds(decimal.RequireFromString("25"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Reconciler().PendingCount())

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusAuthenticated)

	res := awaitResult(t, req)
	require.NoError(t, res.Err)
	assert.True(t, m.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("125")))
}

func TestManagerDropsStaleQueuedRequests(t *testing.T) {
	fs := newFakeSyncServer(t, false)
	m := New(Config{URL: fs.url(), Token: "token", QueueStaleness: 20 * time.Millisecond}, nil)
	defer m.Close()

	req, err := m.AddFunds(decimal.RequireFromString("25"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusAuthenticated)

	res := awaitResult(t, req)
	require.ErrorIs(t, res.Err, ErrRequestStale)

	// The stale request was never sent and its projection was rolled back.
	assert.Equal(t, 0, m.Reconciler().PendingCount())
	assert.True(t, m.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("100")))
	for _, envelope := range fs.messages() {
		assert.NotEqual(t, syncproto.TypeAddFunds, envelope.Type)
	}
}

func TestManagerAuthRejectionIsTerminal(t *testing.T) {
	fs := newFakeSyncServer(t, true)
	m := New(Config{URL: fs.url(), Token: "bad"}, nil)

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusFailed)

	// No further sends are possible once the client has failed terminally.
	_, err := m.AddFunds(decimal.RequireFromString("1"))
	require.ErrorIs(t, err, ErrClientClosed)
	assert.Equal(t, StatusFailed, m.Status())
	m.Close()
}

func TestManagerFailsAfterExhaustedRetries(t *testing.T) {
	// Nothing listens here; every dial fails immediately.
	m := New(Config{
		URL:            "ws://127.0.0.1:1",
		Token:          "token",
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxAttempts:    3,
	}, nil)

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusFailed)
	m.Close()
}

// deadConn returns a client websocket whose transport is already closed, so
// every write on it fails.
func deadConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	conn.Close()
	return conn
}

// A write failure mid-drain must not orphan the requests behind it: the
// unsent remainder goes back onto the queue so a later session can replay
// or staleness-drop it, and every Done channel still resolves.
func TestDrainQueueRequeuesUnsentOnWriteFailure(t *testing.T) {
	m := New(Config{URL: "ws://unused", Token: "token"}, nil)

	first, err := m.AddFunds(decimal.RequireFromString("10"))
	require.NoError(t, err)
	second, err := m.AddFunds(decimal.RequireFromString("20"))
	require.NoError(t, err)
	require.Equal(t, 2, m.Reconciler().PendingCount())

	m.mu.Lock()
	m.status = StatusAuthenticated
	m.conn = deadConn(t)
	m.mu.Unlock()

	m.drainQueue()

	m.mu.Lock()
	queueLen := len(m.queue)
	_, firstInflight := m.inflight[first.ID]
	_, secondInflight := m.inflight[second.ID]
	m.mu.Unlock()

	// The request whose write failed is inflight (the read loop requeues it
	// on disconnect); the one never attempted is back on the queue.
	assert.True(t, firstInflight)
	assert.False(t, secondInflight)
	assert.Equal(t, 1, queueLen)

	m.requeueInflight()
	m.mu.Lock()
	assert.Len(t, m.queue, 2)
	m.mu.Unlock()
	assert.Equal(t, 2, m.Reconciler().PendingCount())

	// Shutdown resolves both and rolls their projections back.
	m.failAll(ErrClientClosed)
	require.ErrorIs(t, awaitResult(t, first).Err, ErrClientClosed)
	require.ErrorIs(t, awaitResult(t, second).Err, ErrClientClosed)
	assert.Equal(t, 0, m.Reconciler().PendingCount())
}

// A dropped session reconnects, replays the unanswered request, and restarts
// the backoff schedule from zero after the successful handshake.
func TestManagerReconnectsAndReplaysAfterDrop(t *testing.T) {
	fs := newFakeSyncServer(t, false)
	fs.dropFirstMutation = true
	m := New(Config{URL: fs.url(), Token: "token", InitialBackoff: 5 * time.Millisecond}, nil)
	defer m.Close()

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusAuthenticated)

	// The first session dies on this request without answering; the second
	// session replays it to completion.
	req, err := m.AddFunds(decimal.RequireFromString("50"))
	require.NoError(t, err)
	res := awaitResult(t, req)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Applied)

	assert.GreaterOrEqual(t, fs.sessionCount(), 2)
	assert.True(t, m.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("150")))
	assert.Equal(t, 0, m.Reconciler().PendingCount())

	// The successful handshake reset the consecutive-failure counter, so the
	// next outage starts its backoff from the initial delay again.
	m.mu.Lock()
	failures := m.failures
	m.mu.Unlock()
	assert.Equal(t, 0, failures)
}

// A peer that stops answering heartbeats is closed proactively and the
// manager reconnects on its own.
func TestManagerHeartbeatClosesSilentConnection(t *testing.T) {
	fs := newFakeSyncServer(t, false)
	fs.silentFirstSession = true
	m := New(Config{
		URL:               fs.url(),
		Token:             "token",
		InitialBackoff:    5 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
	}, nil)
	defer m.Close()

	changes := m.StatusChanges()
	m.Start(context.Background())
	awaitStatus(t, changes, StatusAuthenticated)

	// The silent session is abandoned and a fresh one authenticates.
	awaitStatus(t, changes, StatusDisconnected)
	awaitStatus(t, changes, StatusAuthenticated)
	assert.GreaterOrEqual(t, fs.sessionCount(), 2)
}

func TestCloseWithoutStartReturns(t *testing.T) {
	m := New(Config{URL: "ws://unused", Token: "token"}, nil)
	m.Close()

	_, err := m.AddFunds(decimal.RequireFromString("1"))
	require.ErrorIs(t, err, ErrClientClosed)
}
