package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaazAlae/expenseTracker-sub000/internal/adapters/database/sqlite"
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/config"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncclient"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncproto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:         "test-secret-for-sync-server-tests",
		JWTExpiryDuration: time.Hour,
		JWTIssuer:         "expense-tracker-test",
		AuthTimeout:       200 * time.Millisecond,
		HeartbeatInterval: time.Second,
		WriteTimeout:      time.Second,
	}
}

// testServer stands up the full server stack on a real sqlite store.
type testServer struct {
	cfg       *config.Config
	container *services.Container
	sync      *Server
	http      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig()

	store, err := sqlite.NewLedgerStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	container, err := services.NewContainer(context.Background(), cfg, store)
	require.NoError(t, err)

	logger := discardLogger()
	srv := NewServer(cfg, container, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", srv.ServeWS)

	httpSrv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Shutdown()
		httpSrv.Close()
	})

	return &testServer{cfg: cfg, container: container, sync: srv, http: httpSrv}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
}

// registerUser creates an account directly through the service layer and
// returns a valid bearer token for it.
func (ts *testServer) registerUser(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	user, err := ts.container.User.Register(ctx, username, "password123")
	require.NoError(t, err)
	token, _, err := ts.container.Token.IssueToken(ctx, user)
	require.NoError(t, err)
	return token
}

func newClient(t *testing.T, ts *testServer, token string) *syncclient.Manager {
	t.Helper()
	m := syncclient.New(syncclient.Config{
		URL:               ts.wsURL(),
		Token:             token,
		InitialBackoff:    10 * time.Millisecond,
		HeartbeatInterval: 500 * time.Millisecond,
	}, discardLogger())
	t.Cleanup(m.Close)
	return m
}

func awaitStatus(t *testing.T, changes <-chan syncclient.Status, want syncclient.Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-changes:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for client status %s", want)
		}
	}
}

func awaitResult(t *testing.T, req *syncclient.Request) syncclient.Result {
	t.Helper()
	select {
	case res := <-req.Done:
		require.NoError(t, res.Err)
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for request result")
		return syncclient.Result{}
	}
}

// Two clients on the same ledger: every applied mutation reaches both, and
// both converge on identical budget snapshots at every step.
func TestTwoClientsObserveIdenticalSnapshots(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerUser(t, "alice")

	observer := newClient(t, ts, token)
	observed := make(chan syncproto.MutationAppliedPayload, 16)
	observer.OnBroadcast = func(_ syncproto.Envelope, payload syncproto.MutationAppliedPayload) {
		observed <- payload
	}
	obsChanges := observer.StatusChanges()
	observer.Start(context.Background())
	awaitStatus(t, obsChanges, syncclient.StatusAuthenticated)

	actor := newClient(t, ts, token)
	actChanges := actor.StatusChanges()
	actor.Start(context.Background())
	awaitStatus(t, actChanges, syncclient.StatusAuthenticated)

	// Add funds, record an expense, correct it, then remove it.
	awaitResult(t, must(actor.AddFunds(decimal.RequireFromString("500"))))

	awaitResult(t, must(actor.AddTransaction(dto.TransactionFields{
		Amount:            decimal.RequireFromString("120.50"),
		Beneficiary:       "J. Doe",
		ItemDescription:   "Airport taxi",
		InvoiceNumber:     "INV-77",
		PurchaseDate:      "2026-02-01",
		ReimbursementDate: "2026-02-03",
	})))

	entries := actor.Reconciler().Entries()
	require.NotEmpty(t, entries)
	expenseID := entries[0].EntryID

	newAmount := decimal.RequireFromString("100")
	awaitResult(t, must(actor.EditTransaction(expenseID, dto.TransactionUpdate{Amount: &newAmount})))
	awaitResult(t, must(actor.DeleteTransaction(expenseID)))

	wantAvailable := []string{"500", "379.5", "400", "500"}
	for i, want := range wantAvailable {
		select {
		case payload := <-observed:
			assert.True(t, payload.BudgetState.AvailableBudget.Equal(decimal.RequireFromString(want)),
				"broadcast %d: available budget %s, want %s", i, payload.BudgetState.AvailableBudget, want)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for broadcast %d", i)
		}
	}

	// Both clients end on the same projection.
	assert.True(t, actor.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("500")))
	assert.True(t, observer.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("500")))
	assert.Len(t, actor.Reconciler().Entries(), 1)
	assert.Len(t, observer.Reconciler().Entries(), 1)
}

func must(req *syncclient.Request, err error) *syncclient.Request {
	if err != nil {
		panic(err)
	}
	return req
}

// The hello message carries the full ledger so a freshly connected client
// starts from the authoritative state.
func TestHelloDeliversExistingLedger(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerUser(t, "alice")

	first := newClient(t, ts, token)
	changes := first.StatusChanges()
	first.Start(context.Background())
	awaitStatus(t, changes, syncclient.StatusAuthenticated)
	awaitResult(t, must(first.AddFunds(decimal.RequireFromString("250"))))

	late := newClient(t, ts, token)
	lateChanges := late.StatusChanges()
	late.Start(context.Background())
	awaitStatus(t, lateChanges, syncclient.StatusAuthenticated)

	assert.True(t, late.Reconciler().State().AvailableBudget.Equal(decimal.RequireFromString("250")))
	require.Len(t, late.Reconciler().Entries(), 1)
}

func TestRejectedTokenIsTerminalForClient(t *testing.T) {
	ts := newTestServer(t)

	client := newClient(t, ts, "not-a-valid-token")
	changes := client.StatusChanges()
	client.Start(context.Background())
	awaitStatus(t, changes, syncclient.StatusFailed)
}

// A raw connection that sends a mutation before authenticating gets a scoped
// unauthorized error, not a broadcast.
func TestMutationBeforeAuthenticationIsRejected(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	request, err := syncproto.NewEnvelope(syncproto.TypeAddFunds, "req-1",
		syncproto.AddFundsPayload{Amount: decimal.RequireFromString("10")})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(request))

	var reply syncproto.Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, syncproto.TypeError, reply.Type)
	assert.Equal(t, "req-1", reply.RequestID)
}

// A connection that never authenticates is closed after the auth window.
func TestUnauthenticatedConnectionTimesOut(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	sawAuthError := false
	for {
		var reply syncproto.Envelope
		if err := conn.ReadJSON(&reply); err != nil {
			break // server closed the socket
		}
		if reply.Type == syncproto.TypeAuthError {
			sawAuthError = true
		}
	}
	assert.True(t, sawAuthError, "expected an authentication failure notice before the close")
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.registerUser(t, "alice") // first registered account is admin
	memberToken := ts.registerUser(t, "bob")

	// Admin operations go over raw connections; the client library does not
	// wrap them.
	dialAndAuth := func(token string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		auth, err := syncproto.NewEnvelope(syncproto.TypeAuthenticate, "auth-1",
			syncproto.AuthenticatePayload{Token: token})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(auth))
		var reply syncproto.Envelope
		require.NoError(t, conn.ReadJSON(&reply))
		require.Equal(t, syncproto.TypeAuthenticated, reply.Type)
		return conn
	}
	listUsersVia := func(conn *websocket.Conn) syncproto.Envelope {
		listUsers, err := syncproto.NewEnvelope(syncproto.TypeAdminListUsers, "req-list", nil)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(listUsers))
		var reply syncproto.Envelope
		for {
			require.NoError(t, conn.ReadJSON(&reply))
			if reply.RequestID == "req-list" {
				return reply
			}
		}
	}

	adminConn := dialAndAuth(adminToken)
	reply := listUsersVia(adminConn)
	require.Equal(t, syncproto.TypeAdminListUsers+"_result", reply.Type)
	var users syncproto.UserListPayload
	require.NoError(t, jsonUnmarshalPayload(reply, &users))
	assert.Len(t, users.Users, 2)

	memberConn := dialAndAuth(memberToken)
	reply = listUsersVia(memberConn)
	require.Equal(t, syncproto.TypeError, reply.Type)
	var perr syncproto.ErrorPayload
	require.NoError(t, jsonUnmarshalPayload(reply, &perr))
	assert.Equal(t, syncproto.CodeForbidden, perr.Code)
}

func jsonUnmarshalPayload(envelope syncproto.Envelope, out any) error {
	return json.Unmarshal(envelope.Payload, out)
}

// Deleting an account revokes its live connections along with it.
func TestDeletedUserConnectionsAreClosed(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.registerUser(t, "alice")
	bobToken := ts.registerUser(t, "bob")

	dialAndAuth := func(token string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		auth, err := syncproto.NewEnvelope(syncproto.TypeAuthenticate, "auth-1",
			syncproto.AuthenticatePayload{Token: token})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(auth))
		var reply syncproto.Envelope
		require.NoError(t, conn.ReadJSON(&reply))
		require.Equal(t, syncproto.TypeAuthenticated, reply.Type)
		return conn
	}

	bobConn := dialAndAuth(bobToken)
	adminConn := dialAndAuth(adminToken)

	bob, err := ts.container.User.GetUserByUsername(context.Background(), "bob")
	require.NoError(t, err)

	deleteReq, err := syncproto.NewEnvelope(syncproto.TypeAdminDeleteUser, "req-del",
		syncproto.AdminDeleteUserPayload{UserID: bob.UserID})
	require.NoError(t, err)
	require.NoError(t, adminConn.WriteJSON(deleteReq))

	// Bob's socket must be closed by the server, not merely go quiet.
	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var readErr error
	for {
		var msg syncproto.Envelope
		if readErr = bobConn.ReadJSON(&msg); readErr != nil {
			break
		}
	}
	var netErr net.Error
	if errors.As(readErr, &netErr) && netErr.Timeout() {
		t.Fatal("connection still open after account deletion")
	}
}
