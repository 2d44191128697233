// Package syncclient maintains a client's persistent sync connection: one
// lifecycle state machine with automatic reconnection, an outbound queue for
// offline periods, application-level heartbeating, and a reconciler that
// keeps the local ledger projection consistent with server broadcasts.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncproto"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected // transport up, authentication outstanding
	StatusAuthenticated
	StatusFailed // terminal: auth rejected or retries exhausted
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusAuthenticated:
		return "authenticated"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrRequestStale is delivered for queued requests dropped because they
	// waited longer than Config.QueueStaleness for a connection.
	ErrRequestStale = errors.New("request dropped: stale before a connection was available")
	// ErrClientClosed is delivered for requests outstanding when the client
	// shuts down.
	ErrClientClosed = errors.New("sync client closed")
	// ErrAuthRejected is the terminal failure after the server refuses our
	// credentials. Reconnecting with the same token would only repeat it.
	ErrAuthRejected = errors.New("authentication rejected by server")
)

// ServerError is a scoped failure reported by the server for one request.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected request (%s): %s", e.Code, e.Message)
}

// Result resolves a request issued through the manager. Err is nil on
// success; Applied carries the broadcast payload when the server confirmed
// the mutation.
type Result struct {
	Err     error
	Applied *syncproto.MutationAppliedPayload
}

// Request tracks one in-flight mutation. Done receives exactly one Result.
type Request struct {
	ID   string
	Done <-chan Result
}

type pendingRequest struct {
	envelope   syncproto.Envelope
	enqueuedAt time.Time
	done       chan Result
	optimistic bool // reconciler holds a projection keyed by envelope.RequestID
}

// Config tunes the connection manager. Zero values take the defaults below.
type Config struct {
	URL   string // ws:// or wss:// endpoint
	Token string // bearer token presented on authenticate

	InitialBackoff    time.Duration // first reconnect delay (default 1s)
	MaxBackoff        time.Duration // backoff ceiling (default 30s)
	MaxAttempts       int           // consecutive failures before StatusFailed (default 10)
	HeartbeatInterval time.Duration // app-level ping cadence (default 30s)
	HeartbeatTimeout  time.Duration // silence before a proactive close (default 90s)
	QueueStaleness    time.Duration // max age of a queued request (default 60s)
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.QueueStaleness <= 0 {
		c.QueueStaleness = 60 * time.Second
	}
}

// backoffDelay computes the reconnect delay after a number of consecutive
// failures: initial doubled per failure, clamped at max. failures is
// 1-based (first retry waits initial).
func backoffDelay(initial, max time.Duration, failures int) time.Duration {
	delay := initial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Manager owns the sync connection for one client. Create with New, start
// with Start, issue mutations through the typed methods, observe lifecycle
// transitions through StatusChanges, and read the projected ledger through
// Reconciler.
type Manager struct {
	cfg        Config
	logger     *slog.Logger
	dialer     *websocket.Dialer
	reconciler *Reconciler

	mu       sync.Mutex
	writeMu  sync.Mutex // serializes writes to conn; gorilla allows one writer
	started  bool
	status   Status
	failures int
	queue    []*pendingRequest          // outbound, waiting for an authenticated connection
	inflight map[string]*pendingRequest // sent, awaiting server response
	conn     *websocket.Conn
	user     *dto.UserResponse

	statusSubs []chan Status

	// OnBroadcast, when set before Start, observes every applied broadcast
	// including those for other users' ledgers.
	OnBroadcast func(envelope syncproto.Envelope, payload syncproto.MutationAppliedPayload)

	closeOnce sync.Once
	closed    chan struct{}
	runDone   chan struct{}
}

// New creates a Manager. It does not connect until Start.
func New(cfg Config, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "syncclient")),
		dialer:     websocket.DefaultDialer,
		reconciler: NewReconciler(),
		status:     StatusDisconnected,
		inflight:   make(map[string]*pendingRequest),
		closed:     make(chan struct{}),
		runDone:    make(chan struct{}),
	}
}

// Reconciler exposes the local ledger projection.
func (m *Manager) Reconciler() *Reconciler { return m.reconciler }

// Status reports the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// User returns the identity the server bound on authentication, nil before
// the first successful handshake.
func (m *Manager) User() *dto.UserResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// StatusChanges returns a channel receiving every lifecycle transition.
// Slow consumers miss intermediate states, never the latest one.
func (m *Manager) StatusChanges() <-chan Status {
	ch := make(chan Status, 8)
	m.mu.Lock()
	m.statusSubs = append(m.statusSubs, ch)
	m.mu.Unlock()
	return ch
}

// Start runs the connection lifecycle until Close is called, ctx is
// cancelled, or the manager reaches StatusFailed.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go m.run(ctx)
}

// Close tears the connection down and fails all outstanding requests. Safe
// to call on a manager that was never started.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.runDone
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.runDone)
	defer m.failAll(ErrClientClosed)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		default:
		}

		m.setStatus(StatusConnecting)
		conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
		if err != nil {
			if !m.retryAfterFailure(ctx, err) {
				return
			}
			continue
		}

		terminal := m.session(ctx, conn)
		conn.Close()
		if terminal {
			return
		}
		m.setStatus(StatusDisconnected)
		if !m.retryAfterFailure(ctx, errors.New("connection lost")) {
			return
		}
	}
}

// retryAfterFailure counts the failure, sleeps the backoff, and reports
// whether the loop should try again.
func (m *Manager) retryAfterFailure(ctx context.Context, cause error) bool {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	if failures >= m.cfg.MaxAttempts {
		m.logger.Error("reconnect attempts exhausted",
			slog.Int("attempts", failures), slog.String("error", cause.Error()))
		m.setStatus(StatusFailed)
		return false
	}

	delay := backoffDelay(m.cfg.InitialBackoff, m.cfg.MaxBackoff, failures)
	m.logger.Warn("connection attempt failed, backing off",
		slog.Int("attempt", failures),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()))
	m.setStatus(StatusDisconnected)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-m.closed:
		return false
	}
}

// session drives one established connection: authenticate, drain the queue,
// then pump messages until the transport drops. Returns true when the
// failure is terminal (auth rejection or shutdown).
func (m *Manager) session(ctx context.Context, conn *websocket.Conn) bool {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	m.setStatus(StatusConnected)

	auth, err := syncproto.NewEnvelope(syncproto.TypeAuthenticate, uuid.NewString(),
		syncproto.AuthenticatePayload{Token: m.cfg.Token})
	if err != nil {
		m.logger.Error("failed to build authenticate message", slog.String("error", err.Error()))
		return false
	}
	if err := m.writeEnvelope(conn, auth); err != nil {
		return false
	}

	// Heartbeat: application-level pings, proactive close on a silent peer.
	var lastInbound atomicTime
	lastInbound.Store(time.Now())
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go m.heartbeat(conn, &lastInbound, heartbeatDone)

	for {
		select {
		case <-ctx.Done():
			return true
		case <-m.closed:
			return true
		default:
		}

		var envelope syncproto.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			select {
			case <-m.closed:
				return true
			default:
			}
			m.logger.Warn("connection read failed", slog.String("error", err.Error()))
			m.requeueInflight()
			return false
		}
		lastInbound.Store(time.Now())

		if terminal := m.handleMessage(envelope); terminal {
			return true
		}
	}
}

func (m *Manager) heartbeat(conn *websocket.Conn, lastInbound *atomicTime, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-m.closed:
			conn.Close()
			return
		case <-ticker.C:
			if time.Since(lastInbound.Load()) > m.cfg.HeartbeatTimeout {
				m.logger.Warn("no traffic within heartbeat timeout, closing connection")
				conn.Close()
				return
			}
			ping, _ := syncproto.NewEnvelope(syncproto.TypePing, "", nil)
			if err := m.writeEnvelope(conn, ping); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound envelope. Returns true for terminal
// failures.
func (m *Manager) handleMessage(envelope syncproto.Envelope) bool {
	switch envelope.Type {
	case syncproto.TypeAuthenticated:
		var hello syncproto.AuthenticatedPayload
		if err := decodePayload(envelope, &hello); err != nil {
			m.logger.Error("malformed hello", slog.String("error", err.Error()))
			return false
		}
		m.reconciler.SetAuthoritative(hello.Entries, hello.BudgetState)
		m.mu.Lock()
		m.user = &hello.User
		m.failures = 0 // a successful handshake resets the backoff schedule
		m.mu.Unlock()
		m.logger.Info("authenticated", slog.String("userID", hello.User.UserID))
		m.setStatus(StatusAuthenticated)
		m.drainQueue()
		return false

	case syncproto.TypeAuthError:
		var perr syncproto.ErrorPayload
		_ = decodePayload(envelope, &perr)
		m.logger.Error("authentication rejected",
			slog.String("code", perr.Code), slog.String("message", perr.Message))
		m.setStatus(StatusFailed)
		m.failAll(ErrAuthRejected)
		return true

	case syncproto.TypePong:
		return false

	case syncproto.TypeError:
		var perr syncproto.ErrorPayload
		if err := decodePayload(envelope, &perr); err != nil {
			return false
		}
		m.resolveRequest(envelope.RequestID, Result{Err: &ServerError{Code: perr.Code, Message: perr.Message}})
		return false

	default:
		m.handleBroadcast(envelope)
		return false
	}
}

func (m *Manager) handleBroadcast(envelope syncproto.Envelope) {
	var applied syncproto.MutationAppliedPayload
	if err := decodePayload(envelope, &applied); err != nil {
		m.logger.Warn("unhandled message", slog.String("type", envelope.Type))
		return
	}

	m.mu.Lock()
	own := m.user != nil && m.user.UserID == applied.UserID
	m.mu.Unlock()
	if own {
		m.reconciler.ApplyBroadcast(envelope.Type, envelope.RequestID, applied)
	}
	if m.OnBroadcast != nil {
		m.OnBroadcast(envelope, applied)
	}
	m.resolveRequest(envelope.RequestID, Result{Applied: &applied})
}

// resolveRequest completes an inflight request, if the id is ours. On error
// results the optimistic projection is rolled back.
func (m *Manager) resolveRequest(requestID string, result Result) {
	if requestID == "" {
		return
	}
	m.mu.Lock()
	req, ok := m.inflight[requestID]
	if ok {
		delete(m.inflight, requestID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if result.Err != nil && req.optimistic {
		m.reconciler.Rollback(requestID)
	}
	req.done <- result
}

// send enqueues a request. Connected and authenticated, it goes out
// immediately; otherwise it waits in FIFO order for the next handshake.
func (m *Manager) send(msgType string, payload any, optimistic bool) (*Request, error) {
	requestID := uuid.NewString()
	envelope, err := syncproto.NewEnvelope(msgType, requestID, payload)
	if err != nil {
		return nil, err
	}

	req := &pendingRequest{
		envelope:   envelope,
		enqueuedAt: time.Now(),
		done:       make(chan Result, 1),
		optimistic: optimistic,
	}

	m.mu.Lock()
	select {
	case <-m.closed:
		m.mu.Unlock()
		return nil, ErrClientClosed
	default:
	}
	if m.status == StatusFailed {
		m.mu.Unlock()
		return nil, ErrClientClosed
	}
	if m.status == StatusAuthenticated && m.conn != nil {
		conn := m.conn
		m.inflight[requestID] = req
		m.mu.Unlock()
		if err := m.writeEnvelope(conn, envelope); err != nil {
			// The read loop will requeue inflight requests on disconnect.
			m.logger.Warn("send failed, request stays queued", slog.String("type", msgType))
		}
	} else {
		m.queue = append(m.queue, req)
		m.mu.Unlock()
	}

	return &Request{ID: requestID, Done: req.done}, nil
}

// drainQueue flushes queued requests after a successful handshake, oldest
// first. Requests older than the staleness threshold are dropped and
// resolved with ErrRequestStale instead of being replayed.
func (m *Manager) drainQueue() {
	m.mu.Lock()
	queued := m.queue
	m.queue = nil
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	now := time.Now()
	for i, req := range queued {
		if now.Sub(req.enqueuedAt) > m.cfg.QueueStaleness {
			m.logger.Warn("dropping stale queued request",
				slog.String("type", req.envelope.Type),
				slog.Duration("age", now.Sub(req.enqueuedAt)))
			if req.optimistic {
				m.reconciler.Rollback(req.envelope.RequestID)
			}
			req.done <- Result{Err: ErrRequestStale}
			continue
		}
		m.mu.Lock()
		m.inflight[req.envelope.RequestID] = req
		m.mu.Unlock()
		if err := m.writeEnvelope(conn, req.envelope); err != nil {
			// The failed request sits in inflight and is recovered by
			// requeueInflight when the read loop notices the disconnect.
			// The unsent remainder goes back to the front of the queue so
			// the next drain replays it in order.
			m.mu.Lock()
			m.queue = append(append([]*pendingRequest(nil), queued[i+1:]...), m.queue...)
			m.mu.Unlock()
			return
		}
	}
}

// requeueInflight moves sent-but-unanswered requests back onto the queue so
// the next session replays them. Staleness is enforced at drain time.
func (m *Manager) requeueInflight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, req := range m.inflight {
		m.queue = append(m.queue, req)
		delete(m.inflight, id)
	}
}

func (m *Manager) failAll(err error) {
	m.mu.Lock()
	queued := m.queue
	m.queue = nil
	inflight := m.inflight
	m.inflight = make(map[string]*pendingRequest)
	m.mu.Unlock()

	for _, req := range queued {
		if req.optimistic {
			m.reconciler.Rollback(req.envelope.RequestID)
		}
		req.done <- Result{Err: err}
	}
	for _, req := range inflight {
		if req.optimistic {
			m.reconciler.Rollback(req.envelope.RequestID)
		}
		req.done <- Result{Err: err}
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	subs := m.statusSubs
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			// Drop the oldest so the latest state is always observable.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// AddFunds records a fund addition with an optimistic local projection.
func (m *Manager) AddFunds(amount decimal.Decimal) (*Request, error) {
	req, err := m.send(syncproto.TypeAddFunds, syncproto.AddFundsPayload{Amount: amount}, true)
	if err != nil {
		return nil, err
	}
	m.reconciler.ApplyOptimisticAddFunds(req.ID, amount)
	return req, nil
}

// AddTransaction records an expense with an optimistic local projection.
func (m *Manager) AddTransaction(fields dto.TransactionFields) (*Request, error) {
	req, err := m.send(syncproto.TypeAddTransaction, syncproto.AddTransactionPayload{Fields: fields}, true)
	if err != nil {
		return nil, err
	}
	m.reconciler.ApplyOptimisticAddTransaction(req.ID, fields)
	return req, nil
}

// EditTransaction partially updates an entry. Edits are not projected
// locally; the view converges on the applied broadcast.
func (m *Manager) EditTransaction(entryID string, fields dto.TransactionUpdate) (*Request, error) {
	return m.send(syncproto.TypeEditTransaction,
		syncproto.EditTransactionPayload{EntryID: entryID, Fields: fields}, false)
}

// DeleteTransaction removes an entry with an optimistic local projection.
func (m *Manager) DeleteTransaction(entryID string) (*Request, error) {
	req, err := m.send(syncproto.TypeDeleteTransaction, syncproto.DeleteTransactionPayload{EntryID: entryID}, true)
	if err != nil {
		return nil, err
	}
	m.reconciler.ApplyOptimisticDelete(req.ID, entryID)
	return req, nil
}

// AssignBatchTag sets the batch tag on a group of entries.
func (m *Manager) AssignBatchTag(entryIDs []string, tag string) (*Request, error) {
	return m.send(syncproto.TypeAssignBatchTag,
		syncproto.AssignBatchTagPayload{EntryIDs: entryIDs, Tag: tag}, false)
}

func (m *Manager) writeEnvelope(conn *websocket.Conn, envelope syncproto.Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(envelope)
}

func decodePayload(envelope syncproto.Envelope, out any) error {
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty %s payload", envelope.Type)
	}
	return json.Unmarshal(envelope.Payload, out)
}

// atomicTime is a timestamp shared between the read loop and the heartbeat
// goroutine.
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) Store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) Load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}
