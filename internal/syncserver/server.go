package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LaazAlae/expenseTracker-sub000/internal/apperrors"
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/config"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncproto"
)

// Server turns authenticated websocket connections into a publish/subscribe
// view of the shared ledger. Every client-issued mutation is serialized
// through the budget service; every success is broadcast to all connections.
type Server struct {
	cfg      *config.Config
	services *services.Container
	hub      *Hub
	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer wires a sync server over the service container.
func NewServer(cfg *config.Config, container *services.Container, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		services: container,
		hub:      NewHub(logger),
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The REST layer enforces origin policy via CORS; the socket
			// carries its own bearer-token authentication.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Hub exposes the connection registry (used by tests and shutdown).
func (s *Server) Hub() *Hub { return s.hub }

// ServeWS upgrades the HTTP request and runs the connection until it closes.
func (s *Server) ServeWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	connID := uuid.NewString()
	logger := s.logger.With(slog.String("conn_id", connID))
	conn := newConnection(connID, ws, logger)

	go conn.writePump(s.cfg.WriteTimeout, s.cfg.HeartbeatInterval)

	// A connection that never authenticates within the window is closed.
	authTimer := time.AfterFunc(s.cfg.AuthTimeout, func() {
		if !conn.authenticated() {
			logger.Info("Closing unauthenticated connection after timeout")
			s.authFailure(conn, "", "authentication timed out")
		}
	})
	defer authTimer.Stop()

	s.readLoop(conn, logger)

	s.hub.unregister(conn)
	conn.closeAsync()
	logger.Info("Connection closed")
}

func (s *Server) readLoop(conn *connection, logger *slog.Logger) {
	pongWait := 2 * s.cfg.HeartbeatInterval
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var envelope syncproto.Envelope
		if err := conn.ws.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Read failed", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		s.dispatch(conn, envelope, logger)

		// A terminal auth failure ends the read loop.
		select {
		case <-conn.done:
			return
		default:
		}
	}
}

// dispatch routes one inbound envelope. Malformed or unauthorized messages
// are answered with a scoped error; they never close the connection (the
// only exception is a failed authenticate, which is terminal).
func (s *Server) dispatch(conn *connection, envelope syncproto.Envelope, logger *slog.Logger) {
	ctx := context.Background()

	switch envelope.Type {
	case syncproto.TypeAuthenticate:
		s.handleAuthenticate(ctx, conn, envelope, logger)
	case syncproto.TypePing:
		pong, _ := syncproto.NewEnvelope(syncproto.TypePong, envelope.RequestID, nil)
		conn.trySend(pong)
	case syncproto.TypeAddFunds,
		syncproto.TypeAddTransaction,
		syncproto.TypeEditTransaction,
		syncproto.TypeDeleteTransaction,
		syncproto.TypeAssignBatchTag:
		if !conn.authenticated() {
			s.sendError(conn, envelope.RequestID, syncproto.CodeUnauthorized, "not authenticated")
			return
		}
		s.handleMutation(ctx, conn, envelope, logger)
	case syncproto.TypeAdminCreateUser,
		syncproto.TypeAdminListUsers,
		syncproto.TypeAdminDeleteUser,
		syncproto.TypeAdminResetPassword:
		if !conn.authenticated() {
			s.sendError(conn, envelope.RequestID, syncproto.CodeUnauthorized, "not authenticated")
			return
		}
		s.handleAdmin(ctx, conn, envelope, logger)
	default:
		s.sendError(conn, envelope.RequestID, syncproto.CodeValidation, "unknown message type: "+envelope.Type)
	}
}

func (s *Server) handleAuthenticate(ctx context.Context, conn *connection, envelope syncproto.Envelope, logger *slog.Logger) {
	var payload syncproto.AuthenticatePayload
	if err := s.decode(envelope.Payload, &payload); err != nil {
		s.authFailure(conn, envelope.RequestID, "malformed authenticate payload")
		return
	}

	user, err := s.services.Token.ValidateToken(ctx, payload.Token)
	if err != nil {
		logger.Info("Authentication failed", slog.String("error", err.Error()))
		s.authFailure(conn, envelope.RequestID, "invalid token")
		return
	}

	if !conn.bind(user.UserID) {
		return
	}
	s.hub.register(conn)

	entries, state, err := s.services.Budget.Snapshot(ctx, user.UserID)
	if err != nil {
		s.sendError(conn, envelope.RequestID, syncproto.CodeInternal, "failed to load ledger")
		return
	}

	hello, err := syncproto.NewEnvelope(syncproto.TypeAuthenticated, envelope.RequestID, syncproto.AuthenticatedPayload{
		User:        dto.ToUserResponse(user),
		Entries:     entries,
		BudgetState: state,
	})
	if err != nil {
		logger.Error("Failed to encode hello", slog.String("error", err.Error()))
		return
	}
	conn.trySend(hello)
	logger.Info("Connection authenticated", slog.String("user_id", user.UserID))
}

// authFailure emits an authentication failure notice and closes: a connection
// whose authentication fails must not be admitted to any namespace.
func (s *Server) authFailure(conn *connection, requestID, message string) {
	envelope, _ := syncproto.NewEnvelope(syncproto.TypeAuthError, requestID, syncproto.ErrorPayload{
		Code:    syncproto.CodeUnauthorized,
		Message: message,
	})
	conn.trySend(envelope)
	// Give the writer a moment to flush before tearing the socket down.
	time.AfterFunc(100*time.Millisecond, conn.closeAsync)
}

func (s *Server) handleMutation(ctx context.Context, conn *connection, envelope syncproto.Envelope, logger *slog.Logger) {
	userID := conn.boundUserID()
	var applied syncproto.MutationAppliedPayload
	var err error

	switch envelope.Type {
	case syncproto.TypeAddFunds:
		var payload syncproto.AddFundsPayload
		if err = s.decode(envelope.Payload, &payload); err == nil {
			applied.Entry, applied.BudgetState, err = s.services.Budget.AddFunds(ctx, userID, payload.Amount, userID)
		}
	case syncproto.TypeAddTransaction:
		var payload syncproto.AddTransactionPayload
		if err = s.decode(envelope.Payload, &payload); err == nil {
			applied.Entry, applied.BudgetState, err = s.services.Budget.AddTransaction(ctx, userID, payload.Fields, userID)
		}
	case syncproto.TypeEditTransaction:
		var payload syncproto.EditTransactionPayload
		if err = s.decode(envelope.Payload, &payload); err == nil {
			applied.Entry, applied.BudgetState, err = s.services.Budget.EditTransaction(ctx, userID, payload.EntryID, payload.Fields, userID)
		}
	case syncproto.TypeDeleteTransaction:
		var payload syncproto.DeleteTransactionPayload
		if err = s.decode(envelope.Payload, &payload); err == nil {
			applied.Entry, applied.BudgetState, err = s.services.Budget.DeleteTransaction(ctx, userID, payload.EntryID, userID)
		}
	case syncproto.TypeAssignBatchTag:
		var payload syncproto.AssignBatchTagPayload
		if err = s.decode(envelope.Payload, &payload); err == nil {
			applied.BatchTag = payload.Tag
			applied.UpdatedCount, applied.BudgetState, err = s.services.Budget.AssignBatchTag(ctx, userID, payload.EntryIDs, payload.Tag, userID)
		}
	}

	if err != nil {
		logger.Warn("Mutation failed",
			slog.String("op", envelope.Type),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		s.sendError(conn, envelope.RequestID, errorCode(err), err.Error())
		return
	}

	applied.UserID = userID
	broadcast, encErr := syncproto.NewEnvelope(syncproto.AppliedType(envelope.Type), envelope.RequestID, applied)
	if encErr != nil {
		logger.Error("Failed to encode broadcast", slog.String("error", encErr.Error()))
		return
	}
	// The ledger is shared: every connected client sees every applied
	// mutation, in completion order for any single user.
	s.hub.Broadcast(broadcast)
}

func (s *Server) handleAdmin(ctx context.Context, conn *connection, envelope syncproto.Envelope, logger *slog.Logger) {
	actor, err := s.services.User.GetUserByID(ctx, conn.boundUserID())
	if err != nil {
		s.sendError(conn, envelope.RequestID, errorCode(err), err.Error())
		return
	}
	if !actor.IsAdmin {
		s.sendError(conn, envelope.RequestID, syncproto.CodeForbidden, "administrator privileges required")
		return
	}

	switch envelope.Type {
	case syncproto.TypeAdminCreateUser:
		var payload syncproto.AdminCreateUserPayload
		if err := s.decode(envelope.Payload, &payload); err != nil {
			s.sendError(conn, envelope.RequestID, syncproto.CodeValidation, err.Error())
			return
		}
		user, err := s.services.User.CreateUser(ctx, payload.Username, payload.Password, payload.IsAdmin, actor.UserID)
		if err != nil {
			s.sendError(conn, envelope.RequestID, errorCode(err), err.Error())
			return
		}
		s.reply(conn, envelope.Type+"_result", envelope.RequestID, syncproto.UserPayload{User: dto.ToUserResponse(user)})
	case syncproto.TypeAdminListUsers:
		users, err := s.services.User.ListUsers(ctx)
		if err != nil {
			s.sendError(conn, envelope.RequestID, errorCode(err), err.Error())
			return
		}
		s.reply(conn, envelope.Type+"_result", envelope.RequestID, syncproto.UserListPayload{Users: dto.ToUserResponses(users)})
	case syncproto.TypeAdminDeleteUser:
		var payload syncproto.AdminDeleteUserPayload
		if err := s.decode(envelope.Payload, &payload); err != nil {
			s.sendError(conn, envelope.RequestID, syncproto.CodeValidation, err.Error())
			return
		}
		if err := s.services.User.DeleteUser(ctx, payload.UserID, actor.UserID); err != nil {
			s.sendError(conn, envelope.RequestID, errorCode(err), err.Error())
			return
		}
		s.reply(conn, envelope.Type+"_result", envelope.RequestID, nil)
		// The deleted account's live connections lose their access with it.
		s.hub.closeUser(payload.UserID)
	case syncproto.TypeAdminResetPassword:
		var payload syncproto.AdminResetPasswordPayload
		if err := s.decode(envelope.Payload, &payload); err != nil {
			s.sendError(conn, envelope.RequestID, syncproto.CodeValidation, err.Error())
			return
		}
		if err := s.services.User.ResetPassword(ctx, payload.UserID, payload.NewPassword, actor.UserID); err != nil {
			s.sendError(conn, envelope.RequestID, errorCode(err), err.Error())
			return
		}
		s.reply(conn, envelope.Type+"_result", envelope.RequestID, nil)
	}
}

// decode unmarshals and validates a payload.
func (s *Server) decode(raw json.RawMessage, payload any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return err
	}
	return s.validate.Struct(payload)
}

func (s *Server) reply(conn *connection, msgType, requestID string, payload any) {
	envelope, err := syncproto.NewEnvelope(msgType, requestID, payload)
	if err != nil {
		s.logger.Error("Failed to encode reply", slog.String("type", msgType), slog.String("error", err.Error()))
		return
	}
	conn.trySend(envelope)
}

func (s *Server) sendError(conn *connection, requestID, code, message string) {
	envelope, _ := syncproto.NewEnvelope(syncproto.TypeError, requestID, syncproto.ErrorPayload{
		Code:    code,
		Message: message,
	})
	conn.trySend(envelope)
}

// Shutdown closes every live connection.
func (s *Server) Shutdown() {
	s.hub.mu.Lock()
	conns := make([]*connection, 0, len(s.hub.conns))
	for _, c := range s.hub.conns {
		conns = append(conns, c)
	}
	s.hub.mu.Unlock()
	for _, c := range conns {
		c.closeAsync()
	}
}

// errorCode maps a service error onto its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrDuplicate):
		return syncproto.CodeValidation
	case errors.Is(err, apperrors.ErrNotFound):
		return syncproto.CodeNotFound
	case errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrAccountLocked):
		return syncproto.CodeUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return syncproto.CodeForbidden
	case errors.Is(err, apperrors.ErrPersistence):
		return syncproto.CodePersistence
	default:
		return syncproto.CodeInternal
	}
}
