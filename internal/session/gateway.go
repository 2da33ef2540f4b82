// Package session implements the realtime layer: WebSocket admission,
// room membership, and per-message routing.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/avekdev/devroom/internal/auth"
	"github.com/avekdev/devroom/internal/domain"
	"github.com/avekdev/devroom/internal/room"
	"github.com/avekdev/devroom/internal/store"
	"github.com/coder/websocket"
)

// Admission rejection reasons. Part of the handshake contract; existing
// clients match on these strings.
const (
	ReasonMissingProjectID = "missing_project_id"
	ReasonInvalidProjectID = "invalid_project_id"
	ReasonProjectNotFound  = "project_not_found"
	ReasonMissingToken     = "missing_token"
	ReasonInvalidToken     = "invalid_token"
	ReasonInternalError    = "internal_error"
)

// EventProjectMessage is the chat event name, inbound and outbound.
const EventProjectMessage = "project-message"

// admissionError carries a machine-readable rejection reason with the
// HTTP status used to terminate the handshake.
type admissionError struct {
	reason string
	status int
	err    error
}

func (e *admissionError) Error() string { return e.reason }
func (e *admissionError) Unwrap() error { return e.err }

// HandlerFunc processes one inbound event on an admitted connection.
type HandlerFunc func(ctx context.Context, conn *room.Connection, data json.RawMessage)

// Gateway accepts inbound WebSocket connections, runs the admission
// protocol, and attaches admitted connections to their project room.
type Gateway struct {
	repo          store.Repository
	verifier      auth.Verifier
	rooms         *room.Registry
	handlers      map[string]HandlerFunc
	allowedOrigin string
	isDev         bool
}

// NewGateway creates a session gateway. Register event handlers with
// Handle before serving.
func NewGateway(repo store.Repository, verifier auth.Verifier, rooms *room.Registry, allowedOrigin string, isDev bool) *Gateway {
	return &Gateway{
		repo:          repo,
		verifier:      verifier,
		rooms:         rooms,
		handlers:      make(map[string]HandlerFunc),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// Handle registers the handler for an event name. One handler per event:
// the last registration wins.
func (g *Gateway) Handle(event string, fn HandlerFunc) {
	g.handlers[event] = fn
}

// ServeHTTP implements http.Handler for the WebSocket endpoint. Admission
// runs before the upgrade; a failed gate terminates the handshake with a
// JSON error body carrying the rejection reason.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	project, identity, admErr := g.admit(r)
	if admErr != nil {
		if admErr.err != nil {
			slog.Error("admission rejected", "reason", admErr.reason, "error", admErr.err, "ip", r.RemoteAddr)
		} else {
			slog.Info("admission rejected", "reason", admErr.reason, "ip", r.RemoteAddr)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(admErr.status)
		if err := json.NewEncoder(w).Encode(map[string]string{"error": admErr.reason}); err != nil {
			slog.Debug("failed to write rejection body", "error", err)
		}
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns(),
	})
	if err != nil {
		slog.Error("failed to accept WebSocket", "error", err, "user_id", identity.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", identity.ID)
		}
	}()

	conn := room.NewConnection(identity, project.ID, &wsTransport{ws: ws})
	g.rooms.Join(conn)
	// Leave runs on every disconnect path, abnormal close included.
	defer g.rooms.Leave(conn)

	slog.Info("session established", "user_id", identity.ID, "project_id", project.ID, "conn_id", conn.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.readLoop(ctx, ws, conn)
	slog.Info("session ended", "user_id", identity.ID, "project_id", project.ID, "conn_id", conn.ID)
}

// admit runs the admission gates in their contractual order: project id
// present, project id well-formed, project exists, token present, token
// valid. Project existence is checked before the token so a connection to
// a nonexistent project fails fast regardless of credential state.
func (g *Gateway) admit(r *http.Request) (*domain.Project, auth.Identity, *admissionError) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		return nil, auth.Identity{}, &admissionError{reason: ReasonMissingProjectID, status: http.StatusBadRequest}
	}
	if !domain.ValidID(projectID) {
		return nil, auth.Identity{}, &admissionError{reason: ReasonInvalidProjectID, status: http.StatusBadRequest}
	}

	project, err := g.repo.GetProject(r.Context(), projectID)
	if err != nil {
		return nil, auth.Identity{}, &admissionError{reason: ReasonInternalError, status: http.StatusInternalServerError, err: err}
	}
	if project == nil {
		return nil, auth.Identity{}, &admissionError{reason: ReasonProjectNotFound, status: http.StatusNotFound}
	}

	token := r.URL.Query().Get("auth")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		return nil, auth.Identity{}, &admissionError{reason: ReasonMissingToken, status: http.StatusUnauthorized}
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		return nil, auth.Identity{}, &admissionError{reason: ReasonInvalidToken, status: http.StatusUnauthorized}
	}

	return project, identity, nil
}

// eventFrame is one inbound wire frame.
type eventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readLoop processes inbound frames in arrival order, so messages from
// one connection are handled sequentially.
func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *room.Connection) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("websocket closed by client", "conn_id", conn.ID)
			} else {
				slog.Warn("websocket read error", "error", err, "conn_id", conn.ID)
			}
			return
		}

		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Debug("malformed event frame", "error", err, "conn_id", conn.ID)
			continue
		}

		handler, ok := g.handlers[frame.Event]
		if !ok {
			slog.Debug("no handler for event", "event", frame.Event, "conn_id", conn.ID)
			continue
		}
		handler(ctx, conn, frame.Data)
	}
}

func (g *Gateway) originPatterns() []string {
	if g.isDev || g.allowedOrigin == "" || g.allowedOrigin == "*" {
		return []string{"*"}
	}
	// OriginPatterns match on host, not full origin URL.
	if u, err := url.Parse(g.allowedOrigin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{g.allowedOrigin}
}
