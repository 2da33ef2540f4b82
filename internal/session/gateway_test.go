package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avekdev/devroom/internal/assistant"
	"github.com/avekdev/devroom/internal/auth"
	"github.com/avekdev/devroom/internal/domain"
	"github.com/avekdev/devroom/internal/room"
	"github.com/avekdev/devroom/internal/store"
	"github.com/coder/websocket"
)

const testSecret = "gateway-test-secret"

type gatewayFixture struct {
	srv      *httptest.Server
	repo     store.Repository
	verifier *auth.JWTVerifier
	project  *domain.Project
	rooms    *room.Registry
}

func newGatewayFixture(t *testing.T, gw assistant.Gateway) *gatewayFixture {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	now := time.Now()
	project := &domain.Project{
		ID:        domain.NewID(),
		Name:      "test-project",
		Users:     []string{domain.NewID()},
		FileTree:  domain.FileTree{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	verifier := auth.NewJWTVerifier([]byte(testSecret), time.Hour)
	rooms := room.NewRegistry()
	gateway := NewGateway(repo, verifier, rooms, "", true)
	gateway.Handle(EventProjectMessage, NewRouter(rooms, gw).HandleProjectMessage)

	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)

	return &gatewayFixture{srv: srv, repo: repo, verifier: verifier, project: project, rooms: rooms}
}

func (f *gatewayFixture) token(t *testing.T, userID, email string) string {
	t.Helper()
	token, err := f.verifier.Issue(auth.Identity{ID: userID, Email: email})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func (f *gatewayFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/socket?" + query

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() {
		_ = ws.Close(websocket.StatusNormalClosure, "test done")
	})
	return ws
}

func (f *gatewayFixture) waitForMembers(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.rooms.MemberCount(f.project.ID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d room members, got %d", want, f.rooms.MemberCount(f.project.ID))
}

func rejectionReason(t *testing.T, srv *httptest.Server, query string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/socket?" + query)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Rejection body is not JSON: %q", body)
	}
	return resp.StatusCode, decoded["error"]
}

func sendFrame(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatalf("Failed to marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func readChatMessage(t *testing.T, ws *websocket.Conn) domain.ChatMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var frame struct {
		Event string             `json:"event"`
		Data  domain.ChatMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", data, err)
	}
	if frame.Event != EventProjectMessage {
		t.Fatalf("Expected %q event, got %q", EventProjectMessage, frame.Event)
	}
	return frame.Data
}

func expectNoMessage(t *testing.T, ws *websocket.Conn, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if _, data, err := ws.Read(ctx); err == nil {
		t.Fatalf("Expected no message, got %q", data)
	}
}

func TestAdmissionMissingProjectID(t *testing.T) {
	f := newGatewayFixture(t, nil)
	status, reason := rejectionReason(t, f.srv, "")
	if status != http.StatusBadRequest || reason != ReasonMissingProjectID {
		t.Errorf("Expected 400 %q, got %d %q", ReasonMissingProjectID, status, reason)
	}
}

func TestAdmissionInvalidProjectIDBeforeTokenCheck(t *testing.T) {
	f := newGatewayFixture(t, nil)

	// No token supplied at all: the format gate must still fire first.
	status, reason := rejectionReason(t, f.srv, "projectId=not-a-valid-id")
	if status != http.StatusBadRequest || reason != ReasonInvalidProjectID {
		t.Errorf("Expected 400 %q, got %d %q", ReasonInvalidProjectID, status, reason)
	}
}

func TestAdmissionProjectNotFoundBeforeTokenCheck(t *testing.T) {
	f := newGatewayFixture(t, nil)

	status, reason := rejectionReason(t, f.srv, "projectId="+domain.NewID())
	if status != http.StatusNotFound || reason != ReasonProjectNotFound {
		t.Errorf("Expected 404 %q, got %d %q", ReasonProjectNotFound, status, reason)
	}
}

func TestAdmissionMissingToken(t *testing.T) {
	f := newGatewayFixture(t, nil)

	status, reason := rejectionReason(t, f.srv, "projectId="+f.project.ID)
	if status != http.StatusUnauthorized || reason != ReasonMissingToken {
		t.Errorf("Expected 401 %q, got %d %q", ReasonMissingToken, status, reason)
	}
}

func TestAdmissionInvalidToken(t *testing.T) {
	f := newGatewayFixture(t, nil)

	status, reason := rejectionReason(t, f.srv, "projectId="+f.project.ID+"&auth=bogus")
	if status != http.StatusUnauthorized || reason != ReasonInvalidToken {
		t.Errorf("Expected 401 %q, got %d %q", ReasonInvalidToken, status, reason)
	}
}

func TestAdmissionTokenFromAuthorizationHeader(t *testing.T) {
	f := newGatewayFixture(t, nil)
	token := f.token(t, domain.NewID(), "u1@example.com")

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/socket?projectId=" + f.project.ID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("Dial with header token failed: %v", err)
	}
	_ = ws.Close(websocket.StatusNormalClosure, "done")
}

func TestRelayBetweenParticipants(t *testing.T) {
	f := newGatewayFixture(t, nil)
	u1, u2 := domain.NewID(), domain.NewID()

	ws1 := f.dial(t, "projectId="+f.project.ID+"&auth="+f.token(t, u1, "u1@example.com"))
	ws2 := f.dial(t, "projectId="+f.project.ID+"&auth="+f.token(t, u2, "u2@example.com"))
	f.waitForMembers(t, 2)

	sendFrame(t, ws1, EventProjectMessage, domain.ChatMessage{
		Message: "hello",
		Sender:  domain.Sender{ID: u1, Email: "u1@example.com"},
	})

	got := readChatMessage(t, ws2)
	if got.Message != "hello" || got.Sender.ID != u1 {
		t.Errorf("Unexpected relayed message: %+v", got)
	}

	// The sender keeps its optimistic local copy; nothing comes back.
	expectNoMessage(t, ws1, 200*time.Millisecond)
}

func TestAssistantFlowEndToEnd(t *testing.T) {
	gw := &fakeGateway{reply: &assistant.Reply{Text: "done", FileTree: domain.FileTree{"a.txt": "hi"}}}
	f := newGatewayFixture(t, gw)
	u1, u2 := domain.NewID(), domain.NewID()

	ws1 := f.dial(t, "projectId="+f.project.ID+"&auth="+f.token(t, u1, "u1@example.com"))
	ws2 := f.dial(t, "projectId="+f.project.ID+"&auth="+f.token(t, u2, "u2@example.com"))
	f.waitForMembers(t, 2)

	sendFrame(t, ws1, EventProjectMessage, domain.ChatMessage{
		Message: "@ai write a hello file",
		Sender:  domain.Sender{ID: u1, Email: "u1@example.com"},
	})

	// The other participant sees the raw tagged message first, then the
	// assistant reply.
	raw := readChatMessage(t, ws2)
	if raw.Message != "@ai write a hello file" {
		t.Errorf("Expected raw tagged message first, got %q", raw.Message)
	}

	reply := readChatMessage(t, ws2)
	if reply.Sender != domain.AssistantSender {
		t.Errorf("Expected assistant sender, got %+v", reply.Sender)
	}
	var decoded assistant.Reply
	if err := json.Unmarshal([]byte(reply.Message), &decoded); err != nil {
		t.Fatalf("Assistant payload is not JSON: %v", err)
	}
	if decoded.Text != "done" || decoded.FileTree["a.txt"] != "hi" {
		t.Errorf("Unexpected assistant payload: %+v", decoded)
	}

	// The invoking client receives the reply through the room, too.
	senderReply := readChatMessage(t, ws1)
	if senderReply.Sender != domain.AssistantSender {
		t.Errorf("Expected assistant reply to sender, got %+v", senderReply)
	}
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	f := newGatewayFixture(t, nil)
	u1, u2 := domain.NewID(), domain.NewID()

	ws1 := f.dial(t, "projectId="+f.project.ID+"&auth="+f.token(t, u1, "u1@example.com"))
	ws2 := f.dial(t, "projectId="+f.project.ID+"&auth="+f.token(t, u2, "u2@example.com"))
	f.waitForMembers(t, 2)

	if err := ws2.Close(websocket.StatusNormalClosure, "leaving"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	f.waitForMembers(t, 1)

	// A broadcast after the disconnect must not block or fail.
	sendFrame(t, ws1, EventProjectMessage, domain.ChatMessage{
		Message: "anyone?",
		Sender:  domain.Sender{ID: u1, Email: "u1@example.com"},
	})
	expectNoMessage(t, ws1, 200*time.Millisecond)
}
