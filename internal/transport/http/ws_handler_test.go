package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	loader := memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()})
	quizzes := memory.NewQuizRepository(loader, time.Minute)
	grader := memory.NewGrader(loader)
	stores := memory.NewSnapshotStores()

	newSession := func(contextID string) *app.SessionService {
		return app.NewSessionService(stores.ForContext(contextID), quizzes, grader, zerolog.Nop())
	}
	wsHandler := NewWSHandler(newSession, grader, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, contextID string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?contextId=" + contextID + "&quizId=quiz-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSessionFlow(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server, "ctx-flow")

	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	payload := readUntil(conn, t, "session", func(p map[string]any) bool {
		return p["status"] == string(domain.StatusInProgress)
	})
	if payload["quizId"] != "quiz-1" {
		t.Fatalf("expected quiz-1 session, got %+v", payload)
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": "q1",
			"optionId":   "o2",
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	readUntil(conn, t, "session", func(p map[string]any) bool {
		answers, _ := p["answers"].(map[string]any)
		return answers["q1"] == "o2"
	})

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	// The submit reply arrives through the subscription as a graded result.
	result := readUntil(conn, t, "submitted", nil)
	if result["quizId"] != "quiz-1" {
		t.Fatalf("expected graded result for quiz-1, got %+v", result)
	}
}

func TestWebSocketSecondTabConflicts(t *testing.T) {
	server := newTestServer(t)

	first := dial(t, server, "ctx-tabs")
	if err := first.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(first, t, "session", func(p map[string]any) bool {
		return p["status"] == string(domain.StatusInProgress)
	})

	// Same browser context, second tab: the shared durable store already
	// holds a snapshot, so the second start must be rejected.
	second := dial(t, server, "ctx-tabs")
	if err := second.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(second, t, "error", nil)
}

func TestWebSocketNavigationGuard(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server, "ctx-nav")

	// No session and no result: both guarded views redirect.
	navigate := func(to string) map[string]any {
		msg := map[string]any{
			"type":    "navigate",
			"payload": map[string]any{"to": to},
		}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write navigate: %v", err)
		}
		return readUntil(conn, t, "navigation", func(p map[string]any) bool {
			return p["to"] == to
		})
	}

	decision := navigate("quiz-taking")
	if decision["allowed"] != false || decision["redirectTo"] != string(app.RouteQuizDetails) {
		t.Fatalf("expected redirect to quiz details, got %+v", decision)
	}
	decision = navigate("results")
	if decision["allowed"] != false || decision["redirectTo"] != string(app.RouteDashboard) {
		t.Fatalf("expected redirect to dashboard, got %+v", decision)
	}

	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	readUntil(conn, t, "session", func(p map[string]any) bool {
		return p["status"] == string(domain.StatusInProgress)
	})
	decision = navigate("quiz-taking")
	if decision["allowed"] != true {
		t.Fatalf("expected entry allowed with active session, got %+v", decision)
	}
}

func TestWebSocketRequiresContextAndQuiz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/ws?quizId=quiz-1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without contextId, got %d", resp.StatusCode)
	}
}

// readUntil reads frames until one of the wanted type arrives whose payload
// satisfies match (nil matches anything). Unrelated frames, like the initial
// subscription snapshot, are skipped.
func readUntil(conn *websocket.Conn, t *testing.T, want string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != want {
			continue
		}
		if match == nil || match(msg.Payload) {
			return msg.Payload
		}
	}
	t.Fatalf("timed out waiting for %q", want)
	return nil
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Sample quiz",
		DurationMinutes: 5,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
			{
				ID:     "q2",
				Prompt: "What is 3 * 3?",
				Options: []domain.Option{
					{ID: "o1", Text: "6"},
					{ID: "o2", Text: "9", Correct: true},
				},
			},
		},
	}
}
