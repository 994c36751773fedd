package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// SessionBuilder creates the session service for one browser context. Tabs
// sharing a context share the durable store underneath, which is how a
// second tab's start attempt collides.
type SessionBuilder func(contextID string) *app.SessionService

// WSHandler exposes the session over a websocket: one connection is one
// browser tab. Monitor-triggered transitions (expiry, forced submission)
// reach the tab through the session event subscription.
type WSHandler struct {
	newSession SessionBuilder
	results    app.ResultRepository
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

func NewWSHandler(newSession SessionBuilder, results app.ResultRepository, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		newSession: newSession,
		results:    results,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type advancePayload struct {
	Delta int `json:"delta"`
}

type navigatePayload struct {
	To        string `json:"to"`
	ResultRef string `json:"resultRef"`
}

type navigationResult struct {
	To         string `json:"to"`
	Allowed    bool   `json:"allowed"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

var (
	errInvalidPayload  = errors.New("invalid payload")
	errUnsupportedType = errors.New("unsupported message type")
)

// ServeWS upgrades HTTP requests to websockets and wires them into the
// session use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	contextID := r.URL.Query().Get("contextId")
	quizID := r.URL.Query().Get("quizId")
	if contextID == "" || quizID == "" {
		http.Error(w, "missing contextId or quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	service := h.newSession(contextID)
	guard := app.NewNavigationGuard(service, h.results, h.log)
	// Closing the tab unloads the page; the monitor must not outlive it.
	defer service.Suspend()

	updates, cancel := service.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- h.eventMessage(r.Context(), service, view):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), service, guard, quizID, inbound, send)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, service *app.SessionService, guard *app.NavigationGuard, quizID string, inbound inboundMessage, send chan<- outboundMessage[any]) {
	fail := func(err error) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}

	switch inbound.Type {
	case "start":
		view, err := service.Start(ctx, quizID)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "session", Payload: view}
	case "resume":
		view, err := service.Resume(ctx, quizID)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "session", Payload: view}
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(errInvalidPayload)
			return
		}
		view, err := service.RecordAnswer(ctx, payload.QuestionID, payload.OptionID)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "session", Payload: view}
	case "advance":
		var payload advancePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(errInvalidPayload)
			return
		}
		view, err := service.Advance(payload.Delta)
		if err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "session", Payload: view}
	case "submit":
		if _, err := service.Submit(ctx, domain.ReasonManual); err != nil {
			fail(err)
			return
		}
		// The submitted event reaches the tab through the subscription.
	case "abandon":
		if err := service.Abandon(ctx); err != nil {
			fail(err)
			return
		}
		send <- outboundMessage[any]{Type: "session", Payload: service.View()}
	case "navigate":
		var payload navigatePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(errInvalidPayload)
			return
		}
		decision := h.navigate(ctx, guard, quizID, payload)
		send <- outboundMessage[any]{Type: "navigation", Payload: navigationResult{
			To:         payload.To,
			Allowed:    decision.Allow,
			RedirectTo: string(decision.RedirectTo),
		}}
	default:
		fail(errUnsupportedType)
	}
}

func (h *WSHandler) navigate(ctx context.Context, guard *app.NavigationGuard, quizID string, payload navigatePayload) app.Decision {
	switch app.Route(payload.To) {
	case app.RouteQuizTaking:
		return guard.EnterQuizTaking(ctx, quizID)
	case app.RouteResults:
		return guard.EnterResults(ctx, payload.ResultRef)
	default:
		// Leaving quiz-taking for an unrelated route cleans the session up.
		return guard.LeaveQuizTaking(ctx, app.Route(payload.To))
	}
}

// eventMessage maps a broadcast view onto the wire: terminal transitions
// the monitor drives get their own message types so an idle tab still
// learns its fate.
func (h *WSHandler) eventMessage(ctx context.Context, service *app.SessionService, view app.View) outboundMessage[any] {
	switch view.Status {
	case domain.StatusSubmitted:
		if result, ok := service.LastResult(); ok {
			return outboundMessage[any]{Type: "submitted", Payload: result}
		}
		if view.ResultRef != "" {
			if result, err := h.results.GetResult(ctx, view.ResultRef); err == nil {
				return outboundMessage[any]{Type: "submitted", Payload: result}
			}
		}
		return outboundMessage[any]{Type: "submitted", Payload: view}
	case domain.StatusExpired:
		return outboundMessage[any]{Type: "expired", Payload: view}
	default:
		return outboundMessage[any]{Type: "session", Payload: view}
	}
}
