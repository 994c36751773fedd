package app

import (
	"context"

	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// Route identifies the views the guard coordinates between.
type Route string

const (
	RouteQuizDetails Route = "quiz-details"
	RouteQuizTaking  Route = "quiz-taking"
	RouteResults     Route = "results"
	RouteDashboard   Route = "dashboard"
)

// Decision is the guard's verdict on a navigation request. When Allow is
// false, RedirectTo names where to send the student instead.
type Decision struct {
	Allow      bool
	RedirectTo Route
}

// NavigationGuard coordinates entry and exit of the quiz-taking and results
// views. It never blocks navigation; it only redirects invalid arrivals and
// guarantees session state is consistent after a departure.
type NavigationGuard struct {
	svc     *SessionService
	results ResultRepository
	log     zerolog.Logger
}

func NewNavigationGuard(svc *SessionService, results ResultRepository, log zerolog.Logger) *NavigationGuard {
	return &NavigationGuard{
		svc:     svc,
		results: results,
		log:     log.With().Str("component", "nav_guard").Logger(),
	}
}

// EnterQuizTaking allows the quiz-taking view only when a durable session
// for the target quiz resumes as InProgress. Anything else redirects to
// quiz details, the one entry point for Start. The guard never auto-starts
// a session.
func (g *NavigationGuard) EnterQuizTaking(ctx context.Context, quizID string) Decision {
	view, err := g.svc.Resume(ctx, quizID)
	if err != nil {
		g.log.Debug().Err(err).Str("quiz_id", quizID).Msg("quiz-taking entry rejected")
		return Decision{RedirectTo: RouteQuizDetails}
	}
	if view.Status != domain.StatusInProgress {
		return Decision{RedirectTo: RouteQuizDetails}
	}
	return Decision{Allow: true}
}

// EnterResults allows the results view only with a concrete graded result
// to display: either the ref handed off by a just-completed submission or
// an explicit ref that resolves. Otherwise the student lands on the
// dashboard.
func (g *NavigationGuard) EnterResults(ctx context.Context, resultRef string) Decision {
	if resultRef == "" {
		if result, ok := g.svc.LastResult(); ok {
			resultRef = result.ResultRef
		}
	}
	if resultRef == "" {
		return Decision{RedirectTo: RouteDashboard}
	}
	if _, err := g.results.GetResult(ctx, resultRef); err != nil {
		g.log.Debug().Err(err).Str("result_ref", resultRef).Msg("results entry rejected")
		return Decision{RedirectTo: RouteDashboard}
	}
	return Decision{Allow: true}
}

// LeaveQuizTaking runs when the student navigates off the quiz-taking view.
// Leaving for anywhere but results abandons the session as a cleanup side
// effect; the navigation itself is always allowed.
func (g *NavigationGuard) LeaveQuizTaking(ctx context.Context, to Route) Decision {
	if to != RouteResults {
		if err := g.svc.Abandon(ctx); err != nil {
			g.log.Debug().Err(err).Str("to", string(to)).Msg("abandon on departure skipped")
		}
	}
	return Decision{Allow: true}
}
