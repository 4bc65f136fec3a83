package nutrition

import (
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/generation"
)

// State is the readiness of a session. It is derived from the session's
// fields rather than stored.
type State int

const (
	StateIdle State = iota
	StateAwaitingCredential
	StateAwaitingGoal
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateAwaitingGoal:
		return "awaiting_goal"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// RecommendationKind names a cached derivative recommendation.
type RecommendationKind string

const (
	RecommendationHomeDishes RecommendationKind = "home_dishes"
	RecommendationMenu       RecommendationKind = "menu"
)

// Session holds everything one user has supplied or accumulated. All fields
// are guarded by mu; pipeline operations hold it for their whole duration so
// two operations on one session never overlap.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu              sync.Mutex
	started         bool
	client          generation.Client
	goal            string
	ledger          *Ledger
	recommendations map[RecommendationKind]string
	lastDay         *DayReport

	// lastUsed is owned by SessionStore and guarded by its mutex.
	lastUsed time.Time
}

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:              id,
		CreatedAt:       now,
		ledger:          NewLedger(),
		recommendations: make(map[RecommendationKind]string),
		lastUsed:        now,
	}
}

// State reports the session's current readiness.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	switch {
	case !s.started:
		return StateIdle
	case s.client == nil:
		return StateAwaitingCredential
	case strings.TrimSpace(s.goal) == "":
		return StateAwaitingGoal
	default:
		return StateReady
	}
}

// SetGoal replaces the session's goal for today. A blank goal is rejected and
// the previous goal kept.
func (s *Session) SetGoal(goal string) error {
	goal = strings.TrimSpace(goal)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	if goal == "" {
		return goerr.Wrap(domain.ErrInput, "please enter a goal for today")
	}
	s.goal = goal
	return nil
}

// guardLocked checks that generation may run. Credential comes first: without
// a client nothing can be generated at all.
func (s *Session) guardLocked() error {
	s.started = true
	if s.client == nil {
		return goerr.Wrap(domain.ErrAuth, "please provide an API key first", goerr.V("session_id", s.ID))
	}
	if strings.TrimSpace(s.goal) == "" {
		return goerr.Wrap(domain.ErrPrecondition, "please set your goal for today first", goerr.V("session_id", s.ID))
	}
	return nil
}

// View is a point-in-time copy of a session for rendering.
type View struct {
	ID              string
	State           State
	Goal            string
	Meals           []domain.MealEntry
	Recommendations map[RecommendationKind]string
	LastDay         *DayReport
}

func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make(map[RecommendationKind]string, len(s.recommendations))
	for k, v := range s.recommendations {
		recs[k] = v
	}
	return View{
		ID:              s.ID,
		State:           s.stateLocked(),
		Goal:            s.goal,
		Meals:           s.ledger.Entries(),
		Recommendations: recs,
		LastDay:         s.lastDay,
	}
}
