// Package sidekick implements the supervisory control loop: a worker LLM
// with tools produces answers, an evaluator LLM judges them against a
// success criterion, and a small state machine alternates the two until
// success, a clarification question, or the iteration cap.
package sidekick

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openclaw/sidekick/internal/llm"
	"github.com/openclaw/sidekick/internal/logging"
	"github.com/openclaw/sidekick/internal/session"
	"github.com/openclaw/sidekick/internal/tools"
)

// DefaultSuccessCriteria is used when the caller supplies none.
const DefaultSuccessCriteria = "The answer should be clear and accurate"

// maxIterations bounds worker invocations per turn.
const maxIterations = 10

// Releaser is an external resource owned by the Sidekick for its lifetime,
// released exactly once at teardown.
type Releaser interface {
	Release()
}

// Verdict is the evaluator's structured judgment of the worker's answer.
type Verdict struct {
	Feedback           string `json:"feedback"`
	SuccessCriteriaMet bool   `json:"success_criteria_met"`
	UserInputNeeded    bool   `json:"user_input_needed"`
}

// Sidekick owns one conversation: the worker and evaluator models, the
// tool registry, and the persisted session history.
type Sidekick struct {
	worker    llm.Provider
	evaluator llm.Provider
	registry  *tools.Registry
	store     session.Store
	sess      *session.Session
	log       *logging.Logger
	now       func() time.Time

	resources   []Releaser
	cleanupOnce sync.Once

	// OnToolCall, when set, is invoked before each tool execution.
	OnToolCall func(name string, args map[string]interface{})

	turnMu sync.Mutex
}

// New creates a Sidekick with a fresh session.
func New(worker, evaluator llm.Provider, registry *tools.Registry, store session.Store, log *logging.Logger) *Sidekick {
	sess := session.NewSession()
	return &Sidekick{
		worker:    worker,
		evaluator: evaluator,
		registry:  registry,
		store:     store,
		sess:      sess,
		log:       log.WithComponent("loop").WithSession(sess.ID),
		now:       time.Now,
	}
}

// SessionID returns the stable identifier of the current session.
func (s *Sidekick) SessionID() string {
	return s.sess.ID
}

// AddResource registers an external resource to release at Cleanup.
func (s *Sidekick) AddResource(r Releaser) {
	s.resources = append(s.resources, r)
}

// Resume replaces the current session with one loaded from the store.
func (s *Sidekick) Resume(id string) error {
	sess, err := s.store.Load(id)
	if err != nil {
		return err
	}
	s.sess = sess
	s.log = s.log.WithSession(sess.ID)
	return nil
}

// Reset discards the conversation and starts a fresh session. Registered
// resources stay alive; only history is dropped.
func (s *Sidekick) Reset() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.sess = session.NewSession()
	s.log = s.log.WithSession(s.sess.ID)
}

// Cleanup releases all registered resources. Safe to call repeatedly;
// errors inside resource teardown are logged by the resources themselves.
func (s *Sidekick) Cleanup() {
	s.cleanupOnce.Do(func() {
		for _, r := range s.resources {
			r.Release()
		}
	})
}

// turnState holds the loop's per-turn mutable fields. Reset for every turn.
type turnState struct {
	messages        []llm.Message
	criteria        string
	feedbackOnWork  string
	criteriaMet     bool
	userInputNeeded bool
	iterations      int
}

// RunTurn runs one full worker/evaluator cycle for a new user message and
// returns history extended with the user message, the final answer, and the
// evaluator's feedback annotation. Only one turn may run at a time.
func (s *Sidekick) RunTurn(ctx context.Context, message, successCriteria string, history []llm.Message) ([]llm.Message, error) {
	if !s.turnMu.TryLock() {
		return nil, fmt.Errorf("a turn is already running on session %s", s.sess.ID)
	}
	defer s.turnMu.Unlock()

	criteria := successCriteria
	if criteria == "" {
		criteria = DefaultSuccessCriteria
	}

	t := &turnState{
		messages: append(append([]llm.Message(nil), s.sess.Messages...), llm.Message{
			Role:    llm.RoleUser,
			Content: message,
		}),
		criteria: criteria,
	}

	s.log.TurnStart(criteria)
	start := s.now()

	if err := s.runLoop(ctx, t); err != nil {
		return nil, err
	}

	// Persist full history under the stable session key. A storage failure
	// must not lose the answer we already have.
	s.sess.Messages = t.messages
	s.sess.Touch()
	if err := s.store.Save(s.sess); err != nil {
		s.log.Warn("failed to persist session", map[string]interface{}{"error": err.Error()})
	}

	reason := "criteria met"
	switch {
	case t.userInputNeeded:
		reason = "user input needed"
	case !t.criteriaMet:
		reason = "iteration cap"
	}
	s.log.TurnComplete(t.iterations, s.now().Sub(start), reason)

	if len(t.messages) < 2 {
		return nil, fmt.Errorf("loop ended with incomplete history")
	}
	reply := t.messages[len(t.messages)-2]
	feedback := t.messages[len(t.messages)-1]

	return append(append([]llm.Message(nil), history...),
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: reply.Content},
		llm.Message{Role: llm.RoleAssistant, Content: feedback.Content},
	), nil
}
