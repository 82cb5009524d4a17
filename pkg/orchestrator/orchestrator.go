// Package orchestrator drives a proposed action through disambiguation,
// confirmation, and execution. One machine owns exactly one live pipeline
// state; a new proposal supersedes whatever was in flight.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/directory"
	"github.com/harborchat/valet/pkg/logger"
	"github.com/harborchat/valet/pkg/outcome"
)

type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseSelecting         Phase = "selecting"
	PhaseConflicted        Phase = "conflicted"
	PhaseAwaitingNewTarget Phase = "awaiting_new_target"
	PhaseConfirming        Phase = "confirming"
	PhaseExecuting         Phase = "executing"
	PhaseResult            Phase = "result"
)

// State is a snapshot of the machine. Exactly one payload field matching
// the phase is set.
type State struct {
	Phase      Phase                     `json:"phase"`
	Generation uint64                    `json:"generation"`
	Selection  *outcome.SelectionRequest `json:"selection,omitempty"`
	Conflict   *outcome.ConflictResult   `json:"conflict,omitempty"`
	// ProposedName and Draft describe the pending new-target offer.
	ProposedName string                   `json:"proposed_name,omitempty"`
	Draft        *action.Intent           `json:"draft,omitempty"`
	Result       *outcome.ExecutionResult `json:"result,omitempty"`
}

// Executor is the pipeline's server boundary, injected rather than reached
// through a shared singleton.
type Executor interface {
	Resolve(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome
	Commit(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome
}

// TargetCreator creates a new contact when the user accepts the
// new-target offer.
type TargetCreator interface {
	Create(ctx context.Context, principalID, displayName string) (directory.Contact, error)
}

const (
	defaultCallTimeout = 15 * time.Second
	defaultResultTTL   = 5 * time.Second

	// maxSelectionRounds bounds disambiguation ping-pong with a confused
	// caller.
	maxSelectionRounds = 2
)

type Machine struct {
	exec        Executor
	targets     TargetCreator
	principalID string

	callTimeout time.Duration
	resultTTL   time.Duration
	listener    func(State)

	mu         sync.Mutex
	state      State
	generation uint64
	rounds     int

	// emitMu serializes listener delivery so consumers observe transitions
	// in the order they were applied.
	emitMu sync.Mutex
}

type Option func(*Machine)

func WithCallTimeout(d time.Duration) Option {
	return func(m *Machine) { m.callTimeout = d }
}

func WithResultTTL(d time.Duration) Option {
	return func(m *Machine) { m.resultTTL = d }
}

// WithListener registers a callback invoked after every state change. The
// callback runs outside the machine's lock.
func WithListener(fn func(State)) Option {
	return func(m *Machine) { m.listener = fn }
}

func New(exec Executor, targets TargetCreator, principalID string, opts ...Option) *Machine {
	m := &Machine{
		exec:        exec,
		targets:     targets,
		principalID: principalID,
		callTimeout: defaultCallTimeout,
		resultTTL:   defaultResultTTL,
		state:       State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns a snapshot of the live state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Propose enters a new action into the pipeline, superseding any state the
// machine previously held. Under-specified actions go through resolve;
// fully-specified ones go straight to confirmation.
func (m *Machine) Propose(intent action.Intent) {
	m.mu.Lock()
	gen := m.supersedeLocked()
	m.rounds = 0

	needsResolve := action.NeedsResolve(intent.Name, intent.Parameters) ||
		len(action.Missing(intent.Name, intent.Parameters)) > 0 ||
		!action.Known(intent.Name)

	if !needsResolve {
		st := m.setLocked(State{Phase: PhaseConfirming, Generation: gen, Draft: &intent})
		m.emitAndUnlock(st)
		return
	}

	st := m.setLocked(State{Phase: PhaseExecuting, Generation: gen, Draft: &intent})
	m.emitAndUnlock(st)

	go m.runResolve(gen, intent)
}

// Confirm executes the drafted action the user just approved.
func (m *Machine) Confirm() {
	m.mu.Lock()
	if m.state.Phase != PhaseConfirming || m.state.Draft == nil {
		m.mu.Unlock()
		return
	}
	intent := *m.state.Draft
	gen := m.state.Generation
	st := m.setLocked(State{Phase: PhaseExecuting, Generation: gen, Draft: &intent})
	m.emitAndUnlock(st)

	go m.runCommit(gen, intent)
}

// Cancel abandons the pipeline from any non-terminal state. Purely local:
// no service call is made and nothing is audited.
func (m *Machine) Cancel() {
	m.mu.Lock()
	if m.state.Phase == PhaseIdle {
		m.mu.Unlock()
		return
	}
	gen := m.supersedeLocked()
	st := m.setLocked(State{Phase: PhaseIdle, Generation: gen})
	m.emitAndUnlock(st)
}

// ChooseOption resolves a pending selection by merging the chosen option
// into the original parameters and re-entering resolve, which may still
// find a scheduling conflict.
func (m *Machine) ChooseOption(optionID string) {
	m.mu.Lock()
	if m.state.Phase != PhaseSelecting || m.state.Selection == nil {
		m.mu.Unlock()
		return
	}
	sel := *m.state.Selection

	var chosen *outcome.SelectionOption
	for i := range sel.Options {
		if sel.Options[i].ID == optionID {
			chosen = &sel.Options[i]
			break
		}
	}
	if chosen == nil {
		m.mu.Unlock()
		return
	}

	m.rounds++
	gen := m.state.Generation
	conversationID := conversationOf(m.state.Draft)

	if m.rounds > maxSelectionRounds {
		st := m.toResultLocked(gen, outcome.ExecutionResult{
			Success: false,
			Message: "could not narrow the request down; please try again",
		})
		m.emitAndUnlock(st)
		return
	}

	kind, merged := sel.MergeOption(*chosen)
	intent := action.Intent{Name: kind, Parameters: merged, ConversationID: conversationID}
	st := m.setLocked(State{Phase: PhaseExecuting, Generation: gen, Draft: &intent})
	m.emitAndUnlock(st)

	go m.runResolve(gen, intent)
}

// ChooseAlternative accepts one of the suggested times and commits with the
// substituted start.
func (m *Machine) ChooseAlternative(start time.Time) {
	m.mu.Lock()
	if m.state.Phase != PhaseConflicted || m.state.Conflict == nil {
		m.mu.Unlock()
		return
	}
	kind, merged := m.state.Conflict.WithAlternative(start)
	gen := m.state.Generation
	intent := action.Intent{Name: kind, Parameters: merged, ConversationID: conversationOf(m.state.Draft)}
	st := m.setLocked(State{Phase: PhaseExecuting, Generation: gen, Draft: &intent})
	m.emitAndUnlock(st)

	go m.runCommit(gen, intent)
}

// ConfirmNewTarget creates the offered contact, substitutes its identifier
// into the draft, and commits.
func (m *Machine) ConfirmNewTarget() {
	m.mu.Lock()
	if m.state.Phase != PhaseAwaitingNewTarget || m.state.Draft == nil {
		m.mu.Unlock()
		return
	}
	name := m.state.ProposedName
	intent := *m.state.Draft
	gen := m.state.Generation
	st := m.setLocked(State{Phase: PhaseExecuting, Generation: gen, Draft: &intent})
	m.emitAndUnlock(st)

	go m.runCreateTarget(gen, name, intent)
}

func (m *Machine) runResolve(gen uint64, intent action.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	defer cancel()

	out := m.exec.Resolve(ctx, intent.Name, intent.Parameters, m.principalID, intent.ConversationID)
	m.applyResolve(gen, intent, out)
}

func (m *Machine) applyResolve(gen uint64, intent action.Intent, out outcome.Outcome) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		logger.DebugCF("orchestrator", "Discarding stale resolve response", map[string]interface{}{
			"generation": gen,
		})
		return
	}

	var st State
	switch out.Status {
	case outcome.StatusSelectionRequired:
		st = m.setLocked(State{Phase: PhaseSelecting, Generation: gen, Selection: out.Selection, Draft: &intent})
	case outcome.StatusConflictDetected:
		st = m.setLocked(State{Phase: PhaseConflicted, Generation: gen, Conflict: out.Conflict, Draft: &intent})
	case outcome.StatusSuccess:
		ready := intent
		ready.Parameters = out.Parameters
		st = m.setLocked(State{Phase: PhaseConfirming, Generation: gen, Draft: &ready})
	default:
		identField, _ := action.IdentFields(intent.Name)
		name := action.String(intent.Parameters, identField)
		if out.FailureKind == outcome.FailureNotFound && name != "" {
			st = m.setLocked(State{
				Phase:        PhaseAwaitingNewTarget,
				Generation:   gen,
				ProposedName: name,
				Draft:        &intent,
			})
		} else {
			st = m.toResultLocked(gen, out.Result())
		}
	}
	m.emitAndUnlock(st)
}

func (m *Machine) runCommit(gen uint64, intent action.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	defer cancel()

	out := m.exec.Commit(ctx, intent.Name, intent.Parameters, m.principalID, intent.ConversationID)
	m.applyCommit(gen, intent, out)
}

func (m *Machine) applyCommit(gen uint64, intent action.Intent, out outcome.Outcome) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		logger.DebugCF("orchestrator", "Discarding stale commit response", map[string]interface{}{
			"generation": gen,
		})
		return
	}

	var st State
	switch out.Status {
	case outcome.StatusConflictDetected:
		// The slot was taken between resolve and commit.
		st = m.setLocked(State{Phase: PhaseConflicted, Generation: gen, Conflict: out.Conflict, Draft: &intent})
	case outcome.StatusSelectionRequired:
		st = m.setLocked(State{Phase: PhaseSelecting, Generation: gen, Selection: out.Selection, Draft: &intent})
	default:
		st = m.toResultLocked(gen, out.Result())
	}
	m.emitAndUnlock(st)
}

func (m *Machine) runCreateTarget(gen uint64, name string, intent action.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
	defer cancel()

	contact, err := m.targets.Create(ctx, m.principalID, name)
	if err != nil {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		st := m.toResultLocked(gen, outcome.ExecutionResult{
			Success: false,
			Message: "creating contact: " + err.Error(),
		})
		m.emitAndUnlock(st)
		return
	}

	_, resolvedField := action.IdentFields(intent.Name)
	params := action.Clone(intent.Parameters)
	if resolvedField != "" {
		params[resolvedField] = contact.ID
	}
	intent.Parameters = params

	m.runCommit(gen, intent)
}

// supersedeLocked invalidates any in-flight call and pending dismiss timer
// by bumping the generation.
func (m *Machine) supersedeLocked() uint64 {
	m.generation++
	return m.generation
}

func (m *Machine) setLocked(st State) State {
	m.state = st
	return st
}

// toResultLocked enters the terminal result phase and schedules the
// auto-dismiss back to idle.
func (m *Machine) toResultLocked(gen uint64, result outcome.ExecutionResult) State {
	st := m.setLocked(State{Phase: PhaseResult, Generation: gen, Result: &result})
	time.AfterFunc(m.resultTTL, func() {
		m.mu.Lock()
		if m.generation != gen || m.state.Phase != PhaseResult {
			m.mu.Unlock()
			return
		}
		idle := m.setLocked(State{Phase: PhaseIdle, Generation: gen})
		m.emitAndUnlock(idle)
	})
	return st
}

// emitAndUnlock takes the emit lock before releasing the state lock, so two
// transitions cannot deliver their snapshots to the listener out of order.
// The listener itself still runs outside the state lock.
func (m *Machine) emitAndUnlock(st State) {
	m.emitMu.Lock()
	m.mu.Unlock()
	if m.listener != nil {
		m.listener(st)
	}
	m.emitMu.Unlock()
}

func conversationOf(draft *action.Intent) string {
	if draft == nil {
		return ""
	}
	return draft.ConversationID
}
