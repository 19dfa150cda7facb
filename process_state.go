package cyibot

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/cyibot/internal/eventbus"
)

// TurnState is the router's state while processing one question.
type TurnState string

const (
	// StateIdle resolves the filter and chooses tools.
	StateIdle TurnState = "idle"
	// StateAwaitingToolResult runs the next planned tool.
	StateAwaitingToolResult TurnState = "awaiting_tool_result"
	// StateSynthesizing turns gathered evidence into an answer.
	StateSynthesizing TurnState = "synthesizing"
	// StateDone is terminal: the turn produced an answer.
	StateDone TurnState = "done"
	// StateFailed is terminal: the turn failed and carries an apology.
	StateFailed TurnState = "failed"
)

// TurnContext holds everything one turn reads and produces. It is owned by
// a single goroutine for the duration of the turn.
type TurnContext struct {
	ID        string
	SessionID string
	Question  string

	// Conversation inputs
	History          []Message
	PreviousQuestion string
	PreviousTools    []string
	Previous         MetadataFilter

	// Intermediate results
	Resolution FilterResolution
	Filter     MetadataFilter
	Plan       []ToolInvocation
	Executed   []string
	Evidence   Evidence
	Queries    []*DirectoryQuery
	Routing    RoutingSource
	Answer     string

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState    TurnState
	StateHistory    []TurnState
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[TurnState]time.Time
}

// NewTurnContext creates a turn context in StateIdle.
func NewTurnContext(id, sessionID, question string) *TurnContext {
	now := time.Now()
	return &TurnContext{
		ID:              id,
		SessionID:       sessionID,
		Question:        question,
		CurrentState:    StateIdle,
		StartTime:       now,
		StateStartTimes: map[TurnState]time.Time{StateIdle: now},
	}
}

// IsFollowUp reports whether the turn's filter took values from the previous turn.
func (tc *TurnContext) IsFollowUp() bool {
	return len(tc.Resolution.Carried) > 0
}

// Transition records the current state in the history and moves to state.
func (tc *TurnContext) Transition(state TurnState) {
	tc.StateHistory = append(tc.StateHistory, tc.CurrentState)
	tc.CurrentState = state
	now := time.Now()
	tc.StateStartTimes[state] = now
	if tc.IsTerminal() {
		tc.EndTime = now
	}
}

// IsTerminal reports whether the turn is Done or Failed.
func (tc *TurnContext) IsTerminal() bool {
	return tc.CurrentState == StateDone || tc.CurrentState == StateFailed
}

// Fail records err and moves to StateFailed. The answer becomes a message
// that is safe to show the user.
func (tc *TurnContext) Fail(err error, stage string) {
	tc.LastError = err
	tc.ErrorStage = stage
	tc.Answer = UserMessage(err)
	tc.Transition(StateFailed)
}

// Duration returns the time spent on the turn so far.
func (tc *TurnContext) Duration() time.Duration {
	if tc.IsTerminal() {
		return tc.EndTime.Sub(tc.StartTime)
	}
	return time.Since(tc.StartTime)
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, tc *TurnContext) (TurnState, error)

// StateMachine drives a turn through its transitions.
type StateMachine struct {
	transitions map[TurnState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a state machine publishing on eventBus, which may be nil.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[TurnState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state TurnState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions until the turn reaches a terminal state and
// returns the answer together with the error that failed the turn, if any.
// A failed turn still returns user-visible text.
func (sm *StateMachine) Execute(ctx context.Context, tc *TurnContext) (string, error) {
	for !tc.IsTerminal() {
		stage := string(tc.CurrentState)

		if err := ctx.Err(); err != nil {
			tc.Fail(classifyContextError(stage, err), stage)
			break
		}

		transition, ok := sm.transitions[tc.CurrentState]
		if !ok {
			tc.Fail(NewRoutingError(fmt.Sprintf("no transition defined for state: %s", tc.CurrentState), nil), stage)
			break
		}

		next, err := transition(ctx, sm.eventBus, tc)
		if err != nil {
			tc.Fail(classifyContextError(stage, err), stage)
			continue
		}
		tc.Transition(next)
	}

	return tc.Answer, tc.LastError
}
