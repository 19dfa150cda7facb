package cyibot

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/cyibot/internal/eventbus"
	"go.uber.org/zap"
)

// createStateMachine wires the router's transitions.
func (r *Router) createStateMachine() *StateMachine {
	sm := NewStateMachine(r.eventBus)
	sm.RegisterTransition(StateIdle, r.createIdleTransition())
	sm.RegisterTransition(StateAwaitingToolResult, r.createToolTransition())
	sm.RegisterTransition(StateSynthesizing, r.createSynthesisTransition())
	return sm
}

// createIdleTransition resolves the turn's filter and plans its tools.
func (r *Router) createIdleTransition() StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tc *TurnContext) (TurnState, error) {
		r.publish(ctx, eb, eventbus.EventTurnStarted, tc.Question, "StateMachine.Idle", map[string]interface{}{
			"session_id": tc.SessionID,
			"turn_id":    tc.ID,
		})

		tc.Resolution = ResolveFilter(r.components.Schema, tc.Question, tc.Previous)
		tc.Filter = tc.Resolution.Filter
		r.publish(ctx, eb, eventbus.EventFilterResolved, tc.Filter.Clone(), "StateMachine.Idle", map[string]interface{}{
			"turn_id": tc.ID,
			"carried": tc.Resolution.Carried,
			"cleared": tc.Resolution.Cleared,
		})

		reply, err := r.requestPlan(ctx, tc)
		if err != nil {
			if ctx.Err() != nil {
				return StateFailed, ctx.Err()
			}
			r.logger.Warn("model routing failed, using keyword routing",
				zap.String("turn_id", tc.ID), zap.Error(err))
			r.publish(ctx, eb, eventbus.EventRoutingFallback, err.Error(), "StateMachine.Idle", map[string]interface{}{
				"turn_id": tc.ID,
			})
			tc.Plan = NormalizePlan(r.heuristicPlan(tc), r.config.MaxToolCalls)
			tc.Routing = RoutingHeuristic
		} else if len(reply.Invocations) == 0 {
			tc.Answer = reply.Text
			tc.Routing = RoutingDirect
			r.publish(ctx, eb, eventbus.EventRoutingDecided, nil, "StateMachine.Idle", map[string]interface{}{
				"turn_id": tc.ID,
				"routing": string(tc.Routing),
			})
			return StateDone, nil
		} else {
			tc.Plan = NormalizePlan(reply.Invocations, r.config.MaxToolCalls)
			tc.Routing = RoutingModel
		}

		names := make([]string, 0, len(tc.Plan))
		for _, inv := range tc.Plan {
			names = append(names, inv.Name)
		}
		r.publish(ctx, eb, eventbus.EventRoutingDecided, names, "StateMachine.Idle", map[string]interface{}{
			"turn_id": tc.ID,
			"routing": string(tc.Routing),
		})
		return StateAwaitingToolResult, nil
	}
}

// requestPlan asks the model for tools. Any failure, an empty reply or an
// invalid plan is reported as an error so the caller can fall back.
func (r *Router) requestPlan(ctx context.Context, tc *TurnContext) (*ModelReply, error) {
	specs := r.tools.Specs()
	messages := make([]Message, 0, len(tc.History)+2)
	messages = append(messages, Message{Role: RoleSystem, Text: RoutingPrompt(r.components.Schema, specs)})
	messages = append(messages, tc.History...)
	messages = append(messages, Message{Role: RoleUser, Text: annotateQuestion(tc)})

	callCtx, cancel := r.callContext(ctx)
	reply, err := r.components.Model.Chat(callCtx, messages, specs)
	cancel()
	if err != nil {
		return nil, NewRoutingError("language model routing call failed", classifyContextError("routing", err))
	}
	if reply == nil || (len(reply.Invocations) == 0 && strings.TrimSpace(reply.Text) == "") {
		return nil, NewRoutingError("language model returned neither tools nor text", nil)
	}
	if err := r.tools.ValidatePlan(reply.Invocations); err != nil {
		return nil, err
	}
	return reply, nil
}

// heuristicPlan routes by keywords. Follow-ups search with the previous
// question prepended so short questions like "What about 2022?" keep their
// subject.
func (r *Router) heuristicPlan(tc *TurnContext) []ToolInvocation {
	searchText := tc.Question
	if tc.IsFollowUp() && tc.PreviousQuestion != "" {
		searchText = tc.PreviousQuestion + " " + tc.Question
	}
	return HeuristicPlan(tc.Question, searchText, tc.PreviousTools, tc.IsFollowUp())
}

// annotateQuestion appends the effective filter so the model sees values
// carried over from earlier turns.
func annotateQuestion(tc *TurnContext) string {
	if len(tc.Filter) == 0 {
		return tc.Question
	}
	return fmt.Sprintf("%s\n\n(Applies to: %s)", tc.Question, tc.Filter.String())
}

// createToolTransition runs the next planned tool.
func (r *Router) createToolTransition() StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tc *TurnContext) (TurnState, error) {
		if len(tc.Plan) == 0 {
			return StateSynthesizing, nil
		}
		inv := tc.Plan[0]
		tc.Plan = tc.Plan[1:]
		if inv.Name == ToolSummarize {
			return StateSynthesizing, nil
		}

		tool, args, err := r.tools.Decode(inv)
		if err != nil {
			return StateFailed, err
		}

		r.publish(ctx, eb, eventbus.EventToolStarted, inv, "StateMachine.AwaitingToolResult", map[string]interface{}{
			"turn_id": tc.ID,
			"tool":    inv.Name,
		})

		callCtx, cancel := r.callContext(ctx)
		result, err := tool.Execute(callCtx, tc, args)
		cancel()
		if err != nil {
			r.publish(ctx, eb, eventbus.EventToolFailure, err.Error(), "StateMachine.AwaitingToolResult", map[string]interface{}{
				"turn_id": tc.ID,
				"tool":    inv.Name,
			})
			return StateFailed, err
		}

		tc.Executed = append(tc.Executed, inv.Name)
		if result != nil {
			tc.Evidence.Fragments = append(tc.Evidence.Fragments, result.Evidence.Fragments...)
			tc.Evidence.Records = append(tc.Evidence.Records, result.Evidence.Records...)
			if result.Query != nil {
				tc.Queries = append(tc.Queries, result.Query)
			}
		}

		r.publish(ctx, eb, eventbus.EventToolSuccess, inv.Name, "StateMachine.AwaitingToolResult", map[string]interface{}{
			"turn_id":   tc.ID,
			"tool":      inv.Name,
			"fragments": len(tc.Evidence.Fragments),
			"records":   len(tc.Evidence.Records),
		})
		return StateAwaitingToolResult, nil
	}
}

// createSynthesisTransition produces the answer from the gathered evidence.
func (r *Router) createSynthesisTransition() StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tc *TurnContext) (TurnState, error) {
		r.publish(ctx, eb, eventbus.EventSynthesisStarted, tc.Question, "StateMachine.Synthesizing", map[string]interface{}{
			"turn_id":   tc.ID,
			"fragments": len(tc.Evidence.Fragments),
			"records":   len(tc.Evidence.Records),
		})

		callCtx, cancel := r.callContext(ctx)
		text, err := r.components.Synthesizer.Synthesize(callCtx, tc.Question, tc.Evidence)
		cancel()
		if err != nil {
			r.publish(ctx, eb, eventbus.EventSynthesisFailure, err.Error(), "StateMachine.Synthesizing", map[string]interface{}{
				"turn_id": tc.ID,
			})
			return StateFailed, err
		}

		tc.Answer = text
		r.publish(ctx, eb, eventbus.EventSynthesisSuccess, len(text), "StateMachine.Synthesizing", map[string]interface{}{
			"turn_id": tc.ID,
		})
		return StateDone, nil
	}
}

// builtinTools binds the three router tools to the injected components.
func (r *Router) builtinTools() []*Tool {
	return []*Tool{
		NewTool(ToolSemanticSearch, r.semanticSearch,
			WithDescription("Searches CYI's program documents (reports, feedback surveys, meeting notes, proposals) by meaning. "+
				"Program and year filters are applied automatically."),
			WithParameters(
				ParameterSpec{Name: "query", Type: "string", Description: "what to search for", Required: true},
				ParameterSpec{Name: "top_k", Type: "integer", Description: "number of passages to return, 1 to 20"},
			),
			WithArguments(func() any { return &SemanticSearchArgs{} }),
		),
		NewTool(ToolDirectoryLookup, r.directoryLookup,
			WithDescription("Looks up people in the contact directory: staff, coordinators, directors, mentors, participants and alumni, "+
				"with their program, year, role and email."),
			WithParameters(
				ParameterSpec{Name: "question", Type: "string", Description: "the directory question in plain language", Required: true},
			),
			WithArguments(func() any { return &DirectoryLookupArgs{} }),
		),
		NewTool(ToolSummarize, nil,
			WithDescription("Writes the final answer from everything gathered so far. Always call it last."),
			WithParameters(
				ParameterSpec{Name: "focus", Type: "string", Description: "optional aspect to emphasize"},
			),
			WithArguments(func() any { return &SummarizeArgs{} }),
		),
	}
}

// semanticSearch always filters with the turn's effective filter; filter
// values proposed by the model are ignored so the same question resolves
// the same way regardless of model wording.
func (r *Router) semanticSearch(ctx context.Context, tc *TurnContext, args any) (*ToolResult, error) {
	a, ok := args.(*SemanticSearchArgs)
	if !ok {
		return nil, NewToolValidationError(ToolSemanticSearch, fmt.Errorf("unexpected argument type %T", args))
	}
	topK := a.TopK
	if topK <= 0 {
		topK = r.config.TopK
	}

	res, err := r.components.Retriever.Retrieve(ctx, a.Query, tc.Filter.Clone(), topK)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Evidence: Evidence{Fragments: res.Fragments},
		Filter:   res.Filter,
	}, nil
}

func (r *Router) directoryLookup(ctx context.Context, tc *TurnContext, args any) (*ToolResult, error) {
	a, ok := args.(*DirectoryLookupArgs)
	if !ok {
		return nil, NewToolValidationError(ToolDirectoryLookup, fmt.Errorf("unexpected argument type %T", args))
	}

	res, err := r.components.Translator.Translate(ctx, a.Question, tc.Filter.Clone())
	if err != nil {
		return nil, err
	}
	if !res.Generated {
		r.logger.Info("no directory query generated", zap.String("turn_id", tc.ID))
	}
	return &ToolResult{
		Evidence: Evidence{Records: res.Records},
		Query:    res.Query,
	}, nil
}
