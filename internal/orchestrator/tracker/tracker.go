// Package tracker implements the Forced Execution Orchestrator: a
// single-owner, per-turn record of every tool call and the hallucination
// verdict derived from it.
package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hostctl/hostctl/internal/orchestrator/antihallucination"
	"github.com/hostctl/hostctl/internal/orchestrator/reqctx"
	"github.com/hostctl/hostctl/pkg/models"
)

// CallRecord is one tool invocation observed within the current turn.
type CallRecord struct {
	ToolName  string
	Arguments json.RawMessage
	Content   string
	IsError   bool
	Err       error
	Duration  time.Duration
}

// TurnState is the orchestrator's state for the turn in progress.
type TurnState struct {
	SessionID            string
	Calls                []CallRecord
	StartedAt            time.Time
	ResponseToolObserved bool
	responseMessage      string
}

// ExecutionReport is the outcome of dispatching one batch of tool calls.
type ExecutionReport struct {
	Results []models.ToolResult
}

// IssueCode identifies why VerifyTurn failed.
type IssueCode string

const (
	IssueNoResponseTool          IssueCode = "NoResponseTool"
	IssueCliSuggestionInResponse IssueCode = "CliSuggestionInResponse"
	IssueEmptyResponse           IssueCode = "EmptyResponse"
)

// Issue is a structured verification failure.
type Issue struct {
	Code    IssueCode
	Pattern string
}

// HallucinationCheck is the verification verdict for the current turn.
type HallucinationCheck struct {
	Verified bool
	Issues   []Issue
}

// TurnStats summarizes the calls made in the current turn.
type TurnStats struct {
	ToolNames  []string
	Count      int
	DurationMs int64
}

// responseToolNames are the only legitimate turn-terminators.
var responseToolNames = map[string]bool{
	"respond_to_user":        true,
	"cannot_perform":         true,
	"request_clarification": true,
}

// Orchestrator tracks one turn's tool calls. It is single-owner: callers
// must instantiate a fresh Orchestrator per turn rather than share one
// across concurrent turns.
type Orchestrator struct {
	mu    sync.Mutex
	state TurnState
}

// New creates an Orchestrator with a cleared state.
func New() *Orchestrator {
	return &Orchestrator{}
}

// StartTurn clears tracking state for a new turn.
func (o *Orchestrator) StartTurn(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = TurnState{SessionID: sessionID, StartedAt: time.Now()}
}

// ExecuteToolSequence dispatches calls strictly in order via reqCtx,
// recording each into the turn's call log as it completes, and detects
// whether any call is a response-tool terminator.
func (o *Orchestrator) ExecuteToolSequence(ctx context.Context, reqCtx *reqctx.Context, calls []models.ToolCall) ExecutionReport {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		res, err := reqCtx.ExecuteTool(ctx, call.Name, call.Input)
		duration := time.Since(start)

		var content string
		var isError bool
		if err != nil {
			content = err.Error()
			isError = true
		} else {
			content = res.Content
			isError = res.IsError
		}

		o.mu.Lock()
		o.state.Calls = append(o.state.Calls, CallRecord{
			ToolName:  call.Name,
			Arguments: call.Input,
			Content:   content,
			IsError:   isError,
			Err:       err,
			Duration:  duration,
		})
		if responseToolNames[call.Name] && !isError {
			o.state.ResponseToolObserved = true
			o.state.responseMessage = extractMessage(call.Input, content)
		}
		o.mu.Unlock()

		results = append(results, models.ToolResult{
			ToolCallID: call.ID,
			Content:    content,
			IsError:    isError,
		})
	}
	return ExecutionReport{Results: results}
}

// extractMessage pulls the "message" field out of a response tool's
// arguments, falling back to the tool's returned content if the argument
// shape is unexpected.
func extractMessage(arguments json.RawMessage, fallback string) string {
	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(arguments, &args); err == nil && args.Message != "" {
		return args.Message
	}
	return fallback
}

// VerifyTurn computes the hallucination verdict for the turn: verified
// requires a response-tool call whose message field contains no forbidden
// CLI pattern.
func (o *Orchestrator) VerifyTurn() HallucinationCheck {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.state.ResponseToolObserved {
		return HallucinationCheck{Verified: false, Issues: []Issue{{Code: IssueNoResponseTool}}}
	}
	if o.state.responseMessage == "" {
		return HallucinationCheck{Verified: false, Issues: []Issue{{Code: IssueEmptyResponse}}}
	}
	verdict := antihallucination.Check(o.state.responseMessage)
	if len(verdict.Detected) > 0 {
		issues := make([]Issue, 0, len(verdict.Detected))
		for _, hit := range verdict.Detected {
			issues = append(issues, Issue{Code: IssueCliSuggestionInResponse, Pattern: hit.Pattern})
		}
		return HallucinationCheck{Verified: false, Issues: issues}
	}
	return HallucinationCheck{Verified: true}
}

// UserResponse returns the content from the observed response tool's
// arguments, if any.
func (o *Orchestrator) UserResponse() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.ResponseToolObserved {
		return "", false
	}
	return o.state.responseMessage, true
}

// TurnStats summarizes the calls made so far this turn.
func (o *Orchestrator) TurnStats() TurnStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, len(o.state.Calls))
	var totalMs int64
	for i, c := range o.state.Calls {
		names[i] = c.ToolName
		totalMs += c.Duration.Milliseconds()
	}
	return TurnStats{ToolNames: names, Count: len(o.state.Calls), DurationMs: totalMs}
}
