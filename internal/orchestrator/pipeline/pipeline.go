// Package pipeline drives the LLM through a bounded, forced-tool loop:
// every reply must carry at least one tool call, and the turn only ends
// when one of those calls is a response tool.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/orchestrator/antihallucination"
	"github.com/hostctl/hostctl/internal/orchestrator/providers"
	"github.com/hostctl/hostctl/internal/orchestrator/reqctx"
	"github.com/hostctl/hostctl/internal/orchestrator/tools"
	"github.com/hostctl/hostctl/internal/orchestrator/tracker"
	"github.com/hostctl/hostctl/internal/sessions"
	"github.com/hostctl/hostctl/pkg/models"
)

// defaultMaxToolTurns bounds how many LLM round-trips one Process call may
// take, independent of the request-scoped reqctx.Config.MaxTurns budget.
const defaultMaxToolTurns = 10

// defaultTemperature is the tuning parameter spec.md §4.D.2 pins for the
// forced-tool loop: low enough to discourage improvisation, not so low the
// model degenerates into repeating a failing tool call verbatim.
const defaultTemperature = 0.7

// ErrNoResponseTools is returned by Process (and should gate daemon
// bootstrap) when the registry carries none of the three legal
// turn-terminators.
var ErrNoResponseTools = errs.New(errs.KindValidation, "pipeline: no response tool registered (respond_to_user, cannot_perform, request_clarification)")

var responseToolNames = []string{"respond_to_user", "cannot_perform", "request_clarification"}

// PipelineResult is the outcome of one Process call.
type PipelineResult struct {
	UserMessage string
	Verified    bool
	Issues      []tracker.Issue
	ToolTurns   int
	Corrected   bool
}

// Pipeline is a sequential forced-tool executor. One Pipeline instance may
// serve many Process calls; per-turn state lives in a fresh
// tracker.Orchestrator allocated at the start of each call.
type Pipeline struct {
	registry     *tools.Registry
	provider     providers.Provider
	sessions     sessions.Store
	model        atomic.Value // string
	maxToolTurns int
	logger       *slog.Logger
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithMaxToolTurns overrides the default MAX_TOOL_TURNS cap.
func WithMaxToolTurns(n int) Option {
	return func(p *Pipeline) { p.maxToolTurns = n }
}

// WithLogger overrides the default component-scoped logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New constructs a Pipeline. It does not validate registry contents;
// callers should check HasResponseTool (or call Process, which validates
// on every invocation) before accepting daemon traffic.
func New(registry *tools.Registry, provider providers.Provider, store sessions.Store, model string, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:     registry,
		provider:     provider,
		sessions:     store,
		maxToolTurns: defaultMaxToolTurns,
		logger:       slog.Default().With("component", "pipeline"),
	}
	p.model.Store(model)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetModel swaps the model used for subsequent turns. Safe to call
// concurrently with Process; in-flight turns keep using whatever model
// they already read.
func (p *Pipeline) SetModel(model string) {
	p.model.Store(model)
}

// Model returns the model currently in use.
func (p *Pipeline) Model() string {
	m, _ := p.model.Load().(string)
	return m
}

// Process runs the nine-step forced-tool protocol for one user message
// against one session, returning once a response tool terminates the turn
// or a bound (tool-turn cap, request turn cap, or timeout) is hit.
func (p *Pipeline) Process(ctx context.Context, rc *reqctx.Context, session *models.Session, userMessage string) (*PipelineResult, error) {
	if !p.registry.HasResponseTool(responseToolNames...) {
		return nil, ErrNoResponseTools
	}

	history, err := p.sessions.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return nil, errs.Newf(errs.KindInternal, "pipeline: load history: %v", err)
	}

	messages := make([]providers.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, toChatMessage(m))
	}
	messages = append(messages, providers.ChatMessage{Role: "user", Content: userMessage})

	userMsg := &models.Message{SessionID: session.ID, Role: models.RoleUser, Content: userMessage}
	if err := p.sessions.AppendMessage(ctx, session.ID, userMsg); err != nil {
		return nil, errs.Newf(errs.KindInternal, "pipeline: append user message: %v", err)
	}

	defs := rc.Definitions()
	orch := tracker.New()
	orch.StartTurn(session.ID)

	correctionUsed := false
	toolTurns := 0

	for {
		if rc.IsTimedOut() {
			return nil, errs.New(errs.KindTimeout, "pipeline: request context timed out")
		}
		if toolTurns >= p.maxToolTurns {
			return nil, errs.Newf(errs.KindTurnLimit, "pipeline: MAX_TOOL_TURNS (%d) exceeded", p.maxToolTurns)
		}
		toolTurns++

		resp, err := p.provider.ChatWithRequest(ctx, providers.ChatRequest{
			Model:       p.Model(),
			Messages:    messages,
			Tools:       defs,
			ToolChoice:  providers.Required,
			Temperature: defaultTemperature,
		})
		if err != nil {
			return nil, errs.Newf(errs.KindProviderError, "pipeline: chat: %v", err)
		}

		if len(resp.ToolCalls) == 0 {
			p.logger.Warn("provider returned free-form content under tool_choice=required",
				"session_id", session.ID, "content_len", len(resp.Content))
			return nil, errs.New(errs.KindProviderError, "pipeline: protocol error: no tool calls returned under Required tool choice")
		}

		assistantMsg := providers.ChatMessage{Role: "assistant", ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		calls := make([]models.ToolCall, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			calls[i] = models.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Arguments}
		}

		report := orch.ExecuteToolSequence(ctx, rc, calls)
		for _, r := range report.Results {
			messages = append(messages, providers.ChatMessage{
				Role:       "tool",
				Content:    r.Content,
				ToolCallID: r.ToolCallID,
			})
		}

		if terminated(calls) {
			break
		}
	}

	check := orch.VerifyTurn()
	if !check.Verified && hasCliIssue(check.Issues) && !correctionUsed {
		correctionUsed = true
		verdict := rebuildVerdict(check)
		correction := antihallucination.BuildCorrectionMessage(verdict)
		messages = append(messages, providers.ChatMessage{Role: "system", Content: correction})

		orch.StartTurn(session.ID)
		if toolTurns < p.maxToolTurns {
			toolTurns++
			resp, err := p.provider.ChatWithRequest(ctx, providers.ChatRequest{
				Model:       p.Model(),
				Messages:    messages,
				Tools:       defs,
				ToolChoice:  providers.Required,
				Temperature: defaultTemperature,
			})
			if err == nil && len(resp.ToolCalls) > 0 {
				messages = append(messages, providers.ChatMessage{Role: "assistant", ToolCalls: resp.ToolCalls})
				calls := make([]models.ToolCall, len(resp.ToolCalls))
				for i, tc := range resp.ToolCalls {
					calls[i] = models.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Arguments}
				}
				report := orch.ExecuteToolSequence(ctx, rc, calls)
				for _, r := range report.Results {
					messages = append(messages, providers.ChatMessage{Role: "tool", Content: r.Content, ToolCallID: r.ToolCallID})
				}
				check = orch.VerifyTurn()
			}
		}
	}

	userResponse, ok := orch.UserResponse()
	if !ok {
		return nil, errs.New(errs.KindInternal, "pipeline: response tool observed but no user-facing message extracted")
	}

	assistantRecord := &models.Message{SessionID: session.ID, Role: models.RoleAssistant, Content: userResponse}
	if err := p.sessions.AppendMessage(ctx, session.ID, assistantRecord); err != nil {
		return nil, errs.Newf(errs.KindInternal, "pipeline: append assistant message: %v", err)
	}

	return &PipelineResult{
		UserMessage: userResponse,
		Verified:    check.Verified,
		Issues:      check.Issues,
		ToolTurns:   toolTurns,
		Corrected:   correctionUsed,
	}, nil
}

// terminated reports whether calls includes a legal turn-terminator.
func terminated(calls []models.ToolCall) bool {
	for _, c := range calls {
		for _, name := range responseToolNames {
			if c.Name == name {
				return true
			}
		}
	}
	return false
}

func hasCliIssue(issues []tracker.Issue) bool {
	for _, i := range issues {
		if i.Code == tracker.IssueCliSuggestionInResponse {
			return true
		}
	}
	return false
}

// rebuildVerdict reconstructs an antihallucination.Verdict from the
// tracker's issue list so the correction message can be built without the
// tracker package depending back on antihallucination's Verdict shape
// beyond what it already imports for VerifyTurn.
func rebuildVerdict(check tracker.HallucinationCheck) antihallucination.Verdict {
	v := antihallucination.Verdict{HasSuggestion: true, ShouldReject: true}
	for _, issue := range check.Issues {
		if issue.Code == tracker.IssueCliSuggestionInResponse {
			v.Detected = append(v.Detected, antihallucination.ForbiddenHit{Pattern: issue.Pattern})
		}
	}
	return v
}

func toChatMessage(m *models.Message) providers.ChatMessage {
	cm := providers.ChatMessage{Role: string(m.Role), Content: m.Content}
	for _, tc := range m.ToolCalls {
		cm.ToolCalls = append(cm.ToolCalls, providers.ToolCallInfo{ID: tc.ID, Name: tc.Name, Arguments: json.RawMessage(tc.Input)})
	}
	if len(m.ToolResults) > 0 {
		// A stored message never mixes multiple tool results; GetHistory
		// replays them as independent role=tool messages (see AppendMessage
		// call sites), so at most one is expected here.
		cm.ToolCallID = m.ToolResults[0].ToolCallID
		cm.Content = m.ToolResults[0].Content
		cm.Role = "tool"
	}
	return cm
}
