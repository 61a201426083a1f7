package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

const defaultRetrievalDescription = "search the archive for documents answering the question"

// TaskPlanner asks the model for an execution plan and runs its tool steps.
type TaskPlanner struct {
	llm     ports.LanguageModel
	tools   ports.ToolExecutor
	timeout time.Duration
}

func NewTaskPlanner(llm ports.LanguageModel, tools ports.ToolExecutor, timeout time.Duration) *TaskPlanner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TaskPlanner{llm: llm, tools: tools, timeout: timeout}
}

func (p *TaskPlanner) Plan(ctx context.Context, session domain.QuerySession, query string) *domain.PlanOutput {
	catalog := p.catalog()

	planCtx, cancel := context.WithTimeout(ctx, p.timeout)
	raw, err := p.llm.CompleteJSON(planCtx, buildPlannerPrompt(query, session.ScopeID, catalog))
	cancel()
	if err != nil {
		slog.Warn("planner_degraded", "session_id", session.SessionID, "error", err)
		return defaultPlan("planner unavailable")
	}

	steps, reasoning, err := parsePlan(raw, catalog)
	if err != nil {
		slog.Warn("planner_degraded", "session_id", session.SessionID, "error", err)
		return defaultPlan("planner returned no usable plan")
	}

	out := &domain.PlanOutput{
		Steps:     steps,
		Reasoning: reasoning,
	}
	for i, step := range steps {
		switch step.Action {
		case domain.ActionDocumentRetrieval:
			out.NeedRetrieval = true
		case domain.ActionToolCall:
			steps[i].Arguments = injectScope(step, catalog, session.ScopeID)
			out.ToolResults = append(out.ToolResults, p.runTool(ctx, session, steps[i]))
		}
	}
	return out
}

func (p *TaskPlanner) catalog() []domain.ToolSpec {
	if p.tools == nil {
		return nil
	}
	return p.tools.Tools()
}

// runTool never fails the plan: errors become a failed tool result.
func (p *TaskPlanner) runTool(ctx context.Context, session domain.QuerySession, step domain.PlanStep) domain.ToolResult {
	result := domain.ToolResult{
		ToolName:  step.ToolName,
		Arguments: step.Arguments,
	}
	if p.tools == nil {
		result.Result = failedToolResult(domain.WrapError(domain.ErrUnknownTool, "execute tool", fmt.Errorf("%s", step.ToolName)))
		return result
	}

	toolCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.tools.Execute(toolCtx, step.ToolName, step.Arguments)
	if err != nil {
		slog.Warn("planner_tool_failed", "session_id", session.SessionID, "tool", step.ToolName, "error", err)
		result.Result = failedToolResult(err)
		return result
	}
	if out == nil {
		out = map[string]any{"success": true}
	}
	result.Result = out
	return result
}

func failedToolResult(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}

func defaultPlan(reason string) *domain.PlanOutput {
	return &domain.PlanOutput{
		Steps: []domain.PlanStep{{
			Index:       0,
			Action:      domain.ActionDocumentRetrieval,
			Description: defaultRetrievalDescription,
		}},
		Reasoning:     reason,
		NeedRetrieval: true,
		Degraded:      true,
	}
}

type planResponse struct {
	Reasoning string `json:"reasoning"`
	Steps     []struct {
		Action      string         `json:"action"`
		ToolName    string         `json:"tool_name"`
		Arguments   map[string]any `json:"arguments"`
		Description string         `json:"description"`
	} `json:"steps"`
}

func parsePlan(raw string, catalog []domain.ToolSpec) ([]domain.PlanStep, string, error) {
	var resp planResponse
	if err := decodeModelJSON(raw, &resp); err != nil {
		return nil, "", err
	}

	steps := make([]domain.PlanStep, 0, len(resp.Steps))
	for _, s := range resp.Steps {
		action := domain.PlanAction(strings.ToLower(strings.TrimSpace(s.Action)))
		step := domain.PlanStep{
			Index:       len(steps),
			Action:      action,
			Description: strings.TrimSpace(s.Description),
		}
		switch action {
		case domain.ActionDocumentRetrieval:
		case domain.ActionToolCall:
			step.ToolName = strings.TrimSpace(s.ToolName)
			if step.ToolName == "" {
				continue
			}
			step.Arguments = s.Arguments
		default:
			continue
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, "", fmt.Errorf("plan has no steps")
	}
	return steps, strings.TrimSpace(resp.Reasoning), nil
}

// injectScope fills the tool's scope argument with the session scope when
// the model left it out. The step's own map is never modified.
func injectScope(step domain.PlanStep, catalog []domain.ToolSpec, scopeID int64) map[string]any {
	args := make(map[string]any, len(step.Arguments)+1)
	for k, v := range step.Arguments {
		args[k] = v
	}
	for _, tool := range catalog {
		if tool.Name != step.ToolName || tool.ScopeArgument == "" {
			continue
		}
		if v, ok := args[tool.ScopeArgument]; !ok || v == nil || v == "" {
			args[tool.ScopeArgument] = scopeID
		}
	}
	return args
}
