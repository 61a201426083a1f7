package domain

type PlanAction string

const (
	ActionToolCall          PlanAction = "tool_call"
	ActionDocumentRetrieval PlanAction = "document_retrieval"
)

type PlanStep struct {
	Index       int            `json:"step_index"`
	Action      PlanAction     `json:"action"`
	ToolName    string         `json:"tool_name,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Description string         `json:"description,omitempty"`
}

// ToolSpec describes one auxiliary lookup offered to the planner.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// ScopeArgument names the argument that receives the session scope id.
	// Empty means the tool is not scoped.
	ScopeArgument string `json:"-"`
}

type ToolResult struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    map[string]any `json:"result"`
}

// Succeeded reports whether the tool returned success=true.
func (r ToolResult) Succeeded() bool {
	ok, _ := r.Result["success"].(bool)
	return ok
}
