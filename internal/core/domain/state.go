package domain

// Stage is one node of the retrieval pipeline.
type Stage string

const (
	StagePlan         Stage = "plan"
	StageToolAnswer   Stage = "tool_answer"
	StageEnhanceQuery Stage = "enhance_query"
	StageFullText     Stage = "es_fulltext"
	StageStructured   Stage = "sql_structured"
	StageMerge        Stage = "merge"
	StageRefine       Stage = "refine"
	StageDedup        Stage = "dedup"
	StageRelevance    Stage = "relevance_filter"
	StageAskUser      Stage = "ask_user"
	StageAnswer       Stage = "answer"
	StageDone         Stage = "end"
)

// RetrievalState is threaded through every stage. Each stage owns exactly
// one of the optional sections and never writes another stage's section.
type RetrievalState struct {
	Session QuerySession `json:"session"`
	// Query is the effective query: the original text plus clarifications.
	Query          string   `json:"query"`
	TopK           int      `json:"top_k,omitempty"`
	Clarifications []string `json:"clarifications,omitempty"`

	Plan        *PlanOutput        `json:"plan,omitempty"`
	ToolAnswer  *ToolAnswerOutput  `json:"tool_answer,omitempty"`
	Enhancement *EnhancementOutput `json:"enhancement,omitempty"`
	Channels    *ChannelOutput     `json:"channels,omitempty"`
	Fusion      *FusionOutput      `json:"fusion,omitempty"`
	Refinement  *RefinementOutput  `json:"refinement,omitempty"`
	Dedup       *DedupOutput       `json:"dedup,omitempty"`
	Relevance   *RelevanceOutput   `json:"relevance,omitempty"`
	Answer      *Answer            `json:"answer,omitempty"`
}

type PlanOutput struct {
	Steps         []PlanStep   `json:"steps"`
	Reasoning     string       `json:"reasoning,omitempty"`
	ToolResults   []ToolResult `json:"tool_results,omitempty"`
	NeedRetrieval bool         `json:"need_retrieval"`
	Degraded      bool         `json:"degraded,omitempty"`
}

type ToolAnswerOutput struct {
	Text string `json:"text"`
}

type EnhancementOutput struct {
	ParsedFields   map[string]FieldHint `json:"parsed_fields,omitempty"`
	RewrittenQuery string               `json:"rewritten_query"`
	Degraded       bool                 `json:"degraded,omitempty"`
}

type ChannelOutput struct {
	FullTextIDs   []int64             `json:"fulltext_ids"`
	FullTextDocs  []DocumentCandidate `json:"-"`
	StructuredIDs []int64             `json:"structured_ids"`
	FullTextErr   string              `json:"fulltext_error,omitempty"`
	StructuredErr string              `json:"structured_error,omitempty"`

	// Category is the identified document type, or WildcardCategory.
	Category         string           `json:"category"`
	StructuredFields []FieldCondition `json:"structured_fields,omitempty"`
}

type FusionOutput struct {
	Result    FusionResult        `json:"result"`
	Documents []DocumentCandidate `json:"documents"`
}

type RefinementOutput struct {
	Conditions       []FieldCondition    `json:"conditions,omitempty"`
	MissingFields    []string            `json:"missing_fields,omitempty"`
	AmbiguityMessage string              `json:"ambiguity_message,omitempty"`
	Applied          bool                `json:"applied"`
	SkipReason       string              `json:"skip_reason,omitempty"`
	Documents        []DocumentCandidate `json:"documents"`
}

type DedupOutput struct {
	Documents  []DocumentCandidate `json:"documents"`
	RemovedIDs []int64             `json:"removed_ids,omitempty"`
}

type RelevanceOutput struct {
	Documents []DocumentCandidate `json:"documents"`
	Reason    string              `json:"reason,omitempty"`
	Skipped   bool                `json:"skipped,omitempty"`
}

// AmbiguityMessage returns the refinement stage's clarification request, if any.
func (s *RetrievalState) AmbiguityMessage() string {
	if s == nil || s.Refinement == nil {
		return ""
	}
	return s.Refinement.AmbiguityMessage
}

// FinalDocuments returns the most refined candidate set produced so far.
func (s *RetrievalState) FinalDocuments() []DocumentCandidate {
	switch {
	case s.Relevance != nil:
		return s.Relevance.Documents
	case s.Dedup != nil:
		return s.Dedup.Documents
	case s.Refinement != nil:
		return s.Refinement.Documents
	case s.Fusion != nil:
		return s.Fusion.Documents
	default:
		return nil
	}
}

// ResetFrom clears the sections produced by stage and every later stage, so
// that a resumed run re-produces them.
func (s *RetrievalState) ResetFrom(stage Stage) {
	switch stage {
	case StagePlan:
		s.Plan = nil
		s.ToolAnswer = nil
		fallthrough
	case StageEnhanceQuery:
		s.Enhancement = nil
		fallthrough
	case StageFullText, StageStructured:
		s.Channels = nil
		fallthrough
	case StageMerge:
		s.Fusion = nil
		fallthrough
	case StageRefine:
		s.Refinement = nil
		fallthrough
	case StageDedup:
		s.Dedup = nil
		fallthrough
	case StageRelevance:
		s.Relevance = nil
		fallthrough
	default:
		s.Answer = nil
	}
}
