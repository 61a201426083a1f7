package domain

import "time"

type QuerySession struct {
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	ScopeID   int64     `json:"scope_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AskRequest starts a new session, or resumes a paused one when SessionID
// and Clarification are both set.
type AskRequest struct {
	Query         string `json:"query"`
	ScopeID       int64  `json:"scope_id"`
	TopK          int    `json:"top_k,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Clarification string `json:"clarification,omitempty"`
}

func (r AskRequest) IsResume() bool {
	return r.SessionID != "" && r.Clarification != ""
}

type AnswerMode string

const (
	AnswerSinglePass AnswerMode = "single_pass"
	AnswerMapReduce  AnswerMode = "map_reduce"
	AnswerUngrounded AnswerMode = "ungrounded"
	AnswerTool       AnswerMode = "tool"
)

type Answer struct {
	Text       string      `json:"text"`
	References []Reference `json:"references"`
	Mode       AnswerMode  `json:"mode"`
}

// AskResult is the collected outcome of one pipeline turn.
type AskResult struct {
	SessionID        string         `json:"session_id"`
	Answer           *Answer        `json:"answer,omitempty"`
	AmbiguityMessage string         `json:"ambiguity_message,omitempty"`
	MissingFields    []string       `json:"missing_fields,omitempty"`
	Strategy         FusionStrategy `json:"strategy,omitempty"`
}

// PipelineLimits bounds the pipeline and carries its tunables.
type PipelineLimits struct {
	FullTextTopK          int           `json:"fulltext_top_k"`
	StructuredLimit       int           `json:"structured_limit"`
	FusionIntersectionMin int           `json:"fusion_intersection_min"`
	FusionMaxResults      int           `json:"fusion_max_results"`
	RefineMaxResults      int           `json:"refine_max_results"`
	AnswerContextBudget   int           `json:"answer_context_budget"`
	DocumentExcerptRunes  int           `json:"document_excerpt_runes"`
	MaxClarifications     int           `json:"max_clarifications"`
	StageTimeout          time.Duration `json:"stage_timeout"`
	Timeout               time.Duration `json:"timeout"`
	Dedup                 DedupThresholds
}

type DedupThresholds struct {
	HammingMax   int     `json:"hamming_max"`
	JaccardHigh  float64 `json:"jaccard_high"`
	JaccardLow   float64 `json:"jaccard_low"`
	EditRatioMin float64 `json:"edit_ratio_min"`
	ShingleSize  int     `json:"shingle_size"`
	EditMaxRunes int     `json:"edit_max_runes"`
}

func DefaultDedupThresholds() DedupThresholds {
	return DedupThresholds{
		HammingMax:   3,
		JaccardHigh:  0.75,
		JaccardLow:   0.5,
		EditRatioMin: 0.80,
		ShingleSize:  5,
		EditMaxRunes: 2000,
	}
}
