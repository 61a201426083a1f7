package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
)

const (
	OutcomeAnswer     = "answer"
	OutcomeToolAnswer = "tool_answer"
	OutcomeAmbiguity  = "ambiguity"
	OutcomeError      = "error"

	eventBuffer = 16
)

// PipelineUseCase drives one retrieval state through the stage graph:
//
//	plan -> tool_answer? -> enhance_query -> es_fulltext/sql_structured ->
//	merge -> refine -> dedup -> relevance_filter -> ask_user | answer
type PipelineUseCase struct {
	planner   *TaskPlanner
	enhancer  *QueryEnhancer
	retriever *DualRetriever
	fuser     *ResultFuser
	refiner   *RefinementFilter
	dedup     *Deduplicator
	relevance *RelevanceFilter
	synth     *AnswerSynthesizer

	sessions ports.SessionStore
	observer ports.PipelineObserver
	limits   domain.PipelineLimits
}

func NewPipelineUseCase(
	llm ports.LanguageModel,
	search ports.FullTextSearcher,
	metadata ports.MetadataStore,
	tools ports.ToolExecutor,
	sessions ports.SessionStore,
	limits domain.PipelineLimits,
) *PipelineUseCase {
	limits = normalizeLimits(limits)
	return &PipelineUseCase{
		planner:   NewTaskPlanner(llm, tools, limits.StageTimeout),
		enhancer:  NewQueryEnhancer(llm, metadata, limits.StageTimeout),
		retriever: NewDualRetriever(search, metadata, llm, limits.FullTextTopK, limits.StructuredLimit, limits.StageTimeout),
		fuser:     NewResultFuser(metadata, limits.FusionIntersectionMin, limits.FusionMaxResults, limits.StageTimeout),
		refiner:   NewRefinementFilter(llm, metadata, search, limits.RefineMaxResults, limits.StageTimeout),
		dedup:     NewDeduplicator(limits.Dedup),
		relevance: NewRelevanceFilter(llm, metadata, limits.StageTimeout),
		synth:     NewAnswerSynthesizer(llm, limits.AnswerContextBudget, limits.DocumentExcerptRunes, limits.StageTimeout),
		sessions:  sessions,
		observer:  noopObserver{},
		limits:    limits,
	}
}

// WithObserver sets the receiver of stage and outcome measurements.
func (uc *PipelineUseCase) WithObserver(observer ports.PipelineObserver) *PipelineUseCase {
	if observer != nil {
		uc.observer = observer
	}
	return uc
}

func normalizeLimits(limits domain.PipelineLimits) domain.PipelineLimits {
	if limits.StageTimeout <= 0 {
		limits.StageTimeout = 30 * time.Second
	}
	if limits.Timeout <= 0 {
		limits.Timeout = 3 * time.Minute
	}
	// A negative value disables clarification pauses.
	if limits.MaxClarifications == 0 {
		limits.MaxClarifications = 1
	}
	if limits.DocumentExcerptRunes <= 0 {
		limits.DocumentExcerptRunes = 1000
	}
	return limits
}

func (uc *PipelineUseCase) Stream(ctx context.Context, req domain.AskRequest) (<-chan domain.Event, error) {
	state, start, err := uc.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Event, eventBuffer)
	go uc.run(ctx, state, start, out)
	return out, nil
}

func (uc *PipelineUseCase) Ask(ctx context.Context, req domain.AskRequest) (*domain.AskResult, error) {
	events, err := uc.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &domain.AskResult{}
	var failure error
	for ev := range events {
		result.SessionID = ev.SessionID
		switch ev.Type {
		case domain.EventStageComplete:
			if ev.Stage == domain.StageMerge {
				if strategy, ok := ev.Data["strategy"].(domain.FusionStrategy); ok {
					result.Strategy = strategy
				}
			}
		case domain.EventReferences:
			refs, _ := ev.Data["references"].([]domain.Reference)
			if result.Answer == nil {
				result.Answer = &domain.Answer{}
			}
			result.Answer.References = refs
		case domain.EventAnswer:
			if result.Answer == nil {
				result.Answer = &domain.Answer{}
			}
			result.Answer.Text = ev.Message
			if mode, ok := ev.Data["mode"].(domain.AnswerMode); ok {
				result.Answer.Mode = mode
			}
		case domain.EventAmbiguity:
			result.AmbiguityMessage = ev.Message
			result.MissingFields, _ = ev.Data["missing_fields"].([]string)
		case domain.EventError:
			failure = domain.WrapError(domain.ErrTemporary, "answer question", errors.New(ev.Message))
		}
	}
	if failure != nil {
		return nil, failure
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// prepare validates the request and returns the state and entry stage.
func (uc *PipelineUseCase) prepare(ctx context.Context, req domain.AskRequest) (*domain.RetrievalState, domain.Stage, error) {
	if req.IsResume() {
		if uc.sessions == nil {
			return nil, "", domain.WrapError(domain.ErrSessionNotFound, "resume session", fmt.Errorf("no session store"))
		}
		state, err := uc.sessions.Load(ctx, req.SessionID)
		if err != nil {
			return nil, "", fmt.Errorf("resume session: %w", err)
		}
		clarification := strings.TrimSpace(req.Clarification)
		state.Clarifications = append(state.Clarifications, clarification)
		state.Query = strings.TrimSpace(state.Query + " " + clarification)
		state.ResetFrom(domain.StageEnhanceQuery)
		return state, domain.StageEnhanceQuery, nil
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("query is required"))
	}
	if req.ScopeID <= 0 {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("scope_id must be positive"))
	}
	if req.SessionID != "" {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("session_id requires a clarification"))
	}

	session := domain.QuerySession{
		SessionID: uuid.NewString(),
		Query:     query,
		ScopeID:   req.ScopeID,
		CreatedAt: time.Now().UTC(),
	}
	return &domain.RetrievalState{Session: session, Query: query, TopK: req.TopK}, domain.StagePlan, nil
}

func (uc *PipelineUseCase) run(ctx context.Context, state *domain.RetrievalState, start domain.Stage, out chan<- domain.Event) {
	defer close(out)

	runCtx, cancel := context.WithTimeout(ctx, uc.limits.Timeout)
	defer cancel()
	em := &emitter{ctx: ctx, out: out, sessionID: state.Session.SessionID}
	resumed := start != domain.StagePlan

	for stage := start; stage != domain.StageDone; {
		if err := runCtx.Err(); err != nil {
			if ctx.Err() != nil {
				// The caller went away; partial state is discarded.
				slog.Info("pipeline_cancelled", "session_id", state.Session.SessionID, "stage", stage)
				return
			}
			uc.fail(em, stage, fmt.Errorf("pipeline timed out: %w", err))
			return
		}

		began := time.Now()
		next := uc.step(runCtx, stage, state, em, resumed)
		uc.observer.ObserveStage(stage, time.Since(began), stageDegraded(stage, state))
		stage = next
	}
}

func (uc *PipelineUseCase) step(ctx context.Context, stage domain.Stage, state *domain.RetrievalState, em *emitter, resumed bool) domain.Stage {
	session := state.Session

	switch stage {
	case domain.StagePlan:
		em.emit(domain.EventThinking, stage, "planning how to answer the question", nil)
		state.Plan = uc.planner.Plan(ctx, session, state.Query)
		em.emit(domain.EventExecutionPlan, stage, state.Plan.Reasoning, map[string]any{
			"steps":          state.Plan.Steps,
			"need_retrieval": state.Plan.NeedRetrieval,
			"degraded":       state.Plan.Degraded,
		})
		if len(state.Plan.ToolResults) > 0 {
			return domain.StageToolAnswer
		}
		return domain.StageEnhanceQuery

	case domain.StageToolAnswer:
		em.emit(domain.EventStageStart, stage, "", nil)
		text := uc.synth.FormatToolAnswer(ctx, state.Query, state.Plan.ToolResults)
		state.ToolAnswer = &domain.ToolAnswerOutput{Text: text}
		em.emit(domain.EventStageComplete, stage, "", map[string]any{
			"tool_results": state.Plan.ToolResults,
		})
		if state.Plan.NeedRetrieval {
			return domain.StageEnhanceQuery
		}
		state.Answer = &domain.Answer{Text: text, References: []domain.Reference{}, Mode: domain.AnswerTool}
		uc.finish(ctx, em, state, resumed, OutcomeToolAnswer)
		return domain.StageDone

	case domain.StageEnhanceQuery:
		em.emit(domain.EventStageStart, stage, "", nil)
		state.Enhancement = uc.enhancer.Enhance(ctx, session, state.Query)
		em.emit(domain.EventStageComplete, stage, "", map[string]any{
			"rewritten_query": state.Enhancement.RewrittenQuery,
			"parsed_fields":   state.Enhancement.ParsedFields,
		})
		return domain.StageFullText

	case domain.StageFullText, domain.StageStructured:
		em.emit(domain.EventStageStart, domain.StageFullText, "", nil)
		em.emit(domain.EventStageStart, domain.StageStructured, "", nil)
		state.Channels = uc.retriever.Retrieve(ctx, session, state.Query, state.Enhancement, state.TopK)
		em.emit(domain.EventStageComplete, domain.StageFullText, state.Channels.FullTextErr, map[string]any{
			"count":        len(state.Channels.FullTextIDs),
			"document_ids": state.Channels.FullTextIDs,
		})
		em.emit(domain.EventStageComplete, domain.StageStructured, state.Channels.StructuredErr, map[string]any{
			"count":        len(state.Channels.StructuredIDs),
			"document_ids": state.Channels.StructuredIDs,
			"category":     state.Channels.Category,
		})
		return domain.StageMerge

	case domain.StageMerge:
		em.emit(domain.EventStageStart, stage, "", nil)
		state.Fusion = uc.fuser.Fuse(ctx, session, state.Channels, state.TopK)
		uc.observer.ObserveFusion(state.Fusion.Result.Strategy, len(state.Fusion.Documents))
		em.emit(domain.EventStageComplete, stage, "", map[string]any{
			"strategy":     state.Fusion.Result.Strategy,
			"count":        len(state.Fusion.Documents),
			"document_ids": candidateIDs(state.Fusion.Documents),
		})
		return domain.StageRefine

	case domain.StageRefine:
		em.emit(domain.EventStageStart, stage, "", nil)
		category := domain.WildcardCategory
		if state.Channels != nil {
			category = state.Channels.Category
		}
		state.Refinement = uc.refiner.Refine(ctx, session, state.Query, category, state.Fusion.Documents)
		em.emit(domain.EventStageComplete, stage, "", map[string]any{
			"applied":        state.Refinement.Applied,
			"skip_reason":    state.Refinement.SkipReason,
			"conditions":     state.Refinement.Conditions,
			"missing_fields": state.Refinement.MissingFields,
			"count":          len(state.Refinement.Documents),
			"document_ids":   candidateIDs(state.Refinement.Documents),
		})
		return domain.StageDedup

	case domain.StageDedup:
		em.emit(domain.EventStageStart, stage, "", nil)
		docs, removed := uc.dedup.Deduplicate(state.Refinement.Documents)
		state.Dedup = &domain.DedupOutput{Documents: docs, RemovedIDs: removed}
		uc.observer.ObserveDedup(len(removed))
		em.emit(domain.EventStageComplete, stage, "", map[string]any{
			"count":        len(docs),
			"document_ids": candidateIDs(docs),
			"removed_ids":  removed,
		})
		return domain.StageRelevance

	case domain.StageRelevance:
		em.emit(domain.EventStageStart, stage, "", nil)
		state.Relevance = uc.relevance.Filter(ctx, session, state.Query, state.Dedup.Documents)
		em.emit(domain.EventStageComplete, stage, state.Relevance.Reason, map[string]any{
			"count":        len(state.Relevance.Documents),
			"document_ids": candidateIDs(state.Relevance.Documents),
			"skipped":      state.Relevance.Skipped,
		})
		if state.AmbiguityMessage() != "" && len(state.Clarifications) < uc.limits.MaxClarifications {
			return domain.StageAskUser
		}
		return domain.StageAnswer

	case domain.StageAskUser:
		if uc.sessions == nil {
			return domain.StageAnswer
		}
		if err := uc.sessions.Save(ctx, state); err != nil {
			slog.Warn("session_save_failed", "session_id", session.SessionID, "error", err)
			return domain.StageAnswer
		}
		em.emit(domain.EventAmbiguity, stage, state.AmbiguityMessage(), map[string]any{
			"missing_fields": state.Refinement.MissingFields,
		})
		uc.observer.ObserveOutcome(OutcomeAmbiguity)
		return domain.StageDone

	case domain.StageAnswer:
		toolContext := ""
		if state.ToolAnswer != nil {
			toolContext = state.ToolAnswer.Text
		}
		answer, err := uc.synth.Synthesize(ctx, state.Query, state.FinalDocuments(), toolContext)
		if err != nil {
			state.Answer = &domain.Answer{Text: ApologyMessage, References: []domain.Reference{}}
			uc.fail(em, stage, err)
			uc.forget(ctx, state, resumed)
			return domain.StageDone
		}
		state.Answer = answer
		em.emit(domain.EventReferences, stage, "", map[string]any{"references": answer.References})
		uc.finish(ctx, em, state, resumed, OutcomeAnswer)
		return domain.StageDone

	default:
		uc.fail(em, stage, fmt.Errorf("unknown stage %q", stage))
		return domain.StageDone
	}
}

func (uc *PipelineUseCase) finish(ctx context.Context, em *emitter, state *domain.RetrievalState, resumed bool, outcome string) {
	em.emit(domain.EventAnswer, domain.StageAnswer, state.Answer.Text, map[string]any{"mode": state.Answer.Mode})
	data := map[string]any{"mode": state.Answer.Mode}
	if state.Fusion != nil {
		data["strategy"] = state.Fusion.Result.Strategy
	}
	em.emit(domain.EventComplete, domain.StageDone, "", data)
	uc.forget(ctx, state, resumed)
	uc.observer.ObserveOutcome(outcome)
}

func (uc *PipelineUseCase) fail(em *emitter, stage domain.Stage, err error) {
	slog.Error("pipeline_failed", "session_id", em.sessionID, "stage", stage, "error", err)
	em.emit(domain.EventError, stage, ApologyMessage, map[string]any{"error": err.Error()})
	uc.observer.ObserveOutcome(OutcomeError)
}

// forget drops a resumed session once its turn reached a terminal answer.
func (uc *PipelineUseCase) forget(ctx context.Context, state *domain.RetrievalState, resumed bool) {
	if !resumed || uc.sessions == nil {
		return
	}
	if err := uc.sessions.Delete(context.WithoutCancel(ctx), state.Session.SessionID); err != nil {
		slog.Warn("session_delete_failed", "session_id", state.Session.SessionID, "error", err)
	}
}

func stageDegraded(stage domain.Stage, state *domain.RetrievalState) bool {
	switch stage {
	case domain.StagePlan:
		return state.Plan != nil && state.Plan.Degraded
	case domain.StageEnhanceQuery:
		return state.Enhancement != nil && state.Enhancement.Degraded
	case domain.StageFullText, domain.StageStructured:
		return state.Channels != nil && (state.Channels.FullTextErr != "" || state.Channels.StructuredErr != "")
	case domain.StageRefine:
		return state.Refinement != nil && state.Refinement.SkipReason == refineSkipSearchFailed
	case domain.StageAnswer:
		return state.Answer != nil && state.Answer.Text == ApologyMessage
	default:
		return false
	}
}

// emitter sends events until the consumer's context is done.
type emitter struct {
	ctx       context.Context
	out       chan<- domain.Event
	sessionID string
}

func (e *emitter) emit(eventType domain.EventType, stage domain.Stage, message string, data map[string]any) {
	ev := domain.Event{
		Type:      eventType,
		SessionID: e.sessionID,
		Stage:     stage,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	select {
	case e.out <- ev:
	case <-e.ctx.Done():
	}
}

type noopObserver struct{}

func (noopObserver) ObserveStage(domain.Stage, time.Duration, bool) {}
func (noopObserver) ObserveFusion(domain.FusionStrategy, int)       {}
func (noopObserver) ObserveDedup(int)                               {}
func (noopObserver) ObserveOutcome(string)                          {}
