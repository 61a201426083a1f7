package usecase

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/archive-qa/internal/core/domain"
)

var archiveDocs = []domain.DocumentCandidate{
	{DocumentID: 1, Title: "Road repair plan", Content: "Schedule of road repairs on the eastern bypass for the spring season."},
	{DocumentID: 2, Title: "Budget 2023", Content: "The 2023 budget allocates funds to the finance department and to school renovation."},
	{DocumentID: 3, Title: "Library hours", Content: "The central library opens at nine and closes at eight on weekdays."},
	{DocumentID: 4, Title: "Budget amendment", Content: "An amendment to the 2023 budget moves money from parks to public transport."},
	{DocumentID: 5, Title: "Tree planting", Content: "Volunteers planted four hundred oak trees along the river embankment."},
}

type recordingObserver struct {
	mu       sync.Mutex
	stages   []domain.Stage
	outcomes []string
	strategy domain.FusionStrategy
	removed  int
}

func (o *recordingObserver) ObserveStage(stage domain.Stage, _ time.Duration, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveFusion(strategy domain.FusionStrategy, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategy = strategy
}

func (o *recordingObserver) ObserveDedup(removed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed += removed
}

func (o *recordingObserver) ObserveOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type pipelineFixture struct {
	llm      *llmFake
	search   *searchFake
	meta     *metadataFake
	tools    *toolsFake
	sessions *sessionsFake
	observer *recordingObserver
}

func newPipelineFixture() *pipelineFixture {
	return &pipelineFixture{
		llm:      newLLMFake().on(promptPlanner, `{"steps":[{"action":"document_retrieval","description":"search"}]}`),
		search:   &searchFake{},
		meta:     &metadataFake{template: archiveTemplate(), docs: docsByID(archiveDocs...)},
		tools:    plannerTools(),
		sessions: newSessionsFake(),
		observer: &recordingObserver{},
	}
}

func (f *pipelineFixture) useCase(limits domain.PipelineLimits) *PipelineUseCase {
	return NewPipelineUseCase(f.llm, f.search, f.meta, f.tools, f.sessions, limits).WithObserver(f.observer)
}

func collect(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not close")
		}
	}
}

func findEvent(events []domain.Event, typ domain.EventType, stage domain.Stage) (domain.Event, bool) {
	for _, ev := range events {
		if ev.Type == typ && (stage == "" || ev.Stage == stage) {
			return ev, true
		}
	}
	return domain.Event{}, false
}

func referenceIDs(refs []domain.Reference) []int64 {
	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.DocumentID)
	}
	return ids
}

func TestPipelineSmallIntersectionPutsSharedDocumentsFirst(t *testing.T) {
	f := newPipelineFixture()
	f.llm.
		on(promptEnhance, `{"fields":{"year":{"value":"2023","level":1}},"rewritten_query":"2023 budget spending"}`).
		on(promptExtract, `[{"code":"doc_type","value":"UNKNOWN","level":3}]`).
		on(promptRelevance, `{"relevant_ids":[2,4],"reason":"budget documents"}`).
		on(promptAnswer, "The 2023 budget funds schools [1] and transport [2].")
	f.search.hits = archiveDocs
	f.meta.foundIDs = []int64{2, 4}

	uc := f.useCase(domain.PipelineLimits{})
	events, err := uc.Stream(context.Background(), domain.AskRequest{Query: "2023 budget", ScopeID: 7})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	all := collect(t, events)

	merge, ok := findEvent(all, domain.EventStageComplete, domain.StageMerge)
	if !ok {
		t.Fatalf("missing merge event")
	}
	if merge.Data["strategy"] != domain.FusionFullTextFirst {
		t.Fatalf("strategy = %v", merge.Data["strategy"])
	}
	if got := merge.Data["document_ids"]; !reflect.DeepEqual(got, []int64{2, 4, 1, 3, 5}) {
		t.Fatalf("fused order = %v", got)
	}
	for _, stage := range []domain.Stage{domain.StageFullText, domain.StageStructured} {
		if _, ok := findEvent(all, domain.EventStageComplete, stage); !ok {
			t.Fatalf("missing %s completion", stage)
		}
	}
	refine, _ := findEvent(all, domain.EventStageComplete, domain.StageRefine)
	if refine.Data["skip_reason"] != refineSkipNoCategory {
		t.Fatalf("refine should skip without a category, got %v", refine.Data["skip_reason"])
	}

	refs, _ := findEvent(all, domain.EventReferences, "")
	if got := referenceIDs(refs.Data["references"].([]domain.Reference)); !reflect.DeepEqual(got, []int64{2, 4}) {
		t.Fatalf("references = %v", got)
	}
	if last := all[len(all)-1]; last.Type != domain.EventComplete {
		t.Fatalf("last event = %s", last.Type)
	}
	for _, ev := range all {
		if ev.SessionID == "" || ev.SessionID != all[0].SessionID {
			t.Fatalf("events must share one session id")
		}
	}
	if f.observer.strategy != domain.FusionFullTextFirst || !reflect.DeepEqual(f.observer.outcomes, []string{OutcomeAnswer}) {
		t.Fatalf("observer = %+v", f.observer)
	}
}

func TestPipelineDropsDuplicateDocuments(t *testing.T) {
	f := newPipelineFixture()
	f.llm.
		on(promptEnhance, `{"fields":{},"rewritten_query":"annual report"}`).
		on(promptExtract, `[]`).
		on(promptAnswer, "The annual report is ready.")
	f.search.hits = []domain.DocumentCandidate{
		{DocumentID: 10, Title: "Report", Content: "Annual Report 2022: revenue grew."},
		{DocumentID: 11, Title: "Report copy", Content: "<p>annual report 2022 -- revenue grew!</p>"},
	}
	f.meta.docs = docsByID(f.search.hits...)

	result, err := f.useCase(domain.PipelineLimits{}).Ask(context.Background(), domain.AskRequest{Query: "annual report", ScopeID: 7})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Strategy != domain.FusionFullTextOnly {
		t.Fatalf("strategy = %s", result.Strategy)
	}
	if got := referenceIDs(result.Answer.References); !reflect.DeepEqual(got, []int64{11}) {
		t.Fatalf("expected the longer copy to survive, got %v", got)
	}
	if f.observer.removed != 1 {
		t.Fatalf("removed = %d", f.observer.removed)
	}
	if f.llm.count(promptRelevance) != 0 {
		t.Fatalf("relevance must be skipped for a single document")
	}
}

func TestPipelineTopKLimitsSearchAndReferences(t *testing.T) {
	f := newPipelineFixture()
	f.llm.
		on(promptEnhance, `{"fields":{},"rewritten_query":"city documents"}`).
		on(promptExtract, `[]`).
		on(promptRelevance, `{"relevant_ids":[1,2],"reason":"both match"}`).
		on(promptAnswer, "Roads [1] and the budget [2].")
	f.search.hits = archiveDocs

	result, err := f.useCase(domain.PipelineLimits{}).Ask(context.Background(), domain.AskRequest{Query: "city documents", ScopeID: 7, TopK: 2})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(f.search.requests) == 0 || f.search.requests[0].Size != 2 {
		t.Fatalf("full-text search requests = %+v", f.search.requests)
	}
	if got := referenceIDs(result.Answer.References); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("references = %v", got)
	}

	f.search.requests = nil
	if _, err := f.useCase(domain.PipelineLimits{FullTextTopK: 3}).Ask(context.Background(), domain.AskRequest{Query: "city documents", ScopeID: 7, TopK: 50}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(f.search.requests) == 0 || f.search.requests[0].Size != 3 {
		t.Fatalf("top_k above the configured page must be capped, got %+v", f.search.requests)
	}
}

func TestPipelineAsksForClarificationThenResumes(t *testing.T) {
	f := newPipelineFixture()
	f.llm.
		on(promptEnhance, `{"fields":{},"rewritten_query":"contract"}`).
		on(promptExtract, `[{"code":"doc_type","value":"contract","level":3}]`).
		on(promptRefine,
			`{"conditions":{},"missing_fields":["party","signed_date"]}`,
			`{"conditions":{"party":"Delta"},"missing_fields":[]}`).
		on(promptAnswer, "The Delta contract covers maintenance.")
	f.search.hits = archiveDocs[:2]
	f.search.refineHit = archiveDocs[:1]
	f.meta.docTypes = contractType()
	uc := f.useCase(domain.PipelineLimits{})

	first, err := uc.Ask(context.Background(), domain.AskRequest{Query: "find the contract", ScopeID: 7})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if first.Answer != nil {
		t.Fatalf("ambiguous question must not be answered yet")
	}
	if !reflect.DeepEqual(first.MissingFields, []string{"party", "signed_date"}) || first.AmbiguityMessage == "" {
		t.Fatalf("unexpected ambiguity result %+v", first)
	}
	if _, err := f.sessions.Load(context.Background(), first.SessionID); err != nil {
		t.Fatalf("session should be saved: %v", err)
	}

	second, err := uc.Ask(context.Background(), domain.AskRequest{SessionID: first.SessionID, Clarification: "the party is Delta"})
	if err != nil {
		t.Fatalf("resume error = %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("resume must keep the session id")
	}
	if second.Answer == nil || second.Answer.Text != "The Delta contract covers maintenance." {
		t.Fatalf("unexpected answer %+v", second.Answer)
	}
	if got := referenceIDs(second.Answer.References); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("references = %v", got)
	}
	if f.llm.count(promptPlanner) != 1 || f.llm.count(promptEnhance) != 2 {
		t.Fatalf("resume must restart at enhance_query: planner=%d enhance=%d", f.llm.count(promptPlanner), f.llm.count(promptEnhance))
	}
	if _, err := f.sessions.Load(context.Background(), first.SessionID); !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("session should be deleted after the answer, got %v", err)
	}
	if !reflect.DeepEqual(f.observer.outcomes, []string{OutcomeAmbiguity, OutcomeAnswer}) {
		t.Fatalf("outcomes = %v", f.observer.outcomes)
	}
}

func TestPipelineStopsAskingAfterClarificationLimit(t *testing.T) {
	f := newPipelineFixture()
	f.llm.
		on(promptEnhance, `{"fields":{},"rewritten_query":"contract"}`).
		on(promptExtract, `[{"code":"doc_type","value":"contract","level":3}]`).
		on(promptRefine, `{"conditions":{},"missing_fields":["party"]}`).
		on(promptAnswer, "Several contracts match.")
	f.search.hits = archiveDocs[:2]
	f.meta.docTypes = contractType()

	result, err := f.useCase(domain.PipelineLimits{MaxClarifications: -1}).Ask(context.Background(), domain.AskRequest{Query: "contract", ScopeID: 7})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer == nil || result.AmbiguityMessage != "" {
		t.Fatalf("expected a direct answer, got %+v", result)
	}
	if f.sessions.saves != 0 {
		t.Fatalf("no session should be saved")
	}
}

func TestPipelineToolOnlyPlanSkipsRetrieval(t *testing.T) {
	f := newPipelineFixture()
	f.llm = newLLMFake().
		on(promptPlanner, `{"steps":[{"action":"tool_call","tool_name":"list_all_templates"}]}`).
		on(promptToolAnswer, "There are two templates.")

	result, err := f.useCase(domain.PipelineLimits{}).Ask(context.Background(), domain.AskRequest{Query: "list templates", ScopeID: 7})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer.Mode != domain.AnswerTool || result.Answer.Text != "There are two templates." {
		t.Fatalf("unexpected answer %+v", result.Answer)
	}
	if f.llm.count(promptEnhance) != 0 || len(f.search.requests) != 0 {
		t.Fatalf("retrieval must not run for a tool-only plan")
	}
	if !reflect.DeepEqual(f.observer.outcomes, []string{OutcomeToolAnswer}) {
		t.Fatalf("outcomes = %v", f.observer.outcomes)
	}
}

func TestPipelineUngroundedAnswerWhenNothingMatches(t *testing.T) {
	f := newPipelineFixture()
	f.llm.
		on(promptEnhance, `{"fields":{},"rewritten_query":"weather"}`).
		on(promptExtract, `[]`).
		on(promptUngrounded, "It is usually sunny.")

	result, err := f.useCase(domain.PipelineLimits{}).Ask(context.Background(), domain.AskRequest{Query: "weather", ScopeID: 7})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Strategy != domain.FusionNone || result.Answer.Mode != domain.AnswerUngrounded {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPipelineSynthesisFailureEmitsApology(t *testing.T) {
	f := newPipelineFixture()
	f.llm.
		on(promptEnhance, `{"fields":{},"rewritten_query":"budget"}`).
		on(promptExtract, `[]`).
		fail(promptAnswer, errors.New("model down"))
	f.search.hits = archiveDocs[1:2]

	uc := f.useCase(domain.PipelineLimits{})
	events, err := uc.Stream(context.Background(), domain.AskRequest{Query: "budget", ScopeID: 7})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	all := collect(t, events)
	last := all[len(all)-1]
	if last.Type != domain.EventError || last.Message != ApologyMessage {
		t.Fatalf("expected apology error event, got %+v", last)
	}

	_, err = uc.Ask(context.Background(), domain.AskRequest{Query: "budget", ScopeID: 7})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestPipelineRejectsInvalidRequests(t *testing.T) {
	uc := newPipelineFixture().useCase(domain.PipelineLimits{})
	cases := map[string]domain.AskRequest{
		"empty query":               {Query: "  ", ScopeID: 7},
		"missing scope":             {Query: "q"},
		"session without follow-up": {Query: "q", ScopeID: 7, SessionID: "s-1"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := uc.Stream(context.Background(), req)
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	_, err := uc.Stream(context.Background(), domain.AskRequest{SessionID: "missing", Clarification: "more"})
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// blockingLLM blocks every call until its context is done.
type blockingLLM struct {
	once    sync.Once
	started chan struct{}
}

func (b *blockingLLM) Complete(ctx context.Context, _ string) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func (b *blockingLLM) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return b.Complete(ctx, prompt)
}

func TestPipelineCancellationStopsSilently(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{})}
	observer := &recordingObserver{}
	uc := NewPipelineUseCase(llm, &searchFake{}, &metadataFake{}, plannerTools(), newSessionsFake(), domain.PipelineLimits{}).WithObserver(observer)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := uc.Stream(ctx, domain.AskRequest{Query: "q", ScopeID: 7})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	<-llm.started
	cancel()

	for _, ev := range collect(t, events) {
		if ev.Type.Terminal() {
			t.Fatalf("cancelled run must not emit terminal events, got %s", ev.Type)
		}
	}
	if len(observer.outcomes) != 0 {
		t.Fatalf("cancelled run must not record an outcome: %v", observer.outcomes)
	}
}

func TestPipelineTimeoutEmitsError(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{})}
	uc := NewPipelineUseCase(llm, &searchFake{}, &metadataFake{}, plannerTools(), newSessionsFake(), domain.PipelineLimits{
		Timeout: 50 * time.Millisecond,
	})

	_, err := uc.Ask(context.Background(), domain.AskRequest{Query: "q", ScopeID: 7})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary on timeout, got %v", err)
	}
}
