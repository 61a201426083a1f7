package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRelevanceSkipsSingleDocument(t *testing.T) {
	llm := newLLMFake()
	out := NewRelevanceFilter(llm, &metadataFake{}, 0).Filter(context.Background(), testSession(), "q", fusedDocs(1))
	if !out.Skipped || len(out.Documents) != 1 {
		t.Fatalf("unexpected output %+v", out)
	}
	if llm.count(promptRelevance) != 0 {
		t.Fatalf("model must not be called for a single document")
	}
}

func TestRelevanceKeepsSubsetInOriginalOrder(t *testing.T) {
	llm := newLLMFake().on(promptRelevance, `{"relevant_ids":["3", 1, 77],"reason":"mentions the budget"}`)
	meta := &metadataFake{summaries: map[int64]string{2: "stored summary of two"}}

	out := NewRelevanceFilter(llm, meta, 0).Filter(context.Background(), testSession(), "q", fusedDocs(1, 2, 3))
	if got := candidateIDs(out.Documents); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Fatalf("relevant ids = %v", got)
	}
	if out.Reason != "mentions the budget" || out.Skipped {
		t.Fatalf("unexpected output %+v", out)
	}
	if !strings.Contains(llm.prompts[0], "stored summary of two") {
		t.Fatalf("stored summaries should be shown to the model")
	}
}

func TestRelevanceEmptyListEmptiesTheSet(t *testing.T) {
	llm := newLLMFake().on(promptRelevance, `{"relevant_ids":[],"reason":"off topic"}`)
	out := NewRelevanceFilter(llm, &metadataFake{}, 0).Filter(context.Background(), testSession(), "q", fusedDocs(1, 2))
	if len(out.Documents) != 0 {
		t.Fatalf("expected empty set, got %v", candidateIDs(out.Documents))
	}
}

func TestRelevanceFailureKeepsEveryDocument(t *testing.T) {
	cases := map[string]*llmFake{
		"model error": newLLMFake().fail(promptRelevance, errors.New("down")),
		"bad json":    newLLMFake().on(promptRelevance, "all of them"),
		"no decision": newLLMFake().on(promptRelevance, `{"reason":"unsure"}`),
	}
	for name, llm := range cases {
		t.Run(name, func(t *testing.T) {
			meta := &metadataFake{summaryErr: errors.New("db down")}
			out := NewRelevanceFilter(llm, meta, 0).Filter(context.Background(), testSession(), "q", fusedDocs(1, 2, 3))
			if got := candidateIDs(out.Documents); !reflect.DeepEqual(got, []int64{1, 2, 3}) || !out.Skipped {
				t.Fatalf("expected every document kept, got %v", got)
			}
		})
	}
}
