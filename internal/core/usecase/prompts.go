package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/similarity"
)

func buildPlannerPrompt(query string, scopeID int64, tools []domain.ToolSpec) string {
	lines := make([]string, 0, len(tools))
	for _, tool := range tools {
		params, _ := json.Marshal(tool.Parameters)
		lines = append(lines, fmt.Sprintf("- %s: %s parameters=%s", tool.Name, tool.Description, params))
	}
	if len(lines) == 0 {
		lines = append(lines, "(no tools available)")
	}

	return fmt.Sprintf(`You are the planning component of a document archive assistant.
Decide how to answer the user's question. Statistics, listings and catalog
questions are answered with tools; questions about document contents need
document retrieval. A plan may contain both.

Available tools:
%s

Current template (scope) id: %d

Return ONLY a JSON object:
{"reasoning":"...","steps":[
 {"action":"tool_call","tool_name":"<tool>","arguments":{...},"description":"..."},
 {"action":"document_retrieval","description":"..."}
]}

User question:
%s
`, strings.Join(lines, "\n"), scopeID, query)
}

func buildToolAnswerPrompt(query string, results []domain.ToolResult) string {
	payload, _ := json.MarshalIndent(results, "", "  ")
	return fmt.Sprintf(`Answer the user's question using only the tool results below.
Summarize counts and lists clearly. If a tool failed, say what could not be
retrieved.

Question:
%s

Tool results:
%s
`, query, payload)
}

func describeTemplateFields(fields []domain.TemplateField) string {
	if len(fields) == 0 {
		return "(no structured fields)"
	}
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		line := fmt.Sprintf("- code=%s name=%s level=%d", f.Code, f.Name, f.Level)
		if f.Description != "" {
			line += " description=" + f.Description
		}
		if f.Example != "" {
			line += " example=" + f.Example
		}
		if f.IsDocType {
			line += " (document type)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func buildEnhancePrompt(query string, fields []domain.TemplateField) string {
	return fmt.Sprintf(`You help search a classified document archive.

Template fields:
%s

Tasks:
1. Extract a value for every template field the question mentions. Use
   "UNKNOWN" when a field cannot be determined. Never invent values.
2. Rewrite the question for full-text search. Keep every original detail
   (names, numbers, dates, qualifiers) and add synonyms or related terms.

Return ONLY a JSON object:
{"fields":{"<code>":{"value":"...","level":1}},"rewritten_query":"..."}

Question:
%s
`, describeTemplateFields(fields), query)
}

func buildFieldExtractionPrompt(query string, fields []domain.TemplateField) string {
	return fmt.Sprintf(`Extract classification values from the question.

Template fields:
%s

Return ONLY a JSON array with one entry per field:
[{"code":"<code>","value":"<value or UNKNOWN>","level":1}]

Question:
%s
`, describeTemplateFields(fields), query)
}

func buildRefinePrompt(query string, docType *domain.DocumentType) string {
	lines := make([]string, 0, len(docType.Fields))
	for _, f := range docType.Fields {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", f.Name, f.Type, f.Description))
	}
	return fmt.Sprintf(`The user is searching documents of type "%s".

Declared fields of this type:
%s

From the question, extract conditions on these fields. Only use values the
question states. List in "missing_fields" the fields that would noticeably
narrow the search but are not stated.

Return ONLY a JSON object:
{"conditions":{"<field>":"<value>"},"missing_fields":["<field>"]}

Question:
%s
`, docType.Name, strings.Join(lines, "\n"), query)
}

func buildRelevancePrompt(query string, docs []domain.DocumentCandidate, summaries map[int64]string, snippetRunes int) string {
	lines := make([]string, 0, len(docs))
	for _, doc := range docs {
		summary := strings.TrimSpace(summaries[doc.DocumentID])
		if summary == "" {
			summary = similarity.TruncateRunes(strings.TrimSpace(doc.Content), snippetRunes)
		}
		lines = append(lines, fmt.Sprintf("[id=%d] %s\n%s", doc.DocumentID, doc.Title, summary))
	}
	return fmt.Sprintf(`Decide which documents directly help answer the question.

Question:
%s

Documents:
%s

Return ONLY a JSON object:
{"relevant_ids":[<id>, ...],"reason":"..."}
Return an empty list if none is relevant.
`, query, strings.Join(lines, "\n\n"))
}

func buildAnswerPrompt(query string, docs []domain.DocumentCandidate, excerptRunes int, toolContext string) string {
	blocks := make([]string, 0, len(docs))
	for i, doc := range docs {
		blocks = append(blocks, fmt.Sprintf("[%d] %s (id=%d)\n%s", i+1, doc.Title, doc.DocumentID, similarity.TruncateRunes(doc.Content, excerptRunes)))
	}
	return fmt.Sprintf(`Answer the question using the documents below. Cite sources as [n].
If the documents do not contain the answer, say so.
%s
Documents:
%s

Question:
%s
`, toolSection(toolContext), strings.Join(blocks, "\n\n"), query)
}

func buildPerDocumentPrompt(query string, doc domain.DocumentCandidate, budget int) string {
	return fmt.Sprintf(`Using only this document, extract what answers the question.
Reply "no relevant information" if nothing applies.

Document: %s (id=%d)
%s

Question:
%s
`, doc.Title, doc.DocumentID, similarity.TruncateRunes(doc.Content, budget), query)
}

func buildMergePrompt(query string, partials []partialAnswer, toolContext string) string {
	blocks := make([]string, 0, len(partials))
	for _, p := range partials {
		blocks = append(blocks, fmt.Sprintf("Source: %s (id=%d)\n%s", p.title, p.documentID, p.text))
	}
	return fmt.Sprintf(`Merge the partial answers below into one coherent answer.
Remove repeated information and attribute each fact to its source title.
%s
Partial answers:
%s

Question:
%s
`, toolSection(toolContext), strings.Join(blocks, "\n\n"), query)
}

func buildUngroundedPrompt(query, toolContext string) string {
	return fmt.Sprintf(`No archive document matched this question. Answer from general
knowledge, briefly, and state clearly that the answer is not based on any
archive document.
%s
Question:
%s
`, toolSection(toolContext), query)
}

func toolSection(toolContext string) string {
	if strings.TrimSpace(toolContext) == "" {
		return ""
	}
	return "\nTool lookup results already gathered:\n" + toolContext + "\n"
}
