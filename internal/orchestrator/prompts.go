package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/fetch"
)

const planPromptTemplate = `You are an expert research analyst.

Question: %s
%s
Write a short research plan as a Markdown bullet list. Each bullet is one
step: what you will read and why. Do not fetch anything yet. Keep it under
8 bullets.`

const notesPromptTemplate = `You are an expert research analyst taking notes.

Question: %s

Below are fetched sources, each tagged with a label like S1. For each
source write a Markdown section "## <label>" with 3-6 bullet key facts
relevant to the question. Only use the provided text.

%s`

const reportPromptTemplate = `You are an expert research analyst writing the final report.

Question: %s

Research plan:
%s

Notes:
%s

Write a polished Markdown report answering the question. Cite claims using
the source labels in square brackets, e.g. [S1]. Only cite labels that
appear in the notes: %s. End with a single line starting with
"Conclusion:" summarizing the answer.`

func buildPlanPrompt(question string, urls []string) string {
	var urlBlock string
	if len(urls) > 0 {
		var b strings.Builder
		b.WriteString("\nSeed URLs:\n")
		for _, u := range urls {
			fmt.Fprintf(&b, "- %s\n", u)
		}
		urlBlock = b.String()
	}
	return fmt.Sprintf(planPromptTemplate, question, urlBlock)
}

func buildNotesPrompt(question string, sources []fetch.Source) string {
	var b strings.Builder
	for _, s := range sources {
		if s.FetchError != "" {
			continue
		}
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", s.Label, s.URL, s.RawText)
	}
	return fmt.Sprintf(notesPromptTemplate, question, b.String())
}

func buildReportPrompt(question, plan, notes string, labels []string) string {
	labelList := "none"
	if len(labels) > 0 {
		labelList = strings.Join(labels, ", ")
	}
	return fmt.Sprintf(reportPromptTemplate, question, plan, notes, labelList)
}
