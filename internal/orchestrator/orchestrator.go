// Package orchestrator drives one research run through its stages:
// Planning, Fetching, Synthesizing, Reporting, then verification with a
// single best-effort repair pass over missing artifacts.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/artifact"
	"github.com/mohammad-safakhou/deepresearch/internal/fetch"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Status is a terminal run status.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCompletedWithRepair Status = "completed_with_repair"
	StatusFailed              Status = "failed"
)

// stageOrder lists the required artifacts in the order their producing
// stages run. The repair pass re-runs missing stages in this order.
var stageOrder = []string{"plan.md", "sources.json", "notes.md", "report.md"}

// RunResult is the outcome of one run.
type RunResult struct {
	ThreadID  string   `json:"thread_id"`
	Status    Status   `json:"status"`
	Artifacts []string `json:"artifacts"`
	Warnings  []string `json:"warnings,omitempty"`
	Missing   []string `json:"missing_artifacts,omitempty"`
}

// RunError is the terminal failure of a run: the repair pass did not
// resolve the named missing artifacts.
type RunError struct {
	ThreadID string
	Missing  []string
	LastErr  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed: missing artifacts %v (last error: %v)", e.ThreadID, e.Missing, e.LastErr)
}

func (e *RunError) Unwrap() error { return e.LastErr }

// Orchestrator coordinates the pipeline components. It holds no per-run
// mutable state; distinct runs are fully independent.
type Orchestrator struct {
	cfg       *config.Config
	provider  llm.Provider
	fetcher   *fetch.Fetcher
	store     *artifact.Store
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New creates an orchestrator from its collaborators.
func New(cfg *config.Config, provider llm.Provider, fetcher *fetch.Fetcher, store *artifact.Store, tele *telemetry.Telemetry, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		cfg:       cfg,
		provider:  provider,
		fetcher:   fetcher,
		store:     store,
		telemetry: tele,
		logger:    logger,
	}
}

// runState carries stage outputs forward within one run. During repair,
// fields left empty by skipped stages are reloaded from the store.
type runState struct {
	config   guardrail.RunConfig
	plan     string
	sources  []fetch.Source
	haveSrcs bool
	notes    string
	warnings []string
	lastErr  error
}

// Run executes one research run: guardrails, thread allocation, the four
// stages in order, then verify/repair. The returned result is always
// populated; err is non-nil only when the run terminally failed.
func (o *Orchestrator) Run(ctx context.Context, req guardrail.RunRequest) (RunResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return RunResult{}, fmt.Errorf("orchestrator: question must not be empty")
	}

	req = guardrail.ApplyDefaults(req, o.cfg.Limits)
	rc := guardrail.Clamp(req)

	threadID := uuid.NewString()
	if _, err := o.store.EnsureThread(threadID); err != nil {
		return RunResult{}, err
	}

	if o.cfg.General.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.General.RunTimeout)
		defer cancel()
	}

	started := time.Now()
	o.telemetry.RecordRunStart(threadID)
	o.logger.Printf("run %s: question=%q sources<=%d follow_links=%v", threadID, rc.Question, rc.MaxSources, rc.FollowLinks)

	st := &runState{config: rc}

	// Forward pass. A Planning or Reporting failure stops it; the repair
	// pass below is the single point of automatic recovery.
	if err := o.runStages(ctx, threadID, st, stageOrder); err != nil {
		st.lastErr = err
		o.logger.Printf("run %s: forward pass stopped: %v", threadID, err)
	}

	status := StatusCompleted
	missing := o.verify(threadID)
	if len(missing) > 0 {
		o.logger.Printf("run %s: repairing missing artifacts %v", threadID, missing)
		st.warnings = append(st.warnings, fmt.Sprintf("repair pass re-ran stages for: %s", strings.Join(missing, ", ")))
		if err := o.runStages(ctx, threadID, st, missing); err != nil {
			st.lastErr = err
			o.logger.Printf("run %s: repair pass stopped: %v", threadID, err)
		}
		if missing = o.verify(threadID); len(missing) == 0 {
			status = StatusCompletedWithRepair
		} else {
			status = StatusFailed
		}
	}

	result := RunResult{
		ThreadID: threadID,
		Status:   status,
		Warnings: st.warnings,
		Missing:  missing,
	}
	if infos, err := o.store.List(threadID); err == nil {
		for _, info := range infos {
			result.Artifacts = append(result.Artifacts, info.Path)
		}
	}

	o.telemetry.RecordRunFinish(threadID, string(status), time.Since(started))

	if status == StatusFailed {
		return result, &RunError{ThreadID: threadID, Missing: missing, LastErr: st.lastErr}
	}
	return result, nil
}

// runStages executes the stages producing the named artifacts, in stage
// order. Fetching and Synthesizing never return an error; Planning and
// Reporting failures stop the pass.
func (o *Orchestrator) runStages(ctx context.Context, threadID string, st *runState, artifacts []string) error {
	want := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		want[a] = true
	}
	for _, name := range stageOrder {
		if !want[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch name {
		case "plan.md":
			err = o.stagePlan(ctx, threadID, st)
		case "sources.json":
			o.stageFetch(ctx, threadID, st)
		case "notes.md":
			err = o.stageSynthesize(ctx, threadID, st)
		case "report.md":
			err = o.stageReport(ctx, threadID, st)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// stagePlan produces plan.md from the question and seed URLs. A model
// failure here is fatal to the pass.
func (o *Orchestrator) stagePlan(ctx context.Context, threadID string, st *runState) error {
	text, err := o.generate(ctx, buildPlanPrompt(st.config.Question, st.config.URLs))
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	st.plan = strings.TrimSpace(text)
	content := "# Plan\n\n" + st.plan + "\n"
	if err := o.store.Write(threadID, "plan.md", []byte(content)); err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	return nil
}

// stageFetch retrieves sources and persists per-source captures plus the
// consolidated sources.json. It never fails the run: fetch errors become
// data and zero sources still produce a valid artifact.
func (o *Orchestrator) stageFetch(ctx context.Context, threadID string, st *runState) {
	sources := o.fetcher.Fetch(ctx, st.config)
	st.sources = sources
	st.haveSrcs = true

	for _, s := range sources {
		o.telemetry.RecordFetch(s.FetchError != "")
		if s.FetchError != "" {
			st.warnings = append(st.warnings, fmt.Sprintf("%s: %s (%s)", s.Label, s.FetchError, s.URL))
		} else if s.Truncated {
			st.warnings = append(st.warnings, fmt.Sprintf("%s: content truncated (%s)", s.Label, s.URL))
		}

		if err := o.store.Write(threadID, "sources/"+s.Label+".txt", []byte(s.RawText)); err != nil {
			st.warnings = append(st.warnings, fmt.Sprintf("%s: persist capture: %v", s.Label, err))
		}
		meta, err := json.MarshalIndent(s, "", "  ")
		if err == nil {
			err = o.store.Write(threadID, "sources/"+s.Label+".json", append(meta, '\n'))
		}
		if err != nil {
			st.warnings = append(st.warnings, fmt.Sprintf("%s: persist metadata: %v", s.Label, err))
		}
	}

	records := sources
	if records == nil {
		records = []fetch.Source{}
	}
	consolidated, err := json.MarshalIndent(records, "", "  ")
	if err == nil {
		err = o.store.Write(threadID, "sources.json", append(consolidated, '\n'))
	}
	if err != nil {
		st.warnings = append(st.warnings, fmt.Sprintf("persist sources.json: %v", err))
	}
}

// stageSynthesize produces notes.md from the fetched sources in one
// batched model call. Synthesis is best-effort: model failure degrades to
// minimal notes instead of failing the run.
func (o *Orchestrator) stageSynthesize(ctx context.Context, threadID string, st *runState) error {
	if !st.haveSrcs {
		if err := o.loadSources(threadID, st); err != nil {
			st.warnings = append(st.warnings, fmt.Sprintf("synthesis: reload sources: %v", err))
		}
	}

	var usable []fetch.Source
	for _, s := range st.sources {
		if s.FetchError == "" && strings.TrimSpace(s.RawText) != "" {
			usable = append(usable, s)
		}
	}

	var body string
	if len(usable) == 0 {
		body = "(no sources fetched)"
	} else {
		text, err := o.generate(ctx, buildNotesPrompt(st.config.Question, capSources(usable)))
		if err != nil {
			st.warnings = append(st.warnings, fmt.Sprintf("synthesis degraded: %v", err))
			body = degradedNotes(usable)
		} else {
			body = strings.TrimSpace(text)
		}
	}

	st.notes = body
	content := "# Notes\n\n" + body + "\n"
	if err := o.store.Write(threadID, "notes.md", []byte(content)); err != nil {
		st.warnings = append(st.warnings, fmt.Sprintf("persist notes.md: %v", err))
	}
	return nil
}

// stageReport produces report.md from the question, plan and notes. A
// model failure here is fatal to the pass. Citations are restricted to the
// run's source labels.
func (o *Orchestrator) stageReport(ctx context.Context, threadID string, st *runState) error {
	if st.plan == "" {
		if b, err := o.store.Read(threadID, "plan.md"); err == nil {
			st.plan = strings.TrimSpace(strings.TrimPrefix(string(b), "# Plan\n"))
		}
	}
	if st.notes == "" {
		if b, err := o.store.Read(threadID, "notes.md"); err == nil {
			st.notes = strings.TrimSpace(strings.TrimPrefix(string(b), "# Notes\n"))
		}
	}
	if !st.haveSrcs {
		if err := o.loadSources(threadID, st); err != nil {
			st.warnings = append(st.warnings, fmt.Sprintf("reporting: reload sources: %v", err))
		}
	}

	labels := make([]string, 0, len(st.sources))
	for _, s := range st.sources {
		labels = append(labels, s.Label)
	}

	text, err := o.generate(ctx, buildReportPrompt(st.config.Question, st.plan, st.notes, labels))
	if err != nil {
		return fmt.Errorf("reporting: %w", err)
	}

	report, dropped := sanitizeCitations(strings.TrimSpace(text), labels)
	if dropped > 0 {
		st.warnings = append(st.warnings, fmt.Sprintf("report: removed %d citation(s) to unknown labels", dropped))
	}
	if err := o.store.Write(threadID, "report.md", []byte(report+"\n")); err != nil {
		return fmt.Errorf("reporting: %w", err)
	}
	return nil
}

// verify returns the required artifacts absent from the store, in stage
// order. On a completed run it returns nothing and mutates nothing.
func (o *Orchestrator) verify(threadID string) []string {
	var missing []string
	for _, name := range stageOrder {
		if !o.store.Exists(threadID, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// loadSources restores the Fetching stage's output from persisted
// artifacts so repair can reuse it without re-fetching.
func (o *Orchestrator) loadSources(threadID string, st *runState) error {
	b, err := o.store.Read(threadID, "sources.json")
	if err != nil {
		return err
	}
	var sources []fetch.Source
	if err := json.Unmarshal(b, &sources); err != nil {
		return fmt.Errorf("decode sources.json: %w", err)
	}
	for i := range sources {
		if sources[i].FetchError != "" {
			continue
		}
		if raw, err := o.store.Read(threadID, "sources/"+sources[i].Label+".txt"); err == nil {
			sources[i].RawText = string(raw)
		}
	}
	st.sources = sources
	st.haveSrcs = true
	return nil
}

// generate issues one model call; calls within a run are sequential so
// cost and rate-limit exposure stay predictable.
func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	started := time.Now()
	out, err := o.provider.Generate(ctx, prompt, 0)
	o.telemetry.RecordLLMCall(o.provider.Name(), time.Since(started), err)
	if err != nil && !errors.Is(err, llm.ErrPromptTooLarge) {
		o.logger.Printf("model call failed: %v", err)
	}
	return out, err
}

// perSourcePromptBudget bounds each source's contribution to the batched
// synthesis prompt so the total stays inside provider prompt limits.
const perSourcePromptBudget = 6000

func capSources(sources []fetch.Source) []fetch.Source {
	out := make([]fetch.Source, len(sources))
	copy(out, sources)
	for i := range out {
		if len(out[i].RawText) > perSourcePromptBudget {
			out[i].RawText = out[i].RawText[:perSourcePromptBudget]
		}
	}
	return out
}

// degradedNotes builds the minimal note set used when synthesis cannot
// reach the model.
func degradedNotes(sources []fetch.Source) string {
	var b strings.Builder
	b.WriteString("(synthesis unavailable; raw source excerpts)\n")
	for _, s := range sources {
		excerpt := strings.TrimSpace(s.RawText)
		if len(excerpt) > 200 {
			excerpt = excerpt[:200] + "..."
		}
		fmt.Fprintf(&b, "\n## %s\n- %s\n- %s\n", s.Label, s.URL, excerpt)
	}
	return strings.TrimSpace(b.String())
}
