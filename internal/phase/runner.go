// Package phase implements the Phase Runner (spec §4.4): the linear
// 7-state machine — pre_planning, outline_design, task_planning,
// researching, gap_analysis, synthesizing, compiling — with its one
// allowed gap_analysis→researching cycle, finalization-status computation,
// and emergency-compile-on-error fallback.
//
// Grounded on tarsy's pkg/agent orchestration loop (a single driver method
// walking a fixed sequence of named stages, persisting state and emitting
// an event after each one) adapted from tarsy's single-pass alert
// processing to this module's longer, cyclical pipeline.
package phase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/deepcite/internal/compiler"
	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/events"
	"github.com/codeready-toolchain/deepcite/internal/ledger"
	"github.com/codeready-toolchain/deepcite/internal/llm"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/prompts"
	"github.com/codeready-toolchain/deepcite/internal/research"
	"github.com/codeready-toolchain/deepcite/internal/scheduler"
	"github.com/codeready-toolchain/deepcite/internal/search"
	"github.com/codeready-toolchain/deepcite/internal/store"
	"github.com/codeready-toolchain/deepcite/internal/synthesis"
)

// planningPoolSize bounds the "pool of at most 4" fan-outs spec §5 calls
// for in pre-planning search and task planning; section synthesis is
// bounded by synthesis.synthesis_pool_size instead.
const planningPoolSize = 4

// Dependencies bundles every collaborator the Phase Runner drives.
type Dependencies struct {
	Store   *store.Store
	Ledger  *ledger.Ledger
	Events  *events.Recorder
	Prompts *prompts.Store
	LLM     llm.Client
	Search  search.Client
	Scraper research.Scraper
	Synth   *synthesis.Synthesizer
	Config  config.Config
	Log     *slog.Logger
}

// Runner drives a session through the 7-phase state machine.
type Runner struct {
	deps Dependencies
}

// New builds a Runner.
func New(deps Dependencies) *Runner {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Runner{deps: deps}
}

// Start runs a freshly created session through every phase from
// pre_planning onward.
func (r *Runner) Start(ctx context.Context, sessionID string, cancel *scheduler.CancelFlag) (models.SessionStatus, error) {
	return r.run(ctx, sessionID, cancel, false)
}

// Resume re-enters a session directly at the researching phase, per spec
// §5's resume contract: its existing sections and tasks are reused and
// phases 1–3 are skipped entirely.
func (r *Runner) Resume(ctx context.Context, sessionID string, cancel *scheduler.CancelFlag) (models.SessionStatus, error) {
	return r.run(ctx, sessionID, cancel, true)
}

func (r *Runner) run(ctx context.Context, sessionID string, cancel *scheduler.CancelFlag, resuming bool) (status models.SessionStatus, err error) {
	session, err := r.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return models.SessionFailed, fmt.Errorf("loading session: %w", err)
	}
	sessionStart := session.StartedAt

	defer func() {
		if rec := recover(); rec != nil {
			r.deps.Log.Error("phase runner panicked, emergency-compiling", "session_id", sessionID, "panic", rec)
			status, err = r.emergencyCompile(ctx, sessionID, cancel)
		}
	}()

	runPhase := func(name models.Phase, fn func() error) error {
		if err := r.transition(ctx, sessionID, name); err != nil {
			return err
		}
		return fn()
	}

	if !resuming {
		if err := runPhase(models.PhasePrePlanning, func() error { return r.prePlanning(ctx, session) }); err != nil {
			return r.emergencyCompile(ctx, sessionID, cancel)
		}
		if err := runPhase(models.PhaseOutlineDesign, func() error { return r.outlineDesign(ctx, session) }); err != nil {
			return r.emergencyCompile(ctx, sessionID, cancel)
		}
		if err := runPhase(models.PhaseTaskPlanning, func() error { return r.taskPlanning(ctx, session) }); err != nil {
			return r.emergencyCompile(ctx, sessionID, cancel)
		}
	}

	if err := runPhase(models.PhaseResearching, func() error { return r.research(ctx, session, sessionStart, cancel) }); err != nil {
		return r.emergencyCompile(ctx, sessionID, cancel)
	}

	if !cancelled(cancel) {
		if err := r.transition(ctx, sessionID, models.PhaseGapAnalysis); err != nil {
			return r.emergencyCompile(ctx, sessionID, cancel)
		}
		if r.deps.Config.GapAnalysis.Enabled {
			cycled, err := r.gapAnalysis(ctx, session)
			if err != nil {
				return r.emergencyCompile(ctx, sessionID, cancel)
			}
			if cycled {
				if err := runPhase(models.PhaseResearching, func() error { return r.research(ctx, session, sessionStart, cancel) }); err != nil {
					return r.emergencyCompile(ctx, sessionID, cancel)
				}
			}
		}
	}

	if err := runPhase(models.PhaseSynthesizing, func() error { return r.synthesizing(ctx, session) }); err != nil {
		return r.emergencyCompile(ctx, sessionID, cancel)
	}

	if err := runPhase(models.PhaseCompiling, func() error { return r.compiling(ctx, session, cancel) }); err != nil {
		return r.emergencyCompile(ctx, sessionID, cancel)
	}

	return r.finalize(ctx, sessionID, cancel)
}

func cancelled(cancel *scheduler.CancelFlag) bool {
	return cancel != nil && cancel.Requested()
}

// transition advances the session's phase and records the transition.
func (r *Runner) transition(ctx context.Context, sessionID string, next models.Phase) error {
	if err := r.deps.Store.UpdateSessionPhase(ctx, sessionID, next); err != nil {
		return fmt.Errorf("updating session phase: %w", err)
	}
	if err := r.deps.Events.PhaseChanged(ctx, sessionID, next); err != nil {
		r.deps.Log.Warn("failed to record phase_changed event", "error", err)
	}
	return nil
}

// --- Phase 1: pre_planning ---

func (r *Runner) prePlanning(ctx context.Context, session *models.Session) error {
	brief := session.Query
	if session.RefinedBrief != "" {
		brief = session.RefinedBrief
	}

	n := r.deps.Config.Research.QueriesPerTask
	if n <= 0 {
		n = 5
	}
	set, err := r.deps.Prompts.Get("pre_planning", "generate_queries")
	if err != nil {
		return err
	}
	queries, err := r.jsonOrToolQueries(ctx, set, map[string]any{"Brief": brief, "NumQueries": n}, n)
	if err != nil || len(queries) == 0 {
		queries = []string{brief}
	}

	type hit struct {
		url, title, content string
	}
	results := make([]hit, 0, len(queries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(planningPoolSize)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			found, err := r.deps.Search.Search(gctx, q, 3)
			if err != nil {
				r.deps.Log.Warn("pre-planning search failed", "query", q, "error", err)
				return nil
			}
			for i, res := range found {
				if i >= 2 {
					break
				}
				title, content := res.Title, res.RawContent
				if content == "" && r.deps.Scraper != nil {
					scrapedTitle, scrapedContent, err := r.deps.Scraper.Scrape(gctx, res.URL)
					if err == nil {
						if scrapedTitle != "" {
							title = scrapedTitle
						}
						content = scrapedContent
					}
				}
				if content == "" {
					content = res.Snippet
				}
				mu.Lock()
				results = append(results, hit{url: res.URL, title: title, content: content})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	analyzeSet, err := r.deps.Prompts.Get("pre_planning", "analyze_page")
	if err != nil {
		return err
	}

	type pageAnalysis struct {
		Entities []string `json:"entities"`
		Subtopics []string `json:"subtopics"`
		Claims   []string `json:"claims"`
		Gaps     []string `json:"gaps"`
	}

	var contextBuilder strings.Builder
	contextBuilder.WriteString("Preliminary survey of the topic:\n\n")
	for _, h := range results {
		resp, err := r.complete(ctx, analyzeSet, "json", map[string]any{
			"Brief": brief, "Title": h.title, "Content": truncateRunes(h.content, 4000),
		}, true)
		if err != nil {
			fmt.Fprintf(&contextBuilder, "- %s: %s\n", h.title, truncateRunes(h.content, 300))
			continue
		}
		var analysis pageAnalysis
		if jsonErr := parseJSONLoose(resp.Content, &analysis); jsonErr != nil {
			fmt.Fprintf(&contextBuilder, "- %s: %s\n", h.title, truncateRunes(h.content, 300))
			continue
		}
		fmt.Fprintf(&contextBuilder, "- %s — subtopics: %s; notable claims: %s; open questions: %s\n",
			h.title, strings.Join(analysis.Subtopics, ", "), strings.Join(analysis.Claims, "; "), strings.Join(analysis.Gaps, "; "))
	}

	return r.deps.Store.UpdateSessionBrief(ctx, session.ID, contextBuilder.String(), session.RefinementQA)
}

// --- Phase 2: outline_design ---

type outlineSection struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (r *Runner) outlineDesign(ctx context.Context, session *models.Session) error {
	target := r.deps.Config.Research.MinInitialTasks
	if target <= 0 {
		target = 5
	}
	hardCap := int(math.Max(float64(target+2), math.Ceil(float64(target)*1.5)))

	set, err := r.deps.Prompts.Get("outline_design", "generate_outline")
	if err != nil {
		return err
	}
	brief := session.RefinedBrief
	if brief == "" {
		brief = session.Query
	}
	resp, err := r.complete(ctx, set, "json", map[string]any{"Brief": brief}, true)
	if err != nil {
		return fmt.Errorf("generating outline: %w", err)
	}

	var sections []outlineSection
	for _, tc := range resp.ToolCalls {
		if set.Tool != nil && tc.Name == set.Tool.Name {
			var payload struct {
				Sections []outlineSection `json:"sections"`
			}
			if jsonErr := parseJSONLoose(tc.Arguments, &payload); jsonErr == nil {
				sections = payload.Sections
			}
		}
	}
	if len(sections) == 0 {
		if jsonErr := parseJSONLoose(resp.Content, &sections); jsonErr != nil {
			var wrapped struct {
				Sections []outlineSection `json:"sections"`
			}
			if wrapErr := parseJSONLoose(resp.Content, &wrapped); wrapErr == nil {
				sections = wrapped.Sections
			}
		}
	}
	if len(sections) == 0 {
		return fmt.Errorf("outline design produced no sections")
	}
	if len(sections) > hardCap {
		sections = sections[:hardCap]
	}

	sectionModels := make([]*models.Section, 0, len(sections))
	for i, s := range sections {
		sectionModels = append(sectionModels, &models.Section{
			Title: s.Title, Description: s.Description, Position: i, Status: models.SectionPlanned,
		})
	}
	return r.deps.Store.AddSections(ctx, session.ID, sectionModels)
}

// --- Phase 3: task_planning ---

type taskCandidate struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

func (r *Runner) taskPlanning(ctx context.Context, session *models.Session) error {
	sections, err := r.deps.Store.ListSections(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("listing sections: %w", err)
	}
	if len(sections) == 0 {
		return fmt.Errorf("no sections to plan tasks for")
	}

	perSection := r.deps.Config.Research.TasksPerSection
	if perSection <= 0 {
		perSection = 3
	}
	if r.deps.Config.Research.MaxTotalTasks > 0 {
		cap := r.deps.Config.Research.MaxTotalTasks / len(sections)
		if cap > 0 && cap < perSection {
			perSection = cap
		}
	}

	set, err := r.deps.Prompts.Get("task_planning", "generate_tasks")
	if err != nil {
		return err
	}

	fileIndex := research.NewFileIndex(0)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(planningPoolSize)
	var mu sync.Mutex
	var allTasks []*models.Task

	for _, sec := range sections {
		sec := sec
		g.Go(func() error {
			resp, err := r.complete(gctx, set, "json", map[string]any{
				"SectionTitle": sec.Title, "SectionDescription": sec.Description, "TasksPerSection": perSection,
			}, true)
			var candidates []taskCandidate
			if err == nil {
				_ = parseJSONLoose(resp.Content, &candidates)
			}
			if len(candidates) == 0 {
				candidates = []taskCandidate{{Topic: sec.Title, Description: sec.Description}}
			}
			if len(candidates) > perSection {
				candidates = candidates[:perSection]
			}

			secID := sec.ID
			tasks := make([]*models.Task, 0, len(candidates))
			for _, c := range candidates {
				mu.Lock()
				idx := fileIndex.Next()
				mu.Unlock()
				tasks = append(tasks, &models.Task{
					SectionID:   &secID,
					Topic:       c.Topic,
					Description: c.Description,
					FilePath:    research.NotesFilePath(r.deps.Config.Output.Directory, idx, c.Topic),
					Priority:    0,
					Depth:       0,
				})
			}
			mu.Lock()
			allTasks = append(allTasks, tasks...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total, err := r.deps.Store.AddTasks(ctx, session.ID, allTasks, r.deps.Config.Research.MaxTotalTasks)
	if err != nil {
		return fmt.Errorf("persisting planned tasks: %w", err)
	}
	return r.deps.Store.UpdateSessionCounters(ctx, session.ID, total, 0, 0, 0, 0)
}

// --- Phase 4: researching ---

func (r *Runner) research(ctx context.Context, session *models.Session, sessionStart time.Time, cancel *scheduler.CancelFlag) error {
	existingTasks, err := r.deps.Store.ListTasksForSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("counting existing tasks: %w", err)
	}
	executor := research.NewExecutor(research.Dependencies{
		LLM: r.deps.LLM, Search: r.deps.Search, Scraper: r.deps.Scraper,
		Store: r.deps.Store, Ledger: r.deps.Ledger, Prompts: r.deps.Prompts,
		FileIndex: research.NewFileIndex(len(existingTasks)),
		Research:  r.deps.Config.Research, SearchCfg: r.deps.Config.Search,
		Quality: r.deps.Config.Quality, Output: r.deps.Config.Output, Log: r.deps.Log,
	})
	sched := scheduler.New(r.deps.Store, executor, r.deps.Config.Research, r.deps.Log)
	outcome, err := sched.Run(ctx, session.ID, sessionStart, cancel)
	if err != nil {
		return fmt.Errorf("running scheduler: %w", err)
	}

	completed, _ := r.deps.Store.CountTasks(ctx, session.ID, models.TaskCompleted)
	failed, _ := r.deps.Store.CountTasks(ctx, session.ID, models.TaskFailed)
	pending, _ := r.deps.Store.CountTasks(ctx, session.ID, models.TaskPending)
	words, _ := r.deps.Store.TotalWordCount(ctx, session.ID)
	sources, _ := r.deps.Store.CountDistinctSources(ctx, session.ID)
	_ = pending
	r.deps.Log.Info("scheduler run complete", "reason", outcome.Reason, "loops", outcome.Loops,
		"completed", outcome.TasksCompleted, "failed", outcome.TasksFailed)
	return r.deps.Store.UpdateSessionCounters(ctx, session.ID, completed+failed+pending, completed, failed, words, sources)
}

// --- Phase 5: gap_analysis ---

type gapTask struct {
	SectionTitle string `json:"section_title"`
	Topic        string `json:"topic"`
	Description  string `json:"description"`
}

func (r *Runner) gapAnalysis(ctx context.Context, session *models.Session) (cycled bool, err error) {
	sections, err := r.deps.Store.ListSections(ctx, session.ID)
	if err != nil {
		return false, fmt.Errorf("listing sections: %w", err)
	}

	var summaries strings.Builder
	byTitle := make(map[string]*models.Section, len(sections))
	for _, sec := range sections {
		byTitle[sec.Title] = sec
		tasks, _ := r.deps.Store.ListTasksForSection(ctx, sec.ID)
		fmt.Fprintf(&summaries, "### %s\n%s\n(%d tasks)\n\n", sec.Title, sec.Description, len(tasks))
	}

	set, err := r.deps.Prompts.Get("gap_analysis", "review_sections")
	if err != nil {
		return false, err
	}
	brief := session.RefinedBrief
	if brief == "" {
		brief = session.Query
	}
	resp, err := r.complete(ctx, set, "json", map[string]any{
		"Query": brief, "SectionSummaries": summaries.String(),
	}, true)
	if err != nil {
		return false, fmt.Errorf("gap analysis review: %w", err)
	}

	var payload struct {
		GapTasks    []gapTask         `json:"gap_tasks"`
		NewSections []outlineSection  `json:"new_sections"`
	}
	if err := parseJSONLoose(resp.Content, &payload); err != nil {
		return false, nil // not fatal: treat as "nothing to add"
	}

	maxGapFill := r.deps.Config.GapAnalysis.MaxGapFillTasks
	maxNewSections := r.deps.Config.GapAnalysis.MaxNewSections
	if maxNewSections > 0 && len(payload.NewSections) > maxNewSections {
		payload.NewSections = payload.NewSections[:maxNewSections]
	}

	existingTasks, err := r.deps.Store.ListTasksForSession(ctx, session.ID)
	if err != nil {
		return false, err
	}
	fileIndex := research.NewFileIndex(len(existingTasks))

	var newSectionModels []*models.Section
	nextPosition := len(sections)
	for i, ns := range payload.NewSections {
		newSectionModels = append(newSectionModels, &models.Section{
			Title: ns.Title, Description: ns.Description, Position: nextPosition + i,
			Status: models.SectionPlanned, GapFill: true,
		})
	}
	if len(newSectionModels) > 0 {
		if err := r.deps.Store.AddSections(ctx, session.ID, newSectionModels); err != nil {
			return false, fmt.Errorf("persisting gap-fill sections: %w", err)
		}
		for _, sec := range newSectionModels {
			byTitle[sec.Title] = sec
		}
	}

	var newTasks []*models.Task
	addTask := func(secID int64, topic, description string) {
		idx := fileIndex.Next()
		newTasks = append(newTasks, &models.Task{
			SectionID: &secID, Topic: topic, Description: description,
			FilePath: research.NotesFilePath(r.deps.Config.Output.Directory, idx, topic),
			GapFill:  true,
		})
	}
	for i, gt := range payload.GapTasks {
		if maxGapFill > 0 && i >= maxGapFill {
			break
		}
		sec, ok := byTitle[gt.SectionTitle]
		if !ok {
			continue
		}
		addTask(sec.ID, gt.Topic, gt.Description)
	}
	for _, sec := range newSectionModels {
		addTask(sec.ID, sec.Title, sec.Description)
	}

	if len(newTasks) == 0 {
		return false, nil
	}
	if _, err := r.deps.Store.AddTasks(ctx, session.ID, newTasks, r.deps.Config.Research.MaxTotalTasks); err != nil {
		return false, fmt.Errorf("persisting gap-fill tasks: %w", err)
	}
	return true, nil
}

// --- Phase 6: synthesizing ---

func (r *Runner) synthesizing(ctx context.Context, session *models.Session) error {
	sections, err := r.deps.Store.ListSections(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("listing sections: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.deps.Config.Synthesis.SynthesisPoolSize)
	for _, sec := range sections {
		sec := sec
		if sec.Status == models.SectionComplete {
			continue
		}
		g.Go(func() error {
			tasks, err := r.deps.Store.ListTasksForSection(gctx, sec.ID)
			if err != nil {
				return err
			}
			completed := 0
			for _, t := range tasks {
				if t.Status == models.TaskCompleted {
					completed++
				}
			}
			if completed == 0 {
				return nil
			}
			if serr := r.deps.Synth.SynthesizeSection(gctx, sec, session.ID, sections); serr != nil {
				r.deps.Log.Error("section synthesis failed", "section_id", sec.ID, "error", serr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	final, err := r.deps.Store.ListSections(ctx, session.ID)
	if err != nil {
		return err
	}

	var execSummary, conclusion string
	g2, gctx2 := errgroup.WithContext(ctx)
	g2.Go(func() error {
		s, err := r.deps.Synth.ExecutiveSummary(gctx2, session.Query, final)
		if err != nil {
			return err
		}
		execSummary = s
		return nil
	})
	g2.Go(func() error {
		c, err := r.deps.Synth.Conclusion(gctx2, session.Query, final)
		if err != nil {
			return err
		}
		conclusion = c
		return nil
	})
	if err := g2.Wait(); err != nil {
		r.deps.Log.Warn("executive summary / conclusion generation failed", "error", err)
	}

	session.ExecutiveSummary = execSummary
	session.Conclusion = conclusion
	return nil
}

// --- Phase 7: compiling ---

func (r *Runner) compiling(ctx context.Context, session *models.Session, cancel *scheduler.CancelFlag) error {
	sections, err := r.deps.Store.ListSections(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("listing sections: %w", err)
	}
	glossary, err := r.deps.Store.ListGlossaryTerms(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("listing glossary terms: %w", err)
	}

	result, err := compiler.Compile(ctx, session, sections, glossary, r.deps.Ledger, r.deps.Config.Output)
	if err != nil {
		return fmt.Errorf("compiling report: %w", err)
	}

	// Reload counters: the in-memory session loaded at the start of the run
	// predates every UpdateSessionCounters call the research/gap-analysis
	// phases issued against the store.
	fresh, err := r.deps.Store.GetSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("reloading session counters: %w", err)
	}

	if err := r.deps.Store.UpdateSessionCounters(ctx, session.ID, fresh.TotalTasks, fresh.CompletedTasks,
		fresh.FailedTasks, fresh.TotalWords, result.SourceCount); err != nil {
		return fmt.Errorf("recording final source count: %w", err)
	}

	return r.deps.Store.FinalizeSession(ctx, session.ID, computeStatus(fresh, cancel),
		session.ExecutiveSummary, session.Conclusion, result.MarkdownPath, result.HTMLPath, result.PDFPath)
}

// emergencyCompile is the last-resort path any phase error routes through:
// it attempts to compile whatever sections/content already exist and
// finalize the session, but never itself returns an error to the caller —
// a compile failure here is logged and the session is still finalized,
// without artifact paths, under the same status rule as compiling().
func (r *Runner) emergencyCompile(ctx context.Context, sessionID string, cancel *scheduler.CancelFlag) (models.SessionStatus, error) {
	session, err := r.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		r.deps.Log.Error("emergency compile: failed to reload session", "error", err)
		return models.SessionFailed, nil
	}

	sections, _ := r.deps.Store.ListSections(ctx, sessionID)
	glossary, _ := r.deps.Store.ListGlossaryTerms(ctx, sessionID)

	result, err := compiler.Compile(ctx, session, sections, glossary, r.deps.Ledger, r.deps.Config.Output)
	var mdPath, htmlPath, pdfPath string
	if err != nil {
		r.deps.Log.Error("emergency compile failed", "error", err)
	} else {
		mdPath, htmlPath, pdfPath = result.MarkdownPath, result.HTMLPath, result.PDFPath
	}

	// Even on the emergency path, apply the same priority-ordered status
	// rule if any tasks ever ran; a session that failed before producing a
	// single task is simply failed.
	status := computeStatus(session, cancel)
	if session.TotalTasks == 0 {
		status = models.SessionFailed
	}
	if finalizeErr := r.deps.Store.FinalizeSession(ctx, sessionID, status, session.ExecutiveSummary, session.Conclusion, mdPath, htmlPath, pdfPath); finalizeErr != nil {
		r.deps.Log.Error("emergency compile: failed to finalize session", "error", finalizeErr)
	}
	return status, nil
}

// finalize reloads the session and returns the terminal status that
// compiling() already recorded through FinalizeSession; it computes and
// writes nothing itself.
func (r *Runner) finalize(ctx context.Context, sessionID string, cancel *scheduler.CancelFlag) (models.SessionStatus, error) {
	session, err := r.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return models.SessionFailed, fmt.Errorf("reloading session for finalize: %w", err)
	}
	return session.Status, nil
}

// computeStatus implements spec §4.4's priority-ordered finalization rule.
func computeStatus(session *models.Session, cancel *scheduler.CancelFlag) models.SessionStatus {
	if cancelled(cancel) {
		return models.SessionCancelled
	}
	switch {
	case session.FailedTasks > 0 && pendingCount(session) > 0:
		return models.SessionPartialWithErrors
	case pendingCount(session) > 0:
		return models.SessionPartial
	case session.FailedTasks > 0:
		return models.SessionCompletedWithErrors
	default:
		return models.SessionCompleted
	}
}

func pendingCount(session *models.Session) int {
	p := session.TotalTasks - session.CompletedTasks - session.FailedTasks
	if p < 0 {
		return 0
	}
	return p
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// complete issues one chat-completion call for a prompt set, with optional
// JSON-mode (when no tools are offered).
func (r *Runner) complete(ctx context.Context, set prompts.Set, variant string, data map[string]any, jsonMode bool) (llm.Response, error) {
	userTmpl, err := set.UserVariant(variant)
	if err != nil {
		return llm.Response{}, err
	}
	user, err := prompts.Render(userTmpl, data)
	if err != nil {
		return llm.Response{}, err
	}
	var tools []llm.Tool
	if set.Tool != nil {
		tools = []llm.Tool{{Name: set.Tool.Name, Description: set.Tool.Description, Parameters: set.Tool.Parameters}}
	}
	return r.deps.LLM.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: set.System},
			{Role: llm.RoleUser, Content: user},
		},
		Tools:    tools,
		JSONMode: jsonMode && len(tools) == 0,
	})
}

// jsonOrToolQueries asks for a query list via tool call first (if the
// prompt set offers one), falling back to its JSON user-template variant.
func (r *Runner) jsonOrToolQueries(ctx context.Context, set prompts.Set, data map[string]any, n int) ([]string, error) {
	if set.Tool != nil {
		resp, err := r.complete(ctx, set, "json", data, true)
		if err == nil {
			for _, tc := range resp.ToolCalls {
				if tc.Name == set.Tool.Name {
					var payload struct {
						Queries []string `json:"queries"`
					}
					if jsonErr := parseJSONLoose(tc.Arguments, &payload); jsonErr == nil && len(payload.Queries) > 0 {
						return clampQueries(payload.Queries, n), nil
					}
				}
			}
		}
	}
	resp, err := r.complete(ctx, set, "json", data, true)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Queries []string `json:"queries"`
	}
	if err := parseJSONLoose(resp.Content, &payload); err != nil {
		if !errors.Is(err, llm.ErrParseRetry) {
			return nil, err
		}
		// One alternate attempt on a parse failure, per the parse-retry
		// sentinel's contract: a single re-ask, not the full backoff loop.
		resp, err = r.complete(ctx, set, "json", data, true)
		if err != nil {
			return nil, err
		}
		if err := parseJSONLoose(resp.Content, &payload); err != nil {
			return nil, err
		}
	}
	return clampQueries(payload.Queries, n), nil
}

func clampQueries(queries []string, n int) []string {
	if n > 0 && len(queries) > n {
		return queries[:n]
	}
	return queries
}

// fencedJSON matches a ```json ... ``` or bare ``` ... ``` block, the same
// shape the model's JSON-mode replies sometimes wrap a bare object in.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// parseJSONLoose unmarshals response into v, first stripping a surrounding
// fenced code block if present.
func parseJSONLoose(response string, v any) error {
	text := strings.TrimSpace(response)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: %v", llm.ErrParseRetry, err)
	}
	return nil
}
