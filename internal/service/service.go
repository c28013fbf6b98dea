// Package service is the Service Facade (spec §4's dependency order puts it
// last, §6 names its six operations): the single entry point every outer
// adapter — CLI, HTTP, an MCP tool surface — drives to start, watch, cancel
// and retrieve a research run, without any of them touching the Phase
// Runner, Scheduler, or Store directly.
//
// Grounded on tarsy's pkg/services/alert_service.go and pkg/session/manager.go:
// a facade struct holding every collaborator plus one piece of in-memory
// state for "the run currently in flight", with start/status/cancel methods
// that translate between that state and the durable store. Adapted from
// tarsy's single in-flight alert to this module's single in-flight research
// run (spec's non-goal: "multi-tenant isolation beyond per-session scoping"
// — one facade serves one active run at a time, many completed ones are
// still queryable by id).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/events"
	"github.com/codeready-toolchain/deepcite/internal/ledger"
	"github.com/codeready-toolchain/deepcite/internal/llm"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/phase"
	"github.com/codeready-toolchain/deepcite/internal/prompts"
	"github.com/codeready-toolchain/deepcite/internal/research"
	"github.com/codeready-toolchain/deepcite/internal/scheduler"
	"github.com/codeready-toolchain/deepcite/internal/search"
	"github.com/codeready-toolchain/deepcite/internal/store"
	"github.com/codeready-toolchain/deepcite/internal/synthesis"
)

// Dependencies bundles every long-lived collaborator the facade wires into
// a phase.Runner for each run it starts.
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

// activeRun tracks the one run this facade currently owns in memory.
type activeRun struct {
	sessionID string
	cancel    *scheduler.CancelFlag
	done      chan struct{}

	mu     sync.Mutex
	status models.SessionStatus
	err    error
}

func (a *activeRun) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Service is the Service Facade.
type Service struct {
	deps Dependencies

	mu      sync.Mutex
	current *activeRun
}

// New builds a Service over deps.Config as the base configuration every
// run's preset/overrides are applied on top of.
func New(deps Dependencies) *Service {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Service{deps: deps}
}

// StartOptions is the input to StartRun, mirroring spec §6's
// start_run(query, mode?, overrides?, refined_brief?, refinement_qa?,
// resume?, blocking?) signature.
type StartOptions struct {
	Query        string
	Mode         string
	Overrides    map[string]string
	RefinedBrief string
	RefinementQA string
	Resume       bool
	SessionID    string // explicit session to resume; empty means "most recent running"
	Blocking     bool
}

// StartResult is start_run's return value.
type StartResult struct {
	Status string // "started" | "already_running"
	RunID  string
}

// StartRun begins a new session (or resumes an existing one), running it
// in the background unless Blocking is set. Only one run is ever in flight
// per Service; a second StartRun call while one is active returns
// "already_running" with the in-flight run's id rather than queuing or
// rejecting the request.
func (s *Service) StartRun(ctx context.Context, opts StartOptions) (StartResult, error) {
	s.mu.Lock()
	if s.current != nil && !s.current.finished() {
		id := s.current.sessionID
		s.mu.Unlock()
		return StartResult{Status: "already_running", RunID: id}, nil
	}

	effCfg := s.deps.Config
	if opts.Mode != "" || len(opts.Overrides) > 0 {
		if err := config.ApplyPreset(&effCfg, opts.Mode, opts.Overrides); err != nil {
			s.mu.Unlock()
			return StartResult{}, fmt.Errorf("applying run overrides: %w", err)
		}
	}

	sessionID, resuming, err := s.beginSession(ctx, opts)
	if err != nil {
		s.mu.Unlock()
		return StartResult{}, err
	}

	cancel := &scheduler.CancelFlag{}
	run := &activeRun{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}
	s.current = run
	s.mu.Unlock()

	runner := phase.New(phase.Dependencies{
		Store: s.deps.Store, Ledger: s.deps.Ledger, Events: s.deps.Events, Prompts: s.deps.Prompts,
		LLM: s.deps.LLM, Search: s.deps.Search, Scraper: s.deps.Scraper, Synth: s.deps.Synth,
		Config: effCfg, Log: s.deps.Log,
	})

	execute := func() {
		defer close(run.done)
		// A background run must outlive the HTTP/CLI request that started
		// it; soft cancellation (CancelFlag) is the only stop signal it
		// honors, per spec §5.
		bg := context.Background()
		var status models.SessionStatus
		var runErr error
		if resuming {
			status, runErr = runner.Resume(bg, sessionID, cancel)
		} else {
			status, runErr = runner.Start(bg, sessionID, cancel)
		}
		run.mu.Lock()
		run.status, run.err = status, runErr
		run.mu.Unlock()
	}

	if opts.Blocking {
		execute()
		return StartResult{Status: "started", RunID: sessionID}, nil
	}
	go execute()
	return StartResult{Status: "started", RunID: sessionID}, nil
}

// beginSession creates a fresh session or prepares an existing one for
// resume, returning its id and whether the run should re-enter at
// researching (resume) or pre_planning (fresh start).
func (s *Service) beginSession(ctx context.Context, opts StartOptions) (sessionID string, resuming bool, err error) {
	if !opts.Resume {
		sess, err := s.deps.Store.CreateSession(ctx, opts.Query)
		if err != nil {
			return "", false, fmt.Errorf("creating session: %w", err)
		}
		if opts.RefinedBrief != "" || opts.RefinementQA != "" {
			if err := s.deps.Store.UpdateSessionBrief(ctx, sess.ID, opts.RefinedBrief, opts.RefinementQA); err != nil {
				return "", false, fmt.Errorf("persisting refinement: %w", err)
			}
		}
		return sess.ID, false, nil
	}

	var sess *models.Session
	if opts.SessionID != "" {
		sess, err = s.deps.Store.GetSession(ctx, opts.SessionID)
	} else {
		sess, err = s.deps.Store.MostRecentRunningSession(ctx)
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving session to resume: %w", err)
	}

	pending, err := s.deps.Store.CountTasks(ctx, sess.ID, models.TaskPending)
	if err != nil {
		return "", false, fmt.Errorf("checking pending tasks: %w", err)
	}
	if pending == 0 {
		return "", false, fmt.Errorf("session %s has no pending tasks to resume", sess.ID)
	}
	if err := s.deps.Store.ResumeSession(ctx, sess.ID); err != nil {
		return "", false, fmt.Errorf("resuming session: %w", err)
	}
	return sess.ID, true, nil
}

// CancelResult is cancel_run's return value.
type CancelResult struct {
	Status string // "cancelling" | "not_running"
	RunID  string
}

// CancelRun requests soft cancellation of the in-flight run, if any.
func (s *Service) CancelRun(ctx context.Context, sessionID string) (CancelResult, error) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	if run == nil || run.finished() || (sessionID != "" && run.sessionID != sessionID) {
		return CancelResult{Status: "not_running"}, nil
	}
	run.cancel.Request()
	if err := s.deps.Store.MarkCancelRequested(ctx, run.sessionID, run.cancel.RequestedAt()); err != nil {
		return CancelResult{}, fmt.Errorf("recording cancel request: %w", err)
	}
	if err := s.deps.Events.CancellationRequested(ctx, run.sessionID); err != nil {
		s.deps.Log.Warn("failed to record cancellation_requested event", "error", err)
	}
	return CancelResult{Status: "cancelling", RunID: run.sessionID}, nil
}

// Progress mirrors get_run_status's nested "progress" object.
type Progress struct {
	Completed int
	Total     int
	Pct       float64
}

// Timing mirrors get_run_status's nested "timing" object.
type Timing struct {
	StartedAt      time.Time
	EndedAt        *time.Time
	ElapsedSeconds float64
}

// Counts mirrors get_run_status's nested "counts" object.
type Counts struct {
	Sources     int
	Words       int
	FailedTasks int
}

// Costs mirrors get_run_status's nested "costs" object. The LLM and search
// collaborators are external per spec §1 and the spec defines no cost
// formula for them, so this is a zero-valued placeholder rather than a
// fabricated estimate — any future cost model plugs in here without
// changing the facade's shape.
type Costs struct {
	EstimatedUSD float64
}

// StatusResult is get_run_status's return value.
type StatusResult struct {
	RunID             string
	Status            models.SessionStatus
	Phase             models.Phase
	Running           bool
	Progress          Progress
	Timing            Timing
	Counts            Counts
	Costs             Costs
	CancelRequestedAt *time.Time
}

// GetRunStatus reports a session's current progress. An empty sessionID
// resolves to the in-flight run, or failing that, the most recently
// started session of any status.
func (s *Service) GetRunStatus(ctx context.Context, sessionID string) (StatusResult, error) {
	id, running, err := s.resolveSessionID(ctx, sessionID)
	if err != nil {
		return StatusResult{}, err
	}
	sess, err := s.deps.Store.GetSession(ctx, id)
	if err != nil {
		return StatusResult{}, fmt.Errorf("loading session: %w", err)
	}

	total := sess.TotalTasks
	completed := sess.CompletedTasks
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(completed) / float64(total)
	}
	elapsed := time.Since(sess.StartedAt).Seconds()
	if sess.EndedAt != nil {
		elapsed = sess.EndedAt.Sub(sess.StartedAt).Seconds()
	}

	return StatusResult{
		RunID:   sess.ID,
		Status:  sess.Status,
		Phase:   sess.Phase,
		Running: running,
		Progress: Progress{
			Completed: completed, Total: total, Pct: pct,
		},
		Timing: Timing{
			StartedAt: sess.StartedAt, EndedAt: sess.EndedAt, ElapsedSeconds: elapsed,
		},
		Counts: Counts{
			Sources: sess.TotalSources, Words: sess.TotalWords, FailedTasks: sess.FailedTasks,
		},
		CancelRequestedAt: sess.CancelRequestedAt,
	}, nil
}

// EventPage is get_run_events_page's return value.
type EventPage struct {
	SessionID  string
	Events     []*models.RunEvent
	NextCursor string
}

// GetRunEventsPage returns one keyset page of a session's run events.
func (s *Service) GetRunEventsPage(ctx context.Context, sessionID, cursor string, limit int) (EventPage, error) {
	id, _, err := s.resolveSessionID(ctx, sessionID)
	if err != nil {
		return EventPage{}, err
	}
	evs, next, err := s.deps.Events.Page(ctx, id, cursor, limit)
	if err != nil {
		return EventPage{}, fmt.Errorf("listing events: %w", err)
	}
	return EventPage{SessionID: id, Events: evs, NextCursor: next}, nil
}

// ResultSection is one entry in get_run_result's "summary.sections" list.
type ResultSection struct {
	Title         string
	Position      int
	WordCount     int
	CitationCount int
}

// Artifacts mirrors get_run_result's "artifacts" object.
type Artifacts struct {
	MarkdownPath string
	HTMLPath     string
	PDFPath      string
}

// Summary mirrors get_run_result's "summary" object.
type Summary struct {
	ExecutiveSummary string
	Conclusion       string
	Sections         []ResultSection
}

// RunResult is get_run_result's return value.
type RunResult struct {
	RunID     string
	Status    models.SessionStatus
	Artifacts Artifacts
	Summary   Summary
	Sources   []*models.Source
}

// GetRunResult returns the final artifacts and report summary for a
// session, which need not yet be terminal (a partial report is still a
// valid result, per the "partial"/"partial_with_errors" statuses).
func (s *Service) GetRunResult(ctx context.Context, sessionID string) (RunResult, error) {
	id, _, err := s.resolveSessionID(ctx, sessionID)
	if err != nil {
		return RunResult{}, err
	}
	sess, err := s.deps.Store.GetSession(ctx, id)
	if err != nil {
		return RunResult{}, fmt.Errorf("loading session: %w", err)
	}
	sections, err := s.deps.Store.ListSections(ctx, id)
	if err != nil {
		return RunResult{}, fmt.Errorf("listing sections: %w", err)
	}

	resultSections := make([]ResultSection, 0, len(sections))
	var sources []*models.Source
	seen := make(map[int64]bool)
	for _, sec := range sections {
		resultSections = append(resultSections, ResultSection{
			Title: sec.Title, Position: sec.Position,
			WordCount: sec.WordCount, CitationCount: sec.CitationCount,
		})
		secSources, err := s.deps.Ledger.SourcesForSection(ctx, sec.ID)
		if err != nil {
			return RunResult{}, fmt.Errorf("listing sources for section %d: %w", sec.ID, err)
		}
		for _, src := range secSources {
			if seen[src.ID] {
				continue
			}
			seen[src.ID] = true
			sources = append(sources, src)
		}
	}

	return RunResult{
		RunID:  sess.ID,
		Status: sess.Status,
		Artifacts: Artifacts{
			MarkdownPath: sess.MarkdownPath, HTMLPath: sess.HTMLPath, PDFPath: sess.PDFPath,
		},
		Summary: Summary{
			ExecutiveSummary: sess.ExecutiveSummary, Conclusion: sess.Conclusion, Sections: resultSections,
		},
		Sources: sources,
	}, nil
}

// ListPresets returns the built-in preset bundles, for list_presets().
func (s *Service) ListPresets() map[string]config.Preset {
	return config.Presets()
}

// resolveSessionID implements the "sessionID optional" convention every
// read operation in spec §6 shares: an explicit id wins, otherwise the
// in-flight run (if any), otherwise the most recently started session.
// The second return value reports whether the resolved session is the
// facade's currently in-flight run.
func (s *Service) resolveSessionID(ctx context.Context, sessionID string) (string, bool, error) {
	if sessionID != "" {
		s.mu.Lock()
		running := s.current != nil && s.current.sessionID == sessionID && !s.current.finished()
		s.mu.Unlock()
		return sessionID, running, nil
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil && !current.finished() {
		return current.sessionID, true, nil
	}

	sess, err := s.deps.Store.MostRecentSession(ctx)
	if err != nil {
		return "", false, fmt.Errorf("resolving most recent session: %w", err)
	}
	return sess.ID, false, nil
}
