// Package research implements the Research Stage (spec §4.5): the
// per-task sub-pipeline that turns one claimed task into polished,
// cited notes — query generation, search, filter/scrape, per-source LLM
// extraction, a per-task gap-fill pass, and note synthesis with the
// model-output parsing contracts of spec §4.7.
//
// Grounded on mikeboe-research-helper's pkg/research engine.go for the
// generate→search→scrape→extract fan-out shape (bounded errgroup pools per
// step) and original_source/src/pipeline/_stages/research_topic.py for the
// exact stage ordering and phantom-citation guard.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/deepcite/internal/citation"
	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/ledger"
	"github.com/codeready-toolchain/deepcite/internal/llm"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/prompts"
	"github.com/codeready-toolchain/deepcite/internal/scheduler"
	"github.com/codeready-toolchain/deepcite/internal/search"
	"github.com/codeready-toolchain/deepcite/internal/store"
)

// extractionPoolSize and searchPoolSize are the "pool of at most 4"
// bounded fan-outs spec §4.5/§5 calls for inside a single task.
const (
	extractionPoolSize = 4
	searchPoolSize     = 4
)

// Scraper is the page-extraction collaborator the Research Stage needs; it
// is the subset of searchclient.Scraper's surface this package depends on,
// kept as an interface so tests can substitute a scripted fetcher.
type Scraper interface {
	Scrape(ctx context.Context, url string) (title, content string, err error)
}

// FileIndex hands out the global, collision-free file-index prefixes used
// for per-task notes files (output.directory/NN_<sanitized_topic>.md).
type FileIndex struct {
	next int64
}

// NewFileIndex seeds a FileIndex at start (typically the session's current
// task count), so resumed sessions don't reuse a file-index already on
// disk.
func NewFileIndex(start int) *FileIndex {
	return &FileIndex{next: int64(start)}
}

// Next atomically allocates the next file-index.
func (f *FileIndex) Next() int {
	return int(atomic.AddInt64(&f.next, 1))
}

var nonWordRun = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeTopic lowercases and collapses a task topic into a filesystem-safe
// slug, truncated to keep file names reasonable.
func SanitizeTopic(topic string) string {
	slug := nonWordRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(topic)), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "task"
	}
	if len(slug) > 60 {
		slug = slug[:60]
	}
	return slug
}

// NotesFilePath builds the per-task notes file path for a file index and
// topic, per spec §6.
func NotesFilePath(outputDir string, fileIndex int, topic string) string {
	return filepath.Join(outputDir, fmt.Sprintf("%02d_%s.md", fileIndex, SanitizeTopic(topic)))
}

// Dependencies bundles everything the Executor needs to run one task.
type Dependencies struct {
	LLM       llm.Client
	Search    search.Client
	Scraper   Scraper
	Store     *store.Store
	Ledger    *ledger.Ledger
	Prompts   *prompts.Store
	FileIndex *FileIndex
	Research  config.ResearchConfig
	SearchCfg config.SearchConfig
	Quality   config.QualityConfig
	Output    config.OutputConfig
	Log       *slog.Logger
}

// Executor implements scheduler.Executor, running the Research Stage
// sub-pipeline for a single claimed task.
type Executor struct {
	deps Dependencies
}

// NewExecutor builds an Executor.
func NewExecutor(deps Dependencies) *Executor {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Executor{deps: deps}
}

var _ scheduler.Executor = (*Executor)(nil)

// Execute runs the full per-task pipeline: query generation, search,
// filter/scrape, per-source extraction, gap-fill, and note synthesis.
func (e *Executor) Execute(ctx context.Context, task *models.Task) (scheduler.Result, error) {
	log := e.deps.Log.With("task_id", task.ID, "topic", task.Topic)

	queries, err := e.generateQueries(ctx, task)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("generating queries: %w", err)
	}
	log.Debug("generated queries", "count", len(queries))

	otherSections, err := e.otherSectionsContext(ctx, task)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("building adjacent-section context: %w", err)
	}

	position := 0
	if err := e.searchAndCollect(ctx, task, queries, &position, 0); err != nil {
		return scheduler.Result{}, fmt.Errorf("search and collect: %w", err)
	}

	sources, edges, err := e.deps.Ledger.SourcesForTask(ctx, task.ID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("listing task sources: %w", err)
	}

	if err := e.extractSources(ctx, task, sources); err != nil {
		return scheduler.Result{}, fmt.Errorf("extracting sources: %w", err)
	}
	// Re-read edges now that extraction cached content against them.
	sources, edges, err = e.deps.Ledger.SourcesForTask(ctx, task.ID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("listing task sources after extraction: %w", err)
	}

	if e.deps.Research.GapFillQueries > 0 && len(sources) > 0 {
		sources, edges, err = e.gapFill(ctx, task, sources, edges)
		if err != nil {
			return scheduler.Result{}, fmt.Errorf("gap-fill: %w", err)
		}
	}

	content, newTasks, glossary, err := e.synthesizeNotes(ctx, task, sources, edges, otherSections)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("synthesizing notes: %w", err)
	}

	if len(sources) == 0 {
		content = citation.StripPhantomCitations(content)
	}

	if err := e.writeNotesFile(task, content); err != nil {
		return scheduler.Result{}, fmt.Errorf("writing notes file: %w", err)
	}

	return scheduler.Result{
		WordCount:     len(strings.Fields(content)),
		CitationCount: citation.Count(content),
		NewTasks:      newTasks,
		GlossaryTerms: glossary,
	}, nil
}

// generateQueries asks the model for queries_per_task short queries,
// preferring a native tool call, then JSON mode, then plain text, topping
// up with deterministic fallbacks so the pipeline never proceeds with zero
// queries (spec §4.5 step 1).
func (e *Executor) generateQueries(ctx context.Context, task *models.Task) ([]string, error) {
	n := e.deps.Research.QueriesPerTask
	if n <= 0 {
		n = 4
	}

	set, err := e.deps.Prompts.Get("research_topic", "generate_queries")
	if err != nil {
		return nil, err
	}

	data := map[string]any{"Topic": task.Topic, "Description": task.Description, "NumQueries": n}

	var queries []string
	if set.Tool != nil {
		if resp, err := e.complete(ctx, set, "json", data, true, []llm.Tool{
			{Name: set.Tool.Name, Description: set.Tool.Description, Parameters: set.Tool.Parameters},
		}); err == nil {
			for _, tc := range resp.ToolCalls {
				if tc.Name == set.Tool.Name {
					queries = parseQueryResponse(tc.Arguments, n)
					break
				}
			}
			if len(queries) == 0 && resp.Content != "" {
				queries = parseQueryResponse(resp.Content, n)
			}
		}
	}
	if len(queries) == 0 {
		if resp, err := e.complete(ctx, set, "json", data, true, nil); err == nil {
			queries = parseQueryResponse(resp.Content, n)
		}
	}
	if len(queries) == 0 {
		if resp, err := e.complete(ctx, set, "text", data, false, nil); err == nil {
			queries = parseQueryResponse(resp.Content, n)
		}
	}
	if len(queries) < n {
		fallback := buildFallbackQueries(task.Topic, task.Description, n)
		seen := make(map[string]bool, len(queries))
		for _, q := range queries {
			seen[strings.ToLower(q)] = true
		}
		for _, q := range fallback {
			if len(queries) >= n {
				break
			}
			if !seen[strings.ToLower(q)] {
				queries = append(queries, q)
				seen[strings.ToLower(q)] = true
			}
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no usable queries produced for task %q", task.Topic)
	}
	return queries, nil
}

func (e *Executor) complete(ctx context.Context, set prompts.Set, variant string, data map[string]any, jsonMode bool, tools []llm.Tool) (llm.Response, error) {
	userTmpl, err := set.UserVariant(variant)
	if err != nil {
		return llm.Response{}, err
	}
	user, err := prompts.Render(userTmpl, data)
	if err != nil {
		return llm.Response{}, err
	}
	return e.deps.LLM.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: set.System},
			{Role: llm.RoleUser, Content: user},
		},
		Tools:    tools,
		JSONMode: jsonMode && len(tools) == 0,
	})
}

// searchAndCollect runs every query in parallel, then filters/scrapes each
// query's candidates in order, persisting accepted sources at sequential
// positions starting from *position. gapFillFloor is 0 for the initial
// pass or ledger.GapFillOffset for the gap-fill pass.
func (e *Executor) searchAndCollect(ctx context.Context, task *models.Task, queries []string, position *int, gapFillFloor int) error {
	resultsPerQuery := e.deps.Research.ResultsPerQuery
	if resultsPerQuery <= 0 {
		resultsPerQuery = 3
	}

	type queryResults struct {
		query   string
		results []search.Result
	}
	all := make([]queryResults, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchPoolSize)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results, err := e.deps.Search.Search(gctx, q, 3*resultsPerQuery)
			if err != nil {
				e.deps.Log.Warn("search failed, skipping query", "query", q, "error", err)
				return nil
			}
			all[i] = queryResults{query: q, results: results}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seen, err := e.deps.Ledger.SeenURLs(ctx, task.ID)
	if err != nil {
		return err
	}
	var seenMu sync.Mutex

	for _, qr := range all {
		accepted := 0
		for _, r := range qr.results {
			if accepted >= resultsPerQuery {
				break
			}
			seenMu.Lock()
			alreadySeen := seen[r.URL]
			if !alreadySeen {
				seen[r.URL] = true
			}
			seenMu.Unlock()
			if alreadySeen {
				continue
			}

			if search.IsBlocked(r.URL, e.deps.Research.BlocklistDomains, e.deps.Research.BlocklistExtensions) {
				continue
			}
			if r.Score > 0 && r.Score < e.deps.SearchCfg.MinTavilyScore {
				continue
			}

			title, content := r.Title, r.RawContent
			if content == "" && e.deps.Scraper != nil {
				scrapedTitle, scrapedContent, err := e.deps.Scraper.Scrape(ctx, r.URL)
				if err != nil {
					e.deps.Log.Debug("scrape failed, using snippet", "url", r.URL, "error", err)
				} else {
					if scrapedTitle != "" {
						title = scrapedTitle
					}
					content = scrapedContent
				}
			}

			quality := search.QualityScore(r.URL, title, content, qr.query,
				e.deps.Research.BlocklistDomains, e.deps.Research.BlocklistExtensions)
			if quality < e.deps.Quality.MinSourceQuality {
				continue
			}

			src := &models.Source{
				URL:          r.URL,
				Title:        title,
				Domain:       search.Domain(r.URL),
				Snippet:      r.Snippet,
				Content:      content,
				QualityScore: quality,
				Academic:     search.IsAcademic(r.URL),
			}
			pos := gapFillFloor + *position
			if _, err := e.deps.Ledger.AddSource(ctx, src, task.ID, pos); err != nil {
				return fmt.Errorf("persisting source %q: %w", r.URL, err)
			}
			*position++
			accepted++
		}
	}
	return nil
}

// extractSources runs a bounded-concurrency LLM extraction pass over each
// source's content, restricted to the task's topic, caching the result on
// the TaskSource edge.
func (e *Executor) extractSources(ctx context.Context, task *models.Task, sources []*models.Source) error {
	if len(sources) == 0 {
		return nil
	}
	set, err := e.deps.Prompts.Get("research_topic", "extract_source")
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractionPoolSize)
	for _, src := range sources {
		src := src
		content := src.Content
		if content == "" {
			content = src.Snippet
		}
		if content == "" {
			continue
		}
		g.Go(func() error {
			resp, err := e.complete(gctx, set, "", map[string]any{
				"Topic": task.Topic, "Description": task.Description,
				"Title": src.Title, "Content": truncate(content, 6000),
			}, false, nil)
			if err != nil {
				e.deps.Log.Warn("extraction failed, falling back to raw content", "url", src.URL, "error", err)
				return nil
			}
			if resp.Content == "" {
				return nil
			}
			return e.deps.Ledger.RecordExtraction(gctx, task.ID, src.ID, resp.Content)
		})
	}
	return g.Wait()
}

// gapFill asks the model whether the task's coverage is sufficient and, if
// not, runs a second search/scrape round for targeted follow-up queries,
// persisting any new sources at positions >= ledger.GapFillOffset.
func (e *Executor) gapFill(ctx context.Context, task *models.Task, sources []*models.Source, edges []models.TaskSource) ([]*models.Source, []models.TaskSource, error) {
	set, err := e.deps.Prompts.Get("research_topic", "identify_gaps")
	if err != nil {
		return sources, edges, err
	}

	summaries := summarizeSources(sources, edges)
	resp, err := e.complete(ctx, set, "json", map[string]any{
		"Topic": task.Topic, "Description": task.Description, "SourceSummaries": summaries,
	}, true, nil)
	if err != nil {
		e.deps.Log.Warn("gap analysis call failed, skipping", "error", err)
		return sources, edges, nil
	}

	var parsed struct {
		Sufficient bool     `json:"sufficient"`
		Queries    []string `json:"queries"`
	}
	if err := parseJSONLoose(resp.Content, &parsed); err != nil || parsed.Sufficient || len(parsed.Queries) == 0 {
		return sources, edges, nil
	}

	n := e.deps.Research.GapFillQueries
	if n > 0 && len(parsed.Queries) > n {
		parsed.Queries = parsed.Queries[:n]
	}

	position := 0
	if err := e.searchAndCollect(ctx, task, parsed.Queries, &position, ledger.GapFillOffset); err != nil {
		return sources, edges, fmt.Errorf("gap-fill search: %w", err)
	}
	updated, _, err := e.deps.Ledger.SourcesForTask(ctx, task.ID)
	if err != nil {
		return sources, edges, fmt.Errorf("listing task sources after gap-fill: %w", err)
	}
	newlyAdded := make([]*models.Source, 0, len(updated))
	for _, src := range updated {
		if !containsSource(sources, src.ID) {
			newlyAdded = append(newlyAdded, src)
		}
	}
	if len(newlyAdded) > 0 {
		if err := e.extractSources(ctx, task, newlyAdded); err != nil {
			e.deps.Log.Warn("gap-fill extraction failed", "error", err)
		}
	}
	return e.deps.Ledger.SourcesForTask(ctx, task.ID)
}

func containsSource(sources []*models.Source, id int64) bool {
	for _, s := range sources {
		if s.ID == id {
			return true
		}
	}
	return false
}

// synthesizeNotes assembles the source context and asks the model for
// research notes, parsing out the trailing new_tasks/glossary_terms
// metadata block per spec §4.7.
func (e *Executor) synthesizeNotes(ctx context.Context, task *models.Task, sources []*models.Source, edges []models.TaskSource, otherSections string) (string, []*models.Task, []*models.GlossaryTerm, error) {
	set, err := e.deps.Prompts.Get("research_topic", "synthesize_notes")
	if err != nil {
		return "", nil, nil, err
	}

	sourceContext := "No sources were found for this topic; write notes from general knowledge and do not include any [N] citation markers."
	if len(sources) > 0 {
		sourceContext = buildSourceContext(sources, edges)
	}

	resp, err := e.complete(ctx, set, "", map[string]any{
		"Topic": task.Topic, "Description": task.Description,
		"SourceContext": sourceContext, "OtherSections": otherSections,
	}, false, nil)
	if err != nil {
		return "", nil, nil, err
	}

	content, rawNewTasks, rawGlossary := parseNotesMetadata(resp.Content)

	existing, err := e.deps.Store.ListTasksForSession(ctx, task.SessionID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("listing existing tasks for dedup: %w", err)
	}
	existingTopics := make(map[string]bool, len(existing))
	for _, t := range existing {
		existingTopics[strings.ToLower(strings.TrimSpace(t.Topic))] = true
	}

	var newTasks []*models.Task
	if len(rawNewTasks) > 0 {
		nt := rawNewTasks[0] // at most 1 follow-up per source task, per spec §4.3.
		key := strings.ToLower(strings.TrimSpace(nt.Topic))
		if key != "" && !existingTopics[key] {
			fi := e.deps.FileIndex.Next()
			newTasks = append(newTasks, &models.Task{
				SectionID:    task.SectionID,
				ParentTaskID: &task.ID,
				Topic:        nt.Topic,
				Description:  nt.Description,
				FilePath:     NotesFilePath(e.deps.Output.Directory, fi, nt.Topic),
				Priority:     task.Priority - 1,
				Depth:        task.Depth + 1,
			})
		}
	}

	var glossary []*models.GlossaryTerm
	for _, gt := range rawGlossary {
		if strings.TrimSpace(gt.Term) == "" {
			continue
		}
		glossary = append(glossary, &models.GlossaryTerm{
			Term:         gt.Term,
			Definition:   gt.Definition,
			OriginTaskID: &task.ID,
		})
	}

	return content, newTasks, glossary, nil
}

func (e *Executor) writeNotesFile(task *models.Task, content string) error {
	path := task.FilePath
	if path == "" {
		path = NotesFilePath(e.deps.Output.Directory, int(task.ID), task.Topic)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// otherSectionsContext builds the one-line-per-section context note
// synthesis and research notes both use to avoid duplicating adjacent
// coverage, without leaking full synthesized text (spec §9 open question:
// adjacency is description-based, not chained-content-based).
func (e *Executor) otherSectionsContext(ctx context.Context, task *models.Task) (string, error) {
	if task.SectionID == nil {
		return "", nil
	}
	sections, err := e.deps.Store.ListSections(ctx, task.SessionID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, sec := range sections {
		if sec.ID == *task.SectionID {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", sec.Title, sec.Description)
	}
	return b.String(), nil
}

func summarizeSources(sources []*models.Source, edges []models.TaskSource) string {
	var b strings.Builder
	for i, src := range sources {
		content := ledger.ContentForPrompt(src, edgeFor(edges, i))
		fmt.Fprintf(&b, "Source %d: %s (%s)\n%s\n\n", i+1, src.Title, src.Domain, truncate(content, 300))
	}
	return b.String()
}

func buildSourceContext(sources []*models.Source, edges []models.TaskSource) string {
	var b strings.Builder
	for i, src := range sources {
		content := ledger.ContentForPrompt(src, edgeFor(edges, i))
		fmt.Fprintf(&b, "Source %d: %s\nURL: %s\nDomain: %s\n%s\n\n", i+1, src.Title, src.URL, src.Domain, truncate(content, 4000))
	}
	return b.String()
}

func edgeFor(edges []models.TaskSource, i int) models.TaskSource {
	if i < len(edges) {
		return edges[i]
	}
	return models.TaskSource{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// parseJSONLoose unmarshals response into v, first stripping a surrounding
// fenced code block if present. In this package it parses the
// identify_gaps output; the phase package has its own copy for the
// phase-level outputs.
func parseJSONLoose(response string, v any) error {
	text := strings.TrimSpace(response)
	if m := queryFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	return json.Unmarshal([]byte(text), v)
}

// taskSuggestion and glossarySuggestion mirror the shapes research notes'
// trailing metadata block uses for new_tasks/glossary_terms entries.
type taskSuggestion struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

type glossarySuggestion struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// parseNotesMetadata separates a research-notes response into the prose
// notes and the trailing new_tasks/glossary_terms metadata block, per spec
// §4.7: try the structured extractor first, then fall back to stripping any
// trailing JSON-shaped tail the structured pass missed.
func parseNotesMetadata(response string) (notes string, newTasks []taskSuggestion, glossary []glossarySuggestion) {
	if data, start, ok := extractJSONMetadata(response); ok {
		notes = strings.TrimRight(response[:start], " \t\n\r")
		newTasks = decodeSuggestions[taskSuggestion](data["new_tasks"])
		glossary = decodeSuggestions[glossarySuggestion](data["glossary_terms"])
		return notes, newTasks, glossary
	}
	return strings.TrimSpace(stripTrailingJSON(response)), nil, nil
}

func decodeSuggestions[T any](raw any) []T {
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
