package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepcite/internal/service"
)

// startRunRequest mirrors spec §6's start_run parameters.
type startRunRequest struct {
	Query        string            `json:"query"`
	Mode         string            `json:"mode"`
	Overrides    map[string]string `json:"overrides"`
	RefinedBrief string            `json:"refined_brief"`
	RefinementQA string            `json:"refinement_qa"`
	Resume       bool              `json:"resume"`
	SessionID    string            `json:"session_id"`
	Blocking     bool              `json:"blocking"`
}

func (s *Server) handleStartRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Query == "" && !req.Resume {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required unless resume is set"})
		return
	}

	result, err := s.svc.StartRun(c.Request.Context(), service.StartOptions{
		Query: req.Query, Mode: req.Mode, Overrides: req.Overrides,
		RefinedBrief: req.RefinedBrief, RefinementQA: req.RefinementQA,
		Resume: req.Resume, SessionID: req.SessionID, Blocking: req.Blocking,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result.Status, "run_id": result.RunID})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.svc.GetRunStatus(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		// §7: the status endpoint always returns 200 with a status field,
		// even when the lookup itself failed.
		c.JSON(http.StatusOK, gin.H{"status": "unknown", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  status.RunID,
		"status":  status.Status,
		"phase":   status.Phase,
		"running": status.Running,
		"progress": gin.H{
			"completed": status.Progress.Completed,
			"total":     status.Progress.Total,
			"pct":       status.Progress.Pct,
		},
		"timing": gin.H{
			"started_at":      status.Timing.StartedAt,
			"ended_at":        status.Timing.EndedAt,
			"elapsed_seconds": status.Timing.ElapsedSeconds,
		},
		"counts": gin.H{
			"sources":      status.Counts.Sources,
			"words":        status.Counts.Words,
			"failed_tasks": status.Counts.FailedTasks,
		},
		"costs": gin.H{
			"estimated_usd": status.Costs.EstimatedUSD,
		},
		"cancel_requested_at": status.CancelRequestedAt,
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	_ = c.ShouldBindJSON(&req)

	result, err := s.svc.CancelRun(c.Request.Context(), req.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result.Status, "run_id": result.RunID})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	page, err := s.svc.GetRunEventsPage(c.Request.Context(), c.Query("session_id"), c.Query("cursor"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	events := make([]gin.H, 0, len(page.Events))
	for _, ev := range page.Events {
		events = append(events, gin.H{
			"event_id":    ev.ID,
			"ts":          ev.CreatedAt,
			"type":        ev.EventType,
			"task_id":     ev.TaskID,
			"query_group": ev.QueryGroup,
			"payload": gin.H{
				"query_text":    ev.QueryText,
				"url":           ev.URL,
				"title":         ev.Title,
				"snippet":       ev.Snippet,
				"quality_score": ev.QualityScore,
				"phase":         ev.Phase,
				"severity":      ev.Severity,
				"data":          ev.Payload,
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":  page.SessionID,
		"events":      events,
		"next_cursor": nullableString(page.NextCursor),
	})
}

func (s *Server) handleResult(c *gin.Context) {
	result, err := s.svc.GetRunResult(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	sections := make([]gin.H, 0, len(result.Summary.Sections))
	for _, sec := range result.Summary.Sections {
		sections = append(sections, gin.H{
			"title": sec.Title, "position": sec.Position,
			"word_count": sec.WordCount, "citation_count": sec.CitationCount,
		})
	}
	sources := make([]gin.H, 0, len(result.Sources))
	for _, src := range result.Sources {
		sources = append(sources, gin.H{
			"id": src.ID, "url": src.URL, "title": src.Title, "domain": src.Domain,
			"academic": src.Academic, "quality_score": src.QualityScore,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": result.RunID,
		"status": result.Status,
		"artifacts": gin.H{
			"markdown_path": result.Artifacts.MarkdownPath,
			"html_path":     result.Artifacts.HTMLPath,
			"pdf_path":      nullableString(result.Artifacts.PDFPath),
		},
		"summary": gin.H{
			"executive_summary": result.Summary.ExecutiveSummary,
			"conclusion":        result.Summary.Conclusion,
			"sections":          sections,
		},
		"sources": sources,
	})
}

func (s *Server) handlePresets(c *gin.Context) {
	presets := s.svc.ListPresets()
	out := make(gin.H, len(presets))
	for name, p := range presets {
		out[name] = gin.H{"description": p.Description, "overrides": p.Overrides}
	}
	c.JSON(http.StatusOK, out)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
