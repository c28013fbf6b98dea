// Package models defines the entities of the orchestration core's data
// model: sessions, sections, tasks, sources, the task-source citation edge,
// glossary terms and run events.
package models

import "time"

// SessionStatus is the terminal or in-flight state of a research session.
type SessionStatus string

const (
	SessionRunning               SessionStatus = "running"
	SessionCompleted             SessionStatus = "completed"
	SessionCompletedWithErrors   SessionStatus = "completed_with_errors"
	SessionPartial               SessionStatus = "partial"
	SessionPartialWithErrors     SessionStatus = "partial_with_errors"
	SessionCancelled             SessionStatus = "cancelled"
	SessionFailed                SessionStatus = "failed"
)

// Phase is the observable value of a session's 7-phase state machine position.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePrePlanning   Phase = "pre_planning"
	PhaseOutlineDesign Phase = "outline_design"
	PhaseTaskPlanning  Phase = "task_planning"
	PhaseResearching   Phase = "researching"
	PhaseGapAnalysis   Phase = "gap_analysis"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseCompiling     Phase = "compiling"
	PhaseComplete      Phase = "complete"
)

// Session is the unit of work for one query.
type Session struct {
	ID               string
	Query            string
	RefinedBrief     string
	RefinementQA     string
	Status           SessionStatus
	Phase            Phase
	StartedAt        time.Time
	EndedAt          *time.Time
	CancelRequestedAt *time.Time

	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	TotalWords     int
	TotalSources   int

	ExecutiveSummary string
	Conclusion       string
	MarkdownPath     string
	HTMLPath         string
	PDFPath          string
}

// SectionStatus is the lifecycle state of a report section.
type SectionStatus string

const (
	SectionPlanned      SectionStatus = "planned"
	SectionResearching  SectionStatus = "researching"
	SectionSynthesizing SectionStatus = "synthesizing"
	SectionComplete     SectionStatus = "complete"
)

// Section is a chapter of the report.
type Section struct {
	ID            int64
	SessionID     string
	Title         string
	Description   string
	Position      int
	Status        SectionStatus
	Content       string
	WordCount     int
	CitationCount int
	GapFill       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TaskStatus is the lifecycle state of a research task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// Task is a single research investigation, owned by a section.
type Task struct {
	ID            int64
	SessionID     string
	SectionID     *int64
	ParentTaskID  *int64
	Topic         string
	Description   string
	FilePath      string
	Status        TaskStatus
	Priority      int
	Depth         int
	WordCount     int
	CitationCount int
	GapFill       bool
	RetryCount    int
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Source is a web document discovered during research.
type Source struct {
	ID           int64
	URL          string
	Title        string
	Domain       string
	Snippet      string
	Content      string
	QualityScore float64
	Academic     bool
	AccessedAt   time.Time
}

// TaskSource is the many-to-many relation between tasks and sources,
// carrying the presentation position used as the task-local citation
// number, plus the per-(task,source) extraction cache.
type TaskSource struct {
	TaskID           int64
	SourceID         int64
	Position         int
	ExtractedContent string
}

// GlossaryTerm is a session-scoped definition, optionally attributed to the
// task whose research surfaced it.
type GlossaryTerm struct {
	ID            int64
	SessionID     string
	Term          string
	Definition    string
	OriginTaskID  *int64
}

// EventType enumerates the kinds of append-only run events.
type EventType string

const (
	EventQuery                EventType = "query"
	EventResult                EventType = "result"
	EventPhaseChanged          EventType = "phase_changed"
	EventAgentAction           EventType = "agent_action"
	EventCancellationRequested EventType = "cancellation_requested"
)

// Severity is the log-level-like classification of a run event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// RunEvent is an append-only observability record.
type RunEvent struct {
	ID           int64
	SessionID    string
	TaskID       *int64
	EventType    EventType
	QueryGroup   string
	QueryText    string
	URL          string
	Title        string
	Snippet      string
	QualityScore *float64
	Phase        string
	Severity     Severity
	Payload      string // opaque JSON object
	CreatedAt    time.Time
}

// Cursor is a keyset-pagination position over (created_at, id).
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}
