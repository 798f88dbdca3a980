package queue

import (
	"strings"
	"time"
)

// FileState represents the lifecycle of a media file moving through the pipeline.
type FileState string

const (
	FileDiscovered FileState = "discovered"
	FileCopying    FileState = "copying"
	FileCopied     FileState = "copied"
	FileProcessing FileState = "processing"
	FileProcessed  FileState = "processed"
	FileOrganizing FileState = "organizing"
	FileCompleted  FileState = "completed"
	FileFailed     FileState = "failed"
	FileSkipped    FileState = "skipped"
)

var allFileStates = []FileState{
	FileDiscovered,
	FileCopying,
	FileCopied,
	FileProcessing,
	FileProcessed,
	FileOrganizing,
	FileCompleted,
	FileFailed,
	FileSkipped,
}

var fileStateSet = func() map[FileState]struct{} {
	set := make(map[FileState]struct{}, len(allFileStates))
	for _, state := range allFileStates {
		set[state] = struct{}{}
	}
	return set
}()

var inProgressStates = map[FileState]struct{}{
	FileCopying:    {},
	FileProcessing: {},
	FileOrganizing: {},
}

// checkpointTransitions maps each in-progress state back to the last state
// whose work is fully durable.
var checkpointTransitions = map[FileState]FileState{
	FileCopying:    FileDiscovered,
	FileProcessing: FileCopied,
	FileOrganizing: FileProcessed,
}

// AllFileStates returns the ordered list of known file states.
func AllFileStates() []FileState {
	cp := make([]FileState, len(allFileStates))
	copy(cp, allFileStates)
	return cp
}

// ParseFileState converts a string into a known FileState.
func ParseFileState(value string) (FileState, bool) {
	normalized := FileState(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := fileStateSet[normalized]
	return normalized, ok
}

// IsInProgress reports whether a state reflects an in-flight stage.
func (s FileState) IsInProgress() bool {
	_, ok := inProgressStates[s]
	return ok
}

// IsTerminal reports whether a state ends the pipeline for a file.
func (s FileState) IsTerminal() bool {
	return s == FileCompleted || s == FileFailed || s == FileSkipped
}

// ResumableCheckpoint maps a file state to the last state whose work is fully
// durable. In-progress states roll back to the state before the stage started;
// everything else passes through unchanged. FAILED files need job history to
// resolve and are handled by Store.CheckpointForFile.
func ResumableCheckpoint(state FileState) FileState {
	if prior, ok := checkpointTransitions[state]; ok {
		return prior
	}
	return state
}

// JobKind identifies one pipeline stage.
type JobKind string

const (
	JobCopy       JobKind = "copy"
	JobProcess    JobKind = "process"
	JobOrganize   JobKind = "organize"
	JobTranscribe JobKind = "transcribe"
	JobAnalyze    JobKind = "analyze"
)

var allJobKinds = []JobKind{JobCopy, JobProcess, JobOrganize, JobTranscribe, JobAnalyze}

// AllJobKinds returns the ordered list of pipeline stages.
func AllJobKinds() []JobKind {
	cp := make([]JobKind, len(allJobKinds))
	copy(cp, allJobKinds)
	return cp
}

// ParseJobKind converts a string into a known JobKind.
func ParseJobKind(value string) (JobKind, bool) {
	normalized := JobKind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allJobKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

var kindChain = map[JobKind]JobKind{
	JobCopy:       JobProcess,
	JobProcess:    JobOrganize,
	JobOrganize:   JobTranscribe,
	JobTranscribe: JobAnalyze,
}

// Next returns the stage chained after this one. Whether optional stages are
// actually enqueued is the worker pool's decision.
func (k JobKind) Next() (JobKind, bool) {
	next, ok := kindChain[k]
	return next, ok
}

// IsPostCompletion reports whether the kind runs after the file has reached
// its durable completed state. These stages never move the file state and
// retry as themselves instead of resuming a pipeline checkpoint.
func (k JobKind) IsPostCompletion() bool {
	return k == JobTranscribe || k == JobAnalyze
}

// StartState returns the file state a kind's work begins from.
func (k JobKind) StartState() FileState {
	switch k {
	case JobCopy:
		return FileDiscovered
	case JobProcess:
		return FileCopied
	case JobOrganize:
		return FileProcessed
	default:
		return FileCompleted
	}
}

// InProgressState returns the file state recorded while a kind executes.
// Transcription and analysis act on completed files and leave the file state
// untouched.
func (k JobKind) InProgressState() FileState {
	switch k {
	case JobCopy:
		return FileCopying
	case JobProcess:
		return FileProcessing
	case JobOrganize:
		return FileOrganizing
	default:
		return FileCompleted
	}
}

// DoneState returns the file state recorded when a kind succeeds.
func (k JobKind) DoneState() FileState {
	switch k {
	case JobCopy:
		return FileCopied
	case JobProcess:
		return FileProcessed
	default:
		return FileCompleted
	}
}

// JobState represents the lifecycle of one stage attempt.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// IsTerminal reports whether a job state is final. Terminal jobs are never
// mutated again; recovery creates new jobs instead.
func (s JobState) IsTerminal() bool {
	return s == JobDone || s == JobFailed
}

// FailureCategory is the closed classification set for stage failures.
type FailureCategory string

const (
	FailureFTPConnection      FailureCategory = "ftp_connection"
	FailureFTPFileMissing     FailureCategory = "ftp_file_missing"
	FailureFTPTransfer        FailureCategory = "ftp_transfer"
	FailureFTPTimeout         FailureCategory = "ftp_timeout"
	FailureFTPAuth            FailureCategory = "ftp_auth"
	FailureProcessingError    FailureCategory = "processing_error"
	FailureProcessingResource FailureCategory = "processing_resource"
	FailureProcessingCorrupt  FailureCategory = "processing_corrupt"
	FailureStoragePath        FailureCategory = "storage_path"
	FailureStoragePermission  FailureCategory = "storage_permission"
	FailureStorageSpace       FailureCategory = "storage_space"
	FailureUnknown            FailureCategory = "unknown"
)

// Priority tiers. All job selection orders by priority DESC, created_at ASC,
// so recovery work (negative tier) can never starve fresh arrivals.
const (
	PriorityManual             = 1000
	PriorityImmediateAnalysis  = 900
	PriorityManualRetry        = 500
	PriorityBackgroundAnalysis = 200
	PriorityProgram            = 100
	PriorityNormal             = 0
	PriorityRecovery           = -5
	PriorityEmpty              = -10
)

// CancelledByUserMessage is the error message stamped on jobs failed by a user
// cancellation request.
const CancelledByUserMessage = "cancelled by user"

// Session groups related files from one recording event.
type Session struct {
	ID         int64
	Name       string
	RecordedAt time.Time
	CreatedAt  time.Time
}

// File represents one physical media asset persisted in SQLite.
type File struct {
	ID              int64
	SessionID       int64
	ParentFileID    *int64
	Filename        string
	RemotePath      string
	LocalPath       string
	ProcessedPath   string
	FinalPath       string
	SizeBytes       int64
	DurationSeconds float64
	Checksum        string
	IsEmpty         bool
	IsISO           bool
	IsProgramOutput bool
	IsMissing       bool
	State           FileState
	ErrorMessage    string

	FailureCategory  FailureCategory
	FailureJobKind   JobKind
	FailedAt         *time.Time
	RetryAfter       *time.Time
	RecoveryAttempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetFailed marks the file failed with classification detail.
func (f *File) SetFailed(category FailureCategory, kind JobKind, message string, retryAfter *time.Time) {
	now := time.Now().UTC()
	f.State = FileFailed
	f.ErrorMessage = message
	f.FailureCategory = category
	f.FailureJobKind = kind
	f.FailedAt = &now
	f.RetryAfter = retryAfter
}

// ClearFailureTracking resets failure bookkeeping after a fully successful
// pipeline completion. Recovery attempts accumulate across stages until then.
func (f *File) ClearFailureTracking() {
	f.ErrorMessage = ""
	f.FailureCategory = ""
	f.FailureJobKind = ""
	f.FailedAt = nil
	f.RetryAfter = nil
	f.RecoveryAttempts = 0
}

// Job represents one attempt to execute one pipeline stage for one file.
type Job struct {
	ID                    int64
	FileID                int64
	Kind                  JobKind
	State                 JobState
	Priority              int
	Retries               int
	MaxRetries            int
	ProgressPercent       float64
	ProgressStage         string
	IsCancellable         bool
	CancellationRequested bool
	CheckpointState       FileState
	LastHeartbeat         *time.Time
	WorkerID              string
	ErrorMessage          string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	StartedAt             *time.Time
	FinishedAt            *time.Time
}

// Event is one append-only log record making internal transitions externally
// observable. Events are polled by the notification fanout and never mutated.
type Event struct {
	ID        int64
	FileID    int64
	EventType string
	Payload   string
	CreatedAt time.Time
}

// Well-known event types appended by the core.
const (
	EventFileDiscovered = "file_discovered"
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventFileFailed     = "file_failed"
	EventFileCompleted  = "file_completed"
	EventFileSkipped    = "file_skipped"
	EventJobCancelled   = "job_cancelled"
	EventJobRequeued    = "job_requeued"
	EventZombieReclaim  = "zombie_reclaimed"
	EventRecoveryQueued = "recovery_queued"
	EventRecoveryStatus = "recovery_status"
)

// HealthSummary describes aggregated file counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Discovered int
	InProgress int
	Failed     int
	Completed  int
	Skipped    int
}
