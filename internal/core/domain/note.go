package domain

import "time"

type NoteStatus string

const (
	StatusUploading          NoteStatus = "uploading"
	StatusOCRProcessing      NoteStatus = "ocr_processing"
	StatusAIOrganizing       NoteStatus = "ai_organizing"
	StatusConfirmationNeeded NoteStatus = "confirmation_needed"
	StatusCompleted          NoteStatus = "completed"
	StatusFailed             NoteStatus = "failed"
)

func (s NoteStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusOCRProcessing, StatusAIOrganizing,
		StatusConfirmationNeeded, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

type OrganizeMethod string

const (
	MethodAuto         OrganizeMethod = "auto"
	MethodBasicSummary OrganizeMethod = "basic_summary"
	MethodCornell      OrganizeMethod = "cornell"
	MethodErrorNote    OrganizeMethod = "error_note"
	MethodVocab        OrganizeMethod = "vocab"
)

func ParseOrganizeMethod(raw string) (OrganizeMethod, bool) {
	switch m := OrganizeMethod(raw); m {
	case MethodAuto, MethodBasicSummary, MethodCornell, MethodErrorNote, MethodVocab:
		return m, true
	case "":
		return MethodAuto, true
	default:
		return "", false
	}
}

type UserPlan string

const (
	PlanFree  UserPlan = "free"
	PlanBasic UserPlan = "basic"
	PlanPro   UserPlan = "pro"
)

func ParseUserPlan(raw string) UserPlan {
	switch p := UserPlan(raw); p {
	case PlanBasic, PlanPro:
		return p
	default:
		return PlanFree
	}
}

// Note is the persisted processing job for one set of uploaded images.
type Note struct {
	ID               string                    `json:"id"`
	UserID           string                    `json:"user_id,omitempty"`
	UserPlan         UserPlan                  `json:"user_plan"`
	Title            string                    `json:"title"`
	ImagePaths       []string                  `json:"image_paths"`
	Status           NoteStatus                `json:"status"`
	OrganizeMethod   OrganizeMethod            `json:"organize_method"`
	OCRText          string                    `json:"ocr_text,omitempty"`
	OCRBlocks        []Block                   `json:"ocr_blocks,omitempty"`
	DetectedSubject  Subject                   `json:"detected_subject,omitempty"`
	DetectedNoteType NoteType                  `json:"detected_note_type,omitempty"`
	DetectedUnit     string                    `json:"detected_unit,omitempty"`
	OrganizedContent string                    `json:"organized_content,omitempty"`
	ErrorMessage     string                    `json:"error_message,omitempty"`
	ProgressMessage  string                    `json:"progress_message,omitempty"`
	Checkpoint       *ClassificationCheckpoint `json:"checkpoint,omitempty"`
	Version          int64                     `json:"version"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// ProcessResult mirrors note state for polling-style status queries.
type ProcessResult struct {
	NoteID           string     `json:"note_id"`
	Status           NoteStatus `json:"status"`
	Message          string     `json:"message"`
	OrganizedContent string     `json:"organized_content,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

var statusMessages = map[NoteStatus]string{
	StatusUploading:          "upload complete",
	StatusOCRProcessing:      "extracting text from images",
	StatusAIOrganizing:       "organizing note",
	StatusConfirmationNeeded: "note type confirmation required",
	StatusCompleted:          "processing complete",
	StatusFailed:             "processing failed",
}

func StatusMessage(status NoteStatus) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return "unknown status"
}

func NewProcessResult(note *Note) *ProcessResult {
	res := &ProcessResult{
		NoteID:  note.ID,
		Status:  note.Status,
		Message: StatusMessage(note.Status),
	}
	switch note.Status {
	case StatusCompleted:
		res.OrganizedContent = note.OrganizedContent
	case StatusFailed:
		res.ErrorMessage = note.ErrorMessage
		res.Message = StatusMessage(note.Status) + ": " + note.ErrorMessage
	case StatusOCRProcessing, StatusAIOrganizing:
		if note.ProgressMessage != "" {
			res.Message = note.ProgressMessage
		}
	}
	return res
}

type CommandAction string

const (
	ActionProcess   CommandAction = "process"
	ActionReprocess CommandAction = "reprocess"
)

// NoteCommand is the message the API publishes for the worker.
type NoteCommand struct {
	NoteID     string        `json:"note_id"`
	Action     CommandAction `json:"action"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}
