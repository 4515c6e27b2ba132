package artifact

import "time"

// ProgressEvent is one entry in a session's progress list (spec.md §6).
type ProgressEvent struct {
	Stage     string    `json:"stage"`
	Agent     string    `json:"agent,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// Result is the terminal payload of a session once it reaches a final
// status.
type Result struct {
	Success     bool    `json:"success"`
	OutputPath  string  `json:"output_path,omitempty"`
	Iterations  int     `json:"iterations"`
	RenderTimeS float64 `json:"render_time_s"`
	Error       string  `json:"error,omitempty"`
}

// StateRecord is the on-disk shape of session_state.json, matching the
// schema in spec.md §6 exactly so a reload-then-reserialize round trip is
// byte-equal (testable property 8).
type StateRecord struct {
	ID                string          `json:"id"`
	Prompt            string          `json:"prompt"`
	Roles             []string        `json:"roles"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CurrentStage      string          `json:"current_stage,omitempty"`
	Progress          []ProgressEvent `json:"progress"`
	Result            *Result         `json:"result,omitempty"`
	RecoveredFromDisk bool            `json:"recovered_from_disk,omitempty"`
}
