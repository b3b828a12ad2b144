package state

import (
	"errors"
	"time"
)

// Status is the externally visible lifecycle of a run
type Status string

const (
	StatusRunning          Status = "running"
	StatusAwaitingUser     Status = "awaiting_user"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
)

// Suspended reports whether the run is waiting on external input.
func (s Status) Suspended() bool {
	return s == StatusAwaitingUser || s == StatusAwaitingApproval
}

// Terminal reports whether the run can make no further progress.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CompressedNote is the output of one research unit
type CompressedNote struct {
	Text        string   `json:"text"`
	RawExcerpts []string `json:"raw_excerpts"`
}

// InterruptRequest is raised by the human gate before protected tools run
type InterruptRequest struct {
	ID               string     `json:"id"`
	Message          string     `json:"message"`
	PendingToolCalls []ToolCall `json:"pending_tool_calls"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ResumeAction is the human verdict on an interrupt
type ResumeAction string

const (
	ResumeAccept   ResumeAction = "accept"
	ResumeFeedback ResumeAction = "feedback"
)

// ResumeDecision is the payload accepted by Resume
type ResumeDecision struct {
	Action     ResumeAction `json:"action"`
	Feedback   string       `json:"feedback,omitempty"`
	ApprovalID string       `json:"approval_id,omitempty"`
	ApprovedBy string       `json:"approved_by,omitempty"`
}

var ErrInvalidDecision = errors.New("resume decision must be accept or feedback with non-empty feedback")

// Validate checks the decision shape independent of any pending interrupt.
func (d ResumeDecision) Validate() error {
	switch d.Action {
	case ResumeAccept:
		return nil
	case ResumeFeedback:
		if d.Feedback == "" {
			return ErrInvalidDecision
		}
		return nil
	default:
		return ErrInvalidDecision
	}
}

// RunState is the single record threaded through the pipeline. Only the
// engine mutates it, through Apply.
type RunState struct {
	RunID              string            `json:"run_id"`
	Node               NodeKind          `json:"node"`
	Status             Status            `json:"status"`
	Messages           Conversation      `json:"messages"`
	SupervisorMessages Conversation      `json:"supervisor_messages,omitempty"`
	ResearchBrief      string            `json:"research_brief,omitempty"`
	Notes              []string          `json:"notes,omitempty"`
	RawNotes           []string          `json:"raw_notes,omitempty"`
	FinalReport        string            `json:"final_report,omitempty"`
	ToolMessages       Conversation      `json:"tool_messages,omitempty"`
	ResearchIterations int               `json:"research_iterations"`
	ToolLoopIterations int               `json:"tool_loop_iterations"`
	PendingInterrupt   *InterruptRequest `json:"pending_interrupt,omitempty"`
	Error              string            `json:"error,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewRunState creates the initial state for a user request.
func NewRunState(runID, userText string, now time.Time) *RunState {
	return &RunState{
		RunID:     runID,
		Node:      NodeClarify,
		Status:    StatusRunning,
		Messages:  Conversation{UserMessage(userText)},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy used as a read view by stages.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = s.Messages.Clone()
	cp.SupervisorMessages = s.SupervisorMessages.Clone()
	cp.ToolMessages = s.ToolMessages.Clone()
	cp.Notes = append([]string(nil), s.Notes...)
	cp.RawNotes = append([]string(nil), s.RawNotes...)
	if s.PendingInterrupt != nil {
		pi := *s.PendingInterrupt
		pi.PendingToolCalls = append([]ToolCall(nil), s.PendingInterrupt.PendingToolCalls...)
		cp.PendingInterrupt = &pi
	}
	return &cp
}

// Update is the delta a stage returns. Zero fields leave state unchanged.
type Update struct {
	Next   NodeKind `json:"next"`
	Status Status   `json:"status,omitempty"`

	Messages           []Message `json:"messages,omitempty"`
	SupervisorMessages []Message `json:"supervisor_messages,omitempty"`
	ToolMessages       []Message `json:"tool_messages,omitempty"`
	Notes              []string  `json:"notes,omitempty"`
	RawNotes           []string  `json:"raw_notes,omitempty"`

	ResearchBrief      *string `json:"research_brief,omitempty"`
	FinalReport        *string `json:"final_report,omitempty"`
	ResearchIterations *int    `json:"research_iterations,omitempty"`
	ToolLoopIterations *int    `json:"tool_loop_iterations,omitempty"`

	Interrupt      *InterruptRequest `json:"interrupt,omitempty"`
	ClearInterrupt bool              `json:"clear_interrupt,omitempty"`
	Error          string            `json:"error,omitempty"`
}

var ErrBriefAlreadySet = errors.New("research brief is already set")

// Apply folds an update into the state.
func (s *RunState) Apply(u Update, now time.Time) error {
	if u.ResearchBrief != nil && s.ResearchBrief != "" && *u.ResearchBrief != s.ResearchBrief {
		return ErrBriefAlreadySet
	}

	s.Messages = append(s.Messages, u.Messages...)
	s.SupervisorMessages = append(s.SupervisorMessages, u.SupervisorMessages...)
	s.ToolMessages = append(s.ToolMessages, u.ToolMessages...)
	s.Notes = append(s.Notes, u.Notes...)
	s.RawNotes = append(s.RawNotes, u.RawNotes...)

	if u.ResearchBrief != nil {
		s.ResearchBrief = *u.ResearchBrief
	}
	if u.FinalReport != nil {
		s.FinalReport = *u.FinalReport
	}
	if u.ResearchIterations != nil {
		s.ResearchIterations = *u.ResearchIterations
	}
	if u.ToolLoopIterations != nil {
		s.ToolLoopIterations = *u.ToolLoopIterations
	}
	if u.ClearInterrupt {
		s.PendingInterrupt = nil
	}
	if u.Interrupt != nil {
		s.PendingInterrupt = u.Interrupt
	}
	if u.Error != "" {
		s.Error = u.Error
	}

	s.Node = u.Next
	if u.Status != "" {
		s.Status = u.Status
	}
	s.UpdatedAt = now
	return nil
}

func StringPtr(s string) *string { return &s }
func IntPtr(i int) *int          { return &i }
