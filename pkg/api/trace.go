package api

import (
	"slices"
	"time"
)

type (
	// StepStatus represents the state of a single step within a run
	StepStatus string

	// LogKind classifies a console line captured from a step
	LogKind string

	// StepState is the persisted status of a step. Data holds the JSON
	// snapshot of a successful output and Error holds the failure text
	StepState struct {
		Kind  StepStatus `json:"kind"`
		Data  string     `json:"data,omitempty"`
		Error string     `json:"error,omitempty"`
	}

	// LogEntry is a single captured console line
	LogEntry struct {
		Kind    LogKind `json:"kind"`
		Content string  `json:"content"`
	}

	// StoredValue records the store key a step wrote and the JSON snapshot
	// of the written value
	StoredValue struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	// StepTrace is the persisted record of one step of one run
	StepTrace struct {
		Kind   string       `json:"kind"`
		ID     StepID       `json:"id"`
		Name   string       `json:"name"`
		Logs   []LogEntry   `json:"logs"`
		Status StepState    `json:"status"`
		Store  *StoredValue `json:"store,omitempty"`
	}

	// TriggerMeta describes the request that fired a trigger
	TriggerMeta struct {
		Method     string            `json:"method,omitempty"`
		Path       string            `json:"path,omitempty"`
		Headers    map[string]string `json:"headers,omitempty"`
		RemoteAddr string            `json:"remote_addr,omitempty"`
		ReceivedAt time.Time         `json:"received_at"`
	}

	// TriggerTrace records which trigger started a run and its raw payload
	TriggerTrace struct {
		Kind string       `json:"kind"`
		Data string       `json:"data"`
		Meta *TriggerMeta `json:"meta,omitempty"`
	}

	// FlowRunTrace is the persisted record of a single flow run
	FlowRunTrace struct {
		ID          RunID        `json:"id"`
		Name        string       `json:"name"`
		TriggeredBy TriggerTrace `json:"triggeredBy"`
		Tasks       []*StepTrace `json:"tasks"`
		Status      StepStatus   `json:"status"`
		CreatedAt   time.Time    `json:"createdAt"`
		CompletedAt time.Time    `json:"completedAt,omitzero"`
	}
)

const (
	StepPending   StepStatus = "pending"
	StepOngoing   StepStatus = "ongoing"
	StepSuccess   StepStatus = "success"
	StepFailure   StepStatus = "failure"
	StepCancelled StepStatus = "cancelled"
)

const (
	LogLog   LogKind = "log"
	LogInfo  LogKind = "info"
	LogWarn  LogKind = "warn"
	LogDebug LogKind = "debug"
	LogError LogKind = "error"
)

// StepKindScript is the only kind of step trace currently recorded
const StepKindScript = "script"

// NewRunTrace creates a run trace with one pending step trace per step name,
// in the order given
func NewRunTrace(name string, steps []string, by TriggerTrace) *FlowRunTrace {
	tasks := make([]*StepTrace, 0, len(steps))
	for _, s := range steps {
		tasks = append(tasks, NewStepTrace(s))
	}
	return &FlowRunTrace{
		ID:          NewRunID(),
		Name:        name,
		TriggeredBy: by,
		Tasks:       tasks,
		Status:      DeriveRunStatus(tasks),
		CreatedAt:   time.Now(),
	}
}

// NewStepTrace creates a pending step trace with a fresh identifier
func NewStepTrace(name string) *StepTrace {
	return &StepTrace{
		Kind:   StepKindScript,
		ID:     NewStepID(),
		Name:   name,
		Logs:   []LogEntry{},
		Status: StepState{Kind: StepPending},
	}
}

// GetID returns the run identifier
func (t *FlowRunTrace) GetID() string {
	return string(t.ID)
}

// GetName returns the flow name
func (t *FlowRunTrace) GetName() string {
	return t.Name
}

// IsTerminal returns true once every step has reached a terminal state
func (t *FlowRunTrace) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// SetTask returns a new FlowRunTrace with the task at index i replaced and the
// run status re-derived
func (t *FlowRunTrace) SetTask(i int, task *StepTrace) *FlowRunTrace {
	res := *t
	res.Tasks = slices.Clone(t.Tasks)
	res.Tasks[i] = task
	res.Status = DeriveRunStatus(res.Tasks)
	return &res
}

// SetCompletedAt returns a new FlowRunTrace with the completion time set
func (t *FlowRunTrace) SetCompletedAt(tm time.Time) *FlowRunTrace {
	res := *t
	res.CompletedAt = tm
	return &res
}

// GetID returns the step trace identifier
func (t *StepTrace) GetID() string {
	return string(t.ID)
}

// GetName returns the step name
func (t *StepTrace) GetName() string {
	return t.Name
}

// SetStatus returns a new StepTrace with the status replaced
func (t *StepTrace) SetStatus(s StepState) *StepTrace {
	res := *t
	res.Status = s
	return &res
}

// AddLog returns a new StepTrace with the entry appended to its logs
func (t *StepTrace) AddLog(e LogEntry) *StepTrace {
	res := *t
	res.Logs = append(slices.Clone(t.Logs), e)
	return &res
}

// SetStore returns a new StepTrace recording the store write
func (t *StepTrace) SetStore(key, value string) *StepTrace {
	res := *t
	res.Store = &StoredValue{Key: key, Value: value}
	return &res
}

// IsTerminal returns true for statuses that cannot change any further
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSuccess, StepFailure, StepCancelled:
		return true
	default:
		return false
	}
}

// DeriveRunStatus computes the status of a run from the status of its steps.
// Any failure makes the run a failure, a run with started but unfinished
// work is ongoing, a cancelled run without failures is cancelled, and a run
// is only successful when every step succeeded
func DeriveRunStatus(tasks []*StepTrace) StepStatus {
	var pending, ongoing, cancelled, failed, done bool
	for _, t := range tasks {
		switch t.Status.Kind {
		case StepPending:
			pending = true
		case StepOngoing:
			ongoing = true
		case StepCancelled:
			cancelled = true
			done = true
		case StepFailure:
			failed = true
			done = true
		default:
			done = true
		}
	}

	switch {
	case failed:
		return StepFailure
	case ongoing || (pending && done):
		return StepOngoing
	case pending:
		return StepPending
	case cancelled:
		return StepCancelled
	default:
		return StepSuccess
	}
}
