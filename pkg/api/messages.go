package api

import "encoding/json"

type (
	// ErrorResponse is returned by the API for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}

	// ValidationIssue describes one problem found in a trigger payload
	ValidationIssue struct {
		Path    string `json:"path"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	// ValidationErrorResponse is returned when a trigger payload fails its
	// schema
	ValidationErrorResponse struct {
		Error  string            `json:"error"`
		Issues []ValidationIssue `json:"issues"`
	}

	// MessageResponse acknowledges a request that returns no resource
	MessageResponse struct {
		Message string `json:"message"`
	}

	// RunStartedResponse is returned when a trigger accepts a payload
	RunStartedResponse struct {
		RunID RunID `json:"run_id"`
	}

	// RunsListResponse contains run traces
	RunsListResponse struct {
		Runs  []*FlowRunTrace `json:"runs"`
		Count int             `json:"count"`
	}

	// StepsListResponse contains the step traces of a run
	StepsListResponse struct {
		Steps []*StepTrace `json:"steps"`
		Count int          `json:"count"`
	}

	// TriggerInfo describes a registered trigger
	TriggerInfo struct {
		Type   string `json:"type"`
		Method string `json:"method,omitempty"`
		Path   string `json:"path,omitempty"`
	}

	// FlowInfo describes a registered flow
	FlowInfo struct {
		Name     string         `json:"name"`
		Steps    []string       `json:"steps"`
		Triggers []*TriggerInfo `json:"triggers"`
	}

	// FlowsListResponse contains the registered flows
	FlowsListResponse struct {
		Flows []*FlowInfo `json:"flows"`
		Count int         `json:"count"`
	}

	// HealthResponse reports service health
	HealthResponse struct {
		Service string `json:"service"`
		Status  string `json:"status"`
		Error   string `json:"error,omitempty"`
	}
)

type (
	// EventType identifies a notification pushed to dashboard clients
	EventType string

	// RunEvent announces a change to a run
	RunEvent struct {
		Type  EventType `json:"type"`
		RunID RunID     `json:"run_id"`
	}

	// WebSocketEvent is an event sent to WebSocket clients
	WebSocketEvent struct {
		Type  EventType       `json:"type"`
		RunID RunID           `json:"run_id"`
		Data  json.RawMessage `json:"data"`
	}

	// SubscribeRequest is sent by clients to follow specific runs
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription lists the runs a WebSocket client follows
	ClientSubscription struct {
		RunIDs []RunID `json:"run_ids"`
	}
)

const (
	EventTypeRunCreated EventType = "run_created"
	EventTypeRunState   EventType = "run_state"
)

const (
	HealthOK        = "ok"
	HealthUnhealthy = "unhealthy"
)
