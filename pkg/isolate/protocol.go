package isolate

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// MessageKind identifies a message sent by a unit
	MessageKind string

	// Message is a structured frame sent from a unit to the orchestrator
	Message struct {
		Kind        MessageKind     `json:"kind"`
		LogType     api.LogKind     `json:"logType,omitempty"`
		Message     string          `json:"message,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
		Error       *ErrorInfo      `json:"error,omitempty"`
		Reason      string          `json:"reason,omitempty"`
		CompletedAt int64           `json:"completedAt,omitempty"`
	}

	// ErrorInfo is the serialized form of a handler failure
	ErrorInfo struct {
		Message string `json:"message"`
		Stack   string `json:"stack,omitempty"`
	}
)

const (
	KindReady     MessageKind = "ready"
	KindConsole   MessageKind = "console"
	KindSuccess   MessageKind = "success"
	KindFailure   MessageKind = "failure"
	KindCancelled MessageKind = "cancelled"
)

var (
	pingFrame = []byte(`"ping"`)
	pongFrame = []byte(`"pong"`)
)

func isFrame(frame, expected []byte) bool {
	return bytes.Equal(bytes.TrimSpace(frame), expected)
}

func consoleFrame(kind api.LogKind, msg string) []byte {
	return mustEncode(&Message{
		Kind:    KindConsole,
		LogType: kind,
		Message: msg,
	})
}

func successFrame(result []byte) []byte {
	return mustEncode(&Message{
		Kind:        KindSuccess,
		Result:      result,
		CompletedAt: time.Now().UnixMilli(),
	})
}

func failureFrame(info *ErrorInfo) []byte {
	return mustEncode(&Message{
		Kind:        KindFailure,
		Error:       info,
		CompletedAt: time.Now().UnixMilli(),
	})
}

func cancelledFrame(reason string) []byte {
	return mustEncode(&Message{
		Kind:        KindCancelled,
		Reason:      reason,
		CompletedAt: time.Now().UnixMilli(),
	})
}

func mustEncode(m *Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Message only holds strings and pre-encoded JSON
		panic(err)
	}
	return data
}
