// Package messaging defines the request/response contract between a page
// observer and the session coordinator.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"actionrecorder/backend/internal/models"
)

type Kind string

const (
	KindPing                Kind = "ping"
	KindToggleRecording     Kind = "toggleRecording"
	KindGetPageContext      Kind = "getPageContext"
	KindActionRecorded      Kind = "actionRecorded"
	KindUpdateSettings      Kind = "updateSettings"
	KindToggleAssertionMode Kind = "toggleAssertionMode"
)

const (
	StatusPong     = "pong"
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusReceived = "received"
)

var (
	// ErrContextInvalidated means the other end has been torn down for good.
	// An observer that sees it must stop and never come back.
	ErrContextInvalidated = errors.New("extension context invalidated")
	// ErrChannelTimeout means a round trip did not finish in time. The peer is
	// treated as absent.
	ErrChannelTimeout = errors.New("message channel timeout")
	ErrUnknownKind    = errors.New("unknown message kind")
)

type Message struct {
	Kind        Kind             `json:"action"`
	IsRecording *bool            `json:"is_recording,omitempty"`
	TabID       *int             `json:"tab_id,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	Action      *models.Action   `json:"action_data,omitempty"`
	Settings    *models.Settings `json:"settings,omitempty"`
}

type Response struct {
	Status      string              `json:"status,omitempty"`
	Message     string              `json:"message,omitempty"`
	PageContext *models.PageContext `json:"page_context,omitempty"`
}

// Channel is one direction of the observer/coordinator link.
type Channel interface {
	Send(ctx context.Context, msg Message) (Response, error)
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) (Response, error)

func (f ChannelFunc) Send(ctx context.Context, msg Message) (Response, error) {
	return f(ctx, msg)
}

func Ping() Message {
	return Message{Kind: KindPing}
}

func ToggleRecording(on bool) Message {
	return Message{Kind: KindToggleRecording, IsRecording: &on}
}

func ToggleRecordingForTab(on bool, tabID int) Message {
	m := ToggleRecording(on)
	m.TabID = &tabID
	return m
}

func GetPageContext() Message {
	return Message{Kind: KindGetPageContext}
}

func ActionRecorded(a models.Action) Message {
	return Message{Kind: KindActionRecorded, Action: &a}
}

func UpdateSettings(s models.Settings) Message {
	return Message{Kind: KindUpdateSettings, Settings: &s}
}

func ToggleAssertionMode(on bool) Message {
	return Message{Kind: KindToggleAssertionMode, Enabled: &on}
}

// Validate checks that a message carries the payload its kind requires.
func (m Message) Validate() error {
	switch m.Kind {
	case KindPing, KindGetPageContext:
		return nil
	case KindToggleRecording:
		if m.IsRecording == nil {
			return fmt.Errorf("%s: missing is_recording", m.Kind)
		}
	case KindActionRecorded:
		if m.Action == nil {
			return fmt.Errorf("%s: missing action", m.Kind)
		}
	case KindUpdateSettings:
		if m.Settings == nil {
			return fmt.Errorf("%s: missing settings", m.Kind)
		}
	case KindToggleAssertionMode:
		if m.Enabled == nil {
			return fmt.Errorf("%s: missing enabled", m.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// Flag dereferences an optional boolean payload.
func Flag(b *bool) bool {
	return b != nil && *b
}

// Acknowledged reports whether a response confirms the command was applied.
func (r Response) Acknowledged() bool {
	return r.Status == StatusSuccess || r.Status == StatusPong || r.Status == StatusReceived
}
