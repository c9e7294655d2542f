package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"actionrecorder/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"ping", Ping(), false},
		{"page context", GetPageContext(), false},
		{"toggle", ToggleRecording(true), false},
		{"toggle without flag", Message{Kind: KindToggleRecording}, true},
		{"action", ActionRecorded(models.Action{Type: models.ActionClick}), false},
		{"action without payload", Message{Kind: KindActionRecorded}, true},
		{"settings", UpdateSettings(models.Settings{CaptureHover: true}), false},
		{"settings without payload", Message{Kind: KindUpdateSettings}, true},
		{"assertion", ToggleAssertionMode(true), false},
		{"assertion without flag", Message{Kind: KindToggleAssertionMode}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUnknownKind(t *testing.T) {
	err := Message{Kind: "reload"}.Validate()
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestToggleRecordingWireShape(t *testing.T) {
	raw, err := json.Marshal(ToggleRecordingForTab(false, 7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"toggleRecording","is_recording":false,"tab_id":7}`, string(raw))
}

func TestChannelFunc(t *testing.T) {
	var got Message
	ch := ChannelFunc(func(_ context.Context, msg Message) (Response, error) {
		got = msg
		return Response{Status: StatusPong}, nil
	})
	resp, err := ch.Send(context.Background(), Ping())
	require.NoError(t, err)
	assert.Equal(t, KindPing, got.Kind)
	assert.True(t, resp.Acknowledged())
	assert.False(t, Response{Status: StatusError}.Acknowledged())
}

func TestFlag(t *testing.T) {
	on, off := true, false
	assert.True(t, Flag(&on))
	assert.False(t, Flag(&off))
	assert.False(t, Flag(nil))
}
