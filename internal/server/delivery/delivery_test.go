package delivery

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLink(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"plain", "https://app.example/verify", "https://app.example/verify?token=s3cr-t_", false},
		{"keeps query", "https://app.example/verify?lang=pt", "https://app.example/verify?lang=pt&token=s3cr-t_", false},
		{"replaces token", "https://app.example/verify?token=old", "https://app.example/verify?token=s3cr-t_", false},
		{"relative", "/verify", "", true},
		{"garbage", "://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildLink(tt.base, "s3cr-t_")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	body, err := Render(Message{
		To:        "jane@example.com",
		FullName:  "Jane Doe",
		Link:      "https://app.example/verify?token=abc",
		ExpiresAt: now.Add(15 * time.Minute),
	}, now)
	require.NoError(t, err)

	assert.Contains(t, body, "Hello Jane Doe,")
	assert.Contains(t, body, "https://app.example/verify?token=abc")
	assert.Contains(t, body, "expires in 15m0s (2026-10-17T09:15:00Z)")
}

func TestLogSender(t *testing.T) {
	var outbox, logs bytes.Buffer
	s := NewLogSender(logging.NewJSONLogger(&logs, "info"), &outbox)

	msg := Message{To: "jane@example.com", Link: "https://app.example/verify?token=abc", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.Send(context.Background(), msg))

	assert.Contains(t, outbox.String(), "To: jane@example.com")
	assert.Contains(t, outbox.String(), msg.Link)
	assert.Contains(t, logs.String(), "magic link delivered")
	assert.NotContains(t, logs.String(), "token=abc")
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(KindLog, logging.Nop(), &bytes.Buffer{}, SMTPConfig{})
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	s, err = NewSender(KindDiscard, logging.Nop(), nil, SMTPConfig{})
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), Message{}))

	s, err = NewSender(KindSMTP, logging.Nop(), nil, SMTPConfig{Addr: "mail.example.com:587", From: "login@example.com"})
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	_, err = NewSender(KindSMTP, logging.Nop(), nil, SMTPConfig{Addr: "mail.example.com", From: "login@example.com"})
	require.Error(t, err)

	_, err = NewSender("pigeon", logging.Nop(), nil, SMTPConfig{})
	require.ErrorIs(t, err, ErrUnknownKind)
}
