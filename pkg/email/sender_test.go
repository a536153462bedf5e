package email_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/email"
	"github.com/dmitrymomot/jobboard/pkg/environment"
)

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	valid := email.SendEmailParams{SendTo: "owner@example.com", Subject: "Receipt", BodyHTML: "<p>paid</p>"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*email.SendEmailParams)
		errMsg string
	}{
		{"missing recipient", func(p *email.SendEmailParams) { p.SendTo = "" }, "SendTo is required"},
		{"display name recipient", func(p *email.SendEmailParams) { p.SendTo = "Owner <owner@example.com>" }, "SendTo must be a valid email address"},
		{"missing subject", func(p *email.SendEmailParams) { p.Subject = "" }, "Subject is required"},
		{"missing body", func(p *email.SendEmailParams) { p.BodyHTML = "" }, "BodyHTML is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			assert.ErrorIs(t, err, email.ErrInvalidParams)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDevSender(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "out")
	sender := email.NewDevSender(dir)

	params := email.SendEmailParams{
		SendTo:   "owner@example.com",
		Subject:  "Payment failed",
		BodyHTML: "<p>We could not charge your card.</p>",
		Tag:      "payment_failed",
	}
	require.NoError(t, sender.SendEmail(context.Background(), params))
	require.NoError(t, sender.SendEmail(context.Background(), params))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 4, "two messages sent in the same second must not overwrite each other")

	for _, e := range entries {
		assert.Contains(t, e.Name(), "payment_failed")
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		var meta map[string]string
		require.NoError(t, json.Unmarshal(raw, &meta))
		assert.Equal(t, "owner@example.com", meta["send_to"])
		assert.Equal(t, "Payment failed", meta["subject"])
	}

	err = sender.SendEmail(context.Background(), email.SendEmailParams{SendTo: "owner@example.com"})
	assert.ErrorIs(t, err, email.ErrInvalidParams)
}

func TestNewSender(t *testing.T) {
	t.Parallel()

	t.Run("development without tokens writes to disk", func(t *testing.T) {
		t.Parallel()
		s, err := email.NewSender(email.Config{
			SenderEmail:  "billing@example.com",
			SupportEmail: "support@example.com",
			DevOutputDir: t.TempDir(),
		}, environment.Development, nil)
		require.NoError(t, err)
		assert.IsType(t, &email.DevSender{}, s)
	})

	t.Run("production requires postmark", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewSender(email.Config{
			SenderEmail:  "billing@example.com",
			SupportEmail: "support@example.com",
		}, environment.Production, nil)
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})

	t.Run("tokens select postmark anywhere", func(t *testing.T) {
		t.Parallel()
		s, err := email.NewSender(email.Config{
			PostmarkServerToken:  "server",
			PostmarkAccountToken: "account",
			SenderEmail:          "billing@example.com",
			SupportEmail:         "support@example.com",
		}, environment.Staging, nil)
		require.NoError(t, err)
		assert.NotNil(t, s)
		_, isDev := s.(*email.DevSender)
		assert.False(t, isDev)
	})
}
