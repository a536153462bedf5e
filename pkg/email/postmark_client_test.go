package email_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/email"
)

func postmarkConfig() email.Config {
	return email.Config{
		PostmarkServerToken:  "server-token",
		PostmarkAccountToken: "account-token",
		SenderEmail:          "billing@jobboard.test",
		SupportEmail:         "support@jobboard.test",
	}
}

func TestNewPostmarkClient(t *testing.T) {
	t.Parallel()

	client, err := email.NewPostmarkClient(postmarkConfig())
	require.NoError(t, err)
	assert.NotNil(t, client)

	tests := []struct {
		name   string
		mutate func(*email.Config)
		errMsg string
	}{
		{"server token", func(c *email.Config) { c.PostmarkServerToken = "" }, "PostmarkServerToken is required"},
		{"account token", func(c *email.Config) { c.PostmarkAccountToken = "" }, "PostmarkAccountToken is required"},
		{"sender missing", func(c *email.Config) { c.SenderEmail = "" }, "SenderEmail is required"},
		{"sender malformed", func(c *email.Config) { c.SenderEmail = "billing" }, "SenderEmail must be a valid email address"},
		{"support missing", func(c *email.Config) { c.SupportEmail = "" }, "SupportEmail is required"},
		{"support malformed", func(c *email.Config) { c.SupportEmail = "@jobboard.test" }, "SupportEmail must be a valid email address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := postmarkConfig()
			tt.mutate(&cfg)

			client, err := email.NewPostmarkClient(cfg)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("must variant panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { email.MustNewPostmarkClient(email.Config{}) })
	})
}

func TestPostmarkClient_SendEmailValidatesBeforeCalling(t *testing.T) {
	t.Parallel()

	client, err := email.NewPostmarkClient(postmarkConfig())
	require.NoError(t, err)

	err = client.SendEmail(context.Background(), email.SendEmailParams{
		SendTo:   "owner@acme.test",
		Subject:  "Payment failed",
		BodyHTML: "",
	})
	assert.ErrorIs(t, err, email.ErrInvalidParams)
	assert.NotErrorIs(t, err, email.ErrFailedToSendEmail)
}
