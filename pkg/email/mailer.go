package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/dmitrymomot/jobboard/pkg/environment"
)

// EmailSender represents an interface for sending emails.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams represents the parameters for sending an email.
type SendEmailParams struct {
	SendTo   string `json:"send_to"`       // Email address of the recipient
	Subject  string `json:"subject"`       // Subject of the email
	BodyHTML string `json:"body_html"`     // HTML body of the email
	Tag      string `json:"tag,omitempty"` // Optional, used for delivery analytics
}

// Validate checks that the message can be handed to a provider.
func (p SendEmailParams) Validate() error {
	if p.SendTo == "" {
		return fmt.Errorf("%w: SendTo is required", ErrInvalidParams)
	}
	if !validAddress(p.SendTo) {
		return fmt.Errorf("%w: SendTo must be a valid email address", ErrInvalidParams)
	}
	if p.Subject == "" {
		return fmt.Errorf("%w: Subject is required", ErrInvalidParams)
	}
	if p.BodyHTML == "" {
		return fmt.Errorf("%w: BodyHTML is required", ErrInvalidParams)
	}
	return nil
}

// NewSender picks the delivery backend for the environment.
// Production always requires Postmark; elsewhere missing tokens select the DevSender.
func NewSender(cfg Config, env environment.Environment, log *slog.Logger) (EmailSender, error) {
	if env.IsProduction() || cfg.PostmarkServerToken != "" {
		return NewPostmarkClient(cfg)
	}
	if log != nil {
		log.Warn("postmark tokens not configured, emails are written to disk",
			slog.String("dir", cfg.DevOutputDir))
	}
	return NewDevSender(cfg.DevOutputDir), nil
}

func validAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
