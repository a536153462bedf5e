// Package email delivers transactional billing notices.
//
// EmailSender has two implementations: a Postmark client for production and
// DevSender, which writes each message to disk as HTML plus JSON metadata.
// NewSender chooses between them from Config and the runtime environment.
//
//	sender, err := email.NewSender(cfg.Email, cfg.Env, log)
//	if err != nil {
//		return err
//	}
//	html, err := templates.Render(ctx, component)
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   "owner@example.com",
//		Subject:  "Your subscription is active",
//		BodyHTML: html,
//		Tag:      "subscription_activated",
//	})
//
// Errors wrap ErrInvalidConfig, ErrInvalidParams or ErrFailedToSendEmail.
package email
