// Package billing is the deployable edge of subscription reconciliation.
//
// It mounts the provider webhook endpoints and the employer subscription API
// on a chi router, backs subscription.Store with PostgreSQL, loads the plan
// catalog from YAML and sends lifecycle emails through pkg/email. Metrics
// implements subscription.Observer and the queue dead-letter hook.
//
// Accepted webhook bodies can be copied to an S3 bucket (S3Archive) when
// BILLING_ARCHIVE_BUCKET is set. Archiving never affects the acknowledgement.
package billing

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.924 generate -f email_templates.templ
