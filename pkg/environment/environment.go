package environment

import "strings"

// Environment represents application environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Staging     Environment = "staging"
)

// Parse normalizes an APP_ENV style value. Short aliases ("prod", "stage", "dev") are
// accepted; anything unrecognised is treated as development.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	default:
		return Development
	}
}

// IsProduction reports whether e is production.
// Security-sensitive checks (such as refusing unsigned webhooks) key off this.
func (e Environment) IsProduction() bool {
	return e == Production
}

// IsDevelopment reports whether e is development.
func (e Environment) IsDevelopment() bool {
	return e == Development
}

func (e Environment) String() string {
	return string(e)
}
