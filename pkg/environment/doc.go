// Package environment identifies the deployment environment (development, staging,
// production) from configuration values such as APP_ENV.
//
//	env := environment.Parse(os.Getenv("APP_ENV"))
//	if env.IsProduction() {
//	    // fail closed on missing secrets
//	}
package environment
