// Package config loads typed configuration structs from environment variables.
//
// Fields are mapped with github.com/caarlos0/env struct tags; an optional .env
// file is read through github.com/joho/godotenv before the first parse. Structs
// that implement Validator get a chance to reject inconsistent values.
//
//	type Config struct {
//	    Addr string        `env:"HTTP_ADDR" envDefault:":8080"`
//	    TTL  time.Duration `env:"LOCK_TTL" envDefault:"30s"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
package config
