// Package pg provides utilities for working with PostgreSQL through pgx/v5.
//
// It covers the pieces every storage layer in this repository needs:
//
//   - Config, populated from PG_* environment variables.
//   - Connect, which opens a *pgxpool.Pool and retries until the database is ready.
//   - Migrate, which runs goose migrations from an embedded filesystem.
//   - WithTx, which runs a function inside a transaction and commits or rolls back
//     as a unit.
//   - Error classifiers such as IsDuplicateKeyError and IsSerializationError.
//
// # Usage
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, ".", cfg, logger); err != nil {
//	    return err
//	}
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//	    if _, err := tx.Exec(ctx, "UPDATE ..."); err != nil {
//	        return err
//	    }
//	    _, err := tx.Exec(ctx, "INSERT ...")
//	    return err
//	})
//
// # Health checks
//
// Healthcheck returns a func(context.Context) error suitable for readiness probes.
package pg
