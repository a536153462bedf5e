// Package redis connects to Redis with retries and exposes a health probe.
//
// The client backs the distributed per-subscription lock (see pkg/lock) when
// the billing service runs as more than one instance.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	locker := lock.NewRedisLocker(client)
//	ready := redis.Healthcheck(client)
package redis
