// Package redis builds the shared go-redis client used by the answer cache
// and the Redis-backed task queue.
package redis
