// Package shortcode allocates short codes for links. A shared monotonic
// counter hands out distinct integers, which are then base62-encoded into
// compact codes. Uniqueness is ultimately enforced by the database
// constraint; the counter only makes collisions improbable.
package shortcode

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Encode converts n into its base62 representation, most significant
// character first. Encode(0) returns "0" rather than an empty string so
// the result is always a usable code.
func Encode(n int64) string {
	if n == 0 {
		return string(alphabet[0])
	}

	var buf [11]byte // enough for any int64
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = alphabet[n%62]
		n /= 62
	}

	return string(buf[i:])
}

const counterKey = "miniurl:counter"

// incrementer is the subset of the redis client used by Counter.
type incrementer interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Counter is the shared allocation counter backed by Redis. INCR is atomic,
// so concurrent callers always observe distinct values, and the value
// survives process restarts.
type Counter struct {
	rdb incrementer
}

func NewCounter(rdb incrementer) *Counter {
	return &Counter{rdb: rdb}
}

// Next increments the counter and returns the new value.
func (c *Counter) Next(ctx context.Context) (int64, error) {
	const op = "shortcode.Counter.Next"

	n, err := c.rdb.Incr(ctx, counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to increment counter: %w", op, err)
	}

	return n, nil
}
