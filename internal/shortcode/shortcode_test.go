package shortcode

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{9, "9"},
		{10, "A"},
		{35, "Z"},
		{36, "a"},
		{61, "z"},
		{62, "10"},
		{63, "11"},
		{3844, "100"},
		{123456789, "8M0kX"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Encode(tt.n))
	}
}

func TestEncode_NeverEmpty(t *testing.T) {
	for n := int64(0); n < 5000; n++ {
		assert.NotEmpty(t, Encode(n))
	}
}

func TestEncode_Injective(t *testing.T) {
	seen := make(map[string]int64)

	for n := int64(1); n < 100000; n++ {
		code := Encode(n)
		if prev, ok := seen[code]; ok {
			t.Fatalf("Encode(%d) and Encode(%d) both produced %q", prev, n, code)
		}
		seen[code] = n
	}
}

type fakeIncrementer struct {
	val int64
	err error
}

func (f *fakeIncrementer) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "incr", key)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.val++
	cmd.SetVal(f.val)
	return cmd
}

func TestCounter_Next(t *testing.T) {
	t.Run("redis error", func(t *testing.T) {
		counter := NewCounter(&fakeIncrementer{err: errors.New("connection refused")})

		n, err := counter.Next(context.TODO())

		assert.Error(t, err)
		assert.Zero(t, n)
	})

	t.Run("monotonic", func(t *testing.T) {
		counter := NewCounter(&fakeIncrementer{})

		first, err := counter.Next(context.TODO())
		assert.NoError(t, err)

		second, err := counter.Next(context.TODO())
		assert.NoError(t, err)

		assert.Equal(t, first+1, second)
	})
}
