package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenBucket_NilClient(t *testing.T) {
	assert.Nil(t, NewTokenBucket(nil))

	var tb *TokenBucket
	_, err := tb.Allow(context.Background(), "1.2.3.4", 1, 10)
	assert.Error(t, err)
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name      string
		res       []interface{}
		rate      float64
		allowed   bool
		remaining int
		retry     time.Duration
	}{
		{
			name:      "allowed",
			res:       []interface{}{int64(1), "9"},
			rate:      1,
			allowed:   true,
			remaining: 9,
		},
		{
			name:      "allowed with fraction",
			res:       []interface{}{int64(1), "2.75"},
			rate:      1,
			allowed:   true,
			remaining: 2,
		},
		{
			name:      "denied",
			res:       []interface{}{int64(0), "0.5"},
			rate:      2,
			allowed:   false,
			remaining: 0,
			retry:     250 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResult(tt.res, tt.rate)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, got.Allowed)
			assert.Equal(t, tt.remaining, got.Remaining)
			assert.Equal(t, tt.retry, got.RetryAfter)
		})
	}
}

func TestParseResult_Invalid(t *testing.T) {
	_, err := parseResult([]interface{}{int64(1)}, 1)
	assert.Error(t, err)

	_, err = parseResult([]interface{}{"1", "2"}, 1)
	assert.Error(t, err)

	_, err = parseResult([]interface{}{int64(1), "abc"}, 1)
	assert.Error(t, err)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}
