package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetUserID(ctx))
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithUserID(ctx, "u1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithAudit(ctx, "quarterly review", "OPS-42")

	assert.Equal(t, "u1", GetUserID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))
	reason, ticket := GetAudit(ctx)
	assert.Equal(t, "quarterly review", reason)
	assert.Equal(t, "OPS-42", ticket)
}

func TestWrongTypeIgnored(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, 42)
	assert.Empty(t, GetUserID(ctx))
}
