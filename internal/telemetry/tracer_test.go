package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIDContext(t *testing.T) {
	assert.Empty(t, SessionIDFromContext(t.Context()))

	ctx := ContextWithSessionID(t.Context(), "session-1")
	assert.Equal(t, "session-1", SessionIDFromContext(ctx))

	assert.NotEqual(t, GenerateSessionID(), GenerateSessionID())
}
