package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	err := l.Record(context.Background(), "agent-1", EventPolicy, "policy.validate", "price.lookup",
		map[string]any{"violations": 0})
	require.NoError(t, err)
	err = l.Record(context.Background(), "", EventOperator, "breaker.reset", "price.lookup", nil)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "agent-1", first.CallerID)
	assert.Equal(t, EventPolicy, first.Type)
	assert.Equal(t, "price.lookup", first.Resource)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	var second Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "system", second.CallerID, "empty caller defaults to system")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop().Record(context.Background(), "x", EventSystem, "a", "r", nil))
}
