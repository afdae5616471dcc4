package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SortsKeys(t *testing.T) {
	out, err := JSON(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))
}

func TestRequestKey_OrderIndependent(t *testing.T) {
	k1, err := RequestKey("price.lookup", map[string]any{"symbol": "ETH", "quote": "USD"})
	require.NoError(t, err)
	k2, err := RequestKey("price.lookup", map[string]any{"quote": "USD", "symbol": "ETH"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestRequestKey_DistinguishesInputs(t *testing.T) {
	k1, err := RequestKey("price.lookup", map[string]any{"symbol": "ETH"})
	require.NoError(t, err)
	k2, err := RequestKey("price.lookup", map[string]any{"symbol": "BTC"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	k3, err := RequestKey("other.capability", map[string]any{"symbol": "ETH"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := Hash([]any{"a", 1, true})
	require.NoError(t, err)
	h2, err := Hash([]any{"a", 1, true})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
