package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCapability(id, name, version string) *Capability {
	return &Capability{
		ID:      id,
		Name:    name,
		Version: version,
		Type:    TypeData,
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(newTestCapability("price.lookup@1.0.0", "price.lookup", "1.0.0")))

	c, ok := r.Get("price.lookup@1.0.0")
	require.True(t, ok)
	assert.Equal(t, "price.lookup", c.Name)
	assert.Equal(t, PrivacyPublic, c.Privacy, "privacy should default to public")

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestRegistry_RejectsInvalidVersion(t *testing.T) {
	r := NewInMemoryRegistry()
	err := r.Register(newTestCapability("x", "x", "not-a-version"))
	require.Error(t, err)
}

func TestRegistry_ResolveHighestVersion(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(newTestCapability("p@1.0.0", "price.lookup", "1.0.0")))
	require.NoError(t, r.Register(newTestCapability("p@1.2.0", "price.lookup", "1.2.0")))
	require.NoError(t, r.Register(newTestCapability("p@2.0.0", "price.lookup", "2.0.0")))

	c, err := r.Resolve("price.lookup", "")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", c.Version)

	c, err = r.Resolve("price.lookup", "^1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", c.Version)

	_, err = r.Resolve("price.lookup", "^3.0")
	require.ErrorIs(t, err, ErrCapabilityNotFound)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(newTestCapability("p@1.0.0", "price.lookup", "1.0.0")))
	require.NoError(t, r.Unregister("p@1.0.0"))
	_, ok := r.Get("p@1.0.0")
	assert.False(t, ok)
	require.ErrorIs(t, r.Unregister("p@1.0.0"), ErrCapabilityNotFound)
}

func TestValidator_RequiredFields(t *testing.T) {
	v := NewValidator()
	c := newTestCapability("p@1.0.0", "price.lookup", "1.0.0")
	c.Required = []string{"symbol"}

	ie := v.ValidateInputs(c, map[string]any{})
	require.NotNil(t, ie)
	assert.Equal(t, ErrCaller, ie.Kind)
	assert.Contains(t, ie.Message, "missing required input: symbol")

	assert.Nil(t, v.ValidateInputs(c, map[string]any{"symbol": "ETH"}))
}

func TestValidator_SchemaValidation(t *testing.T) {
	v := NewValidator()
	c := newTestCapability("p@1.0.0", "price.lookup", "1.0.0")
	c.InputSchema = []byte(`{
		"type": "object",
		"properties": {"symbol": {"type": "string"}},
		"required": ["symbol"]
	}`)

	ie := v.ValidateInputs(c, map[string]any{"symbol": 42})
	require.NotNil(t, ie)
	assert.Equal(t, ErrCaller, ie.Kind)

	assert.Nil(t, v.ValidateInputs(c, map[string]any{"symbol": "ETH"}))
}

func TestIsCallerFault(t *testing.T) {
	assert.True(t, IsCallerFault(NewCallerError("capability not found")))
	assert.True(t, IsCallerFault(assertErr("schema: missing required input: x")))
	assert.False(t, IsCallerFault(assertErr("connection reset")))
	assert.False(t, IsCallerFault(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
