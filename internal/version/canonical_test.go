package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_SortsKeysAndStripsWhitespace(t *testing.T) {
	got, err := CanonicalJSON(map[string]interface{}{
		"b": 1.0,
		"a": map[string]interface{}{"z": "x", "y": []interface{}{true, nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":[true,null],"z":"x"},"b":1}`, got)
}

func TestCanonicalJSON_IntegralFloatsRenderAsInts(t *testing.T) {
	got, err := CanonicalJSON(map[string]interface{}{"n": 240.0, "f": 0.05})
	require.NoError(t, err)
	assert.Equal(t, `{"f":0.05,"n":240}`, got)
}

func TestContentHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1.0, "y": map[string]interface{}{"p": "q", "r": "s"}}
	b := map[string]interface{}{"y": map[string]interface{}{"r": "s", "p": "q"}, "x": 1.0}

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestContentHash_DiffersOnValueChange(t *testing.T) {
	ha, err := ContentHash(map[string]interface{}{"x": 1.0})
	require.NoError(t, err)
	hb, err := ContentHash(map[string]interface{}{"x": 2.0})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}
