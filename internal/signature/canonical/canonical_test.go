package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIgnoresKeyOrder(t *testing.T) {
	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"b":1,"a":{"y":2,"x":3},"c":[1,2,3]}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"c":[1,2,3],"a":{"x":3,"y":2},"b":1}`), &b))

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	require.Equal(t, ha, hb)
}

func TestHashSensitiveToContent(t *testing.T) {
	ha, err := Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	hb, err := Hash(map[string]any{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}

func TestHashSensitiveToArrayOrder(t *testing.T) {
	ha, err := Hash(map[string]any{"a": []int{1, 2}})
	require.NoError(t, err)
	hb, err := Hash(map[string]any{"a": []int{2, 1}})
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}

func TestMarshalSortsNestedKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": map[string]any{"d": 1, "c": 2}, "a": 3})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":3,"b":{"c":2,"d":1}}`, string(out))
	require.Equal(t, `{"a":3,"b":{"c":2,"d":1}}`, string(out))
}
