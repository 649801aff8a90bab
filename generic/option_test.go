package generic

import (
	"encoding/json"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOption(t *testing.T) {
	assert := assert_.New(t)

	var zero Option[int64]
	assert.True(zero.IsNone())
	assert.Equal(int64(7), zero.UnwrapOr(7))
	assert.Panics(func() { zero.Unwrap() })

	size := Some(int64(40_000_000))
	assert.True(size.IsSome())
	v, ok := size.Get()
	assert.True(ok)
	assert.Equal(int64(40_000_000), v)
	assert.Equal(size, zero.Or(size))
	assert.Equal(size, size.Or(Some(int64(1))))

	assert.True(SomeIf(3, false).IsNone())
	assert.Equal(3, SomeIf(3, true).Unwrap())
}

func TestOptionJSON(t *testing.T) {
	assert := assert_.New(t)

	type sized struct {
		Length Option[int64] `json:"length"`
	}
	data, err := json.Marshal(sized{})
	require.NoError(t, err)
	assert.JSONEq(`{"length":null}`, string(data))

	var decoded sized
	require.NoError(t, json.Unmarshal([]byte(`{"length":1234}`), &decoded))
	assert.Equal(int64(1234), decoded.Length.Unwrap())

	require.NoError(t, json.Unmarshal([]byte(`{"length":null}`), &decoded))
	assert.True(decoded.Length.IsNone())
}
