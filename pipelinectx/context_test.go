package pipelinectx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertUpdateGetRemove(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("nums", []int{1, 2, 3}))

	err := c.Insert("nums", []int{4, 5})
	require.ErrorIs(t, err, ErrKeyExists)

	err = c.Update("missing", 1)
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, c.Update("nums", []int{1, 2, 3, 4}))

	v, ok := c.Get("nums")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3, 4}, v)

	c.Set("status", "success")
	v, ok = c.Get("status")
	require.True(t, ok)
	assert.Equal(t, "success", v)

	prior, err := c.Remove("status")
	require.NoError(t, err)
	assert.Equal(t, "success", prior)

	_, err = c.Remove("status")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSerializationIsInvolution(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("nums", []any{1.0, 2.0, 3.0}))
	c.Set("status", "success")

	data, err := c.ToJSON()
	require.NoError(t, err)

	round, err := FromJSON(data)
	require.NoError(t, err)

	assert.True(t, c.Equal(round))
}

func TestFromJSONEmpty(t *testing.T) {
	c, err := FromJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCloneIsIndependent(t *testing.T) {
	c := New()
	c.Set("a", 1)
	clone := c.Clone()
	c.Set("a", 2)

	v, _ := clone.Get("a")
	assert.Equal(t, 1, v)
}
