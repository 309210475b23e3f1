package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrbroker/xrbrokerd/internal/resultcode"
)

func TestTable_AllocateFillsFirstEmptySlot(t *testing.T) {
	tbl := New[string](4)

	id0, err := tbl.Allocate("test_op", "a")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id0)

	id1, err := tbl.Allocate("test_op", "b")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id1)

	tbl.Release(id0)

	id2, err := tbl.Allocate("test_op", "c")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id2, "released slot must be reused before growing")
}

func TestTable_AllocateFailsWhenFull(t *testing.T) {
	tbl := New[int](2)
	_, err := tbl.Allocate("test_op", 1)
	require.NoError(t, err)
	_, err = tbl.Allocate("test_op", 2)
	require.NoError(t, err)

	_, err = tbl.Allocate("test_op", 3)
	require.Error(t, err)
	assert.Equal(t, resultcode.IPCFailure, resultcode.CodeOf(err))
}

func TestTable_GetRejectsEmptyAndOutOfRange(t *testing.T) {
	tbl := New[int](2)

	_, err := tbl.Get("test_op", 0)
	assert.Error(t, err, "empty slot must fail lookup")

	_, err = tbl.Get("test_op", 5)
	assert.Error(t, err, "out-of-range ID must fail lookup")

	id, err := tbl.Allocate("test_op", 42)
	require.NoError(t, err)
	v, err := tbl.Get("test_op", id)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestTable_ReleaseAllInvokesCallbackAndEmpties(t *testing.T) {
	tbl := New[string](3)
	a, _ := tbl.Allocate("op", "x")
	b, _ := tbl.Allocate("op", "y")

	released := map[uint32]string{}
	tbl.ReleaseAll(func(id uint32, obj string) {
		released[id] = obj
	})

	assert.Equal(t, map[uint32]string{a: "x", b: "y"}, released)
	assert.False(t, tbl.Active(a))
	assert.False(t, tbl.Active(b))
}

func TestTable_SetPrepopulatesSemanticSlots(t *testing.T) {
	tbl := New[uint32](128)
	tbl.Set(0, 1000)
	tbl.Set(5, 1005)

	v, err := tbl.Get("op", 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(1005), v)

	id, err := tbl.Allocate("op", 2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id, "allocate must skip pre-populated semantic slots")
}
