package reports

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(CallReport{ID: fmt.Sprintf("r%d", i), CallSID: fmt.Sprintf("CA%d", i)})
	}
	assert.Equal(t, 3, s.Len())
	list := s.List(0)
	require.Len(t, list, 3)
	assert.Equal(t, "r4", list[0].ID)
	assert.Equal(t, "r2", list[2].ID)

	_, ok := s.Get("r1")
	assert.False(t, ok)
	got, ok := s.Get("CA3")
	require.True(t, ok)
	assert.Equal(t, "r3", got.ID)
}

func TestStoreListLimit(t *testing.T) {
	s := NewStore(10)
	s.Add(CallReport{ID: "a"})
	s.Add(CallReport{ID: "b"})
	list := s.List(1)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
}
