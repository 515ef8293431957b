package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotCacheGetReturnsLastSet(t *testing.T) {
	c := NewSnapshotCache()
	assert.Empty(t, c.Get())

	c.Set([]Snapshot{{Server: "s1", OffsetSeconds: 0.5}})
	assert.Equal(t, []Snapshot{{Server: "s1", OffsetSeconds: 0.5}}, c.Get())
}

func TestSnapshotCacheGetIsIndependentCopy(t *testing.T) {
	c := NewSnapshotCache()
	c.Set([]Snapshot{{Server: "s1", OffsetSeconds: 1.0}})

	got := c.Get()
	got[0].OffsetSeconds = 99

	fresh := c.Get()
	assert.Equal(t, 1.0, fresh[0].OffsetSeconds)
}
