package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryEvictsOldestBeyondCapacity(t *testing.T) {
	h := NewHistory(2)
	base := time.Date(2026, time.August, 5, 0, 0, 0, 0, time.UTC)

	h.Add("s1", base, 0.1)
	h.Add("s1", base.Add(time.Second), 0.2)
	h.Add("s1", base.Add(2*time.Second), 0.3)

	snap := h.Snapshot()
	require.Len(t, snap["s1"], 2)
	assert.Equal(t, 0.2, snap["s1"][0].OffsetSeconds)
	assert.Equal(t, 0.3, snap["s1"][1].OffsetSeconds)
}

func TestHistorySnapshotIsIndependentCopy(t *testing.T) {
	h := NewHistory(10)
	h.Add("s1", time.Now(), 1.0)

	snap := h.Snapshot()
	snap["s1"][0].OffsetSeconds = 99

	fresh := h.Snapshot()
	assert.Equal(t, 1.0, fresh["s1"][0].OffsetSeconds)
}
