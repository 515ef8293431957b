package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ntp.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseServerLines(t *testing.T) {
	path := writeTempFile(t, `
# a comment
server time.example.com prefer
server other.example.com mode 4
server 127.127.20.1 noselect
fudge 127.127.20.1 time1 0.5 flag1 1 refid GPS
`)

	configs, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, configs, 3)

	assert.Equal(t, "time.example.com", configs[0].Host)
	assert.Equal(t, PriorityPrefer, configs[0].Priority)
	assert.Equal(t, DriverNetwork, configs[0].Driver)

	assert.Equal(t, "other.example.com", configs[1].Host)
	assert.Equal(t, 4, configs[1].Mode)

	assert.Equal(t, "127.127.20.1", configs[2].Host)
	assert.Equal(t, PriorityNoSelect, configs[2].Priority)
	assert.Equal(t, DriverNMEA, configs[2].Driver)
	assert.Equal(t, 1, configs[2].DriverUnit)
	assert.Equal(t, 0.5, configs[2].Fudge.Time1)
	assert.True(t, configs[2].Fudge.Flag1)
	assert.Equal(t, "GPS", configs[2].Fudge.RefID)
}

func TestClassifySharedMemoryAddress(t *testing.T) {
	path := writeTempFile(t, "server 127.127.28.2\n")
	configs, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, DriverSHM, configs[0].Driver)
	assert.Equal(t, 2, configs[0].DriverUnit)
}

func TestWritePreservesOtherLinesAndAlignsHostColumn(t *testing.T) {
	src := writeTempFile(t, `# header comment
driftfile /etc/ntp.drift
server short prefer
server a.much.longer.hostname
`)

	configs, err := Parse(src)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out.conf")
	require.NoError(t, Write(src, dst, configs))

	out, err := os.ReadFile(dst)
	require.NoError(t, err)

	contents := string(out)
	assert.Contains(t, contents, "# header comment")
	assert.Contains(t, contents, "driftfile /etc/ntp.drift")

	// The host column should be aligned to the widest hostname among the
	// rewritten server lines.
	width := len("a.much.longer.hostname")
	assert.Contains(t, contents, fmt.Sprintf("server %-*s prefer", width, "short"))
	assert.Contains(t, contents, fmt.Sprintf("server %-*s", width, "a.much.longer.hostname"))
}

func TestParseRejectsFudgeForUnknownServer(t *testing.T) {
	path := writeTempFile(t, "fudge nosuchhost time1 1.0\n")
	_, err := Parse(path)
	assert.Error(t, err)
}
