package common

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCPUTempValid(t *testing.T) {
	assert.False(t, IsCPUTempValid(InvalidCpuTemp))
	assert.False(t, IsCPUTempValid(0))
	assert.False(t, IsCPUTempValid(-1))
	assert.True(t, IsCPUTempValid(42.5))
}

func TestDiskUsagePercent(t *testing.T) {
	pct := DiskUsagePercent(os.TempDir())
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)

	assert.Equal(t, -1.0, DiskUsagePercent("/definitely/not/a/mountpoint"))
}
