package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urban_analysis/internal/core"
)

func TestRootRejectsUnknownCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"no-such-command"})
	err := rootCmd.Execute()
	require.Error(t, err)
}

func TestDispatchOptionsFollowPersistentFlags(t *testing.T) {
	failFast = true
	nprocs = 3
	memoryMB = 900
	t.Cleanup(func() {
		failFast = false
		nprocs = -2
		memoryMB = 300
	})

	opts := dispatchOptions()
	assert.Equal(t, core.FailFast, opts.Policy)
	assert.Equal(t, 3, opts.NProcs)
	assert.Equal(t, 900, opts.MemoryMB)
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 5.0, orDefault(0, 5))
	assert.Equal(t, 2.5, orDefault(2.5, 5))
}
