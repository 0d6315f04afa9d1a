package util

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("open", nil))

	base := errors.New("boom")
	err := WrapError("open file", base)
	require.Error(t, err)
	assert.Equal(t, "failed to open file: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0s"},
		{45_000, "45s"},
		{154_000, "2m 34s"},
		{4_980_000, "1h 23m"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.ms))
		})
	}
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("path", ""))
	assert.NoError(t, ValidatePath("path", "/var/lib/noisemonitor/beacon.txt"))
	assert.Error(t, ValidatePath("path", "../etc/passwd"))
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	b.Reset()
	assert.Equal(t, time.Second, b.Current())
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}
