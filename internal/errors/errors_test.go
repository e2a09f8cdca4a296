package errors

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCode(t *testing.T) {
	render := NewRenderError(3, "page out of range", nil)
	input := NewInputError(3, "render", render)
	wrapped := fmt.Errorf("segment page: %w", input)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct", input, ErrorInput, true},
		{"wrapped", wrapped, ErrorInput, true},
		{"nested cause", wrapped, ErrorRenderFailed, true},
		{"other code", wrapped, ErrorConfiguration, false},
		{"plain error", io.EOF, ErrorInput, false},
		{"nil", nil, ErrorInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCode(tt.err, tt.code))
		})
	}
}

func TestProcessingError_ToMap(t *testing.T) {
	err := NewProcessingTimeoutError("job-1", 5*time.Second, io.ErrUnexpectedEOF)

	m := err.ToMap()
	assert.Equal(t, "PROCESSING_TIMEOUT", m["error_code"])
	assert.Equal(t, "5s", m["timeout_duration"])
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), m["cause"])
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := NewConfigurationError("whiteSpaceMaxRatio", 1.5, "must be in (0, 1]")
	assert.Equal(t, "CONFIGURATION_ERROR: invalid whiteSpaceMaxRatio=1.5: must be in (0, 1]", err.Error())
	assert.Empty(t, err.JobID)
	assert.Equal(t, "job-9", err.WithJobID("job-9").JobID)
}
