package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormatting(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := NewMissingVectorError("no vector for KO in 2019Q3", nil)
		assert.Equal(t, "[MISSING_VECTOR] no vector for KO in 2019Q3", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := stderrors.New("boom")
		err := NewConfigError("load file", cause)
		assert.Equal(t, "[CONFIG] load file: boom", err.Error())
	})
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stderrors.New("underlying")
	err := NewSourceError("read prices", cause)

	assert.True(t, stderrors.Is(err, cause))

	var appErr *AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, ErrTypeSource, appErr.Type)
}

func TestAppErrorThroughWrapping(t *testing.T) {
	inner := NewInsufficientDataError("only 3 observations", nil)
	wrapped := fmt.Errorf("compare step: %w", inner)

	assert.Equal(t, ErrTypeInsufficientData, TypeOf(wrapped))
	assert.True(t, IsType(wrapped, ErrTypeInsufficientData))
	assert.False(t, IsFatal(wrapped))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"dimension mismatch", NewDimensionMismatchError("384 vs 768", nil), true},
		{"config", NewConfigError("bad lag", nil), true},
		{"undefined correlation", NewUndefinedCorrelationError("zero variance", nil), false},
		{"insufficient data", NewInsufficientDataError("n=2", nil), false},
		{"degenerate label", NewDegenerateLabelError("one class", nil), false},
		{"missing vector", NewMissingVectorError("no candidates", nil), false},
		{"plain error", stderrors.New("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestWithContext(t *testing.T) {
	err := NewUndefinedCorrelationError("zero variance", nil).
		WithContext("firm_i", "KO").
		WithContext("firm_j", "PEP")

	assert.Equal(t, "KO", err.Context["firm_i"])
	assert.Equal(t, "PEP", err.Context["firm_j"])
}
