package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"io fatal", ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
		{"network retryable", ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning, true},
		{"validation", ErrCodeSourceNotFound, CategoryValidation, SeverityError, false},
		{"pipeline", ErrCodeRefreshFailed, CategoryPipeline, SeverityError, false},
		{"staleness retryable", ErrCodeStalenessCheck, CategoryPipeline, SeverityWarning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestKBError_UnwrapChain(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := EmbeddingError("batch 3 failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeEmbeddingFailed, GetCode(err))
}

func TestKBError_IsMatchesByCode(t *testing.T) {
	a := RefreshError("rebuild failed", nil)
	b := RefreshError("different message", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, RollbackError("gone")))
}

func TestHasCode_WrappedDeep(t *testing.T) {
	inner := StalenessCheckError("hash fetch timed out", nil)
	outer := fmt.Errorf("checking source s1: %w", inner)

	assert.True(t, HasCode(outer, ErrCodeStalenessCheck))
	assert.False(t, HasCode(outer, ErrCodeRefreshFailed))
	assert.True(t, IsRetryable(outer))
}

func TestWithDetail_Chains(t *testing.T) {
	err := RollbackError("version 3 evicted").
		WithDetail("source_id", "s1").
		WithDetail("target_version", "3")

	assert.Equal(t, "s1", err.Details["source_id"])
	assert.Equal(t, "3", err.Details["target_version"])
	assert.Contains(t, err.Error(), ErrCodeRollbackInvalid)
}
