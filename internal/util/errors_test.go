package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindSurvivesWrapping(t *testing.T) {
	err := E(KindExtraction, "extract", ErrNoExtractableText)
	wrapped := fmt.Errorf("ingest doc-1: %w", err)

	require.Equal(t, KindExtraction, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindExtraction))
	require.ErrorIs(t, wrapped, ErrNoExtractableText)
	require.False(t, Retryable(wrapped))
}

func TestErrorNilPassthrough(t *testing.T) {
	require.NoError(t, E(KindSynthesis, "generate", nil))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.True(t, Retryable(E(KindIndexWrite, "embed", errors.New("timeout"))))
}
