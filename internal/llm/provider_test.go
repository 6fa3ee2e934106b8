package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGenAIProviderRequiresAPIKey(t *testing.T) {
	_, err := NewGenAIProvider(context.Background(), "")
	require.Error(t, err)
}
