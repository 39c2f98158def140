package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractTextRejectsGarbage(t *testing.T) {
	t.Parallel()

	ex := NewPDFExtractor()
	_, err := ex.ExtractText(context.Background(), []byte("not a pdf at all"))
	require.Error(t, err)
}

func TestExtractTextHonorsCancellation(t *testing.T) {
	t.Parallel()

	ex := NewPDFExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.ExtractText(ctx, []byte("%PDF-1.4"))
	require.ErrorIs(t, err, context.Canceled)
}
