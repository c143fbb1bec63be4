package sbdcompress

import (
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := []byte("a repeated repeated repeated payload for a short burst data message")

	compressed, err := CompressBinaryMessage(original, flate.BestCompression)
	require.NoError(t, err)
	assert.NotEmpty(t, compressed)

	out, err := DecompressPayload(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, out)
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	original := make([]byte, 0, 2000)
	for i := 0; i < 200; i++ {
		original = append(original, []byte("iridium")...)
	}

	compressed, err := CompressBinaryMessage(original, flate.BestCompression)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))
}

func TestDecompressInvalidInput(t *testing.T) {
	_, err := DecompressPayload([]byte{0xFF, 0xFF, 0xFF})
	assert.Error(t, err)
}
