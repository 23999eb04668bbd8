package upload

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataURL(t *testing.T) {
	payload := []byte("frame-bytes")
	b64 := base64.StdEncoding.EncodeToString(payload)

	t.Run("png data url", func(t *testing.T) {
		raw, mime, ext, err := parseDataURL("data:image/png;base64," + b64)
		require.NoError(t, err)
		assert.Equal(t, payload, raw)
		assert.Equal(t, "image/png", mime)
		assert.Equal(t, "png", ext)
	})

	t.Run("bare base64 defaults to jpeg", func(t *testing.T) {
		raw, mime, ext, err := parseDataURL(b64)
		require.NoError(t, err)
		assert.Equal(t, payload, raw)
		assert.Equal(t, "image/jpeg", mime)
		assert.Equal(t, "jpg", ext)
	})

	t.Run("unknown mime falls back to jpeg", func(t *testing.T) {
		_, mime, ext, err := parseDataURL("data:image/tiff;base64," + b64)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", mime)
		assert.Equal(t, "jpg", ext)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, _, _, err := parseDataURL("data:image/png;base64,!!!not-base64!!!")
		assert.Error(t, err)
	})
}
