package clipboard

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConvertsToPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 5, 5)), nil))

	m := &Memory{}
	require.NoError(t, m.WriteImage(buf.Bytes()))

	cfg, err := png.DecodeConfig(bytes.NewReader(m.Last()))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Width)
}

func TestToPNGKeepsPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	out, err := ToPNG(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), out)

	_, err = ToPNG([]byte("text"))
	assert.Error(t, err)
}
