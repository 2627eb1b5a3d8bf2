package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestShouldOptimize(t *testing.T) {
	assert.True(t, ShouldOptimize("image/jpeg"))
	assert.True(t, ShouldOptimize("IMAGE/PNG"))
	assert.False(t, ShouldOptimize("application/pdf"))
	assert.False(t, ShouldOptimize(""))
}

func TestOptimize_DownscalesWideImages(t *testing.T) {
	data := encodePNG(t, 2048, 1000, color.NRGBA{R: 200, A: 255})

	out, err := Optimize(data, 1024, 80)
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Equal(t, 1024, img.Bounds().Dx())
	assert.Equal(t, 500, img.Bounds().Dy())
}

func TestOptimize_KeepsNarrowImages(t *testing.T) {
	data := encodePNG(t, 300, 200, color.NRGBA{G: 200, A: 255})

	out, err := Optimize(data, 0, 0)
	require.NoError(t, err)

	img := decodeJPEG(t, out)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestOptimize_FlattensTransparency(t *testing.T) {
	data := encodePNG(t, 10, 10, color.NRGBA{A: 0})

	out, err := Optimize(data, 1024, 90)
	require.NoError(t, err)

	r, g, b, _ := decodeJPEG(t, out).At(5, 5).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestOptimize_RejectsGarbage(t *testing.T) {
	_, err := Optimize([]byte("not an image"), 1024, 80)
	assert.Error(t, err)
}

func TestPrepare(t *testing.T) {
	pdf := []byte("%PDF-1.7")
	out, mime := Prepare(pdf, "application/pdf", 1024, 80)
	assert.Equal(t, pdf, out)
	assert.Equal(t, "application/pdf", mime)

	garbage := []byte("broken")
	out, mime = Prepare(garbage, "image/png", 1024, 80)
	assert.Equal(t, garbage, out)
	assert.Equal(t, "image/png", mime)

	out, mime = Prepare(encodePNG(t, 4, 4, color.White), "image/png", 1024, 80)
	assert.Equal(t, "image/jpeg", mime)
	decodeJPEG(t, out)
}
