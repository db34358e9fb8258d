package upload

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	img, err := inspect("a.jpg", jpegBytes(t, 16, 9))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIME)
	assert.Equal(t, 16, img.Width)
	assert.Equal(t, 9, img.Height)

	img, err = inspect("b.png", pngBytes(t, 5, 7))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIME)
	assert.Equal(t, int64(len(img.Data)), img.Size())

	// GIF89a header with nothing behind it
	_, err = inspect("c.gif", []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = inspect("d.png", pngBytes(t, 2, 2)[:10])
	assert.ErrorIs(t, err, ErrCorruptImage)
}

func TestReadImageCustomLimit(t *testing.T) {
	data := pngBytes(t, 32, 32)
	w := httptest.NewRecorder()
	r := uploadRequest(t, map[string]string{"type": "profile"}, "dir/../a.png", data)

	_, err := ReadImage(w, r, int64(len(data)-1))
	assert.ErrorIs(t, err, ErrTooLarge)

	r = uploadRequest(t, map[string]string{"type": "profile"}, "nested/a.png", data)
	img, err := ReadImage(w, r, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "a.png", img.Name)
	assert.Equal(t, "profile", r.FormValue("type"))
}

func TestReadImageMalformed(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/upload/image", nil)
	r.Header.Set("Content-Type", "application/json")
	_, err := ReadImage(httptest.NewRecorder(), r, DefaultMaxBytes)
	assert.ErrorIs(t, err, ErrMalformedForm)
}
