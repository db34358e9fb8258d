package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes is the per-file size ceiling (10 MiB).
const DefaultMaxBytes int64 = 10 << 20

// multipartOverhead is the room left for boundaries and text fields on top
// of the file itself when capping the request body.
const multipartOverhead int64 = 1 << 20

// FileField is the multipart field carrying the image.
const FileField = "file"

var (
	ErrMissingFile     = errors.New("no file uploaded")
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("only jpeg, png and webp images are allowed")
	ErrCorruptImage    = errors.New("image could not be decoded")
	ErrMalformedForm   = errors.New("malformed multipart form")
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Image is a validated upload held in memory.
type Image struct {
	Name   string
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Size returns the payload length in bytes.
func (img *Image) Size() int64 { return int64(len(img.Data)) }

// ReadImage parses the multipart request and returns the validated file.
// Form values are available on r afterwards. Callers must call
// r.MultipartForm.RemoveAll when r.MultipartForm is non-nil.
func ReadImage(w http.ResponseWriter, r *http.Request, maxBytes int64) (*Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
	}

	file, header, err := r.FormFile(FileField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, ErrMissingFile
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedForm, err)
	}
	defer file.Close()

	if header.Size > maxBytes {
		return nil, ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrMissingFile
	}

	return inspect(filepath.Base(header.Filename), data)
}

// inspect sniffs the MIME type from the magic bytes and reads the image header.
func inspect(name string, data []byte) (*Image, error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !allowedMIME[kind.MIME.Value] {
		return nil, ErrUnsupportedType
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ErrCorruptImage
	}

	return &Image{
		Name:   name,
		Data:   data,
		MIME:   kind.MIME.Value,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
