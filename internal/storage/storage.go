// Package storage defines the interface for object storage operations.
// Swap implementations by changing the concrete type injected at startup;
// the MinIO implementation works with any S3-compatible provider.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidURL is returned when a public URL carries no file identifier.
var ErrInvalidURL = errors.New("url does not reference a stored file")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Object is an open object stream. Callers must close Body.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// Storage is the interface for uploading and retrieving objects.
type Storage interface {
	// Upload streams data to the store under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Delete removes an object identified by key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	// Open returns a stream of the object, or ErrNotFound.
	Open(ctx context.Context, key string) (*Object, error)
	// List returns objects last modified before the given time.
	List(ctx context.Context, before time.Time) ([]ObjectInfo, error)
	// Ping verifies the backend is reachable and the bucket exists.
	Ping(ctx context.Context) error
	// PublicURL constructs the browser-accessible URL for a given key.
	PublicURL(key string) string
}

// URLBuilder renders public file URLs in the
// "{base}/buckets/{bucket}/files/{id}/view?project={project}" layout.
type URLBuilder struct {
	Base    string
	Bucket  string
	Project string
}

// FileURL returns the public URL of the file with the given id.
func (b URLBuilder) FileURL(id string) string {
	return fmt.Sprintf("%s/buckets/%s/files/%s/view?project=%s",
		strings.TrimRight(b.Base, "/"),
		url.PathEscape(b.Bucket),
		url.PathEscape(id),
		url.QueryEscape(b.Project),
	)
}

// FileIDFromURL extracts the identifier between "/files/" and the next "/".
func FileIDFromURL(raw string) (string, error) {
	const marker = "/files/"
	i := strings.Index(raw, marker)
	if i < 0 {
		return "", ErrInvalidURL
	}
	rest := raw[i+len(marker):]
	j := strings.IndexByte(rest, '/')
	if j <= 0 {
		return "", ErrInvalidURL
	}
	return rest[:j], nil
}
