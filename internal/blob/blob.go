// Package blob stores binary attachments (report exports, student photos)
// outside the document store. Every attachment hangs off an owning
// document; access to the bytes follows the read policy of that document.
package blob

import (
	"context"
	"io"
)

// Info describes a stored attachment.
type Info struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is the binary storage contract.
type Store interface {
	// Upload streams content under key, overwriting any previous object.
	Upload(ctx context.Context, key string, contentType string, content io.Reader) (Info, error)
	// Open streams the object back. The caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, Info, error)
	// Remove deletes the object. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
