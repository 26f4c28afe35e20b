package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
	"github.com/lyceum-app/lyceum/internal/store"
)

// Service ties attachments to their owning document: reading an attachment
// requires read access to the document, attaching requires update access.
// Keys are derived from the document path, so access control never needs a
// second rule set.
type Service struct {
	blobs  Store
	docs   store.Store
	engine *policy.Engine
}

func NewService(blobs Store, docs store.Store, engine *policy.Engine) *Service {
	return &Service{blobs: blobs, docs: docs, engine: engine}
}

// Attach uploads content under the document's attachment key.
func (s *Service) Attach(ctx context.Context, p principal.Principal, docPath core.Path, name, contentType string, content io.Reader) (Info, error) {
	doc, err := s.docs.Get(ctx, docPath)
	if err != nil {
		return Info{}, err
	}
	if !doc.Exists {
		return Info{}, fmt.Errorf("%w: %s", core.ErrNotFound, docPath)
	}
	if d := s.engine.Evaluate(p, policy.OpUpdate, docPath, doc, doc); !d.Allowed {
		return Info{}, d.Err()
	}
	return s.blobs.Upload(ctx, attachmentKey(docPath, name), contentType, content)
}

// Fetch streams an attachment back after the owning document's read policy
// allows it.
func (s *Service) Fetch(ctx context.Context, p principal.Principal, docPath core.Path, name string) (io.ReadCloser, Info, error) {
	doc, err := s.docs.Get(ctx, docPath)
	if err != nil {
		return nil, Info{}, err
	}
	if d := s.engine.Evaluate(p, policy.OpRead, docPath, doc, nil); !d.Allowed {
		return nil, Info{}, d.Err()
	}
	if !doc.Exists {
		return nil, Info{}, fmt.Errorf("%w: %s", core.ErrNotFound, docPath)
	}
	return s.blobs.Open(ctx, attachmentKey(docPath, name))
}

// Detach removes an attachment under the same rule as attaching.
func (s *Service) Detach(ctx context.Context, p principal.Principal, docPath core.Path, name string) error {
	doc, err := s.docs.Get(ctx, docPath)
	if err != nil {
		return err
	}
	if !doc.Exists {
		return fmt.Errorf("%w: %s", core.ErrNotFound, docPath)
	}
	if d := s.engine.Evaluate(p, policy.OpUpdate, docPath, doc, doc); !d.Allowed {
		return d.Err()
	}
	return s.blobs.Remove(ctx, attachmentKey(docPath, name))
}

func attachmentKey(docPath core.Path, name string) string {
	return docPath.String() + "/attachments/" + strings.ReplaceAll(name, "/", "_")
}
