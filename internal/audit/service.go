package audit

import (
	"context"
	"time"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
)

const maxExportPage = 500

// Service gates read access to the trail. Export goes through the same
// policy engine as every other collection, so only principals the rules
// allow to list audit records get them back.
type Service struct {
	reader Reader
	engine *policy.Engine
}

func NewService(reader Reader, engine *policy.Engine) *Service {
	return &Service{reader: reader, engine: engine}
}

// ExportPage is one page of exported entries.
type ExportPage struct {
	Entries []Entry
	HasMore bool
}

// ExportRange returns entries with At in [start, end) for review. Offset
// paging is acceptable here: the trail is append-only and export reads a
// closed time window, so rows cannot shift under the caller.
func (s *Service) ExportRange(ctx context.Context, p principal.Principal, start, end time.Time, offset, limit int) (ExportPage, error) {
	d := s.engine.Evaluate(p, policy.OpList, core.Path{Collection: core.CollectionAuditLogs}, nil, nil)
	if !d.Allowed {
		return ExportPage{}, d.Err()
	}
	if limit <= 0 || limit > maxExportPage {
		limit = maxExportPage
	}

	entries, err := s.reader.Range(ctx, start, end)
	if err != nil {
		return ExportPage{}, err
	}
	if offset >= len(entries) {
		return ExportPage{}, nil
	}
	entries = entries[offset:]
	page := ExportPage{HasMore: len(entries) > limit}
	if page.HasMore {
		entries = entries[:limit]
	}
	page.Entries = entries
	return page, nil
}
