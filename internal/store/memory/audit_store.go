package memory

import (
	"context"
	"time"

	"github.com/memepit/memepit/internal/domain"
)

type auditStore struct {
	st *state
}

var _ domain.AuditStore = (*auditStore)(nil)

func (s *auditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.st.audit = append(s.st.audit, domain.AuditEntry{
		ID:        int64(len(s.st.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *auditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out := make([]domain.AuditEntry, 0, len(s.st.audit))
	for i := len(s.st.audit) - 1; i >= 0; i-- {
		out = append(out, s.st.audit[i])
	}
	return paginate(out, opts), nil
}
