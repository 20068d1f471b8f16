package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/maskfield"
	"github.com/epam/modular-api/internal/pkg/metrics"
	"github.com/epam/modular-api/internal/repository"
)

// AuditService writes and reads the append-only audit trail. There is no
// update or delete path on purpose.
type AuditService interface {
	// Record appends one entry. Sensitive parameter values are masked
	// before anything touches the store.
	Record(ctx context.Context, username, group, command string, params map[string]interface{}, result string, warnings []string) error
	// Query reads records matching q, newest first, and recomputes each
	// record's integrity hash on the way out.
	Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error)
}

type auditService struct {
	audit  repository.Audit
	hasher *integrity.Service
	log    *slog.Logger
}

// NewAuditService creates a new audit service.
func NewAuditService(audit repository.Audit, hasher *integrity.Service, log *slog.Logger) AuditService {
	return &auditService{
		audit:  audit,
		hasher: hasher,
		log:    log.With("component", "audit_service"),
	}
}

func (s *auditService) Record(ctx context.Context, username, group, command string, params map[string]interface{}, result string, warnings []string) error {
	rec := &models.AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: models.Now(),
		Username:  username,
		Group:     group,
		Command:   command,
		Params:    maskfield.Params(params),
		Result:    result,
		Warnings:  warnings,
	}
	hash, err := s.hasher.SumRecord(rec)
	if err != nil {
		return apierr.Internal(err)
	}
	rec.Hash = hash
	if err := s.audit.AppendAudit(ctx, rec); err != nil {
		return err
	}
	metrics.AuditRecordsTotal.Inc()
	return nil
}

func (s *auditService) Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error) {
	records, err := s.audit.QueryAudit(ctx, q)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		rec.ConsistencyStatus = integrity.Status(s.hasher.Verify(rec, rec.Hash))
		if q.InvalidOnly && rec.ConsistencyStatus != models.ConsistencyCompromised {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
