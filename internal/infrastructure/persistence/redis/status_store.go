package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"timeline-rag-api/internal/domain/entity"
	"timeline-rag-api/internal/domain/repository"
	apperrors "timeline-rag-api/pkg/errors"
)

// StatusStore 基于 Redis 的租户状态存储。
// 非终态使用 ttl 过期，终态使用较短的 terminalTTL。
type StatusStore struct {
	client      *Client
	ttl         time.Duration
	terminalTTL time.Duration
}

var _ repository.StatusStore = (*StatusStore)(nil)

func NewStatusStore(client *Client, ttl, terminalTTL time.Duration) *StatusStore {
	if terminalTTL <= 0 {
		terminalTTL = ttl
	}
	return &StatusStore{client: client, ttl: ttl, terminalTTL: terminalTTL}
}

func (s *StatusStore) Report(ctx context.Context, tenantID, label string) error {
	st := entity.Status{TenantID: tenantID, Label: label, UpdatedAt: time.Now()}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if st.Terminal() {
		ttl = s.terminalTTL
	}
	if err := s.client.setBytes(ctx, statusKey(tenantID), b, ttl); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCacheError, "report status")
	}
	return nil
}

func (s *StatusStore) Read(ctx context.Context, tenantID string) (*entity.Status, error) {
	raw, err := s.client.getBytes(ctx, statusKey(tenantID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "read status")
	}
	if raw == nil {
		return nil, nil
	}
	var st entity.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func (s *StatusStore) Clear(ctx context.Context, tenantID string) error {
	if err := s.client.del(ctx, statusKey(tenantID)); err != nil {
		return apperrors.Wrap(err, apperrors.CodeCacheError, "clear status")
	}
	return nil
}

func statusKey(tenantID string) string {
	return key("status", tenantID)
}
