package audit

import (
	"context"
	"fmt"
)

// RepositoryPort defines the read access the service needs.
type RepositoryPort interface {
	ListEntries(ctx context.Context, f Filter, limit, offset int) ([]Entry, error)
	Trail(ctx context.Context, kind, recordID string) ([]Entry, error)
}

// PagingInfo carries next/prev paging state for timeline views.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps a timeline page.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}

// Service coordinates audit reads.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Query returns one page of entries matching the filter.
func (s *Service) Query(ctx context.Context, f Filter) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	entries, err := s.repo.ListEntries(ctx, f, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// Trail returns the full history of one record, oldest first.
func (s *Service) Trail(ctx context.Context, kind, recordID string) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if kind == "" || recordID == "" {
		return nil, fmt.Errorf("audit: kind and record id required")
	}
	return s.repo.Trail(ctx, kind, recordID)
}
