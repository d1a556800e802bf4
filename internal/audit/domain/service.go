package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	"github.com/smallbiznis/agentmarket/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes a change to record.
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	Payload    map[string]any
}

type ListEventRequest struct {
	pagination.Pagination
	EntityType string
	EntityID   string
}

type ListEventResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

// Sink appends change events inside the caller's ledger transaction.
type Sink interface {
	Record(ctx context.Context, tx *ledgertx.Tx, entry Entry) (Event, error)
}

type Service interface {
	Sink
	List(ctx context.Context, req ListEventRequest) (ListEventResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Event, error)
}

var (
	ErrInvalidAction    = ledgererr.New(ledgererr.InvalidInput, "invalid_action")
	ErrInvalidEntity    = ledgererr.New(ledgererr.InvalidInput, "invalid_entity")
	ErrInvalidPageToken = ledgererr.New(ledgererr.InvalidInput, "invalid_page_token")
	ErrNilTransaction   = errors.New("audit: transaction is required")
)
