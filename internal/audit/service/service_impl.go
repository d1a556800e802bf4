package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/audit/feed"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	obscontext "github.com/smallbiznis/agentmarket/internal/observability/context"
	"github.com/smallbiznis/agentmarket/pkg/db/pagination"
	"github.com/smallbiznis/agentmarket/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
	Hub   *feed.Hub `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
	hub   *feed.Hub
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		hub:   p.Hub,
	}
}

func (s *Service) Record(ctx context.Context, tx *ledgertx.Tx, entry auditdomain.Entry) (auditdomain.Event, error) {
	if tx == nil {
		return auditdomain.Event{}, auditdomain.ErrNilTransaction
	}
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.Event{}, auditdomain.ErrInvalidAction
	}
	entityType := strings.TrimSpace(entry.EntityType)
	entityID := strings.TrimSpace(entry.EntityID)
	if entityType == "" || entityID == "" {
		return auditdomain.Event{}, auditdomain.ErrInvalidEntity
	}

	payload := make(map[string]any, len(entry.Payload)+3)
	for key, value := range entry.Payload {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	correlation.Annotate(ctx, payload)

	actor, _ := callerctx.CallerFromContext(ctx)
	event := auditdomain.Event{
		ID:         s.genID.Generate(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Payload:    datatypes.JSONMap(payload),
		RequestID:  obscontext.RequestIDFromContext(ctx),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, tx.DB, &event); err != nil {
		s.log.Warn("failed to write audit event", zap.String("action", action), zap.Error(err))
		return auditdomain.Event{}, err
	}

	if s.hub != nil {
		tx.AfterCommit(func() { s.hub.Publish(event) })
	}
	return event, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListEventRequest) (auditdomain.ListEventResponse, error) {
	var afterID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListEventResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListEventResponse{}, auditdomain.ErrInvalidPageToken
		}
		afterID = id
	}

	page := req.Pagination.Normalize()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		AfterID:    afterID,
		Limit:      page.PageSize,
	})
	if err != nil {
		return auditdomain.ListEventResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(item *auditdomain.Event) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        strconv.FormatInt(item.ID.Int64(), 10),
			CreatedAt: item.CreatedAt.Format(timeLayout),
		})
		if err != nil {
			return ""
		}
		return token
	})

	events := make([]auditdomain.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}

	return auditdomain.ListEventResponse{PageInfo: *pageInfo, Events: events}, nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
