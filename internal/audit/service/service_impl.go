package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/pkg/db/option"
	"github.com/fakturo/fakturo/pkg/db/pagination"
	"github.com/fakturo/fakturo/pkg/repository"
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
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  repository.Repository[auditdomain.AuditLog]
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  repository.ProvideStore[auditdomain.AuditLog](p.DB),
	}
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, &entry); err != nil {
		// Audit writes never fail the business operation.
		s.log.Warn("audit log write failed",
			zap.String("action", action),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	filter := &auditdomain.AuditLog{}
	if req.Action != "" {
		filter.Action = req.Action
	}
	if req.TargetType != "" {
		filter.TargetType = req.TargetType
	}
	if req.TargetID != "" {
		targetID := req.TargetID
		filter.TargetID = &targetID
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 50
	}

	// Newest first; the cursor walks the snowflake ID downward. One extra
	// row decides has_more.
	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"id": true}, Field: "id", Desc: true}),
		option.WithLimit(limit + 1),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, err
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, pagination.ErrInvalidPageToken
		}
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.LT,
			Value:    cursorID,
		}))
	}

	items, err := s.repo.Find(ctx, filter, options...)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), auditLogCursor)
	if pageInfo.HasMore {
		items = items[:limit]
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return auditdomain.ListAuditLogResponse{PageInfo: *pageInfo, AuditLogs: logs}, nil
}

func auditLogCursor(entry *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        entry.ID.String(),
		CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}
