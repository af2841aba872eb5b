package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/metrics"
	"retailerp/backend/internal/store"
	"retailerp/backend/internal/tracing"
	"retailerp/backend/internal/xid"
)

const dateLayout = "2006-01-02"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultStoreID string
	DefaultTaxRate decimal.Decimal
	Logger         *zap.Logger
	Publisher      events.Publisher
	Metrics        *metrics.Metrics
	Clock          func() time.Time
}

type Service struct {
	repo           store.Repository
	carts          store.CartStore
	publisher      events.Publisher
	metrics        *metrics.Metrics
	logger         *zap.Logger
	tracer         trace.Tracer
	now            func() time.Time
	defaultStoreID string
	defaultTaxRate decimal.Decimal
}

func New(repo store.Repository, carts store.CartStore, opts Options) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:           repo,
		carts:          carts,
		publisher:      opts.Publisher,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		tracer:         tracing.Tracer(),
		now:            func() time.Time { return opts.Clock().UTC() },
		defaultStoreID: opts.DefaultStoreID,
		defaultTaxRate: opts.DefaultTaxRate,
	}
}

func (s *Service) DefaultStoreID() string {
	return s.defaultStoreID
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	storeID = s.storeOrDefault(storeID)
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var from, to time.Time
	if date != "" {
		day, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		from, to = day, day.Add(24*time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

// begin opens a span for one service operation and returns the func that
// closes it and records the outcome metric.
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "service."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveOperation(operation, started, err)
	}
}

func (s *Service) actor(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{UserID: "system", Role: "system"}
	}
	return actor
}

func (s *Service) requireManager(ctx context.Context) (domain.Actor, error) {
	actor := s.actor(ctx)
	if !actor.IsManager() {
		return actor, fmt.Errorf("%w: manager role required", domain.ErrForbidden)
	}
	return actor, nil
}

func (s *Service) storeOrDefault(storeID string) string {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return s.defaultStoreID
	}
	return storeID
}

func (s *Service) resolveLocation(loc domain.LocationRef) domain.LocationRef {
	loc.StoreID = s.storeOrDefault(loc.StoreID)
	loc.WarehouseID = strings.TrimSpace(loc.WarehouseID)
	return loc
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor := s.actor(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    s.storeOrDefault(storeID),
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, storeID string, subject string, data any) {
	event := events.New(eventType, storeID, subject, s.actor(ctx).UserID, data)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", eventType),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func parseDate(value string) (time.Time, error) {
	day, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, domain.Invalidf("date must be YYYY-MM-DD")
	}
	return day, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
