package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/receipt"
	"kasirinaja/posledger/internal/recommendation"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

var ErrAdminRequired = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Metrics receives checkout outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveCheckout(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCheckout(string) {}

type Options struct {
	DefaultTenantID string
	AllowBackorder  bool
	Logger          *slog.Logger
	Metrics         Metrics
}

type Service struct {
	repo            store.Repository
	receipts        receipt.Allocator
	favorites       *recommendation.Engine
	logger          *slog.Logger
	metrics         Metrics
	defaultTenantID string
	allowBackorder  bool
	now             func() time.Time
}

func New(repo store.Repository, receipts receipt.Allocator, favorites *recommendation.Engine, opts Options) *Service {
	if opts.DefaultTenantID == "" {
		opts.DefaultTenantID = "main-store"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if favorites == nil {
		favorites = recommendation.NewEngine(repo, nil, 0, opts.Logger)
	}

	return &Service{
		repo:            repo,
		receipts:        receipts,
		favorites:       favorites,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		defaultTenantID: opts.DefaultTenantID,
		allowBackorder:  opts.AllowBackorder,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// tenantID resolves the tenant from the authenticated actor, falling back to
// the configured default for unauthenticated internal callers.
func (s *Service) tenantID(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.TenantID != "" {
		return actor.TenantID
	}
	return s.defaultTenantID
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrAdminRequired
	}
	return nil
}

func (s *Service) ListCatalog(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.repo.ListCatalog(ctx, s.tenantID(ctx))
}

func (s *Service) GetCreditAccount(ctx context.Context, customerID string) (domain.CreditAccount, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CreditAccount{}, domain.ErrCustomerRequired
	}
	account, err := s.repo.GetCreditAccount(ctx, s.tenantID(ctx), customerID)
	if err != nil {
		return domain.CreditAccount{}, err
	}
	return *account, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.repo.FindSaleByID(ctx, s.tenantID(ctx), strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) LookupSaleByIdempotency(ctx context.Context, idempotencyKey string) (domain.CheckoutLookupResponse, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return domain.CheckoutLookupResponse{}, store.ErrInvalidTransaction
	}

	sale, err := s.repo.FindSaleByIdempotency(ctx, s.tenantID(ctx), idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutLookupResponse{Found: false}, nil
		}
		return domain.CheckoutLookupResponse{}, err
	}
	return domain.CheckoutLookupResponse{Found: true, Sale: sale}, nil
}

func (s *Service) Favorites(ctx context.Context, customerID string, limit int) (domain.FavoritesResponse, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.FavoritesResponse{}, domain.ErrCustomerRequired
	}
	items, err := s.favorites.Favorites(ctx, s.tenantID(ctx), customerID, limit)
	if err != nil {
		return domain.FavoritesResponse{}, err
	}
	return domain.FavoritesResponse{CustomerID: customerID, Items: items}, nil
}

// NextReceipt hands out a receipt number for flows outside checkout, such as
// layaway slips and reprints.
func (s *Service) NextReceipt(ctx context.Context) (domain.ReceiptNumber, error) {
	tenantID := s.tenantID(ctx)
	number, err := s.receipts.Next(ctx, tenantID)
	if err != nil {
		return domain.ReceiptNumber{}, err
	}
	s.logAudit(ctx, tenantID, "receipt_allocate", "receipt", number.Value, fmt.Sprintf("degraded=%t", number.Degraded))
	return number, nil
}

func (s *Service) logAudit(ctx context.Context, tenantID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      tenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.Any("error", err))
	}
}

func isTenderMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentMobileMoney:
		return true
	default:
		return false
	}
}

func normalizeMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}
