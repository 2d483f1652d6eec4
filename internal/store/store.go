package store

import (
	"context"
	"errors"
	"time"

	"kasirinaja/posledger/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicateSale      = errors.New("duplicate sale")
)

// Commit step names reported in domain.PartialCommitError.
const (
	StepStock  = "stock"
	StepCredit = "credit"
	StepSale   = "sale"
	StepItems  = "items"
	StepSplits = "splits"
	StepCommit = "commit"
)

type Repository interface {
	ListCatalog(ctx context.Context, tenantID string) ([]domain.CatalogItem, error)
	GetCatalogItems(ctx context.Context, tenantID string, ids []string) (map[string]domain.CatalogItem, error)
	GetCreditAccount(ctx context.Context, tenantID string, customerID string) (*domain.CreditAccount, error)
	NextReceiptSequence(ctx context.Context, tenantID string) (int64, error)
	FindSaleByID(ctx context.Context, tenantID string, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, tenantID string, key string) (*domain.Sale, error)
	// CommitSale writes the sale, its items and splits, decrements product
	// stock and increments the customer balance for credit sales, all or nothing.
	CommitSale(ctx context.Context, commit domain.SaleCommit) (*domain.Sale, error)
	IncrementAffinity(ctx context.Context, tenantID string, customerID string, itemIDs []string) error
	ListAffinity(ctx context.Context, tenantID string, customerID string, limit int) ([]domain.AffinityCount, error)
	CreateLayawayPlan(ctx context.Context, plan domain.LayawayPlan) (*domain.LayawayPlan, error)
	GetLayawayPlan(ctx context.Context, tenantID string, planID string) (*domain.LayawayPlan, error)
	AppendInstallment(ctx context.Context, tenantID string, planID string, payment domain.InstallmentPayment) (*domain.LayawayPlan, error)
	CancelLayawayPlan(ctx context.Context, tenantID string, planID string, at time.Time) (*domain.LayawayPlan, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
