package domain

import "time"

type ItemKind string

const (
	KindProduct ItemKind = "product"
	KindService ItemKind = "service"
)

// CatalogItem is a sellable product or service. StockQty and MinStock only
// carry meaning for products; CustomPriceable only for services.
type CatalogItem struct {
	ID              string   `json:"id"`
	TenantID        string   `json:"tenant_id"`
	Name            string   `json:"name"`
	PriceCents      int64    `json:"price_cents"`
	Kind            ItemKind `json:"kind"`
	StockQty        int      `json:"stock_qty,omitempty"`
	MinStock        int      `json:"min_stock,omitempty"`
	CustomPriceable bool     `json:"custom_priceable,omitempty"`
	Active          bool     `json:"active"`
}

func (i CatalogItem) BelowMinStock() bool {
	return i.Kind == KindProduct && i.MinStock > 0 && i.StockQty < i.MinStock
}

type CreditAccount struct {
	TenantID            string `json:"tenant_id"`
	CustomerID          string `json:"customer_id"`
	CustomerName        string `json:"customer_name"`
	CreditLimitCents    int64  `json:"credit_limit_cents"`
	CurrentBalanceCents int64  `json:"current_balance_cents"`
}

func (a CreditAccount) AvailableCents() int64 {
	return a.CreditLimitCents - a.CurrentBalanceCents
}

type Actor struct {
	Username string
	Role     string
	TenantID string
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	TenantID  string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash        = "cash"
	PaymentMobileMoney = "mobile_money"
	PaymentCredit      = "credit"
	PaymentSplit       = "split"
)

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

const OrderStatusCompleted = "completed"

type PaymentSplitEntry struct {
	Method      string `json:"method" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0,max=100000000000000"`
	Reference   string `json:"reference,omitempty"`
}

// PaymentDisposition says how a cart is settled. Splits are only read when
// Method is PaymentSplit.
type PaymentDisposition struct {
	Method string              `json:"method"`
	Splits []PaymentSplitEntry `json:"splits,omitempty"`
}

type SaleLineItem struct {
	ItemID         string   `json:"item_id"`
	Name           string   `json:"name"`
	Kind           ItemKind `json:"kind"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	LineTotalCents int64    `json:"line_total_cents"`
}

type Sale struct {
	ID              string              `json:"id"`
	TenantID        string              `json:"tenant_id"`
	TerminalID      string              `json:"terminal_id,omitempty"`
	CustomerID      string              `json:"customer_id,omitempty"`
	IdempotencyKey  string              `json:"idempotency_key"`
	TotalCents      int64               `json:"total_cents"`
	PaymentMethod   string              `json:"payment_method"`
	PaymentStatus   string              `json:"payment_status"`
	OrderStatus     string              `json:"order_status"`
	ReceiptSequence int64               `json:"receipt_sequence,omitempty"`
	ReceiptNumber   string              `json:"receipt_number"`
	ReceiptDegraded bool                `json:"receipt_degraded"`
	CreatedBy       string              `json:"created_by,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	Items           []SaleLineItem      `json:"items"`
	PaymentSplits   []PaymentSplitEntry `json:"payment_splits,omitempty"`
}

// SaleCommit is everything the store needs to write a sale atomically:
// stock decrements for product lines, the credit increment for credit sales,
// and the sale with its items and splits.
type SaleCommit struct {
	Sale           Sale
	AllowBackorder bool
}

type CheckoutLine struct {
	ItemID         string `json:"item_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gte=1,max=100000"`
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty" validate:"omitempty,gte=0,max=100000000000000"`
}

type CheckoutRequest struct {
	TerminalID     string              `json:"terminal_id"`
	IdempotencyKey string              `json:"idempotency_key"`
	CustomerID     string              `json:"customer_id,omitempty"`
	PaymentMethod  string              `json:"payment_method" validate:"required"`
	PaymentSplits  []PaymentSplitEntry `json:"payment_splits,omitempty" validate:"dive"`
	Lines          []CheckoutLine      `json:"lines" validate:"dive"`
}

type CheckoutResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type CheckoutLookupResponse struct {
	Found bool  `json:"found"`
	Sale  *Sale `json:"sale,omitempty"`
}

type ReceiptNumber struct {
	TenantID string `json:"tenant_id"`
	Sequence int64  `json:"sequence,omitempty"`
	Value    string `json:"value"`
	Degraded bool   `json:"degraded"`
}

type AffinityCount struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Count  int64  `json:"count"`
}

type FavoritesResponse struct {
	CustomerID string          `json:"customer_id"`
	Items      []AffinityCount `json:"items"`
}

const (
	LayawayStatusActive    = "active"
	LayawayStatusCompleted = "completed"
	LayawayStatusCancelled = "cancelled"
)

// LayawayLineItem is a by-value snapshot of a cart line taken when the plan
// opens; it never follows later catalog changes.
type LayawayLineItem struct {
	ItemID         string `json:"item_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type InstallmentPayment struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	Note        string    `json:"note,omitempty"`
	RecordedBy  string    `json:"recorded_by,omitempty"`
	PaidAt      time.Time `json:"paid_at"`
}

type LayawayPlan struct {
	ID               string               `json:"id"`
	TenantID         string               `json:"tenant_id"`
	CustomerID       string               `json:"customer_id"`
	TotalCents       int64                `json:"total_cents"`
	DepositCents     int64                `json:"deposit_cents"`
	AmountPaidCents  int64                `json:"amount_paid_cents"`
	InstallmentCount int                  `json:"installment_count"`
	DueDate          *time.Time           `json:"due_date,omitempty"`
	Status           string               `json:"status"`
	CreatedAt        time.Time            `json:"created_at"`
	ClosedAt         *time.Time           `json:"closed_at,omitempty"`
	Items            []LayawayLineItem    `json:"items"`
	Payments         []InstallmentPayment `json:"payments"`
}

func (p LayawayPlan) OutstandingCents() int64 {
	return p.TotalCents - p.AmountPaidCents
}

// SumPayments is the only way AmountPaidCents is derived.
func SumPayments(payments []InstallmentPayment) int64 {
	var sum int64
	for _, p := range payments {
		sum += p.AmountCents
	}
	return sum
}

type LayawayOpenRequest struct {
	CustomerID       string         `json:"customer_id" validate:"required"`
	DepositCents     int64          `json:"deposit_cents" validate:"gt=0,max=100000000000000"`
	DepositMethod    string         `json:"deposit_method"`
	InstallmentCount int            `json:"installment_count" validate:"omitempty,gte=1"`
	DueDate          string         `json:"due_date,omitempty"`
	Lines            []CheckoutLine `json:"lines" validate:"dive"`
}

type InstallmentRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0,max=100000000000000"`
	Method      string `json:"method" validate:"required"`
	Note        string `json:"note,omitempty" validate:"max=500"`
}

type LayawayResponse struct {
	Plan LayawayPlan `json:"plan"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
