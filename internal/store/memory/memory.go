package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

const DefaultTenantID = "main-store"

type Store struct {
	mu              sync.RWMutex
	catalog         map[string]map[string]domain.CatalogItem
	credit          map[string]map[string]domain.CreditAccount
	sequences       map[string]int64
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]string
	saleItems       map[string][]domain.SaleLineItem
	saleSplits      map[string][]domain.PaymentSplitEntry
	affinity        map[string]map[string]map[string]int64
	layaways        map[string]*domain.LayawayPlan
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	failpoints      map[string]error
}

func New() *Store {
	return &Store{
		catalog:         make(map[string]map[string]domain.CatalogItem),
		credit:          make(map[string]map[string]domain.CreditAccount),
		sequences:       make(map[string]int64),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]string),
		saleItems:       make(map[string][]domain.SaleLineItem),
		saleSplits:      make(map[string][]domain.PaymentSplitEntry),
		affinity:        make(map[string]map[string]map[string]int64),
		layaways:        make(map[string]*domain.LayawayPlan),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		failpoints:      make(map[string]error),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// unset values fall back to dev defaults with a warning.
func seedUsers(tenantID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash seed password", slog.String("username", u.username), slog.Any("error", err))
			os.Exit(1)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			TenantID:  tenantID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo tenant: a few stocked products,
// fixed and custom-priced services, and two credit customers.
func NewSeeded() *Store {
	s := New()
	tenant := DefaultTenantID

	for _, item := range []domain.CatalogItem{
		{ID: "SKU-MIE-01", Name: "Mie Goreng Instan", PriceCents: 3500, Kind: domain.KindProduct, StockQty: 120, MinStock: 20},
		{ID: "SKU-TELUR-01", Name: "Telur 10 Butir", PriceCents: 26500, Kind: domain.KindProduct, StockQty: 40, MinStock: 10},
		{ID: "SKU-SUSU-01", Name: "Susu UHT 1L", PriceCents: 18900, Kind: domain.KindProduct, StockQty: 60, MinStock: 12},
		{ID: "SKU-KOPI-01", Name: "Kopi Sachet", PriceCents: 2600, Kind: domain.KindProduct, StockQty: 200, MinStock: 30},
		{ID: "SKU-GULA-01", Name: "Gula 1kg", PriceCents: 17400, Kind: domain.KindProduct, StockQty: 3, MinStock: 5},
		{ID: "SVC-CUKUR-01", Name: "Potong Rambut", PriceCents: 25000, Kind: domain.KindService},
		{ID: "SVC-SERVIS-01", Name: "Servis Elektronik", PriceCents: 50000, Kind: domain.KindService, CustomPriceable: true},
	} {
		item.TenantID = tenant
		item.Active = true
		s.PutCatalogItem(item)
	}

	s.PutCreditAccount(domain.CreditAccount{TenantID: tenant, CustomerID: "CUS-001", CustomerName: "Budi Santoso", CreditLimitCents: 500000})
	s.PutCreditAccount(domain.CreditAccount{TenantID: tenant, CustomerID: "CUS-002", CustomerName: "Siti Aminah", CreditLimitCents: 100000, CurrentBalanceCents: 60000})

	s.usersByUsername = seedUsers(tenant)
	return s
}

// PutCatalogItem inserts or replaces an item in its tenant's catalog.
func (s *Store) PutCatalogItem(item domain.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog[item.TenantID] == nil {
		s.catalog[item.TenantID] = make(map[string]domain.CatalogItem)
	}
	s.catalog[item.TenantID][item.ID] = item
}

func (s *Store) PutCreditAccount(account domain.CreditAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credit[account.TenantID] == nil {
		s.credit[account.TenantID] = make(map[string]domain.CreditAccount)
	}
	s.credit[account.TenantID][account.CustomerID] = account
}

func (s *Store) PutUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
}

// FailNext makes the next commit fail with err when it reaches step.
func (s *Store) FailNext(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failpoints[step] = err
}

func (s *Store) ListCatalog(_ context.Context, tenantID string) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.CatalogItem, 0, len(s.catalog[tenantID]))
	for _, item := range s.catalog[tenantID] {
		if !item.Active {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.CatalogItem) int {
		if a.Kind == b.Kind {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return items, nil
}

func (s *Store) GetCatalogItems(_ context.Context, tenantID string, ids []string) (map[string]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.CatalogItem, len(ids))
	for _, id := range ids {
		if item, ok := s.catalog[tenantID][id]; ok && item.Active {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) GetCreditAccount(_ context.Context, tenantID string, customerID string) (*domain.CreditAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.credit[tenantID][customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) NextReceiptSequence(ctx context.Context, tenantID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[tenantID]++
	return s.sequences[tenantID], nil
}

// ReceiptSequenceFloor is the highest sequence handed out or stored on a sale.
func (s *Store) ReceiptSequenceFloor(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	floor := s.sequences[tenantID]
	for _, sale := range s.salesByID {
		if sale.TenantID == tenantID && sale.ReceiptSequence > floor {
			floor = sale.ReceiptSequence
		}
	}
	return floor, nil
}

func (s *Store) FindSaleByID(_ context.Context, tenantID string, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return s.assembleSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, tenantID string, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[idemKey(tenantID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.assembleSale(s.salesByID[id]), nil
}

func (s *Store) IncrementAffinity(_ context.Context, tenantID string, customerID string, itemIDs []string) error {
	if customerID == "" || len(itemIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.affinity[tenantID] == nil {
		s.affinity[tenantID] = make(map[string]map[string]int64)
	}
	counts := s.affinity[tenantID][customerID]
	if counts == nil {
		counts = make(map[string]int64)
		s.affinity[tenantID][customerID] = counts
	}
	for _, id := range itemIDs {
		counts[id]++
	}
	return nil
}

func (s *Store) ListAffinity(_ context.Context, tenantID string, customerID string, limit int) ([]domain.AffinityCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := s.affinity[tenantID][customerID]
	result := make([]domain.AffinityCount, 0, len(counts))
	for itemID, count := range counts {
		result = append(result, domain.AffinityCount{
			ItemID: itemID,
			Name:   s.catalog[tenantID][itemID].Name,
			Count:  count,
		})
	}
	slices.SortFunc(result, func(a, b domain.AffinityCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// AuditLogs returns the tenant's audit trail in write order.
func (s *Store) AuditLogs(tenantID string) []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if entry.TenantID == tenantID {
			result = append(result, entry)
		}
	}
	return result
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) assembleSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(s.saleItems[src.ID])
	dup.PaymentSplits = slices.Clone(s.saleSplits[src.ID])
	return &dup
}

func idemKey(tenantID string, key string) string {
	return tenantID + "\x00" + key
}
