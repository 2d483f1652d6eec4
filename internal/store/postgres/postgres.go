package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables. Safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) ListCatalog(ctx context.Context, tenantID string) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, price_cents, kind, stock_qty, min_stock, custom_priceable, active
		FROM catalog_items
		WHERE tenant_id = $1 AND active = true
		ORDER BY kind, name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 64)
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetCatalogItems(ctx context.Context, tenantID string, ids []string) (map[string]domain.CatalogItem, error) {
	result := make(map[string]domain.CatalogItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, price_cents, kind, stock_qty, min_stock, custom_priceable, active
		FROM catalog_items
		WHERE tenant_id = $1 AND active = true AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanCatalogItem(rows *sql.Rows) (domain.CatalogItem, error) {
	var item domain.CatalogItem
	var kind string
	err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.PriceCents, &kind,
		&item.StockQty, &item.MinStock, &item.CustomPriceable, &item.Active)
	item.Kind = domain.ItemKind(kind)
	return item, err
}

func (s *Store) GetCreditAccount(ctx context.Context, tenantID string, customerID string) (*domain.CreditAccount, error) {
	return getCreditAccount(ctx, s.db, tenantID, customerID)
}

func getCreditAccount(ctx context.Context, q queryer, tenantID string, customerID string) (*domain.CreditAccount, error) {
	var account domain.CreditAccount
	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, customer_id, customer_name, credit_limit_cents, current_balance_cents
		FROM credit_accounts
		WHERE tenant_id = $1 AND customer_id = $2
	`, tenantID, customerID).Scan(&account.TenantID, &account.CustomerID, &account.CustomerName,
		&account.CreditLimitCents, &account.CurrentBalanceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ReceiptSequenceFloor covers both the counter row and sales, so a Redis
// counter seeded from it cannot collide with UNIQUE(tenant_id, receipt_number).
func (s *Store) ReceiptSequenceFloor(ctx context.Context, tenantID string) (int64, error) {
	var floor int64
	err := s.db.QueryRowContext(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT value FROM receipt_sequences WHERE tenant_id = $1), 0),
			COALESCE((SELECT MAX(receipt_sequence) FROM sales WHERE tenant_id = $1), 0)
		)
	`, tenantID).Scan(&floor)
	if err != nil {
		return 0, err
	}
	return floor, nil
}

// NextReceiptSequence is a single upsert, so concurrent callers serialize on
// the tenant's row and each gets a distinct value.
func (s *Store) NextReceiptSequence(ctx context.Context, tenantID string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO receipt_sequences (tenant_id, value)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id)
		DO UPDATE SET value = receipt_sequences.value + 1
		RETURNING value
	`, tenantID).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) IncrementAffinity(ctx context.Context, tenantID string, customerID string, itemIDs []string) error {
	if customerID == "" || len(itemIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_item_affinity (tenant_id, customer_id, item_id, purchase_count)
		SELECT $1, $2, item_id, count(*)
		FROM unnest($3::text[]) AS item_id
		GROUP BY item_id
		ON CONFLICT (tenant_id, customer_id, item_id)
		DO UPDATE SET purchase_count = customer_item_affinity.purchase_count + EXCLUDED.purchase_count
	`, tenantID, customerID, itemIDs)
	return err
}

func (s *Store) ListAffinity(ctx context.Context, tenantID string, customerID string, limit int) ([]domain.AffinityCount, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.item_id, COALESCE(c.name, ''), a.purchase_count
		FROM customer_item_affinity a
		LEFT JOIN catalog_items c ON c.tenant_id = a.tenant_id AND c.id = a.item_id
		WHERE a.tenant_id = $1 AND a.customer_id = $2
		ORDER BY a.purchase_count DESC, a.item_id ASC
		LIMIT $3
	`, tenantID, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AffinityCount, 0, limit)
	for rows.Next() {
		var entry domain.AffinityCount
		if err := rows.Scan(&entry.ItemID, &entry.Name, &entry.Count); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, tenant_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.TenantID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Username = strings.ToLower(user.Username)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
