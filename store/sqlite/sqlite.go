/*
Package sqlite provides a SQLite-backed implementation of the routing stores.

PURPOSE:
  Persists points of sale, companies, payment methods, routing rules and
  orders, and answers the queries the routing engine needs. In production
  the same schema maps onto PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  routing.OrderStore:     settled orders per company, cash methods per POS
  routing.RuleStore:      live rule lookup (enabled AND active, by sequence)
  routing.TimezoneSource: user zone, else point-of-sale zone

KEY TABLES:
  routing_rules:        rule configuration (target stored as decimal text)
  rule_payment_methods: explicit cash methods of a rule (empty = wildcard)
  orders:               tickets after intake, date_order in UTC
  order_payments:       payment lines of an order

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so lexical comparison in SQL
  matches chronological order. Range queries use the window's UTC bounds;
  the aggregator re-checks the local calendar day.

CONCURRENCY:
  Uses sync.RWMutex like the rest of the SQLite layer; reads run in
  parallel and never block on the routing decision itself.

USAGE:
  store, err := sqlite.New("./data/routing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  router := routing.NewRouter(routing.NewAggregator(store, logger), logger)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/cash-router/routing"
)

const timeLayout = "2006-01-02 15:04:05.000000"

var (
	// ErrDuplicateOrder is returned when an order ID is persisted twice.
	ErrDuplicateOrder = errors.New("order already exists")

	// ErrUnknownReference is returned when a row points at a missing
	// company, point of sale or payment method.
	ErrUnknownReference = errors.New("referenced record does not exist")
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared across queries.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS points_of_sale (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		company_id TEXT NOT NULL REFERENCES companies(id),
		timezone TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payment_methods (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_cash BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pos_payment_methods (
		pos_id TEXT NOT NULL REFERENCES points_of_sale(id) ON DELETE CASCADE,
		method_id TEXT NOT NULL REFERENCES payment_methods(id) ON DELETE CASCADE,
		PRIMARY KEY (pos_id, method_id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Routing rules. enabled and active are independent flags.
	CREATE TABLE IF NOT EXISTS routing_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		pos_id TEXT NOT NULL,
		fiscal_company_id TEXT NOT NULL,
		non_fiscal_company_id TEXT NOT NULL,
		target_percentage TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		sequence INTEGER NOT NULL DEFAULT 10,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (fiscal_company_id <> non_fiscal_company_id)
	);

	CREATE INDEX IF NOT EXISTS idx_rules_pos_live
		ON routing_rules(pos_id, enabled, active, sequence);

	CREATE TABLE IF NOT EXISTS rule_payment_methods (
		rule_id TEXT NOT NULL REFERENCES routing_rules(id) ON DELETE CASCADE,
		method_id TEXT NOT NULL,
		PRIMARY KEY (rule_id, method_id)
	);

	-- Orders (tickets after intake)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		pos_id TEXT NOT NULL,
		session_id TEXT,
		user_id TEXT,
		company_id TEXT NOT NULL,
		state TEXT NOT NULL,
		amount TEXT NOT NULL,
		date_order TEXT NOT NULL,
		routing_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: settled orders of one company in a day
	CREATE INDEX IF NOT EXISTS idx_orders_company_state_date
		ON orders(company_id, state, date_order);
	CREATE INDEX IF NOT EXISTS idx_orders_pos_date
		ON orders(pos_id, date_order);

	CREATE TABLE IF NOT EXISTS order_payments (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		method_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		malformed BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (order_id, seq)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"order_payments", "orders", "rule_payment_methods", "routing_rules",
		"users", "pos_payment_methods", "payment_methods", "points_of_sale", "companies",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// COMPANIES
// =============================================================================

type Company struct {
	ID        routing.CompanyID
	Name      string
	CreatedAt time.Time
}

func (s *Store) SaveCompany(ctx context.Context, c Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, c.ID, c.Name, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

func (s *Store) ListCompanies(ctx context.Context) ([]Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCompanies(ctx, "SELECT id, name, created_at FROM companies ORDER BY name, id")
}

// CompaniesForPointOfSale returns the point of sale's own company plus every
// company its orders were booked on, so receipts can show the right header.
func (s *Store) CompaniesForPointOfSale(ctx context.Context, pos routing.PointOfSaleID) ([]Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCompanies(ctx, `
		SELECT id, name, created_at FROM companies
		WHERE id IN (
			SELECT company_id FROM points_of_sale WHERE id = ?
			UNION
			SELECT DISTINCT company_id FROM orders WHERE pos_id = ?
		)
		ORDER BY name, id
	`, pos, pos)
}

func (s *Store) queryCompanies(ctx context.Context, query string, args ...any) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query companies: %w", err)
	}
	defer rows.Close()

	var result []Company
	for rows.Next() {
		var c Company
		var created string
		if err := rows.Scan(&c.ID, &c.Name, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		result = append(result, c)
	}
	return result, rows.Err()
}

// =============================================================================
// POINTS OF SALE & PAYMENT METHODS
// =============================================================================

type PointOfSale struct {
	ID        routing.PointOfSaleID
	Name      string
	CompanyID routing.CompanyID // default company for unrouted tickets
	Timezone  string
	CreatedAt time.Time
}

type PaymentMethod struct {
	ID     routing.PaymentMethodID
	Name   string
	IsCash bool
}

func (s *Store) SavePointOfSale(ctx context.Context, p PointOfSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO points_of_sale (id, name, company_id, timezone, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, company_id = excluded.company_id, timezone = excluded.timezone
	`, p.ID, p.Name, p.CompanyID, p.Timezone, formatTime(time.Now()))
	if isForeignKeyError(err) {
		return ErrUnknownReference
	}
	if err != nil {
		return fmt.Errorf("failed to save point of sale: %w", err)
	}
	return nil
}

// GetPointOfSale returns nil when the point of sale doesn't exist.
func (s *Store) GetPointOfSale(ctx context.Context, id routing.PointOfSaleID) (*PointOfSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p PointOfSale
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, company_id, timezone, created_at FROM points_of_sale WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.CompanyID, &p.Timezone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get point of sale: %w", err)
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func (s *Store) ListPointsOfSale(ctx context.Context) ([]PointOfSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, company_id, timezone, created_at FROM points_of_sale ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list points of sale: %w", err)
	}
	defer rows.Close()

	var result []PointOfSale
	for rows.Next() {
		var p PointOfSale
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.CompanyID, &p.Timezone, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) SavePaymentMethod(ctx context.Context, m PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_methods (id, name, is_cash, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_cash = excluded.is_cash
	`, m.ID, m.Name, m.IsCash, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	return nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPaymentMethods(ctx, "SELECT id, name, is_cash FROM payment_methods ORDER BY id")
}

// AttachPaymentMethod makes a method available at a point of sale.
func (s *Store) AttachPaymentMethod(ctx context.Context, pos routing.PointOfSaleID, method routing.PaymentMethodID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO pos_payment_methods (pos_id, method_id) VALUES (?, ?)", pos, method)
	if isForeignKeyError(err) {
		return ErrUnknownReference
	}
	if err != nil {
		return fmt.Errorf("failed to attach payment method: %w", err)
	}
	return nil
}

// PaymentMethodsFor lists every method available at a point of sale.
func (s *Store) PaymentMethodsFor(ctx context.Context, pos routing.PointOfSaleID) ([]PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPaymentMethods(ctx, `
		SELECT m.id, m.name, m.is_cash FROM payment_methods m
		JOIN pos_payment_methods pm ON pm.method_id = m.id
		WHERE pm.pos_id = ?
		ORDER BY m.id
	`, pos)
}

func (s *Store) queryPaymentMethods(ctx context.Context, query string, args ...any) ([]PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	var result []PaymentMethod
	for rows.Next() {
		var m PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name, &m.IsCash); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// FindCashPaymentMethods implements routing.OrderStore.
func (s *Store) FindCashPaymentMethods(ctx context.Context, pos routing.PointOfSaleID) ([]routing.PaymentMethodID, error) {
	methods, err := s.PaymentMethodsFor(ctx, pos)
	if err != nil {
		return nil, err
	}
	var ids []routing.PaymentMethodID
	for _, m := range methods {
		if m.IsCash {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// =============================================================================
// USERS
// =============================================================================

type User struct {
	ID       routing.UserID
	Name     string
	Timezone string
}

func (s *Store) SaveUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, timezone, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, timezone = excluded.timezone
	`, u.ID, u.Name, u.Timezone, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Timezone implements routing.TimezoneSource.
func (s *Store) Timezone(ctx context.Context, user routing.UserID, pos routing.PointOfSaleID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tz string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(
			(SELECT NULLIF(timezone, '') FROM users WHERE id = ?),
			(SELECT NULLIF(timezone, '') FROM points_of_sale WHERE id = ?),
			''
		)
	`, user, pos).Scan(&tz)
	if err != nil {
		return "", fmt.Errorf("failed to resolve timezone: %w", err)
	}
	return tz, nil
}

// =============================================================================
// ROUTING RULES (routing.RuleStore)
// =============================================================================

// SaveRule inserts or replaces a rule and its cash methods atomically.
// Callers validate first; the CHECK constraint is a last line only.
func (s *Store) SaveRule(ctx context.Context, r routing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := formatTime(time.Now())
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO routing_rules
		(id, name, pos_id, fiscal_company_id, non_fiscal_company_id, target_percentage,
		 enabled, active, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pos_id = excluded.pos_id,
			fiscal_company_id = excluded.fiscal_company_id,
			non_fiscal_company_id = excluded.non_fiscal_company_id,
			target_percentage = excluded.target_percentage,
			enabled = excluded.enabled,
			active = excluded.active,
			sequence = excluded.sequence,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, r.PointOfSaleID, r.FiscalCompanyID, r.NonFiscalCompanyID,
		r.TargetNonFiscalPercentage.String(), r.Enabled, r.Active, r.Sequence, now, now)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM rule_payment_methods WHERE rule_id = ?", r.ID); err != nil {
		return fmt.Errorf("failed to clear rule methods: %w", err)
	}
	for _, m := range routing.NewMethodSet(r.CashPaymentMethodIDs...).Sorted() {
		if _, err := sqlTx.ExecContext(ctx,
			"INSERT INTO rule_payment_methods (rule_id, method_id) VALUES (?, ?)", r.ID, m); err != nil {
			return fmt.Errorf("failed to save rule method: %w", err)
		}
	}

	return sqlTx.Commit()
}

// GetRule returns routing.ErrRuleNotFound when absent.
func (s *Store) GetRule(ctx context.Context, id routing.RuleID) (routing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules, err := s.queryRules(ctx, "WHERE id = ?", id)
	if err != nil {
		return routing.Rule{}, err
	}
	if len(rules) == 0 {
		return routing.Rule{}, routing.ErrRuleNotFound
	}
	return rules[0], nil
}

// ListRules returns all rules, including disabled and archived ones.
func (s *Store) ListRules(ctx context.Context) ([]routing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRules(ctx, "")
}

// ListLiveRules returns enabled, active rules.
func (s *Store) ListLiveRules(ctx context.Context) ([]routing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRules(ctx, "WHERE enabled = 1 AND active = 1")
}

// ArchiveRule clears the active flag without touching enabled.
func (s *Store) ArchiveRule(ctx context.Context, id routing.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE routing_rules SET active = 0, updated_at = ? WHERE id = ?", formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to archive rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return routing.ErrRuleNotFound
	}
	return nil
}

// ActiveRule implements routing.RuleStore.
func (s *Store) ActiveRule(ctx context.Context, pos routing.PointOfSaleID) (*routing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules, err := s.queryRules(ctx, "WHERE pos_id = ? AND enabled = 1 AND active = 1", pos)
	if err != nil {
		return nil, err
	}
	return routing.SelectRule(rules, pos), nil
}

func (s *Store) queryRules(ctx context.Context, where string, args ...any) ([]routing.Rule, error) {
	query := `
		SELECT id, name, pos_id, fiscal_company_id, non_fiscal_company_id, target_percentage,
		       enabled, active, sequence
		FROM routing_rules ` + where + `
		ORDER BY sequence ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	var rules []routing.Rule
	for rows.Next() {
		var r routing.Rule
		var target string
		if err := rows.Scan(&r.ID, &r.Name, &r.PointOfSaleID, &r.FiscalCompanyID, &r.NonFiscalCompanyID,
			&target, &r.Enabled, &r.Active, &r.Sequence); err != nil {
			rows.Close()
			return nil, err
		}
		r.TargetNonFiscalPercentage, err = decimal.NewFromString(target)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("rule %s has invalid target %q: %w", r.ID, target, err)
		}
		rules = append(rules, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rules {
		methods, err := s.ruleMethods(ctx, rules[i].ID)
		if err != nil {
			return nil, err
		}
		rules[i].CashPaymentMethodIDs = methods
	}
	return rules, nil
}

func (s *Store) ruleMethods(ctx context.Context, id routing.RuleID) ([]routing.PaymentMethodID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT method_id FROM rule_payment_methods WHERE rule_id = ? ORDER BY method_id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule methods: %w", err)
	}
	defer rows.Close()

	var ids []routing.PaymentMethodID
	for rows.Next() {
		var m routing.PaymentMethodID
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		ids = append(ids, m)
	}
	return ids, rows.Err()
}

// =============================================================================
// ORDERS (routing.OrderStore)
// =============================================================================

// OrderRecord is an order row with its intake metadata.
type OrderRecord struct {
	routing.Order
	SessionID     string
	UserID        routing.UserID
	RoutingReason routing.Reason
	CreatedAt     time.Time
}

// PersistTicket records a ticket as a paid order. When routing left the
// company empty, the point of sale's company is used.
func (s *Store) PersistTicket(ctx context.Context, t *routing.Ticket, reason routing.Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CompanyID == "" {
		var company routing.CompanyID
		err := s.db.QueryRowContext(ctx, "SELECT company_id FROM points_of_sale WHERE id = ?", t.PointOfSaleID).Scan(&company)
		if errors.Is(err, sql.ErrNoRows) {
			return routing.ErrPointOfSaleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to resolve default company: %w", err)
		}
		t.CompanyID = company
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := formatTime(time.Now())
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO orders
		(id, pos_id, session_id, user_id, company_id, state, amount, date_order, routing_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PointOfSaleID, nullString(t.SessionID), nullString(string(t.UserID)), t.CompanyID,
		routing.OrderPaid, t.Amount.String(), formatTime(t.DateOrder), nullString(string(reason)), now, now)
	if isUniqueConstraintError(err) {
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, l := range t.PaymentLines {
		_, err := sqlTx.ExecContext(ctx,
			"INSERT INTO order_payments (order_id, seq, method_id, amount, malformed) VALUES (?, ?, ?, ?, ?)",
			t.ID, i, l.MethodID, l.Amount.String(), l.Malformed)
		if err != nil {
			return fmt.Errorf("failed to insert payment line: %w", err)
		}
	}

	return sqlTx.Commit()
}

// VoidOrder cancels an order; it stops counting on the next aggregation.
func (s *Store) VoidOrder(ctx context.Context, id routing.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET state = ?, updated_at = ? WHERE id = ?", routing.OrderCanceled, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to void order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return routing.ErrOrderNotFound
	}
	return nil
}

// GetOrder returns routing.ErrOrderNotFound when absent.
func (s *Store) GetOrder(ctx context.Context, id routing.OrderID) (OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.queryOrders(ctx, "WHERE o.id = ?", id)
	if err != nil {
		return OrderRecord{}, err
	}
	if len(records) == 0 {
		return OrderRecord{}, routing.ErrOrderNotFound
	}
	return records[0], nil
}

// ListOrders returns every order of a point of sale inside window.
func (s *Store) ListOrders(ctx context.Context, pos routing.PointOfSaleID, window routing.Window) ([]OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOrders(ctx, "WHERE o.pos_id = ? AND o.date_order >= ? AND o.date_order <= ?",
		pos, formatTime(window.Start), formatTime(window.End))
}

// FindSettledOrders implements routing.OrderStore.
func (s *Store) FindSettledOrders(ctx context.Context, company routing.CompanyID, window routing.Window) ([]routing.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]string, len(routing.SettledStates))
	args := []any{company}
	for i, st := range routing.SettledStates {
		states[i] = "?"
		args = append(args, st)
	}
	args = append(args, formatTime(window.Start), formatTime(window.End))

	records, err := s.queryOrders(ctx,
		"WHERE o.company_id = ? AND o.state IN ("+strings.Join(states, ", ")+") AND o.date_order >= ? AND o.date_order <= ?",
		args...)
	if err != nil {
		return nil, err
	}

	orders := make([]routing.Order, len(records))
	for i, r := range records {
		orders[i] = r.Order
	}
	return orders, nil
}

func (s *Store) queryOrders(ctx context.Context, where string, args ...any) ([]OrderRecord, error) {
	query := `
		SELECT o.id, o.pos_id, o.session_id, o.user_id, o.company_id, o.state, o.amount,
		       o.date_order, o.routing_reason, o.created_at,
		       p.method_id, p.amount, p.malformed
		FROM orders o
		LEFT JOIN order_payments p ON p.order_id = o.id
		` + where + `
		ORDER BY o.date_order ASC, o.id ASC, p.seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []OrderRecord
	index := make(map[routing.OrderID]int)
	for rows.Next() {
		var (
			r                          OrderRecord
			session, user, reason      sql.NullString
			amount, dateOrder, created string
			method, lineAmount         sql.NullString
			malformed                  sql.NullBool
		)
		if err := rows.Scan(&r.ID, &r.PointOfSaleID, &session, &user, &r.CompanyID, &r.State, &amount,
			&dateOrder, &reason, &created, &method, &lineAmount, &malformed); err != nil {
			return nil, err
		}

		i, seen := index[r.ID]
		if !seen {
			r.SessionID = session.String
			r.UserID = routing.UserID(user.String)
			r.RoutingReason = routing.Reason(reason.String)
			r.Amount = decimalOrZero(amount)
			r.DateOrder = parseTime(dateOrder)
			r.CreatedAt = parseTime(created)
			result = append(result, r)
			i = len(result) - 1
			index[r.ID] = i
		}

		if lineAmount.Valid {
			line := routing.PaymentLine{
				MethodID:  routing.PaymentMethodID(method.String),
				Malformed: malformed.Bool,
			}
			if d, err := decimal.NewFromString(lineAmount.String); err == nil {
				line.Amount = d
			} else {
				line.Malformed = true
			}
			result[i].PaymentLines = append(result[i].PaymentLines, line)
		}
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// isUniqueConstraintError checks if the error is a UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
