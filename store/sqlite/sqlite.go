/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists profiles, catalogs, locations, and both ledger entry tables in
  SQLite. The same SQL shapes apply to PostgreSQL (see store/postgres) with
  only placeholder and dialect differences.

KEY TABLES:
  profiles          customer state (available_balance, total_spend)
  services          service catalog (price, minutes_available)
  products          product catalog
  product_stock     stock keyed by (product_id, location_code)
  locations         branches with legacy two-digit stock codes
  service_entries   immutable minute ledger
  product_entries   immutable sales ledger

BALANCE ATOMICITY:
  SpendBalance is one conditional UPDATE:

    UPDATE profiles SET available_balance = available_balance - ?
    WHERE customer_id = ? AND available_balance >= ?

  with an affected-rows check. The sufficiency check IS the decrement, so
  two concurrent spends can never both pass.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery
  A sync.RWMutex additionally serializes writers in-process.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface contracts
  - store/postgres: the PostgreSQL twin
  - store/memory: in-memory implementation for tests
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

	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: keeps ":memory:" databases coherent across the pool and
	// avoids SQLITE_BUSY under writer contention.
	db.SetMaxOpenConns(1)

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

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		customer_id INTEGER PRIMARY KEY,
		role TEXT NOT NULL DEFAULT 'customer',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		available_balance INTEGER NOT NULL DEFAULT 0,
		total_spend INTEGER NOT NULL DEFAULT 0,
		preferred_location INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		minutes_available INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price TEXT NOT NULL
	);

	-- Stock by legacy location code; codes without a row are no-ops
	CREATE TABLE IF NOT EXISTS product_stock (
		product_id INTEGER NOT NULL,
		location_code TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (product_id, location_code)
	);

	CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		post_code TEXT NOT NULL DEFAULT ''
	);

	-- Immutable minute ledger
	CREATE TABLE IF NOT EXISTS service_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		service_id INTEGER NOT NULL DEFAULT 0,
		entry_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		location_id INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_service_entries_customer_type
		ON service_entries(customer_id, entry_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_service_entries_type_date
		ON service_entries(entry_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_service_entries_location
		ON service_entries(location_id);

	-- Immutable sales ledger
	CREATE TABLE IF NOT EXISTS product_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		location_id INTEGER NOT NULL DEFAULT 0,
		quantity INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_product_entries_date
		ON product_entries(created_at);
	CREATE INDEX IF NOT EXISTS idx_product_entries_location
		ON product_entries(location_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the common surface of *sql.DB and *sql.Tx. All query logic lives in
// package-level functions taking a dbtx, so the same code serves both the
// direct path and the transactional path.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, id ledger.CustomerID) (*ledger.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProfile(ctx, s.db, id)
}

func getProfile(ctx context.Context, db dbtx, id ledger.CustomerID) (*ledger.Profile, error) {
	var p ledger.Profile
	var createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT customer_id, role, first_name, last_name, email, phone_number,
		       available_balance, total_spend, preferred_location, created_at
		FROM profiles WHERE customer_id = ?`, id).
		Scan(&p.CustomerID, &p.Role, &p.FirstName, &p.LastName, &p.Email,
			&p.PhoneNumber, &p.AvailableBalance, &p.TotalSpend, &p.PreferredLocation, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p ledger.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveProfile(ctx, s.db, p)
}

func saveProfile(ctx context.Context, db dbtx, p ledger.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Role == "" {
		p.Role = ledger.RoleCustomer
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO profiles
			(customer_id, role, first_name, last_name, email, phone_number,
			 available_balance, total_spend, preferred_location, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			role = excluded.role,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			phone_number = excluded.phone_number,
			preferred_location = excluded.preferred_location`,
		p.CustomerID, p.Role, p.FirstName, p.LastName, p.Email, p.PhoneNumber,
		p.AvailableBalance, p.TotalSpend, p.PreferredLocation,
		p.CreatedAt.Format(time.RFC3339))
	return err
}

func (s *Store) ListProfiles(ctx context.Context) ([]ledger.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProfiles(ctx, s.db)
}

func listProfiles(ctx context.Context, db dbtx) ([]ledger.Profile, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT customer_id, role, first_name, last_name, email, phone_number,
		       available_balance, total_spend, preferred_location, created_at
		FROM profiles ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []ledger.Profile
	for rows.Next() {
		var p ledger.Profile
		var createdAt string
		if err := rows.Scan(&p.CustomerID, &p.Role, &p.FirstName, &p.LastName, &p.Email,
			&p.PhoneNumber, &p.AvailableBalance, &p.TotalSpend, &p.PreferredLocation, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *Store) AdjustBalance(ctx context.Context, id ledger.CustomerID, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustBalance(ctx, s.db, id, delta)
}

func adjustBalance(ctx context.Context, db dbtx, id ledger.CustomerID, delta int) (int, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE profiles SET available_balance = available_balance + ? WHERE customer_id = ?`,
		delta, id)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ledger.ErrCustomerNotFound
	}

	var balance int
	err = db.QueryRowContext(ctx,
		`SELECT available_balance FROM profiles WHERE customer_id = ?`, id).Scan(&balance)
	return balance, err
}

func (s *Store) SpendBalance(ctx context.Context, id ledger.CustomerID, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return spendBalance(ctx, s.db, id, amount)
}

func spendBalance(ctx context.Context, db dbtx, id ledger.CustomerID, amount int) (int, error) {
	// The sufficiency check and the decrement are one statement; the
	// affected-rows count tells us whether it passed.
	res, err := db.ExecContext(ctx, `
		UPDATE profiles SET available_balance = available_balance - ?
		WHERE customer_id = ? AND available_balance >= ?`,
		amount, id, amount)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	var available int
	err = db.QueryRowContext(ctx,
		`SELECT available_balance FROM profiles WHERE customer_id = ?`, id).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, &ledger.InsufficientBalanceError{CustomerID: id, Available: available, Requested: amount}
	}
	return available, nil
}

func (s *Store) AddTotalSpend(ctx context.Context, id ledger.CustomerID, minutes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addTotalSpend(ctx, s.db, id, minutes)
}

func addTotalSpend(ctx context.Context, db dbtx, id ledger.CustomerID, minutes int) (int, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE profiles SET total_spend = total_spend + ? WHERE customer_id = ?`,
		minutes, id)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ledger.ErrCustomerNotFound
	}

	var total int
	err = db.QueryRowContext(ctx,
		`SELECT total_spend FROM profiles WHERE customer_id = ?`, id).Scan(&total)
	return total, err
}

// =============================================================================
// SERVICE CATALOG
// =============================================================================

func (s *Store) GetService(ctx context.Context, id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getService(ctx, s.db, id)
}

func getService(ctx context.Context, db dbtx, id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	var svc ledger.ServiceCatalogEntry
	var price string
	err := db.QueryRowContext(ctx,
		`SELECT id, name, price, minutes_available FROM services WHERE id = ?`, id).
		Scan(&svc.ID, &svc.Name, &price, &svc.MinutesAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	svc.Price = parsePrice(price)
	return &svc, nil
}

func (s *Store) GetServicesByIDs(ctx context.Context, ids []ledger.ServiceID) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getServicesByIDs(ctx, s.db, ids)
}

func getServicesByIDs(ctx context.Context, db dbtx, ids []ledger.ServiceID) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, error) {
	out := make(map[ledger.ServiceID]ledger.ServiceCatalogEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, price, minutes_available FROM services WHERE id IN (`+
			placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var svc ledger.ServiceCatalogEntry
		var price string
		if err := rows.Scan(&svc.ID, &svc.Name, &price, &svc.MinutesAvailable); err != nil {
			return nil, err
		}
		svc.Price = parsePrice(price)
		out[svc.ID] = svc
	}
	return out, rows.Err()
}

func (s *Store) SaveService(ctx context.Context, svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveService(ctx, s.db, svc)
}

func saveService(ctx context.Context, db dbtx, svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	if svc.ID == 0 {
		res, err := db.ExecContext(ctx,
			`INSERT INTO services (name, price, minutes_available) VALUES (?, ?, ?)`,
			svc.Name, svc.Price.String(), svc.MinutesAvailable)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		return ledger.ServiceID(id), err
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO services (id, name, price, minutes_available) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			minutes_available = excluded.minutes_available`,
		svc.ID, svc.Name, svc.Price.String(), svc.MinutesAvailable)
	return svc.ID, err
}

func (s *Store) ListServices(ctx context.Context) ([]ledger.ServiceCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listServices(ctx, s.db)
}

func listServices(ctx context.Context, db dbtx) ([]ledger.ServiceCatalogEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, price, minutes_available FROM services ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []ledger.ServiceCatalogEntry
	for rows.Next() {
		var svc ledger.ServiceCatalogEntry
		var price string
		if err := rows.Scan(&svc.ID, &svc.Name, &price, &svc.MinutesAvailable); err != nil {
			return nil, err
		}
		svc.Price = parsePrice(price)
		services = append(services, svc)
	}
	return services, rows.Err()
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, db dbtx, id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	var p ledger.ProductCatalogEntry
	var price string
	err := db.QueryRowContext(ctx,
		`SELECT id, name, price FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Price = parsePrice(price)

	p.Stock, err = loadStock(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func loadStock(ctx context.Context, db dbtx, id ledger.ProductID) (map[string]int, error) {
	stock := make(map[string]int)
	rows, err := db.QueryContext(ctx,
		`SELECT location_code, quantity FROM product_stock WHERE product_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var qty int
		if err := rows.Scan(&code, &qty); err != nil {
			return nil, err
		}
		stock[code] = qty
	}
	return stock, rows.Err()
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []ledger.ProductID) (map[ledger.ProductID]ledger.ProductCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProductsByIDs(ctx, s.db, ids)
}

func getProductsByIDs(ctx context.Context, db dbtx, ids []ledger.ProductID) (map[ledger.ProductID]ledger.ProductCatalogEntry, error) {
	out := make(map[ledger.ProductID]ledger.ProductCatalogEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, price FROM products WHERE id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p ledger.ProductCatalogEntry
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &price); err != nil {
			return nil, err
		}
		p.Price = parsePrice(price)
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) SaveProduct(ctx context.Context, p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveProduct(ctx, s.db, p)
}

func saveProduct(ctx context.Context, db dbtx, p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	if p.ID == 0 {
		res, err := db.ExecContext(ctx,
			`INSERT INTO products (name, price) VALUES (?, ?)`, p.Name, p.Price.String())
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		p.ID = ledger.ProductID(id)
	} else {
		_, err := db.ExecContext(ctx, `
			INSERT INTO products (id, name, price) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, price = excluded.price`,
			p.ID, p.Name, p.Price.String())
		if err != nil {
			return 0, err
		}
	}

	// Seed the standard stock buckets when the caller didn't provide any.
	stock := p.Stock
	if stock == nil {
		stock = make(map[string]int, len(ledger.StockCodes))
		for _, code := range ledger.StockCodes {
			stock[code] = 0
		}
	}
	for code, qty := range stock {
		_, err := db.ExecContext(ctx, `
			INSERT INTO product_stock (product_id, location_code, quantity) VALUES (?, ?, ?)
			ON CONFLICT(product_id, location_code) DO UPDATE SET quantity = excluded.quantity`,
			p.ID, code, qty)
		if err != nil {
			return 0, err
		}
	}
	return p.ID, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]ledger.ProductCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProducts(ctx, s.db)
}

func listProducts(ctx context.Context, db dbtx) ([]ledger.ProductCatalogEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, price FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []ledger.ProductCatalogEntry
	for rows.Next() {
		var p ledger.ProductCatalogEntry
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &price); err != nil {
			return nil, err
		}
		p.Price = parsePrice(price)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range products {
		stock, err := loadStock(ctx, db, products[i].ID)
		if err != nil {
			return nil, err
		}
		products[i].Stock = stock
	}
	return products, nil
}

func (s *Store) AdjustStock(ctx context.Context, id ledger.ProductID, code string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustStock(ctx, s.db, id, code, delta)
}

func adjustStock(ctx context.Context, db dbtx, id ledger.ProductID, code string, delta int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE product_stock SET quantity = quantity + ?
		WHERE product_id = ? AND location_code = ?`,
		delta, id, code)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// No bucket for this code. Unknown codes are a documented no-op; a
	// missing product is an error.
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE id = ?`, id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ledger.ErrProductNotFound
	}
	return nil
}

// =============================================================================
// LOCATIONS
// =============================================================================

func (s *Store) GetLocation(ctx context.Context, id ledger.LocationID) (*ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLocation(ctx, s.db, id)
}

func getLocation(ctx context.Context, db dbtx, id ledger.LocationID) (*ledger.Location, error) {
	var l ledger.Location
	err := db.QueryRowContext(ctx, `
		SELECT id, name, code, address, city, phone_number, post_code
		FROM locations WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &l.Code, &l.Address, &l.City, &l.PhoneNumber, &l.PostCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrLocationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) GetLocationsByIDs(ctx context.Context, ids []ledger.LocationID) (map[ledger.LocationID]ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLocationsByIDs(ctx, s.db, ids)
}

func getLocationsByIDs(ctx context.Context, db dbtx, ids []ledger.LocationID) (map[ledger.LocationID]ledger.Location, error) {
	out := make(map[ledger.LocationID]ledger.Location, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, code, address, city, phone_number, post_code
		FROM locations WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l ledger.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Code, &l.Address, &l.City, &l.PhoneNumber, &l.PostCode); err != nil {
			return nil, err
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

func (s *Store) SaveLocation(ctx context.Context, l ledger.Location) (ledger.LocationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLocation(ctx, s.db, l)
}

func saveLocation(ctx context.Context, db dbtx, l ledger.Location) (ledger.LocationID, error) {
	if l.ID == 0 {
		res, err := db.ExecContext(ctx, `
			INSERT INTO locations (name, code, address, city, phone_number, post_code)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.Name, l.Code, l.Address, l.City, l.PhoneNumber, l.PostCode)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		return ledger.LocationID(id), err
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO locations (id, name, code, address, city, phone_number, post_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			address = excluded.address,
			city = excluded.city,
			phone_number = excluded.phone_number,
			post_code = excluded.post_code`,
		l.ID, l.Name, l.Code, l.Address, l.City, l.PhoneNumber, l.PostCode)
	return l.ID, err
}

func (s *Store) ListLocations(ctx context.Context) ([]ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLocations(ctx, s.db)
}

func listLocations(ctx context.Context, db dbtx) ([]ledger.Location, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, code, address, city, phone_number, post_code
		FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []ledger.Location
	for rows.Next() {
		var l ledger.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Code, &l.Address, &l.City, &l.PhoneNumber, &l.PostCode); err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// =============================================================================
// SERVICE LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendServiceEntry(ctx context.Context, e ledger.ServiceEntry) (*ledger.ServiceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendServiceEntry(ctx, s.db, e)
}

func appendServiceEntry(ctx context.Context, db dbtx, e ledger.ServiceEntry) (*ledger.ServiceEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO service_entries (customer_id, service_id, entry_type, quantity, location_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.CustomerID, e.ServiceID, e.Type, e.Quantity, e.LocationID,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to append service entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	e.ID = ledger.EntryID(id)
	return &e, nil
}

func (s *Store) GetServiceEntry(ctx context.Context, id ledger.EntryID) (*ledger.ServiceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getServiceEntry(ctx, s.db, id)
}

func getServiceEntry(ctx context.Context, db dbtx, id ledger.EntryID) (*ledger.ServiceEntry, error) {
	var e ledger.ServiceEntry
	var createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT id, customer_id, service_id, entry_type, quantity, location_id, created_at
		FROM service_entries WHERE id = ?`, id).
		Scan(&e.ID, &e.CustomerID, &e.ServiceID, &e.Type, &e.Quantity, &e.LocationID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

func (s *Store) DeleteServiceEntry(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteServiceEntry(ctx, s.db, id)
}

func deleteServiceEntry(ctx context.Context, db dbtx, id ledger.EntryID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM service_entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func serviceEntryWhere(f ledger.ServiceEntryFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.CustomerID != 0 {
		clauses = append(clauses, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.Type != "" {
		clauses = append(clauses, "entry_type = ?")
		args = append(args, f.Type)
	}
	if f.LocationID != 0 {
		clauses = append(clauses, "location_id = ?")
		args = append(args, f.LocationID)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListServiceEntries(ctx context.Context, f ledger.ServiceEntryFilter) ([]ledger.ServiceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listServiceEntries(ctx, s.db, f)
}

func listServiceEntries(ctx context.Context, db dbtx, f ledger.ServiceEntryFilter) ([]ledger.ServiceEntry, error) {
	where, args := serviceEntryWhere(f)
	rows, err := db.QueryContext(ctx, `
		SELECT id, customer_id, service_id, entry_type, quantity, location_id, created_at
		FROM service_entries`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.ServiceEntry
	for rows.Next() {
		var e ledger.ServiceEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.ServiceID, &e.Type, &e.Quantity, &e.LocationID, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) LatestPurchase(ctx context.Context, id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestPurchase(ctx, s.db, id)
}

func latestPurchase(ctx context.Context, db dbtx, id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	var e ledger.ServiceEntry
	var createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT id, customer_id, service_id, entry_type, quantity, location_id, created_at
		FROM service_entries
		WHERE customer_id = ? AND entry_type = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		id, ledger.EntryPurchased).
		Scan(&e.ID, &e.CustomerID, &e.ServiceID, &e.Type, &e.Quantity, &e.LocationID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

func (s *Store) SumServiceQuantity(ctx context.Context, f ledger.ServiceEntryFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumServiceQuantity(ctx, s.db, f)
}

func sumServiceQuantity(ctx context.Context, db dbtx, f ledger.ServiceEntryFilter) (int, error) {
	where, args := serviceEntryWhere(f)
	var total int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM service_entries`+where, args...).Scan(&total)
	return total, err
}

// =============================================================================
// PRODUCT LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendProductEntry(ctx context.Context, e ledger.ProductEntry) (*ledger.ProductEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendProductEntry(ctx, s.db, e)
}

func appendProductEntry(ctx context.Context, db dbtx, e ledger.ProductEntry) (*ledger.ProductEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO product_entries (customer_id, product_id, location_id, quantity, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.CustomerID, e.ProductID, e.LocationID, e.Quantity,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to append product entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	e.ID = ledger.EntryID(id)
	return &e, nil
}

func (s *Store) GetProductEntry(ctx context.Context, id ledger.EntryID) (*ledger.ProductEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProductEntry(ctx, s.db, id)
}

func getProductEntry(ctx context.Context, db dbtx, id ledger.EntryID) (*ledger.ProductEntry, error) {
	var e ledger.ProductEntry
	var createdAt string
	err := db.QueryRowContext(ctx, `
		SELECT id, customer_id, product_id, location_id, quantity, created_at
		FROM product_entries WHERE id = ?`, id).
		Scan(&e.ID, &e.CustomerID, &e.ProductID, &e.LocationID, &e.Quantity, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

func (s *Store) DeleteProductEntry(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteProductEntry(ctx, s.db, id)
}

func deleteProductEntry(ctx context.Context, db dbtx, id ledger.EntryID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM product_entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

func (s *Store) ListProductEntries(ctx context.Context, f ledger.ProductEntryFilter) ([]ledger.ProductEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProductEntries(ctx, s.db, f)
}

func listProductEntries(ctx context.Context, db dbtx, f ledger.ProductEntryFilter) ([]ledger.ProductEntry, error) {
	var clauses []string
	var args []any
	if f.CustomerID != 0 {
		clauses = append(clauses, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.LocationID != 0 {
		clauses = append(clauses, "location_id = ?")
		args = append(args, f.LocationID)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, customer_id, product_id, location_id, quantity, created_at
		FROM product_entries`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.ProductEntry
	for rows.Next() {
		var e ledger.ProductEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.ProductID, &e.LocationID, &e.Quantity, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within one database transaction. A rollback on error
// undoes every write fn performed.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through the open transaction. The parent's mutex
// is already held by WithTx, so no methods here take locks.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetProfile(ctx context.Context, id ledger.CustomerID) (*ledger.Profile, error) {
	return getProfile(ctx, ts.tx, id)
}
func (ts *txStore) SaveProfile(ctx context.Context, p ledger.Profile) error {
	return saveProfile(ctx, ts.tx, p)
}
func (ts *txStore) ListProfiles(ctx context.Context) ([]ledger.Profile, error) {
	return listProfiles(ctx, ts.tx)
}
func (ts *txStore) AdjustBalance(ctx context.Context, id ledger.CustomerID, delta int) (int, error) {
	return adjustBalance(ctx, ts.tx, id, delta)
}
func (ts *txStore) SpendBalance(ctx context.Context, id ledger.CustomerID, amount int) (int, error) {
	return spendBalance(ctx, ts.tx, id, amount)
}
func (ts *txStore) AddTotalSpend(ctx context.Context, id ledger.CustomerID, minutes int) (int, error) {
	return addTotalSpend(ctx, ts.tx, id, minutes)
}
func (ts *txStore) GetService(ctx context.Context, id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	return getService(ctx, ts.tx, id)
}
func (ts *txStore) GetServicesByIDs(ctx context.Context, ids []ledger.ServiceID) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, error) {
	return getServicesByIDs(ctx, ts.tx, ids)
}
func (ts *txStore) SaveService(ctx context.Context, svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	return saveService(ctx, ts.tx, svc)
}
func (ts *txStore) ListServices(ctx context.Context) ([]ledger.ServiceCatalogEntry, error) {
	return listServices(ctx, ts.tx)
}
func (ts *txStore) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	return getProduct(ctx, ts.tx, id)
}
func (ts *txStore) GetProductsByIDs(ctx context.Context, ids []ledger.ProductID) (map[ledger.ProductID]ledger.ProductCatalogEntry, error) {
	return getProductsByIDs(ctx, ts.tx, ids)
}
func (ts *txStore) SaveProduct(ctx context.Context, p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	return saveProduct(ctx, ts.tx, p)
}
func (ts *txStore) ListProducts(ctx context.Context) ([]ledger.ProductCatalogEntry, error) {
	return listProducts(ctx, ts.tx)
}
func (ts *txStore) AdjustStock(ctx context.Context, id ledger.ProductID, code string, delta int) error {
	return adjustStock(ctx, ts.tx, id, code, delta)
}
func (ts *txStore) GetLocation(ctx context.Context, id ledger.LocationID) (*ledger.Location, error) {
	return getLocation(ctx, ts.tx, id)
}
func (ts *txStore) GetLocationsByIDs(ctx context.Context, ids []ledger.LocationID) (map[ledger.LocationID]ledger.Location, error) {
	return getLocationsByIDs(ctx, ts.tx, ids)
}
func (ts *txStore) SaveLocation(ctx context.Context, l ledger.Location) (ledger.LocationID, error) {
	return saveLocation(ctx, ts.tx, l)
}
func (ts *txStore) ListLocations(ctx context.Context) ([]ledger.Location, error) {
	return listLocations(ctx, ts.tx)
}
func (ts *txStore) AppendServiceEntry(ctx context.Context, e ledger.ServiceEntry) (*ledger.ServiceEntry, error) {
	return appendServiceEntry(ctx, ts.tx, e)
}
func (ts *txStore) GetServiceEntry(ctx context.Context, id ledger.EntryID) (*ledger.ServiceEntry, error) {
	return getServiceEntry(ctx, ts.tx, id)
}
func (ts *txStore) DeleteServiceEntry(ctx context.Context, id ledger.EntryID) error {
	return deleteServiceEntry(ctx, ts.tx, id)
}
func (ts *txStore) ListServiceEntries(ctx context.Context, f ledger.ServiceEntryFilter) ([]ledger.ServiceEntry, error) {
	return listServiceEntries(ctx, ts.tx, f)
}
func (ts *txStore) LatestPurchase(ctx context.Context, id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	return latestPurchase(ctx, ts.tx, id)
}
func (ts *txStore) SumServiceQuantity(ctx context.Context, f ledger.ServiceEntryFilter) (int, error) {
	return sumServiceQuantity(ctx, ts.tx, f)
}
func (ts *txStore) AppendProductEntry(ctx context.Context, e ledger.ProductEntry) (*ledger.ProductEntry, error) {
	return appendProductEntry(ctx, ts.tx, e)
}
func (ts *txStore) GetProductEntry(ctx context.Context, id ledger.EntryID) (*ledger.ProductEntry, error) {
	return getProductEntry(ctx, ts.tx, id)
}
func (ts *txStore) DeleteProductEntry(ctx context.Context, id ledger.EntryID) error {
	return deleteProductEntry(ctx, ts.tx, id)
}
func (ts *txStore) ListProductEntries(ctx context.Context, f ledger.ProductEntryFilter) ([]ledger.ProductEntry, error) {
	return listProductEntries(ctx, ts.tx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func parsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
