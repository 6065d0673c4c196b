/*
Package postgres provides a PostgreSQL-backed implementation of ledger.TxStore.

PURPOSE:
  Production storage backend. Same table shapes and contracts as store/sqlite;
  the differences are the dialect ($n placeholders, BIGSERIAL, TIMESTAMPTZ)
  and that PostgreSQL's own concurrency control replaces the in-process mutex
  the SQLite store needs.

DRIVER:
  pgx through its database/sql adapter. Pool limits and the connect-time ping
  live in Open.

BALANCE ATOMICITY:
  Identical to the SQLite store: SpendBalance is a single conditional UPDATE
  with an affected-rows check, so the sufficiency check is the decrement.

SEE ALSO:
  - ledger/store.go: interface contracts
  - store/sqlite: the development/test twin
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.TxStore using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the database at url, verifies the connection, and runs the
// schema migration.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		customer_id BIGINT PRIMARY KEY,
		role TEXT NOT NULL DEFAULT 'customer',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		available_balance BIGINT NOT NULL DEFAULT 0,
		total_spend BIGINT NOT NULL DEFAULT 0,
		preferred_location BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS services (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL,
		minutes_available BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS product_stock (
		product_id BIGINT NOT NULL,
		location_code TEXT NOT NULL,
		quantity BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (product_id, location_code)
	);

	CREATE TABLE IF NOT EXISTS locations (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		post_code TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS service_entries (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		service_id BIGINT NOT NULL DEFAULT 0,
		entry_type TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		location_id BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_service_entries_customer_type
		ON service_entries(customer_id, entry_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_service_entries_type_date
		ON service_entries(entry_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_service_entries_location
		ON service_entries(location_id);

	CREATE TABLE IF NOT EXISTS product_entries (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		location_id BIGINT NOT NULL DEFAULT 0,
		quantity BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_product_entries_date
		ON product_entries(created_at);
	CREATE INDEX IF NOT EXISTS idx_product_entries_location
		ON product_entries(location_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// dbtx is the common surface of *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind converts ?-style placeholders to PostgreSQL's $1..$n form so the
// query text can stay aligned with the SQLite store.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, id ledger.CustomerID) (*ledger.Profile, error) {
	return getProfile(ctx, s.db, id)
}

func getProfile(ctx context.Context, db dbtx, id ledger.CustomerID) (*ledger.Profile, error) {
	var p ledger.Profile
	err := db.QueryRowContext(ctx, rebind(`
		SELECT customer_id, role, first_name, last_name, email, phone_number,
		       available_balance, total_spend, preferred_location, created_at
		FROM profiles WHERE customer_id = ?`), id).
		Scan(&p.CustomerID, &p.Role, &p.FirstName, &p.LastName, &p.Email,
			&p.PhoneNumber, &p.AvailableBalance, &p.TotalSpend, &p.PreferredLocation, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p ledger.Profile) error {
	return saveProfile(ctx, s.db, p)
}

func saveProfile(ctx context.Context, db dbtx, p ledger.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Role == "" {
		p.Role = ledger.RoleCustomer
	}
	_, err := db.ExecContext(ctx, rebind(`
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
			preferred_location = excluded.preferred_location`),
		p.CustomerID, p.Role, p.FirstName, p.LastName, p.Email, p.PhoneNumber,
		p.AvailableBalance, p.TotalSpend, p.PreferredLocation, p.CreatedAt)
	return err
}

func (s *Store) ListProfiles(ctx context.Context) ([]ledger.Profile, error) {
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
		if err := rows.Scan(&p.CustomerID, &p.Role, &p.FirstName, &p.LastName, &p.Email,
			&p.PhoneNumber, &p.AvailableBalance, &p.TotalSpend, &p.PreferredLocation, &p.CreatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *Store) AdjustBalance(ctx context.Context, id ledger.CustomerID, delta int) (int, error) {
	return adjustBalance(ctx, s.db, id, delta)
}

func adjustBalance(ctx context.Context, db dbtx, id ledger.CustomerID, delta int) (int, error) {
	var balance int
	err := db.QueryRowContext(ctx, rebind(`
		UPDATE profiles SET available_balance = available_balance + ?
		WHERE customer_id = ?
		RETURNING available_balance`), delta, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrCustomerNotFound
	}
	return balance, err
}

func (s *Store) SpendBalance(ctx context.Context, id ledger.CustomerID, amount int) (int, error) {
	return spendBalance(ctx, s.db, id, amount)
}

func spendBalance(ctx context.Context, db dbtx, id ledger.CustomerID, amount int) (int, error) {
	var balance int
	err := db.QueryRowContext(ctx, rebind(`
		UPDATE profiles SET available_balance = available_balance - ?
		WHERE customer_id = ? AND available_balance >= ?
		RETURNING available_balance`), amount, id, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// Either the customer is missing or the balance was short.
	var available int
	err = db.QueryRowContext(ctx,
		rebind(`SELECT available_balance FROM profiles WHERE customer_id = ?`), id).
		Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrCustomerNotFound
	}
	if err != nil {
		return 0, err
	}
	return 0, &ledger.InsufficientBalanceError{CustomerID: id, Available: available, Requested: amount}
}

func (s *Store) AddTotalSpend(ctx context.Context, id ledger.CustomerID, minutes int) (int, error) {
	return addTotalSpend(ctx, s.db, id, minutes)
}

func addTotalSpend(ctx context.Context, db dbtx, id ledger.CustomerID, minutes int) (int, error) {
	var total int
	err := db.QueryRowContext(ctx, rebind(`
		UPDATE profiles SET total_spend = total_spend + ?
		WHERE customer_id = ?
		RETURNING total_spend`), minutes, id).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrCustomerNotFound
	}
	return total, err
}

// =============================================================================
// SERVICE CATALOG
// =============================================================================

func (s *Store) GetService(ctx context.Context, id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	return getService(ctx, s.db, id)
}

func getService(ctx context.Context, db dbtx, id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	var svc ledger.ServiceCatalogEntry
	var price decimal.Decimal
	err := db.QueryRowContext(ctx,
		rebind(`SELECT id, name, price, minutes_available FROM services WHERE id = ?`), id).
		Scan(&svc.ID, &svc.Name, &price, &svc.MinutesAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	svc.Price = price
	return &svc, nil
}

func (s *Store) GetServicesByIDs(ctx context.Context, ids []ledger.ServiceID) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, error) {
	return getServicesByIDs(ctx, s.db, ids)
}

func getServicesByIDs(ctx context.Context, db dbtx, ids []ledger.ServiceID) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, error) {
	out := make(map[ledger.ServiceID]ledger.ServiceCatalogEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, name, price, minutes_available FROM services WHERE id = ANY($1)`,
		int64Slice(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var svc ledger.ServiceCatalogEntry
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Price, &svc.MinutesAvailable); err != nil {
			return nil, err
		}
		out[svc.ID] = svc
	}
	return out, rows.Err()
}

func (s *Store) SaveService(ctx context.Context, svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	return saveService(ctx, s.db, svc)
}

func saveService(ctx context.Context, db dbtx, svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	if svc.ID == 0 {
		var id int64
		err := db.QueryRowContext(ctx, rebind(`
			INSERT INTO services (name, price, minutes_available) VALUES (?, ?, ?)
			RETURNING id`),
			svc.Name, svc.Price, svc.MinutesAvailable).Scan(&id)
		return ledger.ServiceID(id), err
	}

	_, err := db.ExecContext(ctx, rebind(`
		INSERT INTO services (id, name, price, minutes_available) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			minutes_available = excluded.minutes_available`),
		svc.ID, svc.Name, svc.Price, svc.MinutesAvailable)
	return svc.ID, err
}

func (s *Store) ListServices(ctx context.Context) ([]ledger.ServiceCatalogEntry, error) {
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
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Price, &svc.MinutesAvailable); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, db dbtx, id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	var p ledger.ProductCatalogEntry
	err := db.QueryRowContext(ctx,
		rebind(`SELECT id, name, price FROM products WHERE id = ?`), id).
		Scan(&p.ID, &p.Name, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Stock, err = loadStock(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func loadStock(ctx context.Context, db dbtx, id ledger.ProductID) (map[string]int, error) {
	stock := make(map[string]int)
	rows, err := db.QueryContext(ctx,
		rebind(`SELECT location_code, quantity FROM product_stock WHERE product_id = ?`), id)
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
	return getProductsByIDs(ctx, s.db, ids)
}

func getProductsByIDs(ctx context.Context, db dbtx, ids []ledger.ProductID) (map[ledger.ProductID]ledger.ProductCatalogEntry, error) {
	out := make(map[ledger.ProductID]ledger.ProductCatalogEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, name, price FROM products WHERE id = ANY($1)`, int64Slice(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p ledger.ProductCatalogEntry
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) SaveProduct(ctx context.Context, p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	return saveProduct(ctx, s.db, p)
}

func saveProduct(ctx context.Context, db dbtx, p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	if p.ID == 0 {
		var id int64
		err := db.QueryRowContext(ctx,
			rebind(`INSERT INTO products (name, price) VALUES (?, ?) RETURNING id`),
			p.Name, p.Price).Scan(&id)
		if err != nil {
			return 0, err
		}
		p.ID = ledger.ProductID(id)
	} else {
		_, err := db.ExecContext(ctx, rebind(`
			INSERT INTO products (id, name, price) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, price = excluded.price`),
			p.ID, p.Name, p.Price)
		if err != nil {
			return 0, err
		}
	}

	stock := p.Stock
	if stock == nil {
		stock = make(map[string]int, len(ledger.StockCodes))
		for _, code := range ledger.StockCodes {
			stock[code] = 0
		}
	}
	for code, qty := range stock {
		_, err := db.ExecContext(ctx, rebind(`
			INSERT INTO product_stock (product_id, location_code, quantity) VALUES (?, ?, ?)
			ON CONFLICT(product_id, location_code) DO UPDATE SET quantity = excluded.quantity`),
			p.ID, code, qty)
		if err != nil {
			return 0, err
		}
	}
	return p.ID, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]ledger.ProductCatalogEntry, error) {
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
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, err
		}
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
	return adjustStock(ctx, s.db, id, code, delta)
}

func adjustStock(ctx context.Context, db dbtx, id ledger.ProductID, code string, delta int) error {
	res, err := db.ExecContext(ctx, rebind(`
		UPDATE product_stock SET quantity = quantity + ?
		WHERE product_id = ? AND location_code = ?`),
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

	var count int
	if err := db.QueryRowContext(ctx,
		rebind(`SELECT COUNT(*) FROM products WHERE id = ?`), id).Scan(&count); err != nil {
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
	return getLocation(ctx, s.db, id)
}

func getLocation(ctx context.Context, db dbtx, id ledger.LocationID) (*ledger.Location, error) {
	var l ledger.Location
	err := db.QueryRowContext(ctx, rebind(`
		SELECT id, name, code, address, city, phone_number, post_code
		FROM locations WHERE id = ?`), id).
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
	return getLocationsByIDs(ctx, s.db, ids)
}

func getLocationsByIDs(ctx context.Context, db dbtx, ids []ledger.LocationID) (map[ledger.LocationID]ledger.Location, error) {
	out := make(map[ledger.LocationID]ledger.Location, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, name, code, address, city, phone_number, post_code
		FROM locations WHERE id = ANY($1)`, int64Slice(ids))
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
	return saveLocation(ctx, s.db, l)
}

func saveLocation(ctx context.Context, db dbtx, l ledger.Location) (ledger.LocationID, error) {
	if l.ID == 0 {
		var id int64
		err := db.QueryRowContext(ctx, rebind(`
			INSERT INTO locations (name, code, address, city, phone_number, post_code)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`),
			l.Name, l.Code, l.Address, l.City, l.PhoneNumber, l.PostCode).Scan(&id)
		return ledger.LocationID(id), err
	}

	_, err := db.ExecContext(ctx, rebind(`
		INSERT INTO locations (id, name, code, address, city, phone_number, post_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			address = excluded.address,
			city = excluded.city,
			phone_number = excluded.phone_number,
			post_code = excluded.post_code`),
		l.ID, l.Name, l.Code, l.Address, l.City, l.PhoneNumber, l.PostCode)
	return l.ID, err
}

func (s *Store) ListLocations(ctx context.Context) ([]ledger.Location, error) {
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
	return appendServiceEntry(ctx, s.db, e)
}

func appendServiceEntry(ctx context.Context, db dbtx, e ledger.ServiceEntry) (*ledger.ServiceEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := db.QueryRowContext(ctx, rebind(`
		INSERT INTO service_entries (customer_id, service_id, entry_type, quantity, location_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		e.CustomerID, e.ServiceID, e.Type, e.Quantity, e.LocationID, e.CreatedAt).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to append service entry: %w", err)
	}
	e.ID = ledger.EntryID(id)
	return &e, nil
}

func (s *Store) GetServiceEntry(ctx context.Context, id ledger.EntryID) (*ledger.ServiceEntry, error) {
	return getServiceEntry(ctx, s.db, id)
}

func getServiceEntry(ctx context.Context, db dbtx, id ledger.EntryID) (*ledger.ServiceEntry, error) {
	var e ledger.ServiceEntry
	err := db.QueryRowContext(ctx, rebind(`
		SELECT id, customer_id, service_id, entry_type, quantity, location_id, created_at
		FROM service_entries WHERE id = ?`), id).
		Scan(&e.ID, &e.CustomerID, &e.ServiceID, &e.Type, &e.Quantity, &e.LocationID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeleteServiceEntry(ctx context.Context, id ledger.EntryID) error {
	return deleteServiceEntry(ctx, s.db, id)
}

func deleteServiceEntry(ctx context.Context, db dbtx, id ledger.EntryID) error {
	res, err := db.ExecContext(ctx, rebind(`DELETE FROM service_entries WHERE id = ?`), id)
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
	n := 0
	add := func(clause string, arg any) {
		n++
		clauses = append(clauses, clause+"$"+strconv.Itoa(n))
		args = append(args, arg)
	}
	if f.CustomerID != 0 {
		add("customer_id = ", f.CustomerID)
	}
	if f.Type != "" {
		add("entry_type = ", string(f.Type))
	}
	if f.LocationID != 0 {
		add("location_id = ", f.LocationID)
	}
	if !f.From.IsZero() {
		add("created_at >= ", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("created_at <= ", f.To.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListServiceEntries(ctx context.Context, f ledger.ServiceEntryFilter) ([]ledger.ServiceEntry, error) {
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
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.ServiceID, &e.Type, &e.Quantity, &e.LocationID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) LatestPurchase(ctx context.Context, id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	return latestPurchase(ctx, s.db, id)
}

func latestPurchase(ctx context.Context, db dbtx, id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	var e ledger.ServiceEntry
	err := db.QueryRowContext(ctx, rebind(`
		SELECT id, customer_id, service_id, entry_type, quantity, location_id, created_at
		FROM service_entries
		WHERE customer_id = ? AND entry_type = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`),
		id, ledger.EntryPurchased).
		Scan(&e.ID, &e.CustomerID, &e.ServiceID, &e.Type, &e.Quantity, &e.LocationID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) SumServiceQuantity(ctx context.Context, f ledger.ServiceEntryFilter) (int, error) {
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
	return appendProductEntry(ctx, s.db, e)
}

func appendProductEntry(ctx context.Context, db dbtx, e ledger.ProductEntry) (*ledger.ProductEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := db.QueryRowContext(ctx, rebind(`
		INSERT INTO product_entries (customer_id, product_id, location_id, quantity, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		e.CustomerID, e.ProductID, e.LocationID, e.Quantity, e.CreatedAt).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to append product entry: %w", err)
	}
	e.ID = ledger.EntryID(id)
	return &e, nil
}

func (s *Store) GetProductEntry(ctx context.Context, id ledger.EntryID) (*ledger.ProductEntry, error) {
	return getProductEntry(ctx, s.db, id)
}

func getProductEntry(ctx context.Context, db dbtx, id ledger.EntryID) (*ledger.ProductEntry, error) {
	var e ledger.ProductEntry
	err := db.QueryRowContext(ctx, rebind(`
		SELECT id, customer_id, product_id, location_id, quantity, created_at
		FROM product_entries WHERE id = ?`), id).
		Scan(&e.ID, &e.CustomerID, &e.ProductID, &e.LocationID, &e.Quantity, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeleteProductEntry(ctx context.Context, id ledger.EntryID) error {
	return deleteProductEntry(ctx, s.db, id)
}

func deleteProductEntry(ctx context.Context, db dbtx, id ledger.EntryID) error {
	res, err := db.ExecContext(ctx, rebind(`DELETE FROM product_entries WHERE id = ?`), id)
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
	return listProductEntries(ctx, s.db, f)
}

func listProductEntries(ctx context.Context, db dbtx, f ledger.ProductEntryFilter) ([]ledger.ProductEntry, error) {
	var clauses []string
	var args []any
	n := 0
	add := func(clause string, arg any) {
		n++
		clauses = append(clauses, clause+"$"+strconv.Itoa(n))
		args = append(args, arg)
	}
	if f.CustomerID != 0 {
		add("customer_id = ", f.CustomerID)
	}
	if f.LocationID != 0 {
		add("location_id = ", f.LocationID)
	}
	if !f.From.IsZero() {
		add("created_at >= ", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("created_at <= ", f.To.UTC())
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
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.ProductID, &e.LocationID, &e.Quantity, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
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

// txStore routes every call through the open transaction.
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

func int64Slice[T ~int64](ids []T) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
