// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps guarded by one RWMutex. Balance mutations
// happen under the write lock, which serializes them the same way the SQL
// stores do with conditional UPDATEs.
type Store struct {
	mu sync.RWMutex

	profiles  map[ledger.CustomerID]ledger.Profile
	services  map[ledger.ServiceID]ledger.ServiceCatalogEntry
	products  map[ledger.ProductID]ledger.ProductCatalogEntry
	locations map[ledger.LocationID]ledger.Location

	serviceEntries []ledger.ServiceEntry
	productEntries []ledger.ProductEntry

	nextServiceID  ledger.ServiceID
	nextProductID  ledger.ProductID
	nextLocationID ledger.LocationID
	nextEntryID    ledger.EntryID
}

func New() *Store {
	return &Store{
		profiles:       make(map[ledger.CustomerID]ledger.Profile),
		services:       make(map[ledger.ServiceID]ledger.ServiceCatalogEntry),
		products:       make(map[ledger.ProductID]ledger.ProductCatalogEntry),
		locations:      make(map[ledger.LocationID]ledger.Location),
		nextServiceID:  1,
		nextProductID:  1,
		nextLocationID: 1,
		nextEntryID:    1,
	}
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Store) GetProfile(_ context.Context, id ledger.CustomerID) (*ledger.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProfileLocked(id)
}

func (s *Store) getProfileLocked(id ledger.CustomerID) (*ledger.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, ledger.ErrCustomerNotFound
	}
	return &p, nil
}

func (s *Store) SaveProfile(_ context.Context, p ledger.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveProfileLocked(p)
}

func (s *Store) saveProfileLocked(p ledger.Profile) error {
	// Re-saving an existing profile must not reset the ledger-managed
	// counters; only the balance mutation methods may change them.
	if existing, ok := s.profiles[p.CustomerID]; ok {
		p.AvailableBalance = existing.AvailableBalance
		p.TotalSpend = existing.TotalSpend
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.profiles[p.CustomerID] = p
	return nil
}

func (s *Store) ListProfiles(_ context.Context) ([]ledger.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (s *Store) AdjustBalance(_ context.Context, id ledger.CustomerID, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustBalanceLocked(id, delta)
}

func (s *Store) adjustBalanceLocked(id ledger.CustomerID, delta int) (int, error) {
	p, ok := s.profiles[id]
	if !ok {
		return 0, ledger.ErrCustomerNotFound
	}
	p.AvailableBalance += delta
	s.profiles[id] = p
	return p.AvailableBalance, nil
}

func (s *Store) SpendBalance(_ context.Context, id ledger.CustomerID, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spendBalanceLocked(id, amount)
}

func (s *Store) spendBalanceLocked(id ledger.CustomerID, amount int) (int, error) {
	p, ok := s.profiles[id]
	if !ok {
		return 0, ledger.ErrCustomerNotFound
	}
	if p.AvailableBalance < amount {
		return 0, &ledger.InsufficientBalanceError{
			CustomerID: id,
			Available:  p.AvailableBalance,
			Requested:  amount,
		}
	}
	p.AvailableBalance -= amount
	s.profiles[id] = p
	return p.AvailableBalance, nil
}

func (s *Store) AddTotalSpend(_ context.Context, id ledger.CustomerID, minutes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTotalSpendLocked(id, minutes)
}

func (s *Store) addTotalSpendLocked(id ledger.CustomerID, minutes int) (int, error) {
	p, ok := s.profiles[id]
	if !ok {
		return 0, ledger.ErrCustomerNotFound
	}
	p.TotalSpend += minutes
	s.profiles[id] = p
	return p.TotalSpend, nil
}

// =============================================================================
// SERVICE CATALOG
// =============================================================================

func (s *Store) GetService(_ context.Context, id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getServiceLocked(id)
}

func (s *Store) getServiceLocked(id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	svc, ok := s.services[id]
	if !ok {
		return nil, ledger.ErrServiceNotFound
	}
	return &svc, nil
}

func (s *Store) GetServicesByIDs(_ context.Context, ids []ledger.ServiceID) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[ledger.ServiceID]ledger.ServiceCatalogEntry, len(ids))
	for _, id := range ids {
		if svc, ok := s.services[id]; ok {
			out[id] = svc
		}
	}
	return out, nil
}

func (s *Store) SaveService(_ context.Context, svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveServiceLocked(svc)
}

func (s *Store) saveServiceLocked(svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	if svc.ID == 0 {
		svc.ID = s.nextServiceID
		s.nextServiceID++
	} else if svc.ID >= s.nextServiceID {
		s.nextServiceID = svc.ID + 1
	}
	s.services[svc.ID] = svc
	return svc.ID, nil
}

func (s *Store) ListServices(_ context.Context) ([]ledger.ServiceCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.ServiceCatalogEntry, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProductLocked(id)
}

func (s *Store) getProductLocked(id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, ledger.ErrProductNotFound
	}
	copied := p
	copied.Stock = copyStock(p.Stock)
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []ledger.ProductID) (map[ledger.ProductID]ledger.ProductCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[ledger.ProductID]ledger.ProductCatalogEntry, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			p.Stock = copyStock(p.Stock)
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) SaveProduct(_ context.Context, p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveProductLocked(p)
}

func (s *Store) saveProductLocked(p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	if p.ID == 0 {
		p.ID = s.nextProductID
		s.nextProductID++
	} else if p.ID >= s.nextProductID {
		s.nextProductID = p.ID + 1
	}
	if p.Stock == nil {
		p.Stock = make(map[string]int, len(ledger.StockCodes))
		for _, code := range ledger.StockCodes {
			p.Stock[code] = 0
		}
	} else {
		p.Stock = copyStock(p.Stock)
	}
	s.products[p.ID] = p
	return p.ID, nil
}

func (s *Store) ListProducts(_ context.Context) ([]ledger.ProductCatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.ProductCatalogEntry, 0, len(s.products))
	for _, p := range s.products {
		p.Stock = copyStock(p.Stock)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AdjustStock(_ context.Context, id ledger.ProductID, code string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStockLocked(id, code, delta)
}

func (s *Store) adjustStockLocked(id ledger.ProductID, code string, delta int) error {
	p, ok := s.products[id]
	if !ok {
		return ledger.ErrProductNotFound
	}
	if _, ok := p.Stock[code]; !ok {
		return nil // unknown code: no bucket, nothing to adjust
	}
	stock := copyStock(p.Stock)
	stock[code] += delta
	p.Stock = stock
	s.products[id] = p
	return nil
}

func copyStock(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// LOCATIONS
// =============================================================================

func (s *Store) GetLocation(_ context.Context, id ledger.LocationID) (*ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocationLocked(id)
}

func (s *Store) getLocationLocked(id ledger.LocationID) (*ledger.Location, error) {
	l, ok := s.locations[id]
	if !ok {
		return nil, ledger.ErrLocationNotFound
	}
	return &l, nil
}

func (s *Store) GetLocationsByIDs(_ context.Context, ids []ledger.LocationID) (map[ledger.LocationID]ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[ledger.LocationID]ledger.Location, len(ids))
	for _, id := range ids {
		if l, ok := s.locations[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (s *Store) SaveLocation(_ context.Context, l ledger.Location) (ledger.LocationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocationLocked(l)
}

func (s *Store) saveLocationLocked(l ledger.Location) (ledger.LocationID, error) {
	if l.ID == 0 {
		l.ID = s.nextLocationID
		s.nextLocationID++
	} else if l.ID >= s.nextLocationID {
		s.nextLocationID = l.ID + 1
	}
	s.locations[l.ID] = l
	return l.ID, nil
}

func (s *Store) ListLocations(_ context.Context) ([]ledger.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// SERVICE LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendServiceEntry(_ context.Context, e ledger.ServiceEntry) (*ledger.ServiceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendServiceEntryLocked(e)
}

func (s *Store) appendServiceEntryLocked(e ledger.ServiceEntry) (*ledger.ServiceEntry, error) {
	if e.ID == 0 {
		e.ID = s.nextEntryID
		s.nextEntryID++
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.serviceEntries = append(s.serviceEntries, e)
	return &e, nil
}

func (s *Store) GetServiceEntry(_ context.Context, id ledger.EntryID) (*ledger.ServiceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getServiceEntryLocked(id)
}

func (s *Store) getServiceEntryLocked(id ledger.EntryID) (*ledger.ServiceEntry, error) {
	for _, e := range s.serviceEntries {
		if e.ID == id {
			entry := e
			return &entry, nil
		}
	}
	return nil, ledger.ErrEntryNotFound
}

func (s *Store) DeleteServiceEntry(_ context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteServiceEntryLocked(id)
}

func (s *Store) deleteServiceEntryLocked(id ledger.EntryID) error {
	for i, e := range s.serviceEntries {
		if e.ID == id {
			s.serviceEntries = append(s.serviceEntries[:i], s.serviceEntries[i+1:]...)
			return nil
		}
	}
	return ledger.ErrEntryNotFound
}

func (s *Store) ListServiceEntries(_ context.Context, f ledger.ServiceEntryFilter) ([]ledger.ServiceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listServiceEntriesLocked(f)
}

func (s *Store) listServiceEntriesLocked(f ledger.ServiceEntryFilter) ([]ledger.ServiceEntry, error) {
	var out []ledger.ServiceEntry
	for _, e := range s.serviceEntries {
		if matchServiceEntry(e, f) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matchServiceEntry(e ledger.ServiceEntry, f ledger.ServiceEntryFilter) bool {
	if f.CustomerID != 0 && e.CustomerID != f.CustomerID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.LocationID != 0 && e.LocationID != f.LocationID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func (s *Store) LatestPurchase(_ context.Context, id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestPurchaseLocked(id)
}

func (s *Store) latestPurchaseLocked(id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	var latest *ledger.ServiceEntry
	for i := range s.serviceEntries {
		e := s.serviceEntries[i]
		if e.CustomerID != id || e.Type != ledger.EntryPurchased {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			entry := e
			latest = &entry
		}
	}
	if latest == nil {
		return nil, ledger.ErrEntryNotFound
	}
	return latest, nil
}

func (s *Store) SumServiceQuantity(_ context.Context, f ledger.ServiceEntryFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumServiceQuantityLocked(f)
}

func (s *Store) sumServiceQuantityLocked(f ledger.ServiceEntryFilter) (int, error) {
	total := 0
	for _, e := range s.serviceEntries {
		if matchServiceEntry(e, f) {
			total += e.Quantity
		}
	}
	return total, nil
}

// =============================================================================
// PRODUCT LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendProductEntry(_ context.Context, e ledger.ProductEntry) (*ledger.ProductEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendProductEntryLocked(e)
}

func (s *Store) appendProductEntryLocked(e ledger.ProductEntry) (*ledger.ProductEntry, error) {
	if e.ID == 0 {
		e.ID = s.nextEntryID
		s.nextEntryID++
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.productEntries = append(s.productEntries, e)
	return &e, nil
}

func (s *Store) GetProductEntry(_ context.Context, id ledger.EntryID) (*ledger.ProductEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProductEntryLocked(id)
}

func (s *Store) getProductEntryLocked(id ledger.EntryID) (*ledger.ProductEntry, error) {
	for _, e := range s.productEntries {
		if e.ID == id {
			entry := e
			return &entry, nil
		}
	}
	return nil, ledger.ErrEntryNotFound
}

func (s *Store) DeleteProductEntry(_ context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.productEntries {
		if e.ID == id {
			s.productEntries = append(s.productEntries[:i], s.productEntries[i+1:]...)
			return nil
		}
	}
	return ledger.ErrEntryNotFound
}

func (s *Store) ListProductEntries(_ context.Context, f ledger.ProductEntryFilter) ([]ledger.ProductEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductEntriesLocked(f)
}

func (s *Store) listProductEntriesLocked(f ledger.ProductEntryFilter) ([]ledger.ProductEntry, error) {
	var out []ledger.ProductEntry
	for _, e := range s.productEntries {
		if f.CustomerID != 0 && e.CustomerID != f.CustomerID {
			continue
		}
		if f.LocationID != 0 && e.LocationID != f.LocationID {
			continue
		}
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback under the write lock
// =============================================================================

// WithTx runs fn against a view of the store that shares the held write lock.
// On error, state is restored from a snapshot taken before fn ran.
func (s *Store) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{parent: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	profiles       map[ledger.CustomerID]ledger.Profile
	products       map[ledger.ProductID]ledger.ProductCatalogEntry
	serviceEntries []ledger.ServiceEntry
	productEntries []ledger.ProductEntry
	nextEntryID    ledger.EntryID
}

func (s *Store) snapshot() snapshot {
	profiles := make(map[ledger.CustomerID]ledger.Profile, len(s.profiles))
	for k, v := range s.profiles {
		profiles[k] = v
	}
	products := make(map[ledger.ProductID]ledger.ProductCatalogEntry, len(s.products))
	for k, v := range s.products {
		v.Stock = copyStock(v.Stock)
		products[k] = v
	}
	return snapshot{
		profiles:       profiles,
		products:       products,
		serviceEntries: append([]ledger.ServiceEntry(nil), s.serviceEntries...),
		productEntries: append([]ledger.ProductEntry(nil), s.productEntries...),
		nextEntryID:    s.nextEntryID,
	}
}

func (s *Store) restore(snap snapshot) {
	s.profiles = snap.profiles
	s.products = snap.products
	s.serviceEntries = snap.serviceEntries
	s.productEntries = snap.productEntries
	s.nextEntryID = snap.nextEntryID
}

// txView exposes the locked implementations while WithTx holds the lock.
type txView struct {
	parent *Store
}

func (tv *txView) GetProfile(_ context.Context, id ledger.CustomerID) (*ledger.Profile, error) {
	return tv.parent.getProfileLocked(id)
}
func (tv *txView) SaveProfile(_ context.Context, p ledger.Profile) error {
	return tv.parent.saveProfileLocked(p)
}
func (tv *txView) ListProfiles(ctx context.Context) ([]ledger.Profile, error) {
	out := make([]ledger.Profile, 0, len(tv.parent.profiles))
	for _, p := range tv.parent.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}
func (tv *txView) AdjustBalance(_ context.Context, id ledger.CustomerID, delta int) (int, error) {
	return tv.parent.adjustBalanceLocked(id, delta)
}
func (tv *txView) SpendBalance(_ context.Context, id ledger.CustomerID, amount int) (int, error) {
	return tv.parent.spendBalanceLocked(id, amount)
}
func (tv *txView) AddTotalSpend(_ context.Context, id ledger.CustomerID, minutes int) (int, error) {
	return tv.parent.addTotalSpendLocked(id, minutes)
}
func (tv *txView) GetService(_ context.Context, id ledger.ServiceID) (*ledger.ServiceCatalogEntry, error) {
	return tv.parent.getServiceLocked(id)
}
func (tv *txView) GetServicesByIDs(_ context.Context, ids []ledger.ServiceID) (map[ledger.ServiceID]ledger.ServiceCatalogEntry, error) {
	out := make(map[ledger.ServiceID]ledger.ServiceCatalogEntry, len(ids))
	for _, id := range ids {
		if svc, ok := tv.parent.services[id]; ok {
			out[id] = svc
		}
	}
	return out, nil
}
func (tv *txView) SaveService(_ context.Context, svc ledger.ServiceCatalogEntry) (ledger.ServiceID, error) {
	return tv.parent.saveServiceLocked(svc)
}
func (tv *txView) ListServices(_ context.Context) ([]ledger.ServiceCatalogEntry, error) {
	out := make([]ledger.ServiceCatalogEntry, 0, len(tv.parent.services))
	for _, svc := range tv.parent.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (tv *txView) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.ProductCatalogEntry, error) {
	return tv.parent.getProductLocked(id)
}
func (tv *txView) GetProductsByIDs(_ context.Context, ids []ledger.ProductID) (map[ledger.ProductID]ledger.ProductCatalogEntry, error) {
	out := make(map[ledger.ProductID]ledger.ProductCatalogEntry, len(ids))
	for _, id := range ids {
		if p, ok := tv.parent.products[id]; ok {
			p.Stock = copyStock(p.Stock)
			out[id] = p
		}
	}
	return out, nil
}
func (tv *txView) SaveProduct(_ context.Context, p ledger.ProductCatalogEntry) (ledger.ProductID, error) {
	return tv.parent.saveProductLocked(p)
}
func (tv *txView) ListProducts(ctx context.Context) ([]ledger.ProductCatalogEntry, error) {
	out := make([]ledger.ProductCatalogEntry, 0, len(tv.parent.products))
	for _, p := range tv.parent.products {
		p.Stock = copyStock(p.Stock)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (tv *txView) AdjustStock(_ context.Context, id ledger.ProductID, code string, delta int) error {
	return tv.parent.adjustStockLocked(id, code, delta)
}
func (tv *txView) GetLocation(_ context.Context, id ledger.LocationID) (*ledger.Location, error) {
	return tv.parent.getLocationLocked(id)
}
func (tv *txView) GetLocationsByIDs(_ context.Context, ids []ledger.LocationID) (map[ledger.LocationID]ledger.Location, error) {
	out := make(map[ledger.LocationID]ledger.Location, len(ids))
	for _, id := range ids {
		if l, ok := tv.parent.locations[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}
func (tv *txView) SaveLocation(_ context.Context, l ledger.Location) (ledger.LocationID, error) {
	return tv.parent.saveLocationLocked(l)
}
func (tv *txView) ListLocations(_ context.Context) ([]ledger.Location, error) {
	out := make([]ledger.Location, 0, len(tv.parent.locations))
	for _, l := range tv.parent.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (tv *txView) AppendServiceEntry(_ context.Context, e ledger.ServiceEntry) (*ledger.ServiceEntry, error) {
	return tv.parent.appendServiceEntryLocked(e)
}
func (tv *txView) GetServiceEntry(_ context.Context, id ledger.EntryID) (*ledger.ServiceEntry, error) {
	return tv.parent.getServiceEntryLocked(id)
}
func (tv *txView) DeleteServiceEntry(_ context.Context, id ledger.EntryID) error {
	return tv.parent.deleteServiceEntryLocked(id)
}
func (tv *txView) ListServiceEntries(_ context.Context, f ledger.ServiceEntryFilter) ([]ledger.ServiceEntry, error) {
	return tv.parent.listServiceEntriesLocked(f)
}
func (tv *txView) LatestPurchase(_ context.Context, id ledger.CustomerID) (*ledger.ServiceEntry, error) {
	return tv.parent.latestPurchaseLocked(id)
}
func (tv *txView) SumServiceQuantity(_ context.Context, f ledger.ServiceEntryFilter) (int, error) {
	return tv.parent.sumServiceQuantityLocked(f)
}
func (tv *txView) AppendProductEntry(_ context.Context, e ledger.ProductEntry) (*ledger.ProductEntry, error) {
	return tv.parent.appendProductEntryLocked(e)
}
func (tv *txView) GetProductEntry(_ context.Context, id ledger.EntryID) (*ledger.ProductEntry, error) {
	return tv.parent.getProductEntryLocked(id)
}
func (tv *txView) DeleteProductEntry(_ context.Context, id ledger.EntryID) error {
	for i, e := range tv.parent.productEntries {
		if e.ID == id {
			tv.parent.productEntries = append(tv.parent.productEntries[:i], tv.parent.productEntries[i+1:]...)
			return nil
		}
	}
	return ledger.ErrEntryNotFound
}
func (tv *txView) ListProductEntries(_ context.Context, f ledger.ProductEntryFilter) ([]ledger.ProductEntry, error) {
	return tv.parent.listProductEntriesLocked(f)
}
