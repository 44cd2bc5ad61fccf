package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/davinic7/tienda2-sub000/internal/domain"
	"github.com/davinic7/tienda2-sub000/internal/store"
	"github.com/davinic7/tienda2-sub000/internal/xid"
)

type Store struct {
	mu                  sync.RWMutex
	products            map[string]domain.Product
	locations           map[string]domain.Location
	stock               map[string]map[string]domain.StockEntry
	customers           map[string]domain.Customer
	salesByID           map[string]domain.Sale
	shiftsByID          map[string]domain.Shift
	activeShiftBySeller map[string]string
	usersByUsername     map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "vendedor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"vendedor", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
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

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prd-arroz-01", Name: "Arroz 1kg", Price: price("1.85"), Active: true},
		{ID: "prd-frijol-01", Name: "Frijol Negro 1kg", Price: price("2.40"), Active: true},
		{ID: "prd-aceite-01", Name: "Aceite Vegetal 900ml", Price: price("3.10"), Active: true},
		{ID: "prd-azucar-01", Name: "Azucar 1kg", Price: price("1.20"), Active: true},
		{ID: "prd-leche-01", Name: "Leche Entera 1L", Price: price("1.45"), Active: true},
		{ID: "prd-pan-01", Name: "Pan de Molde", Price: price("2.25"), Active: true},
		{ID: "prd-cafe-01", Name: "Cafe Molido 250g", Price: price("4.80"), Active: true},
		{ID: "prd-jabon-01", Name: "Jabon de Tocador", Price: price("0.95"), Active: true},
		{ID: "prd-gaseosa-01", Name: "Gaseosa 2L", Price: price("1.75"), Active: true},
		{ID: "prd-galletas-01", Name: "Galletas Surtidas", Price: price("1.30"), Active: true},
	}

	locations := map[string]domain.Location{
		"central":   {ID: "central", Name: "Tienda Central", Active: true},
		"norte":     {ID: "norte", Name: "Sucursal Norte", Active: true},
		"bodega-01": {ID: "bodega-01", Name: "Bodega Clausurada", Active: false},
	}

	productMap := make(map[string]domain.Product, len(products))
	stock := map[string]map[string]domain.StockEntry{
		"central":   {},
		"norte":     {},
		"bodega-01": {},
	}
	for _, p := range products {
		productMap[p.ID] = p
		stock["central"][p.ID] = domain.StockEntry{ProductID: p.ID, LocationID: "central", Quantity: 80, MinThreshold: 10}
		stock["norte"][p.ID] = domain.StockEntry{ProductID: p.ID, LocationID: "norte", Quantity: 40, MinThreshold: 5}
	}

	now := time.Now().UTC()
	customers := map[string]domain.Customer{
		"cus-rosa-01":   {ID: "cus-rosa-01", Name: "Rosa Martinez", CreditBalance: price("50.00"), CreatedAt: now},
		"cus-miguel-01": {ID: "cus-miguel-01", Name: "Miguel Torres", CreditBalance: price("12.50"), CreatedAt: now},
	}

	return &Store{
		products:            productMap,
		locations:           locations,
		stock:               stock,
		customers:           customers,
		salesByID:           make(map[string]domain.Sale),
		shiftsByID:          make(map[string]domain.Shift),
		activeShiftBySeller: make(map[string]string),
		usersByUsername:     seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, locationID string, initialStock, minThreshold int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrAlreadyExists
	}

	// Product and its opening stock row land together or not at all.
	var rows map[string]domain.StockEntry
	if initialStock > 0 || minThreshold > 0 {
		var exists bool
		rows, exists = s.stock[locationID]
		if !exists {
			return nil, store.ErrNotFound
		}
	}

	product.Active = true
	s.products[product.ID] = product
	if rows != nil {
		rows[product.ID] = domain.StockEntry{
			ProductID:    product.ID,
			LocationID:   locationID,
			Quantity:     initialStock,
			MinThreshold: minThreshold,
		}
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, exists := s.products[id]; exists {
			found[id] = p
		}
	}
	return found, nil
}

func (s *Store) GetLocation(_ context.Context, id string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	location, exists := s.locations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyLocation := location
	return &copyLocation, nil
}

func (s *Store) ListLocations(_ context.Context) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locations := make([]domain.Location, 0, len(s.locations))
	for _, l := range s.locations {
		locations = append(locations, l)
	}
	slices.SortFunc(locations, func(a, b domain.Location) int {
		return strings.Compare(a.ID, b.ID)
	})
	return locations, nil
}

func (s *Store) GetStockLevels(_ context.Context, locationID string, productIDs []string) (map[string]domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, exists := s.stock[locationID]
	if !exists {
		return nil, store.ErrNotFound
	}

	levels := make(map[string]domain.StockEntry)
	if len(productIDs) == 0 {
		for id, entry := range rows {
			levels[id] = entry
		}
		return levels, nil
	}
	for _, id := range productIDs {
		if entry, ok := rows[id]; ok {
			levels[id] = entry
		}
	}
	return levels, nil
}

func (s *Store) AdjustStock(_ context.Context, locationID string, productID string, qty int, mode string) (*domain.StockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, exists := s.stock[locationID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if _, ok := s.products[productID]; !ok {
		return nil, &store.UnknownProductError{ProductID: productID}
	}

	entry, ok := rows[productID]
	if !ok {
		entry = domain.StockEntry{ProductID: productID, LocationID: locationID}
	}

	switch mode {
	case domain.AdjustModeAdd:
		entry.Quantity += qty
	case domain.AdjustModeSubtract:
		// Manual corrections floor at zero; only the sale path is strict.
		entry.Quantity -= qty
		if entry.Quantity < 0 {
			entry.Quantity = 0
		}
	case domain.AdjustModeSet:
		entry.Quantity = qty
	default:
		return nil, store.ErrNotFound
	}

	rows[productID] = entry
	adjusted := entry
	return &adjusted, nil
}

func (s *Store) SetStockThreshold(_ context.Context, locationID string, productID string, minThreshold int) (*domain.StockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, exists := s.stock[locationID]
	if !exists {
		return nil, store.ErrNotFound
	}
	entry, ok := rows[productID]
	if !ok {
		if _, known := s.products[productID]; !known {
			return nil, &store.UnknownProductError{ProductID: productID}
		}
		entry = domain.StockEntry{ProductID: productID, LocationID: locationID}
	}
	entry.MinThreshold = minThreshold
	rows[productID] = entry
	updated := entry
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) CreditCustomer(_ context.Context, id string, amount decimal.Decimal) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	customer.CreditBalance = customer.CreditBalance.Add(amount)
	s.customers[id] = customer
	updated := customer
	return &updated, nil
}

// CreateSale validates every line against the location's ledger and the
// customer's balance before applying any mutation, so a failed commit leaves
// the store untouched.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.SaleCommit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	location, exists := s.locations[sale.LocationID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !location.Active {
		return nil, store.ErrLocationInactive
	}

	// Lines may repeat a product, so validation consumes a working copy of
	// each quantity rather than re-reading the untouched snapshot.
	rows := s.stock[sale.LocationID]
	remaining := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if _, ok := s.products[line.ProductID]; !ok {
			return nil, &store.UnknownProductError{ProductID: line.ProductID}
		}
		available, seen := remaining[line.ProductID]
		if !seen {
			available = rows[line.ProductID].Quantity
		}
		if available < line.Quantity {
			return nil, &store.StockShortageError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			}
		}
		remaining[line.ProductID] = available - line.Quantity
	}

	if sale.CreditApplied.IsPositive() {
		customer, ok := s.customers[sale.CustomerID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if customer.CreditBalance.LessThan(sale.CreditApplied) {
			return nil, &store.CreditShortageError{
				CustomerID: sale.CustomerID,
				Requested:  sale.CreditApplied,
				Available:  customer.CreditBalance,
			}
		}
		customer.CreditBalance = customer.CreditBalance.Sub(sale.CreditApplied)
		s.customers[sale.CustomerID] = customer
	}

	for _, line := range sale.Lines {
		entry := rows[line.ProductID]
		entry.Quantity -= line.Quantity
		rows[line.ProductID] = entry
	}

	// One event per product whose resulting quantity sits at or below its
	// threshold, already-low products included.
	var lowStock []domain.StockEntry
	reported := make(map[string]bool, len(sale.Lines))
	for _, line := range sale.Lines {
		if reported[line.ProductID] {
			continue
		}
		reported[line.ProductID] = true
		entry := rows[line.ProductID]
		if entry.Quantity <= entry.MinThreshold {
			lowStock = append(lowStock, entry)
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	s.salesByID[sale.ID] = sale
	committed := sale
	return &domain.SaleCommit{Sale: committed, LowStock: lowStock}, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) CancelSale(_ context.Context, id string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrSaleNotCancellable
	}

	rows := s.stock[sale.LocationID]
	for _, line := range sale.Lines {
		entry := rows[line.ProductID]
		entry.ProductID = line.ProductID
		entry.LocationID = sale.LocationID
		entry.Quantity += line.Quantity
		rows[line.ProductID] = entry
	}
	if sale.CreditApplied.IsPositive() {
		customer := s.customers[sale.CustomerID]
		customer.CreditBalance = customer.CreditBalance.Add(sale.CreditApplied)
		s.customers[sale.CustomerID] = customer
	}

	cancelledAt := at
	sale.Status = domain.SaleStatusCancelled
	sale.CancelledAt = &cancelledAt
	s.salesByID[id] = sale
	cancelled := sale
	return &cancelled, nil
}

func (s *Store) ListSalesByShift(_ context.Context, shiftID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0)
	for _, sale := range s.salesByID {
		if sale.ShiftID == shiftID {
			sales = append(sales, sale)
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sales, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	location, exists := s.locations[shift.LocationID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !location.Active {
		return nil, store.ErrLocationInactive
	}
	if _, open := s.activeShiftBySeller[shift.SellerID]; open {
		return nil, store.ErrShiftAlreadyOpen
	}

	if shift.ID == "" {
		shift.ID = xid.New("shf")
	}
	shift.Status = domain.ShiftStatusOpen
	s.shiftsByID[shift.ID] = shift
	s.activeShiftBySeller[shift.SellerID] = shift.ID
	created := shift
	return &created, nil
}

func (s *Store) CloseShift(_ context.Context, shiftID string, closingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}

	expected := shift.OpeningFloat
	for _, sale := range s.salesByID {
		if sale.ShiftID != shiftID || sale.Status != domain.SaleStatusCompleted {
			continue
		}
		expected = expected.Add(sale.CashPortion())
	}
	variance := closingCash.Sub(expected)

	closing := closingCash
	at := closedAt
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCash = &closing
	shift.ExpectedCash = &expected
	shift.Variance = &variance
	shift.Notes = notes
	shift.ClosedAt = &at
	s.shiftsByID[shiftID] = shift
	delete(s.activeShiftBySeller, shift.SellerID)
	closed := shift
	return &closed, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShiftBySeller(_ context.Context, sellerID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, open := s.activeShiftBySeller[sellerID]
	if !open {
		return nil, store.ErrNoOpenShift
	}
	shift := s.shiftsByID[shiftID]
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrAlreadyExists
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		u.Password = ""
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
