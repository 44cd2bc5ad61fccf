package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/davinic7/tienda2-sub000/internal/domain"
	"github.com/davinic7/tienda2-sub000/internal/notify"
	"github.com/davinic7/tienda2-sub000/internal/pricing"
	"github.com/davinic7/tienda2-sub000/internal/store"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo              store.Repository
	notifier          notify.Notifier
	prices            pricing.Resolver
	logger            *zap.Logger
	defaultLocationID string
}

func New(repo store.Repository, notifier notify.Notifier, prices pricing.Resolver, logger *zap.Logger, defaultLocationID string) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if prices == nil {
		prices = pricing.CatalogResolver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLocationID == "" {
		defaultLocationID = "central"
	}

	return &Service{
		repo:              repo,
		notifier:          notifier,
		prices:            prices,
		logger:            logger,
		defaultLocationID: defaultLocationID,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", ErrValidation)
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if req.InitialStock < 0 || req.MinThreshold < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock values must not be negative", ErrValidation)
	}
	if req.LocationID == "" {
		req.LocationID = s.defaultLocationID
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:   req.Name,
		Price:  req.Price,
		Active: true,
	}, req.LocationID, req.InitialStock, req.MinThreshold)
	if err != nil {
		return domain.Product{}, err
	}

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name is required", ErrValidation)
		}
		updated.Name = name
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", ErrValidation)
		}
		updated.Price = *req.Price
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if !existing.Price.Equal(saved.Price) {
		s.emit(func(ctx context.Context) error {
			return s.notifier.PriceChanged(ctx, domain.PriceChangedEvent{
				ProductID: saved.ID,
				OldPrice:  existing.Price,
				NewPrice:  saved.Price,
				ChangedAt: time.Now().UTC(),
			})
		}, "price_changed", saved.ID)
	}

	return *saved, nil
}

func (s *Service) ListLocations(ctx context.Context) ([]domain.Location, error) {
	return s.repo.ListLocations(ctx)
}

func (s *Service) StockAvailability(ctx context.Context, locationID string, productIDs []string) (domain.StockAvailabilityResponse, error) {
	if locationID == "" {
		locationID = s.defaultLocationID
	}
	if _, err := s.repo.GetLocation(ctx, locationID); err != nil {
		return domain.StockAvailabilityResponse{}, err
	}
	levels, err := s.repo.GetStockLevels(ctx, locationID, productIDs)
	if err != nil {
		return domain.StockAvailabilityResponse{}, err
	}
	return domain.StockAvailabilityResponse{LocationID: locationID, Stock: levels}, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockEntry, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StockEntry{}, err
	}

	if req.LocationID == "" {
		req.LocationID = s.defaultLocationID
	}
	if req.ProductID == "" {
		return domain.StockEntry{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	switch req.Mode {
	case domain.AdjustModeAdd, domain.AdjustModeSubtract:
		if req.Quantity < 1 {
			return domain.StockEntry{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
	case domain.AdjustModeSet:
		if req.Quantity < 0 {
			return domain.StockEntry{}, fmt.Errorf("%w: quantity must not be negative", ErrValidation)
		}
	default:
		return domain.StockEntry{}, fmt.Errorf("%w: unknown adjust mode %q", ErrValidation, req.Mode)
	}

	entry, err := s.repo.AdjustStock(ctx, req.LocationID, req.ProductID, req.Quantity, req.Mode)
	if err != nil {
		return domain.StockEntry{}, err
	}

	if entry.Quantity <= entry.MinThreshold {
		low := *entry
		s.emit(func(ctx context.Context) error {
			return s.notifier.StockLow(ctx, domain.StockLowEvent{
				ProductID:    low.ProductID,
				LocationID:   low.LocationID,
				Quantity:     low.Quantity,
				MinThreshold: low.MinThreshold,
			})
		}, "stock_low", low.ProductID)
	}

	return *entry, nil
}

func (s *Service) SetStockThreshold(ctx context.Context, req domain.StockThresholdRequest) (domain.StockEntry, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StockEntry{}, err
	}

	if req.LocationID == "" {
		req.LocationID = s.defaultLocationID
	}
	if req.ProductID == "" {
		return domain.StockEntry{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	if req.MinThreshold < 0 {
		return domain.StockEntry{}, fmt.Errorf("%w: threshold must not be negative", ErrValidation)
	}

	entry, err := s.repo.SetStockThreshold(ctx, req.LocationID, req.ProductID, req.MinThreshold)
	if err != nil {
		return domain.StockEntry{}, err
	}
	return *entry, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", ErrValidation)
	}
	if req.InitialCredit.IsNegative() {
		return domain.Customer{}, fmt.Errorf("%w: initial credit must not be negative", ErrValidation)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:          req.Name,
		CreditBalance: req.InitialCredit,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) TopUpCredit(ctx context.Context, id string, req domain.CreditTopUpRequest) (domain.Customer, error) {
	if !req.Amount.IsPositive() {
		return domain.Customer{}, fmt.Errorf("%w: top-up amount must be positive", ErrValidation)
	}

	customer, err := s.repo.CreditCustomer(ctx, id, req.Amount)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// CreateSale validates the request fully before any write, resolves prices
// through the pricing resolver, and hands the assembled sale to the store
// for the atomic commit. Events are emitted only after the commit succeeds.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, ErrForbidden
	}

	if len(req.Lines) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale must have at least one line", ErrValidation)
	}
	for _, line := range req.Lines {
		if line.ProductID == "" {
			return domain.Sale{}, fmt.Errorf("%w: line product id is required", ErrValidation)
		}
		if line.Quantity < 1 {
			return domain.Sale{}, fmt.Errorf("%w: line quantity must be positive", ErrValidation)
		}
	}
	if req.CreditRequested.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: credit requested must not be negative", ErrValidation)
	}
	if req.CashTendered.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: cash tendered must not be negative", ErrValidation)
	}

	locationID, shiftID, err := s.resolveSaleContext(ctx, actor, req.LocationID)
	if err != nil {
		return domain.Sale{}, err
	}

	ids := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Sale{}, err
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		product, exists := products[line.ProductID]
		if !exists || !product.Active {
			return domain.Sale{}, &store.UnknownProductError{ProductID: line.ProductID}
		}

		unitPrice := s.prices.UnitPrice(product, line.Quantity)
		if line.UnitPrice != nil {
			if actor.Role != domain.RoleAdmin {
				return domain.Sale{}, ErrForbidden
			}
			if !line.UnitPrice.IsPositive() {
				return domain.Sale{}, fmt.Errorf("%w: unit price override must be positive", ErrValidation)
			}
			unitPrice = *line.UnitPrice
		}
		lines = append(lines, pricing.Line(line.ProductID, line.Quantity, unitPrice))
	}
	total := pricing.Total(lines)

	creditApplied, err := validatePayment(req, total)
	if err != nil {
		return domain.Sale{}, err
	}

	commit, err := s.repo.CreateSale(ctx, domain.Sale{
		LocationID:    locationID,
		SellerID:      actor.Username,
		CustomerID:    req.CustomerID,
		ShiftID:       shiftID,
		PaymentMethod: req.PaymentMethod,
		CreditApplied: creditApplied,
		CashTendered:  req.CashTendered,
		Total:         total,
		Status:        domain.SaleStatusCompleted,
		CreatedAt:     time.Now().UTC(),
		Lines:         lines,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	sale := commit.Sale
	s.emit(func(ctx context.Context) error {
		return s.notifier.SaleCreated(ctx, domain.SaleCreatedEvent{
			SaleID:     sale.ID,
			LocationID: sale.LocationID,
			Total:      sale.Total,
			CreatedAt:  sale.CreatedAt,
		})
	}, "sale_created", sale.ID)
	for _, entry := range commit.LowStock {
		low := entry
		s.emit(func(ctx context.Context) error {
			return s.notifier.StockLow(ctx, domain.StockLowEvent{
				ProductID:    low.ProductID,
				LocationID:   low.LocationID,
				Quantity:     low.Quantity,
				MinThreshold: low.MinThreshold,
			})
		}, "stock_low", low.ProductID)
	}

	return sale, nil
}

// resolveSaleContext binds the sale to the seller's open shift. Admins may
// instead name a location explicitly and sell outside any shift.
func (s *Service) resolveSaleContext(ctx context.Context, actor domain.Actor, requestedLocation string) (locationID string, shiftID string, err error) {
	shift, err := s.repo.GetActiveShiftBySeller(ctx, actor.Username)
	if err != nil {
		if !errors.Is(err, store.ErrNoOpenShift) {
			return "", "", err
		}
		if actor.Role != domain.RoleAdmin {
			return "", "", store.ErrNoOpenShift
		}
		if requestedLocation == "" {
			requestedLocation = s.defaultLocationID
		}
		return requestedLocation, "", nil
	}

	if requestedLocation != "" && requestedLocation != shift.LocationID {
		return "", "", fmt.Errorf("%w: sale location must match the open shift", ErrValidation)
	}
	return shift.LocationID, shift.ID, nil
}

func validatePayment(req domain.SaleCreateRequest, total decimal.Decimal) (decimal.Decimal, error) {
	switch req.PaymentMethod {
	case domain.PaymentCash:
		if !req.CreditRequested.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: cash sale must not request credit", ErrValidation)
		}
		return decimal.Zero, nil
	case domain.PaymentCredit:
		if req.CustomerID == "" {
			return decimal.Zero, fmt.Errorf("%w: credit sale requires a customer", ErrValidation)
		}
		if !req.CreditRequested.Equal(total) {
			return decimal.Zero, fmt.Errorf("%w: credit sale must cover the full total", ErrValidation)
		}
		return total, nil
	case domain.PaymentMixed:
		if req.CustomerID == "" {
			return decimal.Zero, fmt.Errorf("%w: mixed sale requires a customer", ErrValidation)
		}
		if !req.CreditRequested.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: mixed sale must apply some credit", ErrValidation)
		}
		if req.CreditRequested.GreaterThan(total) {
			return decimal.Zero, fmt.Errorf("%w: credit requested exceeds the total", ErrValidation)
		}
		return req.CreditRequested, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown payment method %q", ErrValidation, req.PaymentMethod)
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) CancelSale(ctx context.Context, id string) (domain.Sale, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Sale{}, err
	}

	cancelled, err := s.repo.CancelSale(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}
	return *cancelled, nil
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Shift{}, ErrForbidden
	}

	if req.LocationID == "" {
		req.LocationID = s.defaultLocationID
	}
	if req.OpeningFloat.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: opening float must not be negative", ErrValidation)
	}

	created, err := s.repo.CreateShift(ctx, domain.Shift{
		SellerID:     actor.Username,
		LocationID:   req.LocationID,
		Status:       domain.ShiftStatusOpen,
		OpeningFloat: req.OpeningFloat,
		OpenedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.Shift{}, err
	}
	return *created, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Shift{}, ErrForbidden
	}

	if req.ShiftID == "" {
		return domain.Shift{}, fmt.Errorf("%w: shift id is required", ErrValidation)
	}
	if req.ClosingCash.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: closing cash must not be negative", ErrValidation)
	}

	shift, err := s.repo.GetShift(ctx, req.ShiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if actor.Role != domain.RoleAdmin && shift.SellerID != actor.Username {
		return domain.Shift{}, ErrForbidden
	}

	closed, err := s.repo.CloseShift(ctx, req.ShiftID, req.ClosingCash, strings.TrimSpace(req.Notes), time.Now().UTC())
	if err != nil {
		return domain.Shift{}, err
	}
	return *closed, nil
}

// ActiveShift returns the caller's open shift, or nil when none is open.
func (s *Service) ActiveShift(ctx context.Context) (*domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	shift, err := s.repo.GetActiveShiftBySeller(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNoOpenShift) {
			return nil, nil
		}
		return nil, err
	}
	return shift, nil
}

func (s *Service) ShiftSales(ctx context.Context, shiftID string) ([]domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && shift.SellerID != actor.Username {
		return nil, ErrForbidden
	}

	return s.repo.ListSalesByShift(ctx, shiftID)
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Shift{}, ErrForbidden
	}

	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if actor.Role != domain.RoleAdmin && shift.SellerID != actor.Username {
		return domain.Shift{}, ErrForbidden
	}
	return *shift, nil
}

func (s *Service) CreateUser(ctx context.Context, username, password, role string) error {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return fmt.Errorf("%w: username and a password of at least 8 characters are required", ErrValidation)
	}
	if role != domain.RoleSeller && role != domain.RoleAdmin {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) UpdateUserPassword(ctx context.Context, username, password string) error {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdateUserPassword(ctx, username, string(hash))
}

func requireRole(ctx context.Context, role string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != role {
		return ErrForbidden
	}
	return nil
}

// emit delivers an event on a detached context so a slow broker never holds
// up the request, logging failures instead of surfacing them.
func (s *Service) emit(fn func(ctx context.Context) error, kind string, subject string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("event delivery failed",
				zap.String("event", kind),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}()
}
