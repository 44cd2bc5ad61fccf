package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davinic7/tienda2-sub000/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrNoOpenShift        = errors.New("no open shift")
	ErrShiftAlreadyOpen   = errors.New("shift already open")
	ErrShiftClosed        = errors.New("shift closed")
	ErrLocationInactive   = errors.New("location inactive")
	ErrSaleNotCancellable = errors.New("sale not cancellable")
)

// StockShortageError reports the first line whose requested quantity exceeds
// the available quantity at the sale location. Unwraps to ErrInsufficientStock.
type StockShortageError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockShortageError) Unwrap() error { return ErrInsufficientStock }

// CreditShortageError reports a credit debit that would drive the customer's
// balance below zero. Unwraps to ErrInsufficientCredit.
type CreditShortageError struct {
	CustomerID string
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *CreditShortageError) Error() string {
	return fmt.Sprintf("insufficient credit for %s: requested %s, available %s", e.CustomerID, e.Requested, e.Available)
}

func (e *CreditShortageError) Unwrap() error { return ErrInsufficientCredit }

// UnknownProductError reports a sale line referencing a product that does not
// exist or is inactive. Unwraps to ErrProductNotFound.
type UnknownProductError struct {
	ProductID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product %s", e.ProductID)
}

func (e *UnknownProductError) Unwrap() error { return ErrProductNotFound }

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, locationID string, initialStock, minThreshold int) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetLocation(ctx context.Context, id string) (*domain.Location, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
	GetStockLevels(ctx context.Context, locationID string, productIDs []string) (map[string]domain.StockEntry, error)
	AdjustStock(ctx context.Context, locationID string, productID string, qty int, mode string) (*domain.StockEntry, error)
	SetStockThreshold(ctx context.Context, locationID string, productID string, minThreshold int) (*domain.StockEntry, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreditCustomer(ctx context.Context, id string, amount decimal.Decimal) (*domain.Customer, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.SaleCommit, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	CancelSale(ctx context.Context, id string, at time.Time) (*domain.Sale, error)
	ListSalesByShift(ctx context.Context, shiftID string) ([]domain.Sale, error)
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseShift(ctx context.Context, shiftID string, closingCash decimal.Decimal, notes string, closedAt time.Time) (*domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShiftBySeller(ctx context.Context, sellerID string) (*domain.Shift, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
