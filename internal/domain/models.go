package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	LocationID   string          `json:"location_id,omitempty"`
	InitialStock int             `json:"initial_stock"`
	MinThreshold int             `json:"min_threshold"`
}

type ProductUpdateRequest struct {
	Name   *string          `json:"name,omitempty"`
	Price  *decimal.Decimal `json:"price,omitempty"`
	Active *bool            `json:"active,omitempty"`
}

type Location struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// StockEntry is the per (product, location) inventory ledger row.
// Quantity is never negative; mutations happen only through ledger
// operations inside the enclosing transaction.
type StockEntry struct {
	ProductID    string `json:"product_id"`
	LocationID   string `json:"location_id"`
	Quantity     int    `json:"quantity"`
	MinThreshold int    `json:"min_threshold"`
}

type StockAdjustRequest struct {
	LocationID string `json:"location_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Mode       string `json:"mode"`
}

type StockThresholdRequest struct {
	LocationID   string `json:"location_id"`
	ProductID    string `json:"product_id"`
	MinThreshold int    `json:"min_threshold"`
}

type StockAvailabilityResponse struct {
	LocationID string                `json:"location_id"`
	Stock      map[string]StockEntry `json:"stock"`
}

type Customer struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name          string          `json:"name"`
	InitialCredit decimal.Decimal `json:"initial_credit"`
}

type CreditTopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type SaleLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type SaleLineRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleCreateRequest struct {
	LocationID      string            `json:"location_id,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
	PaymentMethod   string            `json:"payment_method"`
	CreditRequested decimal.Decimal   `json:"credit_requested"`
	CashTendered    decimal.Decimal   `json:"cash_tendered"`
	Lines           []SaleLineRequest `json:"lines"`
}

// Sale is immutable once committed; the only lifecycle transition is the
// admin-initiated cancel, which restores stock and refunds applied credit.
type Sale struct {
	ID            string          `json:"id"`
	LocationID    string          `json:"location_id"`
	SellerID      string          `json:"seller_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	ShiftID       string          `json:"shift_id,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	CreditApplied decimal.Decimal `json:"credit_applied"`
	CashTendered  decimal.Decimal `json:"cash_tendered"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	Lines         []SaleLine      `json:"lines"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

// SaleCommit is the result of the atomic sale commit: the hydrated sale plus
// any stock rows that crossed their minimum threshold during the decrement.
type SaleCommit struct {
	Sale     Sale
	LowStock []StockEntry
}

type Shift struct {
	ID           string           `json:"id"`
	SellerID     string           `json:"seller_id"`
	LocationID   string           `json:"location_id"`
	Status       string           `json:"status"`
	OpeningFloat decimal.Decimal  `json:"opening_float"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosingCash  *decimal.Decimal `json:"closing_cash,omitempty"`
	ExpectedCash *decimal.Decimal `json:"expected_cash,omitempty"`
	Variance     *decimal.Decimal `json:"variance,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	LocationID   string          `json:"location_id"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
}

type ShiftCloseRequest struct {
	ShiftID     string          `json:"shift_id"`
	ClosingCash decimal.Decimal `json:"closing_cash"`
	Notes       string          `json:"notes,omitempty"`
}

type ShiftResponse struct {
	Shift *Shift `json:"shift"`
}

type SaleCreatedEvent struct {
	SaleID     string          `json:"sale_id"`
	LocationID string          `json:"location_id"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
}

type StockLowEvent struct {
	ProductID    string `json:"product_id"`
	LocationID   string `json:"location_id"`
	Quantity     int    `json:"quantity"`
	MinThreshold int    `json:"min_threshold"`
}

type PriceChangedEvent struct {
	ProductID string          `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedAt time.Time       `json:"changed_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash   = "cash"
	PaymentCredit = "credit"
	PaymentMixed  = "mixed"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	AdjustModeAdd      = "add"
	AdjustModeSubtract = "subtract"
	AdjustModeSet      = "set"
)

const (
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// CashPortion returns the cash contribution of a sale for shift
// reconciliation: the full total for cash sales, total minus applied credit
// for mixed sales, zero otherwise.
func (s Sale) CashPortion() decimal.Decimal {
	switch s.PaymentMethod {
	case PaymentCash:
		return s.Total
	case PaymentMixed:
		return s.Total.Sub(s.CreditApplied)
	default:
		return decimal.Zero
	}
}
