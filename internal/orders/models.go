package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Caller is the identity every core operation acts on behalf of.
type Caller struct {
	UserID int64
	Admin  bool
}

// CanAccess reports whether the caller may read or mutate a resource owned by ownerID.
func (c Caller) CanAccess(ownerID int64) bool {
	return c.Admin || c.UserID == ownerID
}

type Variant struct {
	ID          int64
	ProductID   int64
	ProductName string
	ProductSKU  string
	SKU         string
	Stock       int
	Price       decimal.Decimal
	Attributes  map[string]string
	Version     int64
	UpdatedAt   time.Time
}

type Address struct {
	ID            int64  `json:"-"`
	UserID        int64  `json:"-"`
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	AddressLine   string `json:"addressLine"`
	Ward          string `json:"ward"`
	District      string `json:"district"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
}

type Cart struct {
	ID        int64
	UserID    int64
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartItem struct {
	ID          int64
	CartID      int64
	VariantID   int64
	VariantSKU  string
	ProductID   int64
	ProductName string
	Quantity    int
	Price       decimal.Decimal // snapshot taken on the last mutation
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CouponType string

const (
	CouponFixedAmount CouponType = "FIXED_AMOUNT"
	CouponPercentage  CouponType = "PERCENTAGE"
)

type Coupon struct {
	ID             int64
	Code           string
	Type           CouponType
	Amount         decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxUses        int
	UsesLeft       int
	ValidFrom      time.Time
	ValidTo        time.Time
	Active         bool
}

// Validate checks the coupon can be redeemed at now. Minimum order amount is
// checked separately against a subtotal.
func (c Coupon) Validate(now time.Time) error {
	switch {
	case !c.Active:
		return ErrCouponInactive
	case now.Before(c.ValidFrom), now.After(c.ValidTo):
		return ErrCouponExpired
	case c.UsesLeft <= 0:
		return ErrCouponExhausted
	}
	return nil
}

type PaymentInfo struct {
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

type Order struct {
	ID              int64
	OrderNumber     string
	UserID          int64
	UserName        string
	Status          Status
	Subtotal        decimal.Decimal
	ShippingFee     decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	Currency        string
	CouponID        *int64
	ShippingAddress Address
	PaymentInfo     PaymentInfo
	Note            string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusView is the slice of an order the status endpoint needs.
type StatusView struct {
	Status    Status
	UserID    int64
	UpdatedAt time.Time
}

type OrderItem struct {
	ID                int64
	OrderID           int64
	ProductID         int64
	ProductName       string
	ProductSKU        string
	VariantID         int64
	VariantSKU        string
	VariantAttributes map[string]string
	Quantity          int
	Price             decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Reservation struct {
	ID        int64
	VariantID int64
	OrderID   int64
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Page is one slice of a listing plus the totals needed to page through it.
type Page[T any] struct {
	Content       []T
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
}

func NewPage[T any](content []T, page, size int, total int64) Page[T] {
	pages := 0
	if size > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return Page[T]{Content: content, Page: page, Size: size, TotalElements: total, TotalPages: pages}
}
