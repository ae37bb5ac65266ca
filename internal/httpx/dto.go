package httpx

import (
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/cart"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type CheckoutReq struct {
	ShippingAddressID int64  `json:"shippingAddressId"`
	PaymentMethod     string `json:"paymentMethod"`
	CouponCode        string `json:"couponCode,omitempty"`
	Note              string `json:"note,omitempty"`
}

type AdvanceStatusReq struct {
	Status orders.Status `json:"status"`
}

type AddCartItemReq struct {
	VariantID int64 `json:"variantId"`
	Quantity  int   `json:"quantity"`
}

type UpdateCartItemReq struct {
	Quantity int `json:"quantity"`
}

type ApplyCouponReq struct {
	CouponCode string `json:"couponCode"`
}

type ShippingAddressResp struct {
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	AddressLine   string `json:"addressLine"`
	Ward          string `json:"ward"`
	District      string `json:"district"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
}

type PaymentInfoResp struct {
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

type OrderItemResp struct {
	ProductID         int64             `json:"productId"`
	ProductName       string            `json:"productName"`
	ProductSKU        string            `json:"productSku"`
	VariantID         int64             `json:"variantId"`
	VariantSKU        string            `json:"variantSku"`
	VariantAttributes map[string]string `json:"variantAttributes"`
	Quantity          int               `json:"quantity"`
	Price             decimal.Decimal   `json:"price"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
}

type OrderResp struct {
	ID              int64               `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	UserID          int64               `json:"userId"`
	UserName        string              `json:"userName"`
	Status          orders.Status       `json:"status"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	ShippingFee     decimal.Decimal     `json:"shippingFee"`
	DiscountAmount  decimal.Decimal     `json:"discountAmount"`
	TotalAmount     decimal.Decimal     `json:"totalAmount"`
	Currency        string              `json:"currency"`
	ShippingAddress ShippingAddressResp `json:"shippingAddress"`
	PaymentInfo     PaymentInfoResp     `json:"paymentInfo"`
	Note            string              `json:"note"`
	Items           []OrderItemResp     `json:"items"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

type PageResp[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

type OrderStatusResp struct {
	OrderID   int64         `json:"orderId"`
	Status    orders.Status `json:"status"`
	UpdatedAt *time.Time    `json:"updatedAt,omitempty"`
	Cached    bool          `json:"cached"`
}

type CartItemResp struct {
	ID          int64           `json:"id"`
	VariantID   int64           `json:"variantId"`
	VariantSKU  string          `json:"variantSku"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type CartResp struct {
	CartID         int64           `json:"cartId"`
	Items          []CartItemResp  `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Total          decimal.Decimal `json:"total"`
	CouponCode     string          `json:"couponCode,omitempty"`
}

func toOrderResp(o orders.Order) OrderResp {
	a := o.ShippingAddress
	return OrderResp{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		UserName:       o.UserName,
		Status:         o.Status,
		Subtotal:       o.Subtotal,
		ShippingFee:    o.ShippingFee,
		DiscountAmount: o.DiscountAmount,
		TotalAmount:    o.TotalAmount,
		Currency:       o.Currency,
		ShippingAddress: ShippingAddressResp{
			RecipientName: a.RecipientName,
			Phone:         a.Phone,
			AddressLine:   a.AddressLine,
			Ward:          a.Ward,
			District:      a.District,
			City:          a.City,
			PostalCode:    a.PostalCode,
		},
		PaymentInfo: PaymentInfoResp{Method: o.PaymentInfo.Method, Reference: o.PaymentInfo.Reference},
		Note:        o.Note,
		Items: lo.Map(o.Items, func(it orders.OrderItem, _ int) OrderItemResp {
			return OrderItemResp{
				ProductID:         it.ProductID,
				ProductName:       it.ProductName,
				ProductSKU:        it.ProductSKU,
				VariantID:         it.VariantID,
				VariantSKU:        it.VariantSKU,
				VariantAttributes: it.VariantAttributes,
				Quantity:          it.Quantity,
				Price:             it.Price,
				Subtotal:          it.Subtotal(),
			}
		}),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toPageResp(p orders.Page[orders.Order]) PageResp[OrderResp] {
	return PageResp[OrderResp]{
		Content:       lo.Map(p.Content, func(o orders.Order, _ int) OrderResp { return toOrderResp(o) }),
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
	}
}

func toCartResp(s cart.Summary) CartResp {
	return CartResp{
		CartID: s.Cart.ID,
		Items: lo.Map(s.Cart.Items, func(it orders.CartItem, _ int) CartItemResp {
			return CartItemResp{
				ID:          it.ID,
				VariantID:   it.VariantID,
				VariantSKU:  it.VariantSKU,
				ProductID:   it.ProductID,
				ProductName: it.ProductName,
				Quantity:    it.Quantity,
				Price:       it.Price,
				Subtotal:    it.Subtotal(),
			}
		}),
		Subtotal:       s.Subtotal,
		DiscountAmount: s.Discount,
		Total:          s.Total,
		CouponCode:     s.CouponCode,
	}
}
