package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Payment statuses. Paid is terminal: once reached it is never overwritten.
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

// Order statuses.
const (
	OrderPending   = "pending"
	OrderAccepted  = "accepted"
	OrderShipped   = "shipped"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"
)

// ValidOrderStatus reports whether s is an accepted order status value.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderPending, OrderAccepted, OrderShipped, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// OrderItem is one line item with the product's price, title and image
// frozen at order time, so later product edits never affect the order.
type OrderItem struct {
	ProductID primitive.ObjectID `bson:"product_id" json:"productId"`
	Quantity  int                `bson:"quantity" json:"quantity"`
	Price     float64            `bson:"price" json:"price"`
	Title     string             `bson:"title" json:"title"`
	Image     string             `bson:"image,omitempty" json:"image,omitempty"`
}

// MpesaTransaction records the gateway charge attached to an order. Only
// the most recent checkout id is active; a new initiation replaces the
// whole record.
type MpesaTransaction struct {
	CheckoutID        string    `bson:"checkout_id,omitempty" json:"checkoutId,omitempty"`
	MerchantRequestID string    `bson:"merchant_request_id,omitempty" json:"merchantRequestId,omitempty"`
	TransactionID     string    `bson:"transaction_id,omitempty" json:"transactionId,omitempty"`
	ReceiptNumber     string    `bson:"receipt_number,omitempty" json:"receiptNumber,omitempty"`
	Amount            float64   `bson:"amount,omitempty" json:"amount,omitempty"`
	Phone             string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Timestamp         time.Time `bson:"timestamp,omitempty" json:"timestamp,omitempty"`
	RawPayload        bson.M    `bson:"raw_payload,omitempty" json:"-"`
}

// PaymentAttempt is one entry in the order's append-only initiation log.
type PaymentAttempt struct {
	CheckoutID string    `bson:"checkout_id,omitempty" json:"checkoutId,omitempty"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
	Amount     float64   `bson:"amount" json:"amount"`
	Phone      string    `bson:"phone" json:"phone"`
	Status     string    `bson:"status" json:"status"`
}

// Order is a purchase of one seller's products by one buyer. The total is
// computed once at creation and never recomputed from the items.
type Order struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	BuyerID         primitive.ObjectID `bson:"buyer_id" json:"buyerId"`
	SellerID        primitive.ObjectID `bson:"seller_id" json:"sellerId"`
	Items           []OrderItem        `bson:"items" json:"items"`
	Total           float64            `bson:"total" json:"total"`
	PaymentStatus   string             `bson:"payment_status" json:"paymentStatus"`
	OrderStatus     string             `bson:"order_status" json:"orderStatus"`
	Mpesa           *MpesaTransaction  `bson:"mpesa_transaction,omitempty" json:"mpesaTransaction,omitempty"`
	PaymentAttempts []PaymentAttempt   `bson:"payment_attempts,omitempty" json:"paymentAttempts,omitempty"`
	Buyer           *UserSummary       `bson:"-" json:"buyer,omitempty"`
	Seller          *UserSummary       `bson:"-" json:"seller,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updatedAt"`
}
