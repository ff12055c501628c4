package controllers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"agrismart/apperr"
	"agrismart/middleware"
	"agrismart/models"
	"agrismart/services"
	"agrismart/utils"
)

// InitiatePayment starts an STK Push charge for an order. Only the buyer
// may pay; an already-paid order is a conflict. Every attempt, accepted or
// rejected, lands in the order's payment_attempts log.
func (oc *OrderController) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	var req struct {
		OrderID string `json:"orderId"`
		Phone   string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		utils.RespondError(w, apperr.ErrValidation, "Phone number is required")
		return
	}
	orderID, err := primitive.ObjectIDFromHex(req.OrderID)
	if err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid order ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	var order models.Order
	if err := oc.Orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&order); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "Order not found")
		return
	}

	if claims.UserID != order.BuyerID.Hex() {
		utils.RespondError(w, apperr.ErrForbidden, "Not authorized to pay for this order")
		return
	}
	if order.PaymentStatus == models.PaymentPaid {
		utils.RespondError(w, apperr.ErrConflict, "Order is already paid")
		return
	}

	phone := services.NormalizePhone(req.Phone)
	attempt := models.PaymentAttempt{
		Timestamp: time.Now().UTC(),
		Amount:    order.Total,
		Phone:     phone,
	}

	result, err := oc.Gateway.InitiateSTKPush(ctx, services.STKPushRequest{
		OrderID: order.ID.Hex(),
		Amount:  order.Total,
		Phone:   phone,
	})
	if err != nil {
		attempt.Status = "failed"
		oc.appendAttempt(ctx, orderID, attempt)
		utils.RespondError(w, err, err.Error())
		return
	}

	attempt.CheckoutID = result.CheckoutID
	attempt.Status = "initiated"

	// The new checkout id replaces the active gateway record; payment
	// status stays pending until the callback or poll confirms.
	_, err = oc.Orders.UpdateOne(ctx, bson.M{"_id": orderID}, bson.M{
		"$set": bson.M{
			"mpesa_transaction": models.MpesaTransaction{
				CheckoutID:        result.CheckoutID,
				MerchantRequestID: result.MerchantRequestID,
			},
			"updated_at": time.Now().UTC(),
		},
		"$push": bson.M{"payment_attempts": attempt},
	})
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (oc *OrderController) appendAttempt(ctx context.Context, orderID primitive.ObjectID, attempt models.PaymentAttempt) {
	_, err := oc.Orders.UpdateOne(ctx, bson.M{"_id": orderID}, bson.M{
		"$push": bson.M{"payment_attempts": attempt},
	})
	if err != nil {
		log.Printf("append payment attempt for %s: %v", orderID.Hex(), err)
	}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// ackCallback always answers HTTP 200: the webhook is a gateway contract,
// not a client API, and a non-200 only makes Safaricom retry.
func ackCallback(w http.ResponseWriter, code int, desc string) {
	utils.RespondJSON(w, http.StatusOK, callbackAck{ResultCode: code, ResultDesc: desc})
}

// MpesaCallback reconciles an asynchronous gateway notification against the
// order holding its checkout id. Paid is terminal: duplicate success
// callbacks are acknowledged without mutation, and a failure callback after
// payment is ignored.
func (oc *OrderController) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	if oc.Mpesa.CallbackSecret != "" && r.URL.Query().Get("secret") != oc.Mpesa.CallbackSecret {
		log.Printf("mpesa callback rejected: bad secret from %s", r.RemoteAddr)
		ackCallback(w, 1, "Rejected")
		return
	}

	body, err := services.ReadCallbackBody(r.Body)
	if err != nil {
		ackCallback(w, 1, "Invalid callback")
		return
	}

	cb, err := services.ParseCallback(body)
	if err != nil {
		log.Printf("mpesa callback parse: %v", err)
		ackCallback(w, 1, "Invalid callback structure")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var order models.Order
	err = oc.Orders.FindOne(ctx, bson.M{"mpesa_transaction.checkout_id": cb.CheckoutID}).Decode(&order)
	if err != nil {
		log.Printf("mpesa callback: no order for checkout %s", cb.CheckoutID)
		ackCallback(w, 1, "Order not found")
		return
	}

	if cb.Success {
		if order.PaymentStatus == models.PaymentPaid {
			log.Printf("order %s already paid, callback ignored", order.ID.Hex())
			ackCallback(w, 0, "Success")
			return
		}

		now := time.Now().UTC()
		_, err = oc.Orders.UpdateOne(ctx, bson.M{"_id": order.ID}, bson.M{
			"$set": bson.M{
				"payment_status": models.PaymentPaid,
				"order_status":   models.OrderAccepted,
				"mpesa_transaction": models.MpesaTransaction{
					CheckoutID:    cb.CheckoutID,
					TransactionID: cb.ReceiptNumber,
					ReceiptNumber: cb.ReceiptNumber,
					Amount:        cb.Amount,
					Phone:         cb.Phone,
					Timestamp:     cb.TransactionTime,
				},
				"updated_at": now,
			},
		})
		if err != nil {
			log.Printf("confirm payment for order %s: %v", order.ID.Hex(), err)
			ackCallback(w, 1, "Callback processing failed")
			return
		}

		log.Printf("order %s payment confirmed, receipt %s", order.ID.Hex(), cb.ReceiptNumber)
		ackCallback(w, 0, "Success")
		return
	}

	// Failure result: mark failed unless the order is already paid.
	if order.PaymentStatus != models.PaymentPaid {
		_, err = oc.Orders.UpdateOne(ctx, bson.M{"_id": order.ID}, bson.M{
			"$set": bson.M{
				"payment_status": models.PaymentFailed,
				"updated_at":     time.Now().UTC(),
			},
		})
		if err != nil {
			log.Printf("mark payment failed for order %s: %v", order.ID.Hex(), err)
			ackCallback(w, 1, "Callback processing failed")
			return
		}
		log.Printf("order %s payment failed: %s", order.ID.Hex(), cb.ResultDesc)
	}

	desc := cb.ResultDesc
	if desc == "" {
		desc = "Failed"
	}
	ackCallback(w, 1, desc)
}

type paymentStatusResponse struct {
	PaymentStatus string                   `json:"paymentStatus"`
	OrderStatus   string                   `json:"orderStatus"`
	Mpesa         *models.MpesaTransaction `json:"mpesaTransaction,omitempty"`
}

// CheckPaymentStatus is what the buyer's poller hits while waiting for the
// callback to land.
func (oc *OrderController) CheckPaymentStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	orderID, err := primitive.ObjectIDFromHex(mux.Vars(r)["orderId"])
	if err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid order ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var order models.Order
	if err := oc.Orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&order); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "Order not found")
		return
	}

	if claims.UserID != order.BuyerID.Hex() {
		utils.RespondError(w, apperr.ErrForbidden, "Not authorized")
		return
	}

	utils.RespondJSON(w, http.StatusOK, paymentStatusResponse{
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.OrderStatus,
		Mpesa:         order.Mpesa,
	})
}
