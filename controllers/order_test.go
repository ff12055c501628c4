package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"agrismart/config"
	"agrismart/middleware"
	"agrismart/models"
	"agrismart/services"
	"agrismart/utils"
)

func newOrderController(mt *mtest.T) *OrderController {
	cfg := config.MpesaConfig{UseMock: true}
	return NewOrderController(mt.DB, services.NewMockGateway(cfg), cfg)
}

// authedRequest builds a request carrying the claims AuthMiddleware would
// have attached.
func authedRequest(method, target string, body io.Reader, userID primitive.ObjectID, role string) *http.Request {
	r := httptest.NewRequest(method, target, body)
	claims := &utils.Claims{UserID: userID.Hex(), Role: role}
	return r.WithContext(context.WithValue(r.Context(), middleware.UserContextKey, claims))
}

func productDoc(id, sellerID primitive.ObjectID, title string, price float64, quantity int) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "seller_id", Value: sellerID},
		{Key: "title", Value: title},
		{Key: "price", Value: price},
		{Key: "quantity", Value: quantity},
		{Key: "unit", Value: "kg"},
		{Key: "images", Value: bson.A{"https://example.com/img.jpg"}},
	}
}

func TestCreateOrder(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	buyerID := primitive.NewObjectID()
	sellerID := primitive.NewObjectID()
	p1 := primitive.NewObjectID()
	p2 := primitive.NewObjectID()

	mt.Run("success", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch,
				productDoc(p1, sellerID, "Fresh Organic Tomatoes", 150, 100)),
			mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch,
				productDoc(p2, sellerID, "Avocados", 50, 60)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(),
		)

		body := `{"items":[{"productId":"` + p1.Hex() + `","quantity":2},{"productId":"` + p2.Hex() + `","quantity":1}]}`
		req := authedRequest(http.MethodPost, "/api/orders", strings.NewReader(body), buyerID, models.RoleBuyer)
		rec := httptest.NewRecorder()

		oc.CreateOrder(rec, req)

		if rec.Code != http.StatusCreated {
			mt.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var order models.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
			mt.Fatalf("decode response: %v", err)
		}
		if order.Total != 350 {
			mt.Errorf("total = %v, want 350", order.Total)
		}
		if order.PaymentStatus != models.PaymentPending || order.OrderStatus != models.OrderPending {
			mt.Errorf("statuses = %s/%s, want pending/pending", order.PaymentStatus, order.OrderStatus)
		}
		if order.SellerID != sellerID {
			mt.Errorf("seller = %s, want %s", order.SellerID.Hex(), sellerID.Hex())
		}
		if len(order.Items) != 2 || order.Items[0].Price != 150 || order.Items[0].Title != "Fresh Organic Tomatoes" {
			mt.Errorf("items not frozen from products: %+v", order.Items)
		}
	})

	mt.Run("empty items", func(mt *mtest.T) {
		oc := newOrderController(mt)
		req := authedRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"items":[]}`), buyerID, models.RoleBuyer)
		rec := httptest.NewRecorder()

		oc.CreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			mt.Errorf("status = %d, want 400", rec.Code)
		}
	})

	mt.Run("zero quantity", func(mt *mtest.T) {
		oc := newOrderController(mt)
		body := `{"items":[{"productId":"` + p1.Hex() + `","quantity":0}]}`
		req := authedRequest(http.MethodPost, "/api/orders", strings.NewReader(body), buyerID, models.RoleBuyer)
		rec := httptest.NewRecorder()

		oc.CreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			mt.Errorf("status = %d, want 400", rec.Code)
		}
	})

	mt.Run("unknown product", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch))

		body := `{"items":[{"productId":"` + p1.Hex() + `","quantity":1}]}`
		req := authedRequest(http.MethodPost, "/api/orders", strings.NewReader(body), buyerID, models.RoleBuyer)
		rec := httptest.NewRecorder()

		oc.CreateOrder(rec, req)

		if rec.Code != http.StatusNotFound {
			mt.Errorf("status = %d, want 404", rec.Code)
		}
	})

	mt.Run("insufficient stock", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch,
				productDoc(p1, sellerID, "Fresh Kale", 200, 1)),
		)

		body := `{"items":[{"productId":"` + p1.Hex() + `","quantity":5}]}`
		req := authedRequest(http.MethodPost, "/api/orders", strings.NewReader(body), buyerID, models.RoleBuyer)
		rec := httptest.NewRecorder()

		oc.CreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			mt.Errorf("status = %d, want 400", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Insufficient") {
			mt.Errorf("body = %s, want insufficient quantity message", rec.Body.String())
		}
	})

	mt.Run("mixed sellers rejected", func(mt *mtest.T) {
		oc := newOrderController(mt)
		otherSeller := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch,
				productDoc(p1, sellerID, "Bananas", 100, 120)),
			mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch,
				productDoc(p2, otherSeller, "Mangoes", 90, 80)),
		)

		body := `{"items":[{"productId":"` + p1.Hex() + `","quantity":1},{"productId":"` + p2.Hex() + `","quantity":1}]}`
		req := authedRequest(http.MethodPost, "/api/orders", strings.NewReader(body), buyerID, models.RoleBuyer)
		rec := httptest.NewRecorder()

		oc.CreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			mt.Errorf("status = %d, want 400", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "single seller") {
			mt.Errorf("body = %s, want single seller message", rec.Body.String())
		}
	})

	// A decrement that loses the race on the second product must restock
	// the first before the handler reports the failure.
	mt.Run("partial decrement compensated", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch,
				productDoc(p1, sellerID, "Bell Peppers", 180, 40)),
			mtest.CreateCursorResponse(0, "agrismart.products", mtest.FirstBatch,
				productDoc(p2, sellerID, "Organic Carrots", 120, 2)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		body := `{"items":[{"productId":"` + p1.Hex() + `","quantity":1},{"productId":"` + p2.Hex() + `","quantity":2}]}`
		req := authedRequest(http.MethodPost, "/api/orders", strings.NewReader(body), buyerID, models.RoleBuyer)
		rec := httptest.NewRecorder()

		oc.CreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			mt.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})
}

func orderDoc(id, buyerID, sellerID primitive.ObjectID, paymentStatus, orderStatus string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "buyer_id", Value: buyerID},
		{Key: "seller_id", Value: sellerID},
		{Key: "items", Value: bson.A{bson.D{
			{Key: "product_id", Value: primitive.NewObjectID()},
			{Key: "quantity", Value: 2},
			{Key: "price", Value: 150.0},
			{Key: "title", Value: "Fresh Organic Tomatoes"},
		}}},
		{Key: "total", Value: 300.0},
		{Key: "payment_status", Value: paymentStatus},
		{Key: "order_status", Value: orderStatus},
	}
}

func TestGetOrder(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	orderID := primitive.NewObjectID()
	buyerID := primitive.NewObjectID()
	sellerID := primitive.NewObjectID()

	mt.Run("buyer can view with populated parties", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.orders", mtest.FirstBatch,
				orderDoc(orderID, buyerID, sellerID, models.PaymentPending, models.OrderPending)),
			mtest.CreateCursorResponse(0, "agrismart.users", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: buyerID},
				{Key: "name", Value: "Brian Buyer"},
				{Key: "email", Value: "brian@example.com"},
			}),
			mtest.CreateCursorResponse(0, "agrismart.users", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: sellerID},
				{Key: "name", Value: "Jane Farmer"},
				{Key: "email", Value: "jane@farm.co.ke"},
			}),
		)

		req := authedRequest(http.MethodGet, "/api/orders/"+orderID.Hex(), nil, buyerID, models.RoleBuyer)
		req = mux.SetURLVars(req, map[string]string{"id": orderID.Hex()})
		rec := httptest.NewRecorder()

		oc.GetOrder(rec, req)

		if rec.Code != http.StatusOK {
			mt.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var order models.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
			mt.Fatalf("decode response: %v", err)
		}
		if order.Buyer == nil || order.Seller == nil {
			mt.Fatalf("parties not populated: %+v", order)
		}
		if order.Buyer.Name != "Brian Buyer" || order.Seller.Name != "Jane Farmer" {
			mt.Errorf("populated names = %q/%q", order.Buyer.Name, order.Seller.Name)
		}
	})

	mt.Run("stranger is forbidden", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.orders", mtest.FirstBatch,
				orderDoc(orderID, buyerID, sellerID, models.PaymentPending, models.OrderPending)),
		)

		stranger := primitive.NewObjectID()
		req := authedRequest(http.MethodGet, "/api/orders/"+orderID.Hex(), nil, stranger, models.RoleBuyer)
		req = mux.SetURLVars(req, map[string]string{"id": orderID.Hex()})
		rec := httptest.NewRecorder()

		oc.GetOrder(rec, req)

		if rec.Code != http.StatusForbidden {
			mt.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestUpdateOrderStatus(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	orderID := primitive.NewObjectID()
	buyerID := primitive.NewObjectID()
	sellerID := primitive.NewObjectID()

	mt.Run("seller ships the order", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.orders", mtest.FirstBatch,
				orderDoc(orderID, buyerID, sellerID, models.PaymentPaid, models.OrderAccepted)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		req := authedRequest(http.MethodPut, "/api/orders/"+orderID.Hex()+"/status",
			strings.NewReader(`{"orderStatus":"shipped"}`), sellerID, models.RoleFarmer)
		req = mux.SetURLVars(req, map[string]string{"id": orderID.Hex()})
		rec := httptest.NewRecorder()

		oc.UpdateOrderStatus(rec, req)

		if rec.Code != http.StatusOK {
			mt.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var order models.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
			mt.Fatalf("decode response: %v", err)
		}
		if order.OrderStatus != models.OrderShipped {
			mt.Errorf("order status = %q, want shipped", order.OrderStatus)
		}
	})

	mt.Run("buyer may not update status", func(mt *mtest.T) {
		oc := newOrderController(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "agrismart.orders", mtest.FirstBatch,
				orderDoc(orderID, buyerID, sellerID, models.PaymentPaid, models.OrderAccepted)),
		)

		req := authedRequest(http.MethodPut, "/api/orders/"+orderID.Hex()+"/status",
			strings.NewReader(`{"orderStatus":"completed"}`), buyerID, models.RoleBuyer)
		req = mux.SetURLVars(req, map[string]string{"id": orderID.Hex()})
		rec := httptest.NewRecorder()

		oc.UpdateOrderStatus(rec, req)

		if rec.Code != http.StatusForbidden {
			mt.Errorf("status = %d, want 403", rec.Code)
		}
	})

	mt.Run("invalid status value", func(mt *mtest.T) {
		oc := newOrderController(mt)
		req := authedRequest(http.MethodPut, "/api/orders/"+orderID.Hex()+"/status",
			strings.NewReader(`{"orderStatus":"teleported"}`), sellerID, models.RoleFarmer)
		req = mux.SetURLVars(req, map[string]string{"id": orderID.Hex()})
		rec := httptest.NewRecorder()

		oc.UpdateOrderStatus(rec, req)

		if rec.Code != http.StatusBadRequest {
			mt.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
