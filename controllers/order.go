package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"agrismart/apperr"
	"agrismart/config"
	"agrismart/middleware"
	"agrismart/models"
	"agrismart/services"
	"agrismart/utils"
)

// OrderController handles order creation, listing, status updates and the
// M-Pesa payment flow (initiate, callback, status).
type OrderController struct {
	Orders   *mongo.Collection
	Products *mongo.Collection
	Users    *mongo.Collection
	Gateway  services.Gateway
	Mpesa    config.MpesaConfig
}

func NewOrderController(db *mongo.Database, gateway services.Gateway, mpesa config.MpesaConfig) *OrderController {
	return &OrderController{
		Orders:   db.Collection("orders"),
		Products: db.Collection("products"),
		Users:    db.Collection("users"),
		Gateway:  gateway,
		Mpesa:    mpesa,
	}
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items []orderItemRequest `json:"items"`
}

type stockDecrement struct {
	productID primitive.ObjectID
	quantity  int
}

// CreateOrder validates every line item, then decrements stock with a
// quantity-guarded update per product, then inserts the order. Any failure
// after a decrement re-increments what was already taken, so no partial
// decrement survives a failed creation.
func (oc *OrderController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}
	buyerID, err := objectIDFromClaims(claims)
	if err != nil {
		utils.RespondError(w, err, "Invalid token")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid request body")
		return
	}
	if len(req.Items) == 0 {
		utils.RespondError(w, apperr.ErrValidation, "No items")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Validation pass: every product must exist, have stock, and belong to
	// the same seller. Prices are frozen here.
	lines := make([]models.OrderItem, 0, len(req.Items))
	var sellerID primitive.ObjectID
	total := decimal.Zero

	for _, item := range req.Items {
		if item.Quantity <= 0 {
			utils.RespondError(w, apperr.ErrValidation, "Item quantity must be a positive integer")
			return
		}
		productID, err := primitive.ObjectIDFromHex(item.ProductID)
		if err != nil {
			utils.RespondError(w, apperr.ErrValidation, fmt.Sprintf("Invalid product ID %s", item.ProductID))
			return
		}

		var product models.Product
		if err := oc.Products.FindOne(ctx, bson.M{"_id": productID}).Decode(&product); err != nil {
			utils.RespondError(w, apperr.ErrNotFound, fmt.Sprintf("Product %s not found", item.ProductID))
			return
		}
		if product.Quantity < item.Quantity {
			utils.RespondError(w, apperr.ErrInsufficientStock,
				fmt.Sprintf("Insufficient quantity for %s. Available: %d", product.Title, product.Quantity))
			return
		}

		if sellerID.IsZero() {
			sellerID = product.SellerID
		} else if sellerID != product.SellerID {
			utils.RespondError(w, apperr.ErrValidation, "All items in an order must belong to a single seller")
			return
		}

		line := models.OrderItem{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			Price:     product.Price,
			Title:     product.Title,
		}
		if len(product.Images) > 0 {
			line.Image = product.Images[0]
		}
		lines = append(lines, line)

		total = total.Add(decimal.NewFromFloat(product.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	// Decrement pass: the quantity guard on the filter makes each decrement
	// safe against concurrent orders for the same product.
	decremented := make([]stockDecrement, 0, len(lines))
	for _, line := range lines {
		result, err := oc.Products.UpdateOne(ctx,
			bson.M{"_id": line.ProductID, "quantity": bson.M{"$gte": line.Quantity}},
			bson.M{"$inc": bson.M{"quantity": -line.Quantity}},
		)
		if err != nil {
			oc.restock(ctx, decremented)
			utils.RespondError(w, err, "")
			return
		}
		if result.MatchedCount == 0 {
			oc.restock(ctx, decremented)
			utils.RespondError(w, apperr.ErrInsufficientStock,
				fmt.Sprintf("Insufficient quantity for %s", line.Title))
			return
		}
		decremented = append(decremented, stockDecrement{productID: line.ProductID, quantity: line.Quantity})
	}

	now := time.Now().UTC()
	order := models.Order{
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Items:         lines,
		Total:         total.InexactFloat64(),
		PaymentStatus: models.PaymentPending,
		OrderStatus:   models.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	result, err := oc.Orders.InsertOne(ctx, order)
	if err != nil {
		oc.restock(ctx, decremented)
		utils.RespondError(w, err, "")
		return
	}
	order.ID = result.InsertedID.(primitive.ObjectID)

	utils.RespondJSON(w, http.StatusCreated, order)
}

// restock compensates decrements after a failed creation.
func (oc *OrderController) restock(ctx context.Context, decremented []stockDecrement) {
	for _, d := range decremented {
		_, err := oc.Products.UpdateOne(ctx,
			bson.M{"_id": d.productID},
			bson.M{"$inc": bson.M{"quantity": d.quantity}},
		)
		if err != nil {
			log.Printf("restock product %s by %d: %v", d.productID.Hex(), d.quantity, err)
		}
	}
}

// GetOrder returns one order to its buyer, its seller or an admin, with
// both user references populated concurrently.
func (oc *OrderController) GetOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	orderID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
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

	if claims.UserID != order.BuyerID.Hex() &&
		claims.UserID != order.SellerID.Hex() &&
		claims.Role != models.RoleAdmin {
		utils.RespondError(w, apperr.ErrForbidden, "Not authorized to view this order")
		return
	}

	oc.populateParties(ctx, &order)

	utils.RespondJSON(w, http.StatusOK, order)
}

// populateParties loads buyer and seller summaries in parallel. A missing
// user just leaves the reference unpopulated.
func (oc *OrderController) populateParties(ctx context.Context, order *models.Order) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var buyer models.User
		err := oc.Users.FindOne(gctx, bson.M{"_id": order.BuyerID}).Decode(&buyer)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil
			}
			return err
		}
		order.Buyer = buyer.Summary()
		return nil
	})
	g.Go(func() error {
		var seller models.User
		err := oc.Users.FindOne(gctx, bson.M{"_id": order.SellerID}).Decode(&seller)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil
			}
			return err
		}
		order.Seller = seller.Summary()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("populate order %s parties: %v", order.ID.Hex(), err)
	}
}

type orderListResponse struct {
	Orders      []models.Order `json:"orders"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Total       int64          `json:"total"`
}

// GetUserOrders lists the caller's orders: purchases, sales, or both.
func (oc *OrderController) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}
	userID, err := objectIDFromClaims(claims)
	if err != nil {
		utils.RespondError(w, err, "Invalid token")
		return
	}

	query := r.URL.Query()
	var filter bson.M
	switch query.Get("type") {
	case "buying":
		filter = bson.M{"buyer_id": userID}
	case "selling":
		filter = bson.M{"seller_id": userID}
	default:
		filter = bson.M{"$or": []bson.M{{"buyer_id": userID}, {"seller_id": userID}}}
	}

	page, limit := parsePagination(query.Get("page"), query.Get("limit"), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	total, err := oc.Orders.CountDocuments(ctx, filter)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	cursor, err := oc.Orders.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64((page-1)*limit)))
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusOK, orderListResponse{
		Orders:      orders,
		TotalPages:  int(math.Ceil(float64(total) / float64(limit))),
		CurrentPage: page,
		Total:       total,
	})
}

// UpdateOrderStatus lets the seller or an admin move the order through its
// fulfilment states.
func (oc *OrderController) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	orderID, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid order ID")
		return
	}

	var req struct {
		OrderStatus string `json:"orderStatus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid request body")
		return
	}
	if !models.ValidOrderStatus(req.OrderStatus) {
		utils.RespondError(w, apperr.ErrValidation, "Invalid order status")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var order models.Order
	if err := oc.Orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&order); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "Order not found")
		return
	}

	if claims.Role != models.RoleAdmin && claims.UserID != order.SellerID.Hex() {
		utils.RespondError(w, apperr.ErrForbidden, "Not authorized to update this order")
		return
	}

	now := time.Now().UTC()
	_, err = oc.Orders.UpdateOne(ctx, bson.M{"_id": orderID}, bson.M{
		"$set": bson.M{"order_status": req.OrderStatus, "updated_at": now},
	})
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	order.OrderStatus = req.OrderStatus
	order.UpdatedAt = now
	utils.RespondJSON(w, http.StatusOK, order)
}
