package controllers

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"agrismart/apperr"
	"agrismart/middleware"
	"agrismart/models"
	"agrismart/services"
	"agrismart/utils"
)

// Default listing coordinates (Nairobi) when the seller provides none.
const (
	defaultLng = 36.8219
	defaultLat = -1.2921
)

const maxImageUploadBytes = 10 << 20

// ProductController handles produce listings.
type ProductController struct {
	Products *mongo.Collection
	Users    *mongo.Collection
	Uploader services.ImageUploader
}

func NewProductController(db *mongo.Database, uploader services.ImageUploader) *ProductController {
	return &ProductController{
		Products: db.Collection("products"),
		Users:    db.Collection("users"),
		Uploader: uploader,
	}
}

// CreateProduct adds a listing. The body is multipart form data with an
// optional "image" part; the image lands on Cloudinary, with a placeholder
// URL when upload is unavailable.
func (pc *ProductController) CreateProduct(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}
	sellerID, err := objectIDFromClaims(claims)
	if err != nil {
		utils.RespondError(w, err, "Invalid token")
		return
	}

	if err := r.ParseMultipartForm(maxImageUploadBytes); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid form data")
		return
	}

	title := r.FormValue("title")
	priceStr := r.FormValue("price")
	if title == "" || priceStr == "" {
		utils.RespondError(w, apperr.ErrValidation, "Title and price are required")
		return
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil || price < 0 {
		utils.RespondError(w, apperr.ErrValidation, "Invalid price")
		return
	}

	quantity := 0
	if q := r.FormValue("quantity"); q != "" {
		if quantity, err = strconv.Atoi(q); err != nil || quantity < 0 {
			utils.RespondError(w, apperr.ErrValidation, "Invalid quantity")
			return
		}
	}
	unit := r.FormValue("unit")
	if unit == "" {
		unit = "kg"
	}

	lng := parseCoordinate(r.FormValue("lng"), defaultLng)
	lat := parseCoordinate(r.FormValue("lat"), defaultLat)

	now := time.Now().UTC()
	product := models.Product{
		SellerID:    sellerID,
		Title:       title,
		Description: r.FormValue("description"),
		Price:       price,
		Quantity:    quantity,
		Unit:        unit,
		Category:    r.FormValue("category"),
		Images:      []string{pc.uploadImage(r)},
		Location: models.GeoPoint{
			Type:        "Point",
			Coordinates: []float64{lng, lat},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := pc.Products.InsertOne(ctx, product)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}
	product.ID = result.InsertedID.(primitive.ObjectID)
	product.Seller = pc.lookupSeller(ctx, sellerID)

	utils.RespondJSON(w, http.StatusCreated, product)
}

// uploadImage returns the stored image URL, falling back to a placeholder
// when there is no image part or the upload fails.
func (pc *ProductController) uploadImage(r *http.Request) string {
	file, _, err := r.FormFile("image")
	if err != nil {
		return services.PlaceholderImageURL
	}
	defer file.Close()

	if pc.Uploader == nil {
		return services.PlaceholderImageURL
	}

	url, err := pc.Uploader.UploadImage(r.Context(), file)
	if err != nil {
		log.Printf("image upload: %v", err)
		return services.PlaceholderImageURL
	}
	return url
}

func parseCoordinate(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (pc *ProductController) lookupSeller(ctx context.Context, id primitive.ObjectID) *models.UserSummary {
	var seller models.User
	if err := pc.Users.FindOne(ctx, bson.M{"_id": id}).Decode(&seller); err != nil {
		return nil
	}
	return seller.Summary()
}

type productListResponse struct {
	Products   []models.Product `json:"products"`
	Pagination paginationInfo   `json:"pagination"`
}

type paginationInfo struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// ListProducts supports title search, category and price-range filters, and
// offset pagination.
func (pc *ProductController) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := bson.M{}
	if q := query.Get("q"); q != "" {
		filter["title"] = bson.M{"$regex": q, "$options": "i"}
	}
	if category := query.Get("category"); category != "" {
		filter["category"] = category
	}
	priceFilter := bson.M{}
	if min := query.Get("min"); min != "" {
		if v, err := strconv.ParseFloat(min, 64); err == nil {
			priceFilter["$gte"] = v
		}
	}
	if max := query.Get("max"); max != "" {
		if v, err := strconv.ParseFloat(max, 64); err == nil {
			priceFilter["$lte"] = v
		}
	}
	if len(priceFilter) > 0 {
		filter["price"] = priceFilter
	}

	page, limit := parsePagination(query.Get("page"), query.Get("limit"), 20)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	total, err := pc.Products.CountDocuments(ctx, filter)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64((page - 1) * limit))

	cursor, err := pc.Products.Find(ctx, filter, findOpts)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}
	defer cursor.Close(ctx)

	products := []models.Product{}
	if err := cursor.All(ctx, &products); err != nil {
		utils.RespondError(w, err, "")
		return
	}
	pc.populateSellers(ctx, products)

	utils.RespondJSON(w, http.StatusOK, productListResponse{
		Products: products,
		Pagination: paginationInfo{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
	})
}

// populateSellers resolves seller references in one query.
func (pc *ProductController) populateSellers(ctx context.Context, products []models.Product) {
	if len(products) == 0 {
		return
	}

	ids := make([]primitive.ObjectID, 0, len(products))
	seen := make(map[primitive.ObjectID]bool, len(products))
	for _, p := range products {
		if !seen[p.SellerID] {
			seen[p.SellerID] = true
			ids = append(ids, p.SellerID)
		}
	}

	cursor, err := pc.Users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		log.Printf("populate sellers: %v", err)
		return
	}
	defer cursor.Close(ctx)

	sellers := make(map[primitive.ObjectID]*models.UserSummary, len(ids))
	for cursor.Next(ctx) {
		var user models.User
		if err := cursor.Decode(&user); err != nil {
			continue
		}
		sellers[user.ID] = user.Summary()
	}

	for i := range products {
		products[i].Seller = sellers[products[i].SellerID]
	}
}

// ListMyProducts returns the authenticated farmer's listings.
func (pc *ProductController) ListMyProducts(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}
	sellerID, err := objectIDFromClaims(claims)
	if err != nil {
		utils.RespondError(w, err, "Invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cursor, err := pc.Products.Find(ctx, bson.M{"seller_id": sellerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}
	defer cursor.Close(ctx)

	products := []models.Product{}
	if err := cursor.All(ctx, &products); err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"products": products,
		"total":    len(products),
	})
}

// GetProduct returns a single listing with its seller populated.
func (pc *ProductController) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid product ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var product models.Product
	if err := pc.Products.FindOne(ctx, bson.M{"_id": id}).Decode(&product); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "Product not found")
		return
	}
	product.Seller = pc.lookupSeller(ctx, product.SellerID)

	utils.RespondJSON(w, http.StatusOK, product)
}

// UpdateProduct lets the owning farmer edit a listing; a new image part
// replaces the first image.
func (pc *ProductController) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid product ID")
		return
	}

	if err := r.ParseMultipartForm(maxImageUploadBytes); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid form data")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var product models.Product
	if err := pc.Products.FindOne(ctx, bson.M{"_id": id}).Decode(&product); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "Product not found")
		return
	}
	if product.SellerID.Hex() != claims.UserID {
		utils.RespondError(w, apperr.ErrForbidden, "Not authorized to update this product")
		return
	}

	updates := bson.M{"updated_at": time.Now().UTC()}
	if title := r.FormValue("title"); title != "" {
		updates["title"] = title
	}
	if _, present := r.Form["description"]; present {
		updates["description"] = r.FormValue("description")
	}
	if priceStr := r.FormValue("price"); priceStr != "" {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil || price < 0 {
			utils.RespondError(w, apperr.ErrValidation, "Invalid price")
			return
		}
		updates["price"] = price
	}
	if qStr := r.FormValue("quantity"); qStr != "" {
		quantity, err := strconv.Atoi(qStr)
		if err != nil || quantity < 0 {
			utils.RespondError(w, apperr.ErrValidation, "Invalid quantity")
			return
		}
		updates["quantity"] = quantity
	}
	if unit := r.FormValue("unit"); unit != "" {
		updates["unit"] = unit
	}
	if _, present := r.Form["category"]; present {
		updates["category"] = r.FormValue("category")
	}

	if file, _, err := r.FormFile("image"); err == nil {
		defer file.Close()
		if pc.Uploader != nil {
			if url, err := pc.Uploader.UploadImage(ctx, file); err == nil {
				updates["images.0"] = url
			} else {
				log.Printf("image upload: %v", err)
			}
		}
	}

	var updated models.Product
	err = pc.Products.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": updates},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			utils.RespondError(w, apperr.ErrNotFound, "Product not found")
			return
		}
		utils.RespondError(w, err, "")
		return
	}
	updated.Seller = pc.lookupSeller(ctx, updated.SellerID)

	utils.RespondJSON(w, http.StatusOK, updated)
}

// DeleteProduct removes a listing owned by the caller.
func (pc *ProductController) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	id, err := primitive.ObjectIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid product ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var product models.Product
	if err := pc.Products.FindOne(ctx, bson.M{"_id": id}).Decode(&product); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "Product not found")
		return
	}
	if product.SellerID.Hex() != claims.UserID {
		utils.RespondError(w, apperr.ErrForbidden, "Not authorized to delete this product")
		return
	}

	if _, err := pc.Products.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusOK, utils.APIMessage{Success: true, Message: "Product deleted successfully"})
}

// parsePagination clamps page to >= 1 and limit to 1..100.
func parsePagination(pageStr, limitStr string, defaultLimit int) (int, int) {
	page := 1
	if v, err := strconv.Atoi(pageStr); err == nil && v > 1 {
		page = v
	}
	limit := defaultLimit
	if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
