package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GeoPoint is a GeoJSON point, stored for 2dsphere queries.
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"`
}

// Product is a produce listing owned by a farmer.
type Product struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	SellerID    primitive.ObjectID `bson:"seller_id" json:"sellerId"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Price       float64            `bson:"price" json:"price"`
	Quantity    int                `bson:"quantity" json:"quantity"`
	Unit        string             `bson:"unit" json:"unit"`
	Category    string             `bson:"category,omitempty" json:"category,omitempty"`
	Images      []string           `bson:"images" json:"images"`
	Location    GeoPoint           `bson:"location" json:"location"`
	Seller      *UserSummary       `bson:"-" json:"seller,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updatedAt"`
}
