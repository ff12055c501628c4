// Seeds the database with a demo farmer and sample produce listings.
//
// Usage: go run ./scripts
package main

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"agrismart/config"
	"agrismart/models"
	"agrismart/utils"
)

var nairobi = models.GeoPoint{Type: "Point", Coordinates: []float64{36.8219, -1.2921}}

var sampleProducts = []models.Product{
	{
		Title:       "Fresh Organic Tomatoes",
		Description: "Freshly harvested organic tomatoes from our farm. Perfect for cooking and salads.",
		Price:       150, Quantity: 100, Unit: "kg", Category: "vegetables",
		Images: []string{"https://images.unsplash.com/photo-1546470427-e212b7d31055?w=400"},
	},
	{
		Title:       "Sweet Pineapples",
		Description: "Sweet and juicy pineapples, perfect for fresh juice or eating as is.",
		Price:       80, Quantity: 50, Unit: "piece", Category: "fruits",
		Images: []string{"https://images.unsplash.com/photo-1550258987-190a2d41a8ba?w=400"},
	},
	{
		Title:       "Organic Carrots",
		Description: "Fresh organic carrots, rich in vitamins and perfect for healthy meals.",
		Price:       120, Quantity: 75, Unit: "kg", Category: "vegetables",
		Images: []string{"https://images.unsplash.com/photo-1445282768818-728615cc910a?w=400"},
	},
	{
		Title:       "Avocados",
		Description: "Creamy and delicious avocados, perfect for guacamole or toast.",
		Price:       50, Quantity: 60, Unit: "piece", Category: "fruits",
		Images: []string{"https://images.unsplash.com/photo-1523049673857-eb18f1d7b578?w=400"},
	},
	{
		Title:       "Fresh Kale",
		Description: "Nutrient-rich kale leaves, perfect for salads and smoothies.",
		Price:       200, Quantity: 30, Unit: "bunch", Category: "vegetables",
		Images: []string{"https://images.unsplash.com/photo-1540420773420-3366772f4999?w=400"},
	},
	{
		Title:       "Bananas",
		Description: "Sweet and ripe bananas, great for snacks or baking.",
		Price:       100, Quantity: 120, Unit: "bunch", Category: "fruits",
		Images: []string{"https://images.unsplash.com/photo-1571771894821-ce9b6c11b08e?w=400"},
	},
	{
		Title:       "Bell Peppers",
		Description: "Colorful bell peppers in red, yellow, and green varieties.",
		Price:       180, Quantity: 40, Unit: "kg", Category: "vegetables",
		Images: []string{"https://images.unsplash.com/photo-1525607551107-68e20c75b1a9?w=400"},
	},
	{
		Title:       "Mangoes",
		Description: "Sweet and juicy mangoes, perfect for desserts and smoothies.",
		Price:       90, Quantity: 80, Unit: "piece", Category: "fruits",
		Images: []string{"https://images.unsplash.com/photo-1553279768-865429fa0078?w=400"},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	client, err := utils.ConnectDB(cfg.Mongo)
	if err != nil {
		log.Fatalf("connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := client.Database(cfg.Mongo.Database)

	farmer, err := ensureDemoFarmer(ctx, db.Collection("users"))
	if err != nil {
		log.Fatalf("ensure demo farmer: %v", err)
	}
	log.Printf("seeding products for farmer %s (%s)", farmer.Name, farmer.Email)

	products := db.Collection("products")
	if _, err := products.DeleteMany(ctx, bson.M{"seller_id": farmer.ID}); err != nil {
		log.Fatalf("clear existing products: %v", err)
	}

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(sampleProducts))
	for _, p := range sampleProducts {
		p.SellerID = farmer.ID
		p.Location = nairobi
		p.CreatedAt = now
		p.UpdatedAt = now
		docs = append(docs, p)
	}

	if _, err := products.InsertMany(ctx, docs); err != nil {
		log.Fatalf("insert sample products: %v", err)
	}
	log.Printf("added %d sample products", len(docs))
}

// ensureDemoFarmer reuses any existing farmer account, creating the demo
// one only when the database has none.
func ensureDemoFarmer(ctx context.Context, users *mongo.Collection) (*models.User, error) {
	var farmer models.User
	err := users.FindOne(ctx, bson.M{"role": models.RoleFarmer},
		options.FindOne().SetSort(bson.M{"created_at": 1})).Decode(&farmer)
	if err == nil {
		return &farmer, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	farmer = models.User{
		Name:         "Demo Farmer",
		Email:        "farmer@agrismart.co.ke",
		Phone:        "254712345678",
		Password:     string(hash),
		Role:         models.RoleFarmer,
		FarmName:     "Demo Organic Farm",
		FarmLocation: "Nairobi",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := users.InsertOne(ctx, farmer)
	if err != nil {
		return nil, err
	}
	farmer.ID = res.InsertedID.(primitive.ObjectID)
	return &farmer, nil
}
