package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"agrismart/config"
	"agrismart/controllers"
	"agrismart/routes"
	"agrismart/services"
	"agrismart/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	utils.JwtKey = []byte(cfg.JWTSecret)

	client, err := utils.ConnectDB(cfg.Mongo)
	if err != nil {
		log.Fatalf("connect to MongoDB: %v", err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Printf("disconnect MongoDB: %v", err)
		}
	}()

	db := client.Database(cfg.Mongo.Database)
	if err := utils.EnsureIndexes(context.Background(), db); err != nil {
		log.Fatalf("ensure indexes: %v", err)
	}

	gateway := services.NewGateway(cfg.Mpesa)
	if cfg.Mpesa.UseMock {
		log.Println("M-Pesa mock gateway enabled")
	}

	var uploader services.ImageUploader
	if up, err := services.NewCloudinaryUploader(cfg.Cloudinary); err != nil {
		log.Printf("Cloudinary disabled: %v", err)
	} else {
		uploader = up
	}

	authController := controllers.NewAuthController(db, cfg.FrontendURL)
	userController := controllers.NewUserController(db)
	productController := controllers.NewProductController(db, uploader)
	orderController := controllers.NewOrderController(db, gateway, cfg.Mpesa)

	router := mux.NewRouter()
	routes.RegisterRoutes(router, cfg.Env, authController, userController, productController, orderController)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{cfg.FrontendURL, "http://localhost:5173"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      cors(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("AgriSmart server running on port %s", cfg.Server.Port)
	log.Fatal(srv.ListenAndServe())
}
