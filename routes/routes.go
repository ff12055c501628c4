package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"agrismart/controllers"
	"agrismart/middleware"
	"agrismart/utils"
)

const objectIDPattern = "[0-9a-fA-F]{24}"

// RegisterRoutes sets up the full API surface.
func RegisterRoutes(
	router *mux.Router,
	env string,
	authController *controllers.AuthController,
	userController *controllers.UserController,
	productController *controllers.ProductController,
	orderController *controllers.OrderController,
) {
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"ok":          true,
			"message":     "AgriSmart API is running smoothly...",
			"environment": env,
		})
	}).Methods("GET")

	// Auth: public routes plus token-protected account management.
	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", authController.Register).Methods("POST")
	auth.HandleFunc("/login", authController.Login).Methods("POST")
	auth.HandleFunc("/forgot-password", authController.ForgotPassword).Methods("POST")
	auth.HandleFunc("/reset-password", authController.ResetPassword).Methods("POST")

	authProtected := api.PathPrefix("/auth").Subrouter()
	authProtected.Use(middleware.AuthMiddleware)
	authProtected.HandleFunc("/logout", authController.Logout).Methods("POST")
	authProtected.HandleFunc("/change-password", authController.ChangePassword).Methods("PUT")

	// Users
	users := api.PathPrefix("/users").Subrouter()
	users.Use(middleware.AuthMiddleware)
	users.HandleFunc("/me", userController.GetMe).Methods("GET")
	users.HandleFunc("/me", userController.UpdateMe).Methods("PUT")

	// Products: listing and detail are public, everything else needs auth.
	products := api.PathPrefix("/products").Subrouter()
	products.HandleFunc("", productController.ListProducts).Methods("GET")
	products.HandleFunc("/{id:"+objectIDPattern+"}", productController.GetProduct).Methods("GET")

	productsProtected := api.PathPrefix("/products").Subrouter()
	productsProtected.Use(middleware.AuthMiddleware)
	productsProtected.HandleFunc("", productController.CreateProduct).Methods("POST")
	productsProtected.HandleFunc("/my-products", productController.ListMyProducts).Methods("GET")
	productsProtected.HandleFunc("/{id:"+objectIDPattern+"}", productController.UpdateProduct).Methods("PUT")
	productsProtected.HandleFunc("/{id:"+objectIDPattern+"}", productController.DeleteProduct).Methods("DELETE")

	// Orders. The M-Pesa callback is unauthenticated: Safaricom calls it.
	orders := api.PathPrefix("/orders").Subrouter()
	orders.HandleFunc("/payments/mpesa/callback", orderController.MpesaCallback).Methods("POST")

	ordersProtected := api.PathPrefix("/orders").Subrouter()
	ordersProtected.Use(middleware.AuthMiddleware)
	ordersProtected.HandleFunc("", orderController.CreateOrder).Methods("POST")
	ordersProtected.HandleFunc("", orderController.GetUserOrders).Methods("GET")
	ordersProtected.HandleFunc("/payments/mpesa/initiate", orderController.InitiatePayment).Methods("POST")
	ordersProtected.HandleFunc("/{id:"+objectIDPattern+"}", orderController.GetOrder).Methods("GET")
	ordersProtected.HandleFunc("/{id:"+objectIDPattern+"}/status", orderController.UpdateOrderStatus).Methods("PUT")
	ordersProtected.HandleFunc("/{orderId:"+objectIDPattern+"}/payment-status", orderController.CheckPaymentStatus).Methods("GET")
}
