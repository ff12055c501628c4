package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	mpesaSandboxURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionURL = "https://api.safaricom.co.ke"

	// CallbackPath is the route Safaricom invokes after an STK Push.
	CallbackPath = "/api/orders/payments/mpesa/callback"
)

// Config holds every environment-driven setting, loaded once in main and
// injected into the components that need it.
type Config struct {
	Env         string
	JWTSecret   string
	FrontendURL string
	Server      ServerConfig
	Mongo       MongoConfig
	Mpesa       MpesaConfig
	Cloudinary  CloudinaryConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// MpesaConfig selects between the sandbox and production Daraja endpoints
// and toggles the mock gateway used for local development.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	CallbackSecret string
	UseMock        bool
	Timeout        time.Duration
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	godotenv.Load()

	env := getEnv("APP_ENV", "development")

	mpesaBase := os.Getenv("MPESA_BASE_URL")
	if mpesaBase == "" {
		if env == "production" {
			mpesaBase = mpesaProductionURL
		} else {
			mpesaBase = mpesaSandboxURL
		}
	}

	consumerKey := os.Getenv("MPESA_CONSUMER_KEY")
	callbackSecret := os.Getenv("MPESA_CALLBACK_SECRET")
	callbackURL := getEnv("API_URL", "http://localhost:5001") + CallbackPath
	if callbackSecret != "" {
		callbackURL += "?secret=" + callbackSecret
	}

	cfg := &Config{
		Env:         env,
		JWTSecret:   getEnv("JWT_SECRET", "fallback-secret"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		Server: ServerConfig{
			Port:         getEnv("PORT", "5001"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Mongo: MongoConfig{
			URI:            getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGODB_DATABASE", "agrismart"),
			ConnectTimeout: getEnvDuration("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
		},
		Mpesa: MpesaConfig{
			BaseURL:        mpesaBase,
			ConsumerKey:    consumerKey,
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:      os.Getenv("MPESA_BUSINESS_SHORTCODE"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    callbackURL,
			CallbackSecret: callbackSecret,
			UseMock:        getEnvBool("MPESA_USE_MOCK", env != "production" || consumerKey == ""),
			Timeout:        getEnvDuration("MPESA_TIMEOUT", 30*time.Second),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
			APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
			APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
			Folder:    getEnv("CLOUDINARY_FOLDER", "agrismart_products"),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
