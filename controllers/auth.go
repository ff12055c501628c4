package controllers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"agrismart/apperr"
	"agrismart/middleware"
	"agrismart/models"
	"agrismart/utils"
)

const (
	minPasswordLength = 6
	resetTokenExpiry  = time.Hour
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AuthController handles registration, login and password management.
type AuthController struct {
	Users       *mongo.Collection
	FrontendURL string
}

func NewAuthController(db *mongo.Database, frontendURL string) *AuthController {
	return &AuthController{
		Users:       db.Collection("users"),
		FrontendURL: frontendURL,
	}
}

type authResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
	Message string       `json:"message"`
}

// Register creates an account and issues a token.
func (ac *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		utils.RespondError(w, apperr.ErrValidation, "Name, email and password are required")
		return
	}
	if !emailPattern.MatchString(req.Email) {
		utils.RespondError(w, apperr.ErrValidation, "Please provide a valid email address")
		return
	}
	if len(req.Password) < minPasswordLength {
		utils.RespondError(w, apperr.ErrValidation, "Password must be at least 6 characters long")
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleBuyer
	}
	if role != models.RoleBuyer && role != models.RoleFarmer {
		utils.RespondError(w, apperr.ErrValidation, "Invalid role")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := ac.Users.FindOne(ctx, bson.M{"email": req.Email}).Err()
	if err == nil {
		utils.RespondError(w, apperr.ErrConflict, "Email already registered")
		return
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		utils.RespondError(w, err, "")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	now := time.Now().UTC()
	user := models.User{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  string(hashed),
		Role:      role,
		Language:  "en",
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := ac.Users.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			utils.RespondError(w, apperr.ErrConflict, "Email already registered")
			return
		}
		utils.RespondError(w, err, "")
		return
	}
	user.ID = result.InsertedID.(primitive.ObjectID)

	token, err := utils.GenerateJWT(user.ID.Hex(), user.Role)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, authResponse{
		Success: true,
		Token:   token,
		User:    &user,
		Message: "Registration successful",
	})
}

// Login authenticates an account and issues a token. Any mismatch gets the
// same generic message.
func (ac *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		utils.RespondError(w, apperr.ErrValidation, "Email and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	err := ac.Users.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(creds.Email))}).Decode(&user)
	if err != nil {
		utils.RespondError(w, apperr.ErrUnauthorized, "Invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		utils.RespondError(w, apperr.ErrUnauthorized, "Invalid email or password")
		return
	}

	token, err := utils.GenerateJWT(user.ID.Hex(), user.Role)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusOK, authResponse{
		Success: true,
		Token:   token,
		User:    &user,
		Message: "Login successful",
	})
}

// ForgotPassword stores a reset token for the account. The response is the
// same whether or not the email exists; the reset link is logged instead of
// mailed.
func (ac *AuthController) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		utils.RespondError(w, apperr.ErrValidation, "Email is required")
		return
	}

	genericResponse := utils.APIMessage{
		Success: true,
		Message: "If the email exists, password reset instructions have been sent.",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	err := ac.Users.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(req.Email))}).Decode(&user)
	if err != nil {
		utils.RespondJSON(w, http.StatusOK, genericResponse)
		return
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		utils.RespondError(w, err, "")
		return
	}
	resetToken := hex.EncodeToString(tokenBytes)
	expires := time.Now().UTC().Add(resetTokenExpiry)

	_, err = ac.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{
		"$set": bson.M{
			"reset_password_token":   resetToken,
			"reset_password_expires": expires,
		},
	})
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	log.Printf("password reset link for %s: %s/reset-password/%s", user.Email, ac.FrontendURL, resetToken)

	utils.RespondJSON(w, http.StatusOK, genericResponse)
}

// ResetPassword consumes a reset token and sets a new password.
func (ac *AuthController) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.Password == "" {
		utils.RespondError(w, apperr.ErrValidation, "Reset token and new password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		utils.RespondError(w, apperr.ErrValidation, "Password must be at least 6 characters long")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	var user models.User
	err := ac.Users.FindOne(ctx, bson.M{
		"reset_password_token":   req.Token,
		"reset_password_expires": bson.M{"$gt": now},
	}).Decode(&user)
	if err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid or expired reset token. Please request a new password reset.")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	_, err = ac.Users.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{
		"$set": bson.M{
			"password":             string(hashed),
			"last_password_change": now,
			"updated_at":           now,
		},
		"$unset": bson.M{
			"reset_password_token":   "",
			"reset_password_expires": "",
		},
	})
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusOK, utils.APIMessage{
		Success: true,
		Message: "Password reset successfully. You can now login with your new password.",
	})
}

// ChangePassword verifies the current password before setting a new one.
func (ac *AuthController) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		utils.RespondError(w, apperr.ErrValidation, "Current password and new password are required")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		utils.RespondError(w, apperr.ErrValidation, "Password must be at least 6 characters long")
		return
	}

	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		utils.RespondError(w, apperr.ErrUnauthorized, "Invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	if err := ac.Users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "User not found")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Current password is incorrect")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	now := time.Now().UTC()
	_, err = ac.Users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set": bson.M{
			"password":             string(hashed),
			"last_password_change": now,
			"updated_at":           now,
		},
	})
	if err != nil {
		utils.RespondError(w, err, "")
		return
	}

	utils.RespondJSON(w, http.StatusOK, utils.APIMessage{Success: true, Message: "Password updated successfully"})
}

// Logout stamps the account; tokens themselves stay valid until expiry.
func (ac *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		utils.RespondError(w, apperr.ErrUnauthorized, "Authentication required")
		return
	}

	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		utils.RespondError(w, apperr.ErrUnauthorized, "Invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = ac.Users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set": bson.M{"last_logout_at": time.Now().UTC()},
	})
	if err != nil {
		log.Printf("stamp logout for %s: %v", claims.UserID, err)
	}

	utils.RespondJSON(w, http.StatusOK, utils.APIMessage{Success: true, Message: "Logout successful"})
}

func objectIDFromClaims(claims *utils.Claims) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid subject", apperr.ErrUnauthorized)
	}
	return id, nil
}
