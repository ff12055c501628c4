package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"agrismart/apperr"
	"agrismart/middleware"
	"agrismart/models"
	"agrismart/utils"
)

// UserController handles profile requests.
type UserController struct {
	Users *mongo.Collection
}

func NewUserController(db *mongo.Database) *UserController {
	return &UserController{Users: db.Collection("users")}
}

type userResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
	Message string       `json:"message,omitempty"`
}

// GetMe returns the authenticated user's profile.
func (uc *UserController) GetMe(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	if err := uc.Users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "User not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, userResponse{Success: true, User: &user})
}

// Fields a user may change about themselves. Everything else (role,
// password, reset tokens) has its own flow.
var profileFields = map[string]string{
	"name":         "name",
	"email":        "email",
	"phone":        "phone",
	"address":      "address",
	"bio":          "bio",
	"farmName":     "farm_name",
	"farmLocation": "farm_location",
	"farmSize":     "farm_size",
	"farmingType":  "farming_type",
	"language":     "language",
}

// UpdateMe applies a whitelist of profile fields.
func (uc *UserController) UpdateMe(w http.ResponseWriter, r *http.Request) {
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

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondError(w, apperr.ErrValidation, "Invalid request body")
		return
	}

	updates := bson.M{}
	for jsonField, bsonField := range profileFields {
		if value, present := body[jsonField]; present {
			if s, isString := value.(string); isString {
				updates[bsonField] = s
			}
		}
	}
	if len(updates) == 0 {
		utils.RespondError(w, apperr.ErrValidation, "No valid fields to update")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if email, changing := updates["email"]; changing {
		normalized := strings.ToLower(strings.TrimSpace(email.(string)))
		updates["email"] = normalized

		err := uc.Users.FindOne(ctx, bson.M{
			"email": normalized,
			"_id":   bson.M{"$ne": userID},
		}).Err()
		if err == nil {
			utils.RespondError(w, apperr.ErrConflict, "Email already in use")
			return
		}
	}
	updates["updated_at"] = time.Now().UTC()

	var updated models.User
	err = uc.Users.FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": updates},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		utils.RespondError(w, apperr.ErrNotFound, "User not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, userResponse{
		Success: true,
		User:    &updated,
		Message: "Profile updated successfully",
	})
}
