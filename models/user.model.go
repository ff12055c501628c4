package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User roles
const (
	RoleBuyer  = "buyer"
	RoleFarmer = "farmer"
	RoleAdmin  = "admin"
)

// User represents a marketplace account. Buyers purchase produce, farmers
// list it; the farm fields only carry data for farmer accounts.
type User struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name                 string             `bson:"name" json:"name"`
	Email                string             `bson:"email" json:"email"`
	Phone                string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Password             string             `bson:"password" json:"-"`
	Role                 string             `bson:"role" json:"role"`
	Address              string             `bson:"address,omitempty" json:"address,omitempty"`
	Bio                  string             `bson:"bio,omitempty" json:"bio,omitempty"`
	FarmName             string             `bson:"farm_name,omitempty" json:"farmName,omitempty"`
	FarmLocation         string             `bson:"farm_location,omitempty" json:"farmLocation,omitempty"`
	FarmSize             string             `bson:"farm_size,omitempty" json:"farmSize,omitempty"`
	FarmingType          string             `bson:"farming_type,omitempty" json:"farmingType,omitempty"`
	Language             string             `bson:"language,omitempty" json:"language,omitempty"`
	LastLogoutAt         *time.Time         `bson:"last_logout_at,omitempty" json:"-"`
	ResetPasswordToken   string             `bson:"reset_password_token,omitempty" json:"-"`
	ResetPasswordExpires *time.Time         `bson:"reset_password_expires,omitempty" json:"-"`
	LastPasswordChange   *time.Time         `bson:"last_password_change,omitempty" json:"-"`
	CreatedAt            time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt            time.Time          `bson:"updated_at" json:"updatedAt"`
}

// UserSummary is the populated form of a user reference embedded in
// product and order responses.
type UserSummary struct {
	ID    primitive.ObjectID `json:"id"`
	Name  string             `json:"name"`
	Email string             `json:"email"`
	Phone string             `json:"phone,omitempty"`
}

func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
}
