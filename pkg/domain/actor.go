package domain

import "strings"

type UserType string

const (
	UserBuyer  UserType = "buyer"
	UserSeller UserType = "seller"
	UserAdmin  UserType = "admin"
)

func ParseUserType(s string) (UserType, bool) {
	switch UserType(strings.ToLower(strings.TrimSpace(s))) {
	case UserBuyer:
		return UserBuyer, true
	case UserSeller:
		return UserSeller, true
	case UserAdmin:
		return UserAdmin, true
	}
	return "", false
}

// Actor is the resolved session identity supplied by the identity collaborator.
type Actor struct {
	UserID   string   `json:"user_id"`
	UserType UserType `json:"user_type"`
}

func (a Actor) IsAdmin() bool { return a.UserType == UserAdmin }
