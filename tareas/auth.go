package tareas

import (
	"fmt"
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// The identity provider is external. All the engine needs from it is a stable
// user id, or none. Absence of a user is a first-class, handled case.
type IdentityProvider interface {
	CurrentUserId() (string, bool)
}

type SessionToken struct {
	UserId string
	Email  string
}

// ParseSessionTokenUnverified extracts the identity claims without verifying
// the signature. Verification is the store's job on every request; the client
// only needs the uid to scope its paths.
func ParseSessionTokenUnverified(byJwt string) (*SessionToken, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionToken := &SessionToken{}

	if userId, ok := claims["user_id"].(string); ok {
		sessionToken.UserId = userId
	}
	if email, ok := claims["email"].(string); ok {
		sessionToken.Email = email
	}

	if sessionToken.UserId == "" {
		return nil, fmt.Errorf("token has no user_id claim")
	}

	return sessionToken, nil
}

// TokenIdentity is an IdentityProvider backed by a session JWT.
// SetByJwt with an empty string models logout.
type TokenIdentity struct {
	mutex sync.Mutex

	byJwt  string
	userId string
}

func NewTokenIdentity(byJwt string) *TokenIdentity {
	identity := &TokenIdentity{}
	identity.SetByJwt(byJwt)
	return identity
}

func (self *TokenIdentity) SetByJwt(byJwt string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.byJwt = byJwt
	self.userId = ""
	if byJwt != "" {
		if sessionToken, err := ParseSessionTokenUnverified(byJwt); err == nil {
			self.userId = sessionToken.UserId
		}
	}
}

func (self *TokenIdentity) ByJwt() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.byJwt
}

func (self *TokenIdentity) CurrentUserId() (string, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.userId, self.userId != ""
}
