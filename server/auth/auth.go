package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/kontacts/server/auth/key"
	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

const (
	ACCESS_TOKEN_SCOPE  = "access_token"
	REFRESH_TOKEN_SCOPE = "refresh_token"
	EMAIL_TOKEN_SCOPE   = "email_token"
)

var ErrInvalidScope = errors.New("invalid scope for token")

// PasswordHashCost is the bcrypt cost used by HashPassword
var PasswordHashCost = 14

var tokenLifetimes = map[string]time.Duration{
	ACCESS_TOKEN_SCOPE:  15 * time.Minute,
	REFRESH_TOKEN_SCOPE: 7 * 24 * time.Hour,
	EMAIL_TOKEN_SCOPE:   7 * 24 * time.Hour,
}

type KontactsTokenClaims struct {
	Scope string `json:"scope"`
	jwt.StandardClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), PasswordHashCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// NewToken signs a token for email, valid for the lifetime of scope
func NewToken(email, scope string, keyPair *key.KeyPair) (string, error) {
	lifetime, ok := tokenLifetimes[scope]
	if !ok {
		return "", ErrInvalidScope
	}

	now := time.Now()
	return EncodeJWT(KontactsTokenClaims{
		Scope: scope,
		StandardClaims: jwt.StandardClaims{
			Subject:   email,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(lifetime).Unix(),
		},
	}, keyPair)
}

func NewTokenPair(email string, keyPair *key.KeyPair) (*TokenPair, error) {
	accessToken, err := NewToken(email, ACCESS_TOKEN_SCOPE, keyPair)
	if err != nil {
		return nil, err
	}

	refreshToken, err := NewToken(email, REFRESH_TOKEN_SCOPE, keyPair)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, TokenType: "bearer"}, nil
}

func EncodeJWT(claims KontactsTokenClaims, keyPair *key.KeyPair) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod("RS256"), claims)
	token.Header["kid"] = keyPair.Kid

	tokenString, err := token.SignedString(keyPair.PrivateKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func DecodeJWT(tokenString string, keyPair *key.KeyPair) (*KontactsTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &KontactsTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		// validate the alg is what you expect:
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return keyPair.PublicKey, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid jwt: %v", err)
	}

	tokenClaims, ok := token.Claims.(*KontactsTokenClaims)
	if !ok {
		return nil, fmt.Errorf("unable to assert token.Claims to KontactsTokenClaims")
	}

	return tokenClaims, nil
}

// DecodeScopedJWT verifies tokenString carries scope & returns its subject
func DecodeScopedJWT(tokenString, scope string, keyPair *key.KeyPair) (string, error) {
	claims, err := DecodeJWT(tokenString, keyPair)
	if err != nil {
		return "", err
	}

	if claims.Scope != scope {
		return "", ErrInvalidScope
	}

	return claims.Subject, nil
}
