package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"kasirpos/internal/apperror"
	"kasirpos/internal/domain"
)

const tokenIssuer = "kasirpos"

// Authenticator verifies credentials. The service enforces lockout and audit.
type Authenticator interface {
	Authenticate(ctx context.Context, username string, password string) (domain.User, error)
}

// AuthManager issues and verifies stateless HS256 access tokens.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	authn    Authenticator
	now      func() time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role     string `json:"role"`
	Username string `json:"username"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, authn Authenticator) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		authn:    authn,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.authn.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, apperror.Internal(err)
	}

	return domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        user,
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	invalid := apperror.Unauthenticated("", "Invalid or expired token")

	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, invalid
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, invalid
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return domain.Actor{}, invalid
	}
	return domain.Actor{
		UserID:   userID,
		Username: claims.Username,
		Role:     domain.NormalizeRole(claims.Role),
	}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role:     user.Role,
		Username: user.Username,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}
