// Package auth issues JWTs and guards API routes with them or with API keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/br00tm/infrawatch/internal/models"
)

const (
	defaultTokenTTL = 24 * time.Hour

	contextUserKey = "user"
	contextRoleKey = "role"

	apiKeyHeader = "X-API-Key"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID uint        `json:"uid"`
	Role   models.Role `json:"role"`
	jwt.StandardClaims
}

// UserStore resolves the principals behind tokens and API keys.
type UserStore interface {
	Get(ctx context.Context, id uint) (*models.User, error)
	GetByAPIKey(ctx context.Context, key string) (*models.User, error)
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  UserStore
	now    func() time.Time
}

func New(secret string, ttl time.Duration, users UserStore) *Authenticator {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, users: users, now: time.Now}
}

// GenerateToken signs an HS256 token for user and returns it with its expiry.
func (a *Authenticator) GenerateToken(user *models.User) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		StandardClaims: jwt.StandardClaims{
			Subject:   user.Username,
			ExpiresAt: expires.Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    "infrawatch",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (a *Authenticator) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware accepts a bearer JWT, an X-API-Key header or an access_token
// query parameter. The access_token form exists for websocket clients that
// cannot set headers.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.authenticate(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user is inactive"})
			return
		}

		c.Set(contextUserKey, user)
		c.Set(contextRoleKey, string(user.Role))
		c.Next()
	}
}

func (a *Authenticator) authenticate(c *gin.Context) (*models.User, error) {
	ctx := c.Request.Context()

	if key := c.GetHeader(apiKeyHeader); key != "" {
		user, err := a.users.GetByAPIKey(ctx, key)
		if err != nil {
			return nil, errors.New("invalid api key")
		}
		return user, nil
	}

	raw := c.Query("access_token")
	if header := c.GetHeader("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return nil, errors.New("authorization header must use the Bearer scheme")
		}
		raw = strings.TrimPrefix(header, "Bearer ")
	}
	if raw == "" {
		return nil, errors.New("authorization required")
	}

	claims, err := a.ParseToken(raw)
	if err != nil {
		return nil, err
	}
	user, err := a.users.Get(ctx, claims.UserID)
	if err != nil {
		return nil, errors.New("user not found")
	}
	return user, nil
}

func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(contextRoleKey)
		for _, role := range roles {
			if string(role) == userRole {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
	}
}

// CurrentUser returns the user stored by Middleware, if any.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}
