// Package middleware holds the fiber middleware shared by the route groups.
package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/webapi/common"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is an operator role carried in the token.
type Role string

const (
	RoleMember    Role = "member"
	RoleAdmin     Role = "admin"
	RoleTreasurer Role = "treasurer"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}

// HasRole reports whether the principal holds one of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

const principalKey = "principal"

// JwtProtected verifies the bearer token and stores the Principal in locals.
func JwtProtected(cfg *config.Jwt) fiber.Handler {
	secret := ""
	if cfg != nil {
		secret = cfg.Secret
	}
	return jwtware.New(jwtware.Config{
		SigningKey:   jwtware.SigningKey{Key: []byte(secret)},
		ErrorHandler: jwtError,
		SuccessHandler: func(c *fiber.Ctx) error {
			p, err := principalFromToken(c.Locals("user"))
			if err != nil {
				return common.ProblemDetailsJSON(c, "Unauthorized", err, fiber.StatusUnauthorized)
			}
			c.Locals(principalKey, p)
			return c.Next()
		},
	})
}

func jwtError(c *fiber.Ctx, err error) error {
	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return common.ProblemDetailsJSON(c, "Bad Request", err, fiber.StatusBadRequest)
	}
	return common.ProblemDetailsJSON(c, "Unauthorized", err, fiber.StatusUnauthorized)
}

func principalFromToken(v any) (Principal, error) {
	token, ok := v.(*jwt.Token)
	if !ok || token == nil {
		return Principal{}, domain.ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, domain.ErrUnauthorized
	}
	userID, err := uuidClaim(claims, "user_id")
	if err != nil {
		return Principal{}, err
	}
	tenantID, err := uuidClaim(claims, "tenant_id")
	if err != nil {
		return Principal{}, err
	}
	role, _ := claims["role"].(string)
	return Principal{UserID: userID, TenantID: tenantID, Role: Role(role)}, nil
}

func uuidClaim(claims jwt.MapClaims, name string) (uuid.UUID, error) {
	raw, ok := claims[name].(string)
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return id, nil
}

// PrincipalFrom returns the caller stored by JwtProtected.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalKey).(Principal)
	return p, ok
}

// RequireRole rejects callers that hold none of roles. It must run after
// JwtProtected.
func RequireRole(roles ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return common.ProblemDetailsJSON(c, "Unauthorized", domain.ErrUnauthorized)
		}
		if !p.HasRole(roles...) {
			return common.ProblemDetailsJSON(c, "Forbidden", domain.ErrForbidden, "role "+string(p.Role)+" is not allowed")
		}
		return c.Next()
	}
}

// GenerateToken signs an HS256 token for p.
func GenerateToken(cfg *config.Jwt, p Principal, now time.Time) (string, error) {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["user_id"] = p.UserID.String()
	claims["tenant_id"] = p.TenantID.String()
	claims["role"] = string(p.Role)
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(expiry).Unix()
	return token.SignedString([]byte(cfg.Secret))
}

// CronSecret accepts only `Authorization: Bearer <secret>`. An empty secret
// rejects every request.
func CronSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return common.ProblemDetailsJSON(c, "Unauthorized", domain.ErrUnauthorized)
		}
		return c.Next()
	}
}
