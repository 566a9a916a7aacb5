package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// PrincipalClaims is the JWT payload the platform issues at login: who
// the caller is, which tenant they act in, and the scopes their
// DelegationGrants may subset from.
type PrincipalClaims struct {
	PrincipalID string   `json:"principal_id"`
	TenantID    string   `json:"tenant_id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Provider    string   `json:"provider,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret      string
	RequireAuth    bool
	RequiredScopes []string
	SkipPaths      []string
	APIKeyHeader   string
	ValidAPIKeys   map[string]bool
}

// Context keys the rest of the HTTP layer reads the caller from.
const (
	ContextPrincipalID = "principal_id"
	ContextTenantID    = "tenant_id"
	ContextScopes      = "scopes"
	ContextAuthType    = "auth_type"
)

// JWT authenticates requests with either a bearer token carrying
// PrincipalClaims or a pre-shared API key (service-to-service callers).
func JWT(config AuthConfig) echo.MiddlewareFunc {
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			for _, skipPath := range config.SkipPaths {
				if strings.HasPrefix(path, skipPath) {
					return next(c)
				}
			}

			// API key callers act as the tenant the key is provisioned for;
			// they carry no scopes of their own, so grant subsetting starts
			// from whatever root grant the handler mints.
			apiKey := c.Request().Header.Get(config.APIKeyHeader)
			if apiKey != "" {
				if config.ValidAPIKeys[apiKey] {
					c.Set(ContextPrincipalID, "api_key_principal")
					c.Set(ContextAuthType, "api_key")
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid API key")
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				if config.RequireAuth {
					return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
				}
				return next(c)
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			token, err := jwt.ParseWithClaims(parts[1], &PrincipalClaims{}, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid signing method")
				}
				return []byte(config.JWTSecret), nil
			})
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token: "+err.Error())
			}
			if !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token is not valid")
			}

			claims, ok := token.Claims.(*PrincipalClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
			}

			if len(config.RequiredScopes) > 0 {
				held := make(map[string]bool, len(claims.Scopes))
				for _, s := range claims.Scopes {
					held[s] = true
				}
				for _, required := range config.RequiredScopes {
					if !held[required] {
						return echo.NewHTTPError(http.StatusForbidden, "Missing required scope: "+required)
					}
				}
			}

			c.Set(ContextPrincipalID, claims.PrincipalID)
			c.Set(ContextTenantID, claims.TenantID)
			c.Set(ContextScopes, claims.Scopes)
			c.Set(ContextAuthType, "jwt")

			return next(c)
		}
	}
}

// RequireAuth requires a valid principal on every route except health and
// metrics.
func RequireAuth(jwtSecret string) echo.MiddlewareFunc {
	return JWT(AuthConfig{
		JWTSecret:   jwtSecret,
		RequireAuth: true,
		SkipPaths:   []string{"/health", "/metrics"},
	})
}

// OptionalAuth attaches the principal when a token is present but lets
// anonymous requests through.
func OptionalAuth(jwtSecret string) echo.MiddlewareFunc {
	return JWT(AuthConfig{
		JWTSecret:   jwtSecret,
		RequireAuth: false,
		SkipPaths:   []string{"/health", "/metrics"},
	})
}

// TenantFromContext reads the authenticated tenant, falling back to the
// tenant_id query parameter for anonymous dev-mode requests.
func TenantFromContext(c echo.Context) string {
	if tenantID, ok := c.Get(ContextTenantID).(string); ok && tenantID != "" {
		return tenantID
	}
	return c.QueryParam("tenant_id")
}

// APIKeyAuth creates an API-key-only authentication middleware.
func APIKeyAuth(validAPIKeys []string) echo.MiddlewareFunc {
	keyMap := make(map[string]bool)
	for _, key := range validAPIKeys {
		keyMap[key] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Path(), "/health") || strings.HasPrefix(c.Path(), "/metrics") {
				return next(c)
			}

			apiKey := c.Request().Header.Get("X-API-Key")
			if apiKey == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing API key")
			}
			if !keyMap[apiKey] {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid API key")
			}

			c.Set(ContextPrincipalID, "api_key_principal")
			c.Set(ContextAuthType, "api_key")

			return next(c)
		}
	}
}
