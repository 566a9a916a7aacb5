package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Provider represents an OAuth provider
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// OAuthConfig holds OAuth configuration. DefaultTenantID and
// DefaultScopes seed the principal a fresh login gets — the scopes are
// the ceiling every DelegationGrant under this principal subsets from.
type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	RedirectURL        string
	JWTSecret          string
	DefaultTenantID    string
	DefaultScopes      []string
	StateStore         StateStore // For storing OAuth state tokens
}

// StateStore interface for storing OAuth state
type StateStore interface {
	Set(ctx context.Context, state string, data interface{}, expiration time.Duration) error
	Get(ctx context.Context, state string) (interface{}, error)
	Delete(ctx context.Context, state string) error
}

// OAuthManager runs the API-facing OAuth flow: provider redirect, code
// exchange, then a platform JWT carrying the principal's tenant and
// scope ceiling.
type OAuthManager struct {
	configs       map[Provider]*oauth2.Config
	jwtSecret     []byte
	tenantID      string
	defaultScopes []string
	stateStore    StateStore
}

// NewOAuthManager creates a new OAuth manager
func NewOAuthManager(config OAuthConfig) *OAuthManager {
	scopes := config.DefaultScopes
	if len(scopes) == 0 {
		scopes = []string{"read", "write"}
	}

	manager := &OAuthManager{
		configs:       make(map[Provider]*oauth2.Config),
		jwtSecret:     []byte(config.JWTSecret),
		tenantID:      config.DefaultTenantID,
		defaultScopes: scopes,
		stateStore:    config.StateStore,
	}

	if config.GoogleClientID != "" {
		manager.configs[ProviderGoogle] = &oauth2.Config{
			ClientID:     config.GoogleClientID,
			ClientSecret: config.GoogleClientSecret,
			RedirectURL:  config.RedirectURL + "/google/callback",
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		}
	}

	if config.GitHubClientID != "" {
		manager.configs[ProviderGitHub] = &oauth2.Config{
			ClientID:     config.GitHubClientID,
			ClientSecret: config.GitHubClientSecret,
			RedirectURL:  config.RedirectURL + "/github/callback",
			Scopes:       []string{"user:email", "read:user"},
			Endpoint:     github.Endpoint,
		}
	}

	return manager
}

// LoginHandler returns OAuth login handler
func (m *OAuthManager) LoginHandler(provider Provider) echo.HandlerFunc {
	return func(c echo.Context) error {
		config, exists := m.configs[provider]
		if !exists {
			return echo.NewHTTPError(http.StatusBadRequest, "Provider not configured")
		}

		state, err := generateStateToken()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate state")
		}

		if err := m.stateStore.Set(c.Request().Context(), state, provider, 10*time.Minute); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store state")
		}

		return c.Redirect(http.StatusTemporaryRedirect, config.AuthCodeURL(state))
	}
}

// CallbackHandler completes the code exchange and answers with the
// platform JWT plus the principal it authenticated.
func (m *OAuthManager) CallbackHandler(provider Provider) echo.HandlerFunc {
	return func(c echo.Context) error {
		config, exists := m.configs[provider]
		if !exists {
			return echo.NewHTTPError(http.StatusBadRequest, "Provider not configured")
		}

		state := c.QueryParam("state")
		if state == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "Missing state")
		}

		storedProvider, err := m.stateStore.Get(c.Request().Context(), state)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid state")
		}
		// the store JSON round-trips the value, so compare as strings
		if name, _ := storedProvider.(string); name != string(provider) {
			return echo.NewHTTPError(http.StatusBadRequest, "State mismatch")
		}
		m.stateStore.Delete(c.Request().Context(), state)

		code := c.QueryParam("code")
		if code == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "Missing code")
		}

		token, err := config.Exchange(c.Request().Context(), code)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to exchange token")
		}

		principal, err := m.fetchPrincipal(c.Request().Context(), provider, token)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get user info")
		}

		jwtToken, err := m.issuePlatformToken(principal)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate JWT")
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"token":     jwtToken,
			"principal": principal,
			"provider":  provider,
		})
	}
}

// Principal is the authenticated identity runs and DelegationGrants hang
// off of.
type Principal struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatar_url,omitempty"`
	Provider  string   `json:"provider"`
	Scopes    []string `json:"scopes"`
}

// fetchPrincipal resolves the provider's user record into a Principal
// carrying this deployment's tenant and default scope ceiling.
func (m *OAuthManager) fetchPrincipal(ctx context.Context, provider Provider, token *oauth2.Token) (*Principal, error) {
	config := m.configs[provider]
	client := config.Client(ctx, token)

	principal := &Principal{
		TenantID: m.tenantID,
		Provider: string(provider),
		Scopes:   m.defaultScopes,
	}

	switch provider {
	case ProviderGoogle:
		resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var googleUser struct {
			ID      string `json:"id"`
			Email   string `json:"email"`
			Name    string `json:"name"`
			Picture string `json:"picture"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&googleUser); err != nil {
			return nil, err
		}

		principal.ID = googleUser.ID
		principal.Email = googleUser.Email
		principal.Name = googleUser.Name
		principal.AvatarURL = googleUser.Picture

	case ProviderGitHub:
		resp, err := client.Get("https://api.github.com/user")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var githubUser struct {
			ID        int    `json:"id"`
			Login     string `json:"login"`
			Name      string `json:"name"`
			Email     string `json:"email"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&githubUser); err != nil {
			return nil, err
		}

		principal.ID = fmt.Sprintf("%d", githubUser.ID)
		principal.Email = githubUser.Email
		principal.Name = githubUser.Name
		if principal.Name == "" {
			principal.Name = githubUser.Login
		}
		principal.AvatarURL = githubUser.AvatarURL

		// GitHub may omit the email in the main response
		if principal.Email == "" {
			emailResp, err := client.Get("https://api.github.com/user/emails")
			if err == nil {
				defer emailResp.Body.Close()

				var emails []struct {
					Email    string `json:"email"`
					Primary  bool   `json:"primary"`
					Verified bool   `json:"verified"`
				}
				if err := json.NewDecoder(emailResp.Body).Decode(&emails); err == nil {
					for _, email := range emails {
						if email.Primary && email.Verified {
							principal.Email = email.Email
							break
						}
					}
				}
			}
		}
	}

	return principal, nil
}

// issuePlatformToken signs the JWT the auth middleware verifies: the
// claim names here and middleware.PrincipalClaims are two views of the
// same payload.
func (m *OAuthManager) issuePlatformToken(principal *Principal) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"principal_id": principal.ID,
		"tenant_id":    principal.TenantID,
		"email":        principal.Email,
		"name":         principal.Name,
		"provider":     principal.Provider,
		"scopes":       principal.Scopes,
		"exp":          now.Add(24 * time.Hour).Unix(),
		"iat":          now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.jwtSecret)
}

// generateStateToken generates a random state token
func generateStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
