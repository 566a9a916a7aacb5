package auth

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	gothgithub "github.com/markbates/goth/providers/github"
	gothgoogle "github.com/markbates/goth/providers/google"
)

// ConfigureSessionAuth wires the browser-session login flow: goth providers
// backed by a gorilla cookie store. The API flow (OAuthManager) hands out a
// bearer JWT for programmatic clients; this flow keeps a cookie session for
// the graph-authoring UI, both minting the same JWT claims at the end.
func ConfigureSessionAuth(cfg OAuthConfig, sessionSecret string) {
	store := sessions.NewCookieStore([]byte(sessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	gothic.Store = store

	var providers []goth.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, gothgoogle.New(
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.RedirectURL+"/session/google/callback",
			"email", "profile",
		))
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, gothgithub.New(
			cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.RedirectURL+"/session/github/callback",
			"user:email",
		))
	}
	goth.UseProviders(providers...)
}

// SessionLoginHandler begins the goth auth dance for the provider named in
// the :provider path segment.
func SessionLoginHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		req := withProviderParam(c)
		if user, err := gothic.CompleteUserAuth(c.Response(), req); err == nil {
			return c.JSON(http.StatusOK, map[string]interface{}{"user": user})
		}
		gothic.BeginAuthHandler(c.Response(), req)
		return nil
	}
}

// SessionCallbackHandler completes the goth auth dance and answers with the
// same JWT shape the API flow's CallbackHandler returns.
func SessionCallbackHandler(m *OAuthManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := gothic.CompleteUserAuth(c.Response(), withProviderParam(c))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		principal := &Principal{
			ID:        user.UserID,
			TenantID:  m.tenantID,
			Email:     user.Email,
			Name:      user.Name,
			AvatarURL: user.AvatarURL,
			Provider:  user.Provider,
			Scopes:    m.defaultScopes,
		}
		token, err := m.issuePlatformToken(principal)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate JWT")
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"token":     token,
			"principal": principal,
			"provider":  user.Provider,
		})
	}
}

// SessionLogoutHandler clears the goth session.
func SessionLogoutHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := gothic.Logout(c.Response(), withProviderParam(c)); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// withProviderParam copies echo's :provider path param into the query
// string where gothic looks for it.
func withProviderParam(c echo.Context) *http.Request {
	req := c.Request()
	q := req.URL.Query()
	if q.Get("provider") == "" {
		q.Set("provider", c.Param("provider"))
		req.URL.RawQuery = q.Encode()
	}
	return req
}
