package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/capy-town/capyauth/internal/observability/logger"
)

// Client habla con el motor de credenciales vía HTTP.
// Implementa SessionService, APIKeyVerifier, TokenBridgeService y SignOutService.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient crea el cliente. timeout acota CADA llamada saliente; el caller
// nunca espera indefinidamente a un colaborador.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// ---- sesiones ----

type getSessionResponse struct {
	Session *struct {
		ExpiresAt time.Time `json:"expiresAt"`
	} `json:"session"`
	User *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
}

// VerifySession consulta la sesión asociada al header Cookie.
// (nil, nil) cuando no hay sesión; el motor responde 200+null o 401 en ese caso.
func (c *Client) VerifySession(ctx context.Context, cookieHeader string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/auth/get-session"), nil)
	if err != nil {
		return nil, err
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine get-session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine get-session: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("engine get-session: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return nil, nil
	}

	var out getSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("engine get-session: %w", err)
	}
	if out.User == nil || out.User.ID == "" {
		return nil, nil
	}

	s := &Session{UserID: out.User.ID, Email: out.User.Email, Name: out.User.Name}
	if out.Session != nil {
		s.ExpiresAt = out.Session.ExpiresAt
		if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(time.Now()) {
			return nil, nil
		}
	}
	return s, nil
}

// ---- api keys ----

type verifyKeyRequest struct {
	Key string `json:"key"`
}

type verifyKeyResponse struct {
	Valid bool `json:"valid"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Key *struct {
		ID        string     `json:"id"`
		UserID    string     `json:"userId"`
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expiresAt"`
	} `json:"key"`
}

// VerifyAPIKey delega la verificación al motor.
// Rechazo => ErrInvalidKey; el motor ya registró el intento y el last_used.
func (c *Client) VerifyAPIKey(ctx context.Context, key string) (*APIKey, error) {
	payload, _ := json.Marshal(verifyKeyRequest{Key: key})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/auth/api-key/verify"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine verify-key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// el motor responde 200 con valid=false para keys malas; otro status
		// es una falla del colaborador, no un rechazo
		return nil, fmt.Errorf("engine verify-key: status %d", resp.StatusCode)
	}

	var out verifyKeyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("engine verify-key: %w", err)
	}
	if !out.Valid || out.Key == nil {
		return nil, ErrInvalidKey
	}
	return &APIKey{
		ID:        out.Key.ID,
		UserID:    out.Key.UserID,
		Name:      out.Key.Name,
		ExpiresAt: out.Key.ExpiresAt,
	}, nil
}

// ---- one-time tokens ----

type generateTokenResponse struct {
	Token string `json:"token"`
}

// IssueToken pide un one-time token para la sesión actual.
// Requiere sesión válida (cookie); sin ella el motor responde 401.
func (c *Client) IssueToken(ctx context.Context, cookieHeader string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/auth/one-time-token/generate"), nil)
	if err != nil {
		return "", err
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("engine token generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine token generate: status %d", resp.StatusCode)
	}
	var out generateTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("engine token generate: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("engine token generate: respuesta sin token")
	}
	return out.Token, nil
}

type redeemTokenRequest struct {
	Token string `json:"token"`
}

// RedeemToken canjea el token. UNA sola llamada, sin reintentos: si el
// transporte deja el resultado ambiguo devolvemos ErrRedeemDenied y el
// bridge falla cerrado (un segundo intento podría hacer double-redeem).
func (c *Client) RedeemToken(ctx context.Context, token string, fwd ForwardedClient) (*RedeemResult, error) {
	payload, _ := json.Marshal(redeemTokenRequest{Token: token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/auth/one-time-token/verify"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// Solo estos headers cruzan: cookie, UA y señales de IP del cliente.
	if fwd.Cookie != "" {
		req.Header.Set("Cookie", fwd.Cookie)
	}
	if fwd.UserAgent != "" {
		req.Header.Set("User-Agent", fwd.UserAgent)
	}
	if fwd.XForwardedFor != "" {
		req.Header.Set("X-Forwarded-For", fwd.XForwardedFor)
	}
	if fwd.XRealIP != "" {
		req.Header.Set("X-Real-IP", fwd.XRealIP)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.From(ctx).Warn("redeem con resultado ambiguo, fallando cerrado",
			logger.Component("engine"), logger.Err(err))
		return nil, ErrRedeemDenied
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrRedeemDenied
	}

	return &RedeemResult{SetCookies: resp.Header.Values("Set-Cookie")}, nil
}

// ---- sign out ----

// SignOut invalida la sesión en el motor. Best effort del lado del caller:
// el handler limpia cookies aunque esto falle.
func (c *Client) SignOut(ctx context.Context, cookieHeader string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/auth/sign-out"), bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine sign-out: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("engine sign-out: status %d", resp.StatusCode)
	}
	return nil
}

// ---- health ----

// Ping verifica alcanzabilidad del motor (GET /api/auth/ok).
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/auth/ok"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("engine ping: status %d", resp.StatusCode)
	}
	return nil
}

// Checks de interfaz en compile-time.
var (
	_ SessionService     = (*Client)(nil)
	_ APIKeyVerifier     = (*Client)(nil)
	_ TokenBridgeService = (*Client)(nil)
	_ SignOutService     = (*Client)(nil)
)
