package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenExpiryBuffer is subtracted from the advertised lifetime so a token is
// never used right before it expires.
const tokenExpiryBuffer = 5 * time.Minute

// graphScope requests the application permissions granted to the client.
const graphScope = "https://graph.microsoft.com/.default"

// tokenCache holds an OAuth2 client-credentials token for the Graph API and
// refreshes it when it expires. It is safe for concurrent use.
type tokenCache struct {
	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time
}

// newTokenCache creates a new token cache for the given OAuth2 client credentials.
func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

// Token returns a valid access token, requesting a new one if the cached
// token is missing or expired.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.accessToken != "" && tc.now().Before(tc.expiresAt) {
		return tc.accessToken, nil
	}

	return tc.refresh(ctx)
}

// ForceRefresh discards the cached token and requests a new one. It is used
// after the Graph API rejected a token with 401.
func (tc *tokenCache) ForceRefresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.accessToken = ""
	tc.expiresAt = time.Time{}

	return tc.refresh(ctx)
}

// refresh requests a token from the OAuth2 endpoint. The caller must hold tc.mu.
func (tc *tokenCache) refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tc.clientID},
		"client_secret": {tc.clientSecret},
		"scope":         {graphScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	tc.accessToken = tokenResp.AccessToken
	tc.expiresAt = tc.now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpiryBuffer)

	return tc.accessToken, nil
}
