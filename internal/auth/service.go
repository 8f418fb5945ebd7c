package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for token validation.
var (
	// ErrTokenInvalid indicates the authentication service rejected the token.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrServiceUnavailable indicates the authentication service could not be reached.
	ErrServiceUnavailable = errors.New("authentication service unavailable")
)

// serviceTimeout bounds one token verification call.
const serviceTimeout = 5 * time.Second

// ServiceClient validates bearer tokens against the authentication service
// over HTTP. Implements TokenValidator.
type ServiceClient struct {
	baseURL string
	client  *http.Client
}

// NewServiceClient creates a client for the authentication service at baseURL.
func NewServiceClient(baseURL string) *ServiceClient {
	return &ServiceClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: serviceTimeout},
	}
}

// verifyResponse is the auth service's token verification payload.
type verifyResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// ValidateToken calls GET {base}/v1/verify with the token as a bearer
// header and returns the embedded principal.
func (c *ServiceClient) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrTokenInvalid, resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decoding verify response: %w", err)
	}
	id, err := uuid.Parse(vr.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed user id", ErrTokenInvalid)
	}

	return &Principal{ID: id, Email: vr.Email}, nil
}
