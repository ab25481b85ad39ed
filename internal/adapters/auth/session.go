// Package auth obtains session tokens for the analysis service by signing a
// server challenge with the wallet's private key.
package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// MessagePrefix is prepended to every challenge before signing.
	MessagePrefix = "Walletscan auth: "

	// DefaultRefreshBefore renews a token this long before it expires.
	DefaultRefreshBefore = time.Minute

	fallbackLifetime = 15 * time.Minute
)

// ChallengeRequest is the request body for /auth/challenge
type ChallengeRequest struct {
	WalletAddress string `json:"wallet_address"`
}

// ChallengeResponse is the response from /auth/challenge
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
	ExpiresAt int64  `json:"expires_at"`
}

// VerifyRequest is the request body for /auth/verify
type VerifyRequest struct {
	WalletAddress string `json:"wallet_address"`
	Challenge     string `json:"challenge"`
	Signature     string `json:"signature"`
}

// VerifyResponse is the response from /auth/verify
type VerifyResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error string `json:"error"`
}

// Session authenticates with the challenge flow and caches the resulting
// token until shortly before it expires. It is safe for concurrent use.
type Session struct {
	privateKey *ecdsa.PrivateKey
	address    string
	baseURL    string
	httpClient *http.Client

	refreshBefore time.Duration
	now           func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSession creates a session for the wallet behind privateKeyHex.
func NewSession(privateKeyHex, baseURL string) (*Session, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to derive public key")
	}

	return &Session{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA).Hex(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		refreshBefore: DefaultRefreshBefore,
		now:           time.Now,
	}, nil
}

// Address returns the wallet address derived from the key.
func (s *Session) Address() string {
	return s.address
}

// Token returns a cached token, authenticating again when it is missing or
// about to expire.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(s.refreshBefore).Before(s.expiresAt) {
		return s.token, nil
	}

	token, expiresAt, err := s.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = expiresAt
	return token, nil
}

// Invalidate drops the cached token.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// Authenticate performs the full challenge-response flow.
func (s *Session) Authenticate(ctx context.Context) (string, time.Time, error) {
	var challenge ChallengeResponse
	if err := s.post(ctx, "/auth/challenge", ChallengeRequest{WalletAddress: s.address}, &challenge); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to request challenge: %w", err)
	}

	signature, err := s.SignChallenge(challenge.Challenge)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign challenge: %w", err)
	}

	var verified VerifyResponse
	req := VerifyRequest{
		WalletAddress: s.address,
		Challenge:     challenge.Challenge,
		Signature:     signature,
	}
	if err := s.post(ctx, "/auth/verify", req, &verified); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to verify signature: %w", err)
	}
	if verified.SessionToken == "" {
		return "", time.Time{}, fmt.Errorf("verify response carried no session token")
	}

	return verified.SessionToken, s.tokenExpiry(verified.SessionToken, verified.ExpiresAt), nil
}

// SignChallenge signs a challenge with the private key
func (s *Session) SignChallenge(challenge string) (string, error) {
	hash := hashMessage([]byte(MessagePrefix + challenge))

	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	// 27/28 recovery id, as wallets produce it.
	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// tokenExpiry prefers the JWT exp claim. The token is not verified here; the
// server does that on every request.
func (s *Session) tokenExpiry(token string, fallback int64) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if fallback > 0 {
		return time.Unix(fallback, 0)
	}
	return s.now().Add(fallbackLifetime)
}

func (s *Session) post(ctx context.Context, path string, in, out any) error {
	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("request failed: %s", errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// hashMessage hashes a message with the Ethereum signed message prefix
func hashMessage(data []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(data))
	return crypto.Keccak256([]byte(prefix), data)
}

// StaticToken is a pre-issued API token.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("empty API token")
	}
	return string(t), nil
}
