package simbackend

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/TeneoProtocolAI/walletscan/internal/adapters/auth"
)

const challengeTTL = 5 * time.Minute

// authorized requires a valid session token when auth is enabled.
func (b *Backend) authorized(next http.HandlerFunc) http.HandlerFunc {
	if len(b.opts.AuthSecret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing session token")
			return
		}

		_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
			func(t *jwt.Token) (interface{}, error) { return b.opts.AuthSecret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(b.opts.Now),
		)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req auth.ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !common.IsHexAddress(req.WalletAddress) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	challenge := uuid.NewString()
	expires := b.opts.Now().Add(challengeTTL)

	b.mu.Lock()
	b.challenges[challenge] = common.HexToAddress(req.WalletAddress).Hex()
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, auth.ChallengeResponse{
		Challenge: challenge,
		ExpiresAt: expires.Unix(),
	})
}

func (b *Backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req auth.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b.mu.Lock()
	address, ok := b.challenges[req.Challenge]
	delete(b.challenges, req.Challenge)
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown or reused challenge")
		return
	}

	signer, err := recoverSigner(req.Challenge, req.Signature)
	if err != nil || !strings.EqualFold(signer, address) {
		writeError(w, http.StatusUnauthorized, "signature does not match wallet")
		return
	}

	now := b.opts.Now()
	expires := now.Add(b.opts.TokenTTL)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   address,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}).SignedString(b.opts.AuthSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	b.log.Debugw("Session issued", "wallet", address, "expires_at", expires)
	writeJSON(w, http.StatusOK, auth.VerifyResponse{
		SessionToken: token,
		ExpiresAt:    expires.Unix(),
	})
}

// recoverSigner returns the address that produced a personal_sign signature
// over the prefixed challenge.
func recoverSigner(challenge, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	data := []byte(auth.MessagePrefix + challenge)
	hash := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(data))), data)

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
