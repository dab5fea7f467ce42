// internal/services/auth_service.go
package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/config"
	"github.com/javajoker/imi-market/internal/utils"
)

// AuthService signs wallets in: the caller requests a challenge, signs it
// with personal_sign and exchanges the signature for an access token.
type AuthService struct {
	cfg   config.JWTConfig
	clock func() time.Time

	mu         sync.Mutex
	challenges map[common.Address]challenge

	admins      map[common.Address]struct{}
	arbitrators map[common.Address]struct{}
}

type challenge struct {
	message   string
	expiresAt time.Time
}

type ChallengeRequest struct {
	Address string `json:"address" validate:"required,eth_addr"`
}

type ChallengeResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginRequest struct {
	Address   string `json:"address" validate:"required,eth_addr"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

type AuthResponse struct {
	Address      common.Address     `json:"address"`
	Capabilities []authz.Capability `json:"capabilities"`
	AccessToken  string             `json:"access_token"`
	TokenType    string             `json:"token_type"`
	ExpiresIn    int                `json:"expires_in"` // in seconds
}

func NewAuthService(cfg config.JWTConfig) *AuthService {
	return &AuthService{
		cfg:         cfg,
		clock:       time.Now,
		challenges:  make(map[common.Address]challenge),
		admins:      addressSet(cfg.AdminAddresses),
		arbitrators: addressSet(cfg.ArbitratorAddresses),
	}
}

func addressSet(raw []string) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(raw))
	for _, a := range raw {
		set[common.HexToAddress(a)] = struct{}{}
	}
	return set
}

// Capabilities returns what the configured address lists grant addr.
func (s *AuthService) Capabilities(addr common.Address) []authz.Capability {
	var caps []authz.Capability
	if _, ok := s.admins[addr]; ok {
		caps = append(caps, authz.CapAdmin)
	}
	if _, ok := s.arbitrators[addr]; ok {
		caps = append(caps, authz.CapArbitrator)
	}
	return caps
}

// Challenge issues a single-use message for addr to sign. A new challenge
// replaces any outstanding one.
func (s *AuthService) Challenge(req *ChallengeRequest) (*ChallengeResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	addr := common.HexToAddress(req.Address)
	now := s.clock().UTC()
	ch := challenge{
		message: fmt.Sprintf("Sign in to IMI Market\nAddress: %s\nNonce: %s\nIssued At: %s",
			addr.Hex(), uuid.NewString(), now.Format(time.RFC3339)),
		expiresAt: now.Add(time.Duration(s.cfg.ChallengeTTL) * time.Second),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired(now)
	s.challenges[addr] = ch
	return &ChallengeResponse{Message: ch.message, ExpiresAt: ch.expiresAt}, nil
}

func (s *AuthService) evictExpired(now time.Time) {
	for addr, ch := range s.challenges {
		if now.After(ch.expiresAt) {
			delete(s.challenges, addr)
		}
	}
}

// Login verifies the signature over the outstanding challenge and returns an
// access token carrying the address's capabilities.
func (s *AuthService) Login(req *LoginRequest) (*AuthResponse, error) {
	const op = "auth.login"
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	addr := common.HexToAddress(req.Address)

	s.mu.Lock()
	ch, ok := s.challenges[addr]
	delete(s.challenges, addr)
	s.mu.Unlock()
	if !ok || s.clock().After(ch.expiresAt) {
		return nil, apperr.Authorization(op, "no valid challenge for %s", addr.Hex())
	}

	signer, err := recoverSigner(ch.message, req.Signature)
	if err != nil {
		return nil, apperr.Authorization(op, "invalid signature: %v", err)
	}
	if signer != addr {
		return nil, apperr.Authorization(op, "signature is from %s, not %s", signer.Hex(), addr.Hex())
	}

	caps := s.Capabilities(addr)
	token, err := utils.GenerateJWT(addr, caps, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, apperr.Wrap(op, fmt.Errorf("failed to generate access token: %w", err))
	}
	return &AuthResponse{
		Address:      addr,
		Capabilities: caps,
		AccessToken:  token,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.AccessTokenTTL * 3600, // Convert hours to seconds
	}, nil
}

// recoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message.
func recoverSigner(message, signature string) (common.Address, error) {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
