package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals a wrong authority passphrase.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassphrase signals a passphrase that doesn't meet requirements.
	ErrWeakPassphrase = errors.New("auth: passphrase must be at least 8 characters")
	ErrMissingAddress = errors.New("auth: address is required")
	ErrInvalidRole    = errors.New("auth: invalid role")
	// ErrReservedAddress signals an address no client may act as.
	ErrReservedAddress = errors.New("auth: address is reserved")
)

// TokenTTL bounds the lifetime of issued tokens.
const TokenTTL = 24 * time.Hour

// Service issues and verifies caller tokens.
type Service struct {
	authority      string
	registry       string
	passphraseHash []byte
	jwtSecret      []byte
	now            func() time.Time
}

// NewService creates a token service. passphraseHash is the bcrypt hash
// the authority must match before it is issued an authority token.
func NewService(authority, passphraseHash, jwtSecret string) *Service {
	return &Service{
		authority:      authority,
		passphraseHash: []byte(passphraseHash),
		jwtSecret:      []byte(jwtSecret),
		now:            time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRegistry reserves the custody address. It holds every escrowed asset,
// so no token is ever issued for it.
func (s *Service) WithRegistry(address string) *Service {
	s.registry = address
	return s
}

// IssueToken signs a token for req.Address. The authority address always
// receives the authority role and only with the right passphrase; any
// other address is a participant.
func (s *Service) IssueToken(req TokenRequest) (TokenResult, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return TokenResult{}, ErrMissingAddress
	}
	if s.reserved(address) {
		return TokenResult{}, ErrReservedAddress
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleParticipant
	}
	if !isValidRole(role) {
		return TokenResult{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	if address == s.authority {
		if len(s.passphraseHash) == 0 {
			return TokenResult{}, ErrInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword(s.passphraseHash, []byte(req.Passphrase)); err != nil {
			return TokenResult{}, ErrInvalidCredentials
		}
		role = RoleAuthority
	} else if role == RoleAuthority {
		return TokenResult{}, ErrInvalidCredentials
	}

	caller := Caller{Address: address, Role: role}
	expiresAt := s.now().Add(TokenTTL)
	token, err := s.generateToken(caller, expiresAt)
	if err != nil {
		return TokenResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return TokenResult{Token: token, Caller: caller, ExpiresAt: expiresAt}, nil
}

// VerifyToken validates a token and returns the caller it was issued to.
func (s *Service) VerifyToken(tokenString string) (Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Caller{}, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Caller{}, fmt.Errorf("auth: invalid token")
	}
	address, ok := claims["sub"].(string)
	if !ok || address == "" {
		return Caller{}, fmt.Errorf("auth: invalid subject in token")
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Caller{}, fmt.Errorf("auth: invalid role in token")
	}
	if s.reserved(address) {
		return Caller{}, fmt.Errorf("%w: %q in token", ErrReservedAddress, address)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Caller{}, fmt.Errorf("%w: %q in token", ErrInvalidRole, roleStr)
	}
	if role == RoleAuthority && address != s.authority {
		return Caller{}, fmt.Errorf("auth: authority role for %q", address)
	}
	return Caller{Address: address, Role: role}, nil
}

// HashPassphrase produces the value expected in AUTHORITY_PASSPHRASE_HASH.
func HashPassphrase(passphrase string) (string, error) {
	if len(passphrase) < 8 {
		return "", ErrWeakPassphrase
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash passphrase: %w", err)
	}
	return string(hash), nil
}

func (s *Service) generateToken(caller Caller, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  caller.Address,
		"role": caller.Role,
		"exp":  expiresAt.Unix(),
		"iat":  s.now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) reserved(address string) bool {
	return s.registry != "" && address == s.registry
}

func isValidRole(role Role) bool {
	switch role {
	case RoleParticipant, RoleAuthority:
		return true
	default:
		return false
	}
}
