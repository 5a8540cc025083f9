package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/store"
	"github.com/specgate/specgate/types"
)

// AccessTokenTTL is how long an issued session token stays valid
const AccessTokenTTL = time.Hour

// Sessions manages gateway user accounts and the JWT tokens they sign in
// with. Invalidated tokens are tracked in process by their token ID; entries
// fall away naturally once the token would have expired anyway.
type Sessions struct {
	store  store.Store
	secret []byte
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewSessions creates a session manager signing tokens with the given secret
func NewSessions(s store.Store, secret []byte) *Sessions {
	return &Sessions{store: s, secret: secret, now: time.Now, revoked: make(map[string]time.Time)}
}

// CreateUser registers a new account with a bcrypt password hash
func (s *Sessions) CreateUser(ctx context.Context, username, email, password, role string) (*types.User, error) {
	if username == "" || password == "" {
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "CreateUser", "username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "Sessions", "CreateUser", "hash password")
	}
	if role == "" {
		role = "user"
	}
	user := &types.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.SaveUser(ctx, user); err != nil {
		return nil, errors.Wrap(err, "Sessions", "CreateUser", "persist user")
	}
	return user, nil
}

// Authenticate verifies a username/password pair and returns a signed access
// token for the account. Failures never distinguish unknown users from wrong
// passwords.
func (s *Sessions) Authenticate(ctx context.Context, username, password string) (string, *types.User, error) {
	user, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		return "", nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "Authenticate", "invalid credentials")
	}
	if !user.Active {
		return "", nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "Authenticate", "account disabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "Authenticate", "invalid credentials")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *Sessions) issueToken(user *types.User) (string, error) {
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"role":     user.Role,
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(AccessTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "Sessions", "issueToken", "sign token")
	}
	return signed, nil
}

// ValidateToken parses and verifies an access token, returning the account it
// was issued to.
func (s *Sessions) ValidateToken(ctx context.Context, tokenString string) (*types.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, errors.WrapKind(errors.KindAuthenticationFailed, err,
			"Sessions", "ValidateToken", "parse token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "ValidateToken", "invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "ValidateToken", "token missing subject")
	}
	if jti, _ := claims["jti"].(string); jti != "" && s.isRevoked(jti) {
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "ValidateToken", "session invalidated")
	}
	user, err := s.store.UserByID(ctx, sub)
	if err != nil {
		return nil, errors.WrapKind(errors.KindAuthenticationFailed, err,
			"Sessions", "ValidateToken", "lookup user")
	}
	if !user.Active {
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "ValidateToken", "account disabled")
	}
	return user, nil
}

// Invalidate revokes a token so it stops validating before its expiry. The
// token must still parse and verify; anything else was never a live session.
func (s *Sessions) Invalidate(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return errors.WrapKind(errors.KindAuthenticationFailed, err,
			"Sessions", "Invalidate", "parse token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "Invalidate", "invalid token claims")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return errors.NewKind(errors.KindAuthenticationFailed,
			"Sessions", "Invalidate", "token missing id")
	}
	expiry := s.now().UTC().Add(AccessTokenTTL)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	s.revoked[jti] = expiry
	return nil
}

func (s *Sessions) isRevoked(jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[jti]
	return ok
}
