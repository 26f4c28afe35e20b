package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/principal"
)

// ErrInvalidCredentials is returned for any login failure. Deliberately
// indistinguishable between unknown email, disabled account and wrong
// password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credential links a login email to a principal id.
type Credential struct {
	PrincipalID  string
	Email        string
	PasswordHash string
	Active       bool
}

// CredentialStore looks credentials up by email.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (Credential, error)
}

// LoginService authenticates credentials and resolves the principal.
type LoginService struct {
	creds    CredentialStore
	resolver *Resolver
}

func NewLoginService(creds CredentialStore, resolver *Resolver) *LoginService {
	return &LoginService{creds: creds, resolver: resolver}
}

// Login verifies the password and returns the freshly resolved principal.
func (s *LoginService) Login(ctx context.Context, email, password string) (principal.Principal, error) {
	cred, err := s.creds.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return principal.Principal{}, ErrInvalidCredentials
	}
	if !cred.Active {
		return principal.Principal{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return principal.Principal{}, ErrInvalidCredentials
	}
	return s.resolver.Resolve(ctx, cred.PrincipalID)
}

// PGCredentials reads the credentials table:
//
//	CREATE TABLE credentials (
//	    principal_id  TEXT PRIMARY KEY,
//	    email         TEXT NOT NULL UNIQUE,
//	    password_hash TEXT NOT NULL,
//	    active        BOOLEAN NOT NULL DEFAULT TRUE
//	);
type PGCredentials struct {
	pool *pgxpool.Pool
}

func NewPGCredentials(pool *pgxpool.Pool) *PGCredentials {
	return &PGCredentials{pool: pool}
}

func (s *PGCredentials) FindByEmail(ctx context.Context, email string) (Credential, error) {
	var cred Credential
	err := s.pool.QueryRow(ctx,
		`SELECT principal_id, email, password_hash, active FROM credentials WHERE email = $1`,
		email,
	).Scan(&cred.PrincipalID, &cred.Email, &cred.PasswordHash, &cred.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, fmt.Errorf("%w: no credential for email", core.ErrNotFound)
	}
	if err != nil {
		return Credential{}, &core.TransientError{Err: fmt.Errorf("identity: find credential: %w", err)}
	}
	return cred, nil
}

// MemoryCredentials backs tests and seeds.
type MemoryCredentials struct {
	mu      sync.RWMutex
	byEmail map[string]Credential
}

func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{byEmail: make(map[string]Credential)}
}

// Add hashes the password and registers the credential.
func (s *MemoryCredentials) Add(principalID, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[normalizeEmail(email)] = Credential{
		PrincipalID:  principalID,
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		Active:       true,
	}
	return nil
}

// Deactivate disables logins for the principal's email.
func (s *MemoryCredentials) Deactivate(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return
	}
	cred.Active = false
	s.byEmail[normalizeEmail(email)] = cred
}

func (s *MemoryCredentials) FindByEmail(_ context.Context, email string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return Credential{}, fmt.Errorf("%w: no credential for email", core.ErrNotFound)
	}
	return cred, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
