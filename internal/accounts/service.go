package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"callrelay/internal/auth"
	"callrelay/internal/rbac"
	"callrelay/internal/telephony"
)

var (
	ErrInvalidRequest     = errors.New("accounts: invalid request")
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	ErrNotVerified        = errors.New("accounts: mobile not verified")
	ErrAlreadyVerified    = errors.New("accounts: mobile already verified")
	ErrCodeDelivery       = errors.New("accounts: verification code could not be sent")
)

const minPasswordLen = 8

// TokenIssuer mints the access/refresh pair for a verified account.
type TokenIssuer interface {
	IssuePair(now time.Time, userID, mobile, role string) (auth.TokenPair, error)
}

type Options struct {
	DefaultRegion string
	AdminMobiles  []string
	BcryptCost    int
}

type Service struct {
	repo     Repository
	verifier telephony.Verifier
	tokens   TokenIssuer

	region string
	admins []string
	cost   int

	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, verifier telephony.Verifier, tokens TokenIssuer, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "US"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:     repo,
		verifier: verifier,
		tokens:   tokens,
		region:   opts.DefaultRegion,
		admins:   opts.AdminMobiles,
		cost:     opts.BcryptCost,
		clock:    time.Now,
		log:      log,
	}
}

// Canonicalize returns the E.164 form of raw using the configured default region.
func (s *Service) Canonicalize(raw string) (string, error) {
	return Canonicalize(raw, s.region)
}

// Signup creates an unverified account and sends a verification code.
// The account exists even if code delivery fails; the caller can resend.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(req.Password) < minPasswordLen {
		return User{}, ErrInvalidRequest
	}
	mobile, err := s.Canonicalize(req.Mobile)
	if err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("accounts: hash password: %w", err)
	}

	u := User{
		ID:           uuid.NewString(),
		Name:         name,
		Mobile:       mobile,
		PasswordHash: string(hash),
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return User{}, err
	}
	s.log.Info("account created", "user_id", u.ID, "mobile", u.Mobile)

	if err := s.verifier.Send(ctx, mobile); err != nil {
		s.log.Warn("verification send failed", "mobile", mobile, "err", err)
		return u, ErrCodeDelivery
	}
	return u, nil
}

// Login checks the password. Unverified accounts get a fresh code and ErrNotVerified.
func (s *Service) Login(ctx context.Context, rawMobile, password string) (auth.TokenPair, User, error) {
	mobile, err := s.Canonicalize(rawMobile)
	if err != nil {
		return auth.TokenPair{}, User{}, ErrInvalidCredentials
	}
	u, err := s.repo.GetByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return auth.TokenPair{}, User{}, ErrInvalidCredentials
		}
		return auth.TokenPair{}, User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return auth.TokenPair{}, User{}, ErrInvalidCredentials
	}
	if !u.Verified {
		if err := s.verifier.Send(ctx, mobile); err != nil {
			s.log.Warn("verification send failed", "mobile", mobile, "err", err)
		}
		return auth.TokenPair{}, u, ErrNotVerified
	}
	pair, err := s.issue(u)
	return pair, u, err
}

// ConfirmCode checks a verification code, marks the account verified and issues tokens.
func (s *Service) ConfirmCode(ctx context.Context, rawMobile, code string) (auth.TokenPair, User, error) {
	mobile, err := s.Canonicalize(rawMobile)
	if err != nil {
		return auth.TokenPair{}, User{}, err
	}
	u, err := s.repo.GetByMobile(ctx, mobile)
	if err != nil {
		return auth.TokenPair{}, User{}, err
	}
	if err := s.verifier.Check(ctx, mobile, strings.TrimSpace(code)); err != nil {
		return auth.TokenPair{}, User{}, err
	}
	if !u.Verified {
		if err := s.repo.MarkVerified(ctx, mobile); err != nil {
			return auth.TokenPair{}, User{}, err
		}
		u.Verified = true
		s.log.Info("account verified", "user_id", u.ID)
	}
	pair, err := s.issue(u)
	return pair, u, err
}

// ResendCode sends a new code to an existing, unverified account.
func (s *Service) ResendCode(ctx context.Context, rawMobile string) error {
	mobile, err := s.Canonicalize(rawMobile)
	if err != nil {
		return err
	}
	u, err := s.repo.GetByMobile(ctx, mobile)
	if err != nil {
		return err
	}
	if u.Verified {
		return ErrAlreadyVerified
	}
	if err := s.verifier.Send(ctx, mobile); err != nil {
		s.log.Warn("verification send failed", "mobile", mobile, "err", err)
		return ErrCodeDelivery
	}
	return nil
}

func (s *Service) Get(ctx context.Context, mobile string) (User, error) {
	return s.repo.GetByMobile(ctx, mobile)
}

// Exists reports whether identity ever registered, verified or not.
func (s *Service) Exists(ctx context.Context, identity string) (bool, error) {
	return s.repo.Exists(ctx, identity)
}

func (s *Service) issue(u User) (auth.TokenPair, error) {
	if s.tokens == nil {
		return auth.TokenPair{}, errors.New("accounts: token issuer not configured")
	}
	return s.tokens.IssuePair(s.clock(), u.ID, u.Mobile, rbac.RoleFor(u.Mobile, s.admins))
}
