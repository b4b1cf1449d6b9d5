package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"callrelay/internal/auth"
	"callrelay/internal/config"
	"callrelay/internal/rbac"
	"callrelay/internal/telephony"
	"callrelay/pkg/logger"
)

type recordingVerifier struct {
	telephony.Verifier
	mu   sync.Mutex
	sent []string
}

func (v *recordingVerifier) Send(ctx context.Context, mobile string) error {
	v.mu.Lock()
	v.sent = append(v.sent, mobile)
	v.mu.Unlock()
	return v.Verifier.Send(ctx, mobile)
}

func newTestService(t *testing.T) (*Service, *recordingVerifier, *auth.Manager) {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	v := &recordingVerifier{Verifier: telephony.NewStaticVerifier("000000", logger.Discard())}
	svc := NewService(NewMemoryRepo(), v, m, Options{
		DefaultRegion: "US",
		AdminMobiles:  []string{"+12015550199"},
		BcryptCost:    bcrypt.MinCost,
	}, logger.Discard())
	return svc, v, m
}

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize("(201) 555-0143", "US")
	if err != nil || got != "+12015550143" {
		t.Fatalf("expected +12015550143, got %q %v", got, err)
	}
	got, err = Canonicalize("+44 121 234 5678", "US")
	if err != nil || got != "+441212345678" {
		t.Fatalf("expected +441212345678, got %q %v", got, err)
	}
	if _, err := Canonicalize("12", "US"); !errors.Is(err, ErrInvalidMobile) {
		t.Fatalf("expected ErrInvalidMobile, got %v", err)
	}
}

func TestService_SignupVerifyLogin(t *testing.T) {
	svc, v, m := newTestService(t)
	ctx := context.Background()

	u, err := svc.Signup(ctx, SignupRequest{Name: "Ada", Mobile: "201-555-0143", Password: "correct horse"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if u.Mobile != "+12015550143" || u.Verified || u.PasswordHash == "correct horse" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(v.sent) != 1 {
		t.Fatalf("expected one code sent")
	}

	if _, _, err := svc.Login(ctx, "+12015550143", "correct horse"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
	if len(v.sent) != 2 {
		t.Fatalf("expected login to resend the code")
	}

	if _, _, err := svc.ConfirmCode(ctx, "+12015550143", "999999"); !errors.Is(err, telephony.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	pair, u, err := svc.ConfirmCode(ctx, "+12015550143", "000000")
	if err != nil || !u.Verified {
		t.Fatalf("confirm: %v", err)
	}
	claims, err := m.Verify(pair.AccessToken, auth.TokenTypeAccess, time.Now())
	if err != nil || claims.Mobile != "+12015550143" || claims.Role != rbac.RoleMember {
		t.Fatalf("unexpected claims %+v %v", claims, err)
	}

	if _, _, err := svc.Login(ctx, "+12015550143", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "2015550143", "correct horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.ResendCode(ctx, "+12015550143"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
}

func TestService_SignupRejectsDuplicatesAndBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupRequest{Name: "", Mobile: "+12015550143", Password: "longenough"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Signup(ctx, SignupRequest{Name: "A", Mobile: "+12015550143", Password: "short"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for short password, got %v", err)
	}
	if _, err := svc.Signup(ctx, SignupRequest{Name: "A", Mobile: "not a number", Password: "longenough"}); !errors.Is(err, ErrInvalidMobile) {
		t.Fatalf("expected ErrInvalidMobile, got %v", err)
	}
	if _, err := svc.Signup(ctx, SignupRequest{Name: "A", Mobile: "+12015550143", Password: "longenough"}); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Signup(ctx, SignupRequest{Name: "B", Mobile: "(201) 555-0143", Password: "longenough"}); !errors.Is(err, ErrMobileTaken) {
		t.Fatalf("expected ErrMobileTaken, got %v", err)
	}

	ok, err := svc.Exists(ctx, "+12015550143")
	if err != nil || !ok {
		t.Fatalf("expected account to exist")
	}
}

func TestService_AdminRoleFromConfig(t *testing.T) {
	svc, _, m := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Signup(ctx, SignupRequest{Name: "Root", Mobile: "+12015550199", Password: "longenough"}); err != nil {
		t.Fatalf("signup: %v", err)
	}
	pair, _, err := svc.ConfirmCode(ctx, "+12015550199", "000000")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	claims, _ := m.Verify(pair.AccessToken, auth.TokenTypeAccess, time.Now())
	if claims.Role != rbac.RoleAdmin {
		t.Fatalf("expected admin role, got %q", claims.Role)
	}
}
