package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080},
		DB:        DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callrelay"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379},
		Auth:      AuthConfig{JWTSecret: "secret"},
		Signaling: SignalingConfig{RingTimeout: -1},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.Twilio = TwilioConfig{AccountSID: "AC1", AuthToken: "tok", VerifyServiceSID: "VA1"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ProductionRequiresTwilioVerify(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without twilio verify")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Phone.DefaultRegion != "US" {
		t.Fatalf("expected US default region, got %q", c.Phone.DefaultRegion)
	}
	if c.Signaling.RingTimeout != 45*time.Second {
		t.Fatalf("expected default ring timeout, got %s", c.Signaling.RingTimeout)
	}
	if c.Signaling.SendQueue != 64 || c.Signaling.MaxMessageBytes != 64*1024 {
		t.Fatalf("unexpected signaling defaults: %+v", c.Signaling)
	}
}

func TestValidate_ZeroRingTimeoutDisables(t *testing.T) {
	c := validLocal()
	c.Signaling.RingTimeout = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Signaling.RingTimeout != 0 {
		t.Fatalf("expected ring timeout to stay disabled, got %s", c.Signaling.RingTimeout)
	}
}

func TestValidate_PresenceLeaseOutlivesPing(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Redis.PresenceLeaseTTL != 90*time.Second {
		t.Fatalf("expected 90s lease default, got %s", c.Redis.PresenceLeaseTTL)
	}

	c = validLocal()
	c.Redis.PresenceLeaseTTL = 20 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for a lease shorter than the ping interval")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" +15550001111, ,+15550002222 ")
	if len(got) != 2 || got[0] != "+15550001111" || got[1] != "+15550002222" {
		t.Fatalf("unexpected list: %v", got)
	}
}
