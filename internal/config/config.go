package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Phone     PhoneConfig
	Signaling SignalingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int

	// PresenceLeaseTTL bounds how long a presence key survives a crashed process.
	// Live connections renew it on every keepalive ping.
	PresenceLeaseTTL time.Duration
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// AdminMobiles are E.164 numbers granted the admin role at token issuance.
	AdminMobiles []string
}

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	VerifyServiceSID string
}

// Enabled reports whether Twilio Verify credentials are present.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.VerifyServiceSID != ""
}

type PhoneConfig struct {
	// DefaultRegion is the ISO 3166-1 region used to parse numbers without a country code.
	DefaultRegion string
}

type SignalingConfig struct {
	// ForwardTimeout bounds a single websocket write to a peer.
	ForwardTimeout time.Duration
	// RingTimeout ends unanswered calls. Zero disables it.
	RingTimeout time.Duration
	// SendQueue is the per-connection outbound buffer; a full queue means the peer is unreachable.
	SendQueue int
	// MaxMessageBytes caps a single inbound frame.
	MaxMessageBytes int64
	// PingInterval drives websocket keepalive; the read deadline is twice this value.
	PingInterval time.Duration
	// MessagesPerSecond is the per-connection inbound rate limit.
	MessagesPerSecond int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.PresenceLeaseTTL = mustDuration("PRESENCE_LEASE_TTL")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")
	c.Auth.AdminMobiles = splitList(os.Getenv("ADMIN_MOBILES"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.VerifyServiceSID = strings.TrimSpace(os.Getenv("TWILIO_VERIFY_SERVICE_SID"))

	c.Phone.DefaultRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_DEFAULT_REGION")))

	c.Signaling.ForwardTimeout = mustDuration("SIGNALING_FORWARD_TIMEOUT")
	c.Signaling.RingTimeout = mustDuration("SIGNALING_RING_TIMEOUT")
	c.Signaling.PingInterval = mustDuration("SIGNALING_PING_INTERVAL")
	{
		n, err := optionalInt("SIGNALING_SEND_QUEUE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signaling.SendQueue = n
	}
	{
		n, err := optionalInt("SIGNALING_MAX_MESSAGE_BYTES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signaling.MaxMessageBytes = int64(n)
	}
	{
		n, err := optionalInt("SIGNALING_MESSAGES_PER_SECOND")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signaling.MessagesPerSecond = n
	}
	// An explicit "0" disables the ring timeout; unset means default.
	if strings.TrimSpace(os.Getenv("SIGNALING_RING_TIMEOUT")) == "" {
		c.Signaling.RingTimeout = -1
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.PresenceLeaseTTL <= 0 {
		c.Redis.PresenceLeaseTTL = 90 * time.Second
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() && !c.Twilio.Enabled() {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID are required in production"))
	}

	if c.Phone.DefaultRegion == "" {
		c.Phone.DefaultRegion = "US"
	}
	if len(c.Phone.DefaultRegion) != 2 {
		errs = append(errs, fmt.Errorf("PHONE_DEFAULT_REGION must be a two-letter region code, got %q", c.Phone.DefaultRegion))
	}

	s := &c.Signaling
	if s.ForwardTimeout <= 0 {
		s.ForwardTimeout = 2 * time.Second
	}
	if s.RingTimeout < 0 {
		s.RingTimeout = 45 * time.Second
	}
	if s.SendQueue <= 0 {
		s.SendQueue = 64
	}
	if s.MaxMessageBytes <= 0 {
		s.MaxMessageBytes = 64 * 1024
	}
	if s.PingInterval <= 0 {
		s.PingInterval = 25 * time.Second
	}
	if s.MessagesPerSecond <= 0 {
		s.MessagesPerSecond = 50
	}
	if c.Redis.PresenceLeaseTTL <= s.PingInterval {
		errs = append(errs, fmt.Errorf("PRESENCE_LEASE_TTL (%s) must exceed SIGNALING_PING_INTERVAL (%s)", c.Redis.PresenceLeaseTTL, s.PingInterval))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsLocal reports whether developer conveniences (such as the static OTP verifier) may be used.
func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
