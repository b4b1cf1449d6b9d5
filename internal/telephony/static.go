package telephony

import (
	"context"
	"log/slog"
)

// StaticVerifier accepts one fixed code and sends nothing. Local/dev only.
type StaticVerifier struct {
	code string
	log  *slog.Logger
}

func NewStaticVerifier(code string, log *slog.Logger) *StaticVerifier {
	if log == nil {
		log = slog.Default()
	}
	return &StaticVerifier{code: code, log: log}
}

func (v *StaticVerifier) Name() string { return "static" }

func (v *StaticVerifier) Send(ctx context.Context, mobile string) error {
	v.log.Info("verification code not sent (static verifier)", "mobile", mobile)
	return nil
}

func (v *StaticVerifier) Check(ctx context.Context, mobile, code string) error {
	if code == "" || code != v.code {
		return ErrInvalidCode
	}
	return nil
}
