package utils

import (
	"context"
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	p := PostgresPoolConfig{}.withDefaults()
	if p.MaxOpenConns != 25 || p.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	p = PostgresPoolConfig{MaxOpenConns: 3}.withDefaults()
	if p.MaxOpenConns != 3 {
		t.Fatalf("expected explicit value kept, got %d", p.MaxOpenConns)
	}
}

func TestEnsureSchema_RejectsNilDB(t *testing.T) {
	if err := EnsureSchema(context.Background(), nil, "SELECT 1"); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
