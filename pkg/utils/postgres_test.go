package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{sql.ErrNoRows, false},
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{fmt.Errorf("queue upsert: %w", &pgconn.PgError{Code: "40P01"}), true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 10, MaxIdleConns: 50}.withDefaults()
	if got.MaxOpenConns != 10 || got.MaxIdleConns != 10 {
		t.Fatalf("idle conns must not exceed open conns: %+v", got)
	}
	if got.PingTimeout != 5*time.Second || got.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	zero := PostgresPoolConfig{}.withDefaults()
	if zero.MaxOpenConns != 25 || zero.MaxIdleConns != 25 {
		t.Fatalf("unexpected zero-value defaults: %+v", zero)
	}
}

func TestHealthCheckFailsWithoutDriver(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), "no-such-driver", "", PostgresPoolConfig{}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
