package db

import (
	"context"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "postgres://u:p@db:5432/dojo?sslmode=disable", want: "pgx5://u:p@db:5432/dojo?sslmode=disable"},
		{in: "postgresql://u:p@db:5432/dojo", want: "pgx5://u:p@db:5432/dojo"},
		{in: " pgx5://u@db/dojo ", want: "pgx5://u@db/dojo"},
	}
	for _, tc := range cases {
		if got := MigrateURL(tc.in); got != tc.want {
			t.Fatalf("MigrateURL(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestOpen_RequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
