package postgres

import (
	"context"
	"os"
	"testing"

	"pompaku/backend/internal/store/storetest"
)

func TestPostgresRepository(t *testing.T) {
	databaseURL := os.Getenv("POMPAKU_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POMPAKU_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storetest.Run(t, s)
}

func TestEscapeLike(t *testing.T) {
	cases := map[string]string{
		"solar":  "solar",
		"50%":    `50\%`,
		"a_b":    `a\_b`,
		`c:\tmp`: `c:\\tmp`,
	}
	for in, want := range cases {
		if got := escapeLike(in); got != want {
			t.Fatalf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}
