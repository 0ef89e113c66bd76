package mysql

import (
	"context"
	"log"
	"os"
	"testing"

	"pompaku/backend/internal/store/storetest"
)

func TestMySQLRepository(t *testing.T) {
	dsn := os.Getenv("POMPAKU_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("set POMPAKU_TEST_MYSQL_DSN to run mysql integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn, log.New(os.Stdout, "", log.LstdFlags))
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
