package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	surreal "github.com/surrealdb/surrealdb.go"
	"github.com/tallyhq/tally/internal/common"
	tcommon "github.com/tallyhq/tally/tests/common"
)

// testDB starts the shared SurrealDB container and returns a connected
// *surreal.DB using a unique database name per test, with the schema
// applied.
func testDB(t *testing.T) *surreal.DB {
	t.Helper()

	addr := tcommon.SurrealDBAddress(t)
	ctx := context.Background()

	db, err := surreal.New(addr)
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": "root",
		"pass": "root",
	}); err != nil {
		t.Fatalf("sign in to SurrealDB: %v", err)
	}

	// Use a unique database per test for isolation. Sanitize t.Name()
	// because subtests produce names with "/" which SurrealDB rejects.
	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbName := fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000)
	if err := db.Use(ctx, "tally_test", dbName); err != nil {
		t.Fatalf("select namespace/database: %v", err)
	}

	if err := defineSchema(ctx, db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close(context.Background())
	})

	return db
}

// testLogger returns a silent logger for tests.
func testLogger() *common.Logger {
	return common.NewSilentLogger()
}

// seedAccount creates an account with an opening available balance in
// minor units.
func seedAccount(t *testing.T, db *surreal.DB, id, currency string, available int64) {
	t.Helper()
	sql := "CREATE type::thing('accounts', $id) SET account_id = $id, currency = $currency, " +
		"buckets.available = $available, buckets.pending = 0, buckets.escrow = 0, buckets.outflow = 0, " +
		"created_at = time::now(), updated_at = time::now()"
	if _, err := surreal.Query[any](context.Background(), db, sql, map[string]any{
		"id":        id,
		"currency":  currency,
		"available": available,
	}); err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}
