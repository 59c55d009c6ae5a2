package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avdeenkov/recodehub/internal/adapter/postgres"
	"github.com/avdeenkov/recodehub/internal/adapter/postgres/testhelper"
)

// groupExists checks whether a group row with the given ID exists in the database.
func groupExists(t *testing.T, pool *pgxpool.Pool, groupID uuid.UUID) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(
		context.Background(),
		`SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`,
		groupID,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("groupExists query: %v", err)
	}
	return exists
}

func insertGroup(ctx context.Context, q postgres.Querier, id uuid.UUID, name string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO groups (id, name, owner, permission) VALUES ($1, $2, $3, $4)`,
		id, name, "tx-test", 0,
	)
	return err
}

func TestRunInTx_Commit(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	tm := postgres.NewTxManager(pool)

	groupID := uuid.New()

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, pool)
		return insertGroup(ctx, q, groupID, "tx-commit-"+groupID.String())
	})
	if err != nil {
		t.Fatalf("RunInTx returned error: %v", err)
	}

	if !groupExists(t, pool, groupID) {
		t.Fatal("expected group to exist after committed transaction")
	}
}

func TestRunInTx_RollbackOnError(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	tm := postgres.NewTxManager(pool)

	groupID := uuid.New()
	sentinel := errors.New("business logic error")

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, pool)
		if execErr := insertGroup(ctx, q, groupID, "tx-rollback-"+groupID.String()); execErr != nil {
			t.Fatalf("insert inside tx failed: %v", execErr)
		}
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got: %v", err)
	}

	if groupExists(t, pool, groupID) {
		t.Fatal("expected group NOT to exist after rolled-back transaction")
	}
}

func TestRunInTx_RollbackOnPanic(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	tm := postgres.NewTxManager(pool)

	groupID := uuid.New()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic to be re-raised")
		}
		if r != "test panic" {
			t.Fatalf("expected panic value %q, got %v", "test panic", r)
		}

		// Verify data was rolled back.
		if groupExists(t, pool, groupID) {
			t.Fatal("expected group NOT to exist after panic-rolled-back transaction")
		}
	}()

	_ = tm.RunInTx(context.Background(), func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, pool)
		if err := insertGroup(ctx, q, groupID, "tx-panic-"+groupID.String()); err != nil {
			t.Fatalf("insert inside tx failed: %v", err)
		}
		panic("test panic")
	})
}

func TestRunInTx_QuerierFromCtx_UsesTx(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	tm := postgres.NewTxManager(pool)

	groupID := uuid.New()

	// Insert inside a transaction, then verify it's visible within the same tx
	// but NOT outside until commit.
	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, pool)
		if err := insertGroup(ctx, q, groupID, "tx-ctx-"+groupID.String()); err != nil {
			return err
		}

		// Should be visible within the transaction.
		var exists bool
		err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			t.Fatal("expected group to be visible within the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx returned error: %v", err)
	}

	// After commit, also visible outside.
	if !groupExists(t, pool, groupID) {
		t.Fatal("expected group to exist after committed transaction")
	}
}
