package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

func openLazyDB(t *testing.T) *sql.DB {
	t.Helper()
	// The driver validates the DSN without connecting.
	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/ragsync?parseTime=true")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNewStoreRequiresDB(t *testing.T) {
	if _, err := NewStore(nil); !errors.Is(err, ErrDBRequired) {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
}

func TestNewStoreRejectsBadTable(t *testing.T) {
	if _, err := NewStore(openLazyDB(t), WithQueueTable("queue;drop")); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestNewCircuitStoreRejectsBadTable(t *testing.T) {
	if _, err := NewCircuitStore(nil); !errors.Is(err, ErrDBRequired) {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := NewCircuitStore(openLazyDB(t), WithCircuitTable("x;y")); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestStatusOperationsRequireStatuses(t *testing.T) {
	store, err := NewStore(openLazyDB(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := store.RequeueByStatus(context.Background(), nil); !errors.Is(err, ErrNoStatuses) {
		t.Fatalf("expected ErrNoStatuses, got %v", err)
	}
	if _, err := store.DeleteByStatus(context.Background(), nil); !errors.Is(err, ErrNoStatuses) {
		t.Fatalf("expected ErrNoStatuses, got %v", err)
	}
}
