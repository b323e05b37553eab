package mysql

import (
	"strings"
	"testing"
)

func TestNewQueriesRejectsBadTable(t *testing.T) {
	if _, err := newQueries("queue; DROP TABLE x"); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestNewQueriesUsesTableName(t *testing.T) {
	q, err := newQueries("custom_queue")
	if err != nil {
		t.Fatalf("new queries: %v", err)
	}

	for name, query := range map[string]string{
		"upsert":         q.upsert,
		"fetchPending":   q.fetchPending,
		"lockOne":        q.lockOne,
		"markSent":       q.markSent,
		"markFailed":     q.markFailed,
		"resetStuck":     q.resetStuck,
		"cleanupOld":     q.cleanupOld,
		"requeue":        q.requeue,
		"deleteByStatus": q.deleteByStatus,
		"statsByStatus":  q.statsByStatus,
		"oldestPending":  q.oldestPending,
	} {
		if !strings.Contains(query, "custom_queue") {
			t.Fatalf("%s query does not reference the table: %s", name, query)
		}
	}
}

func TestUpsertReturnsRowID(t *testing.T) {
	q, err := newQueries("q")
	if err != nil {
		t.Fatalf("new queries: %v", err)
	}
	// The LAST_INSERT_ID trick is what lets Upsert report the surviving
	// row id on the duplicate-key path.
	if !strings.Contains(q.upsert, "id = LAST_INSERT_ID(id)") {
		t.Fatalf("upsert must map the duplicate row id: %s", q.upsert)
	}
}

func TestPlaceholders(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "?"},
		{3, "?, ?, ?"},
	}
	for _, tc := range cases {
		if got := placeholders(tc.n); got != tc.want {
			t.Fatalf("placeholders(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}
