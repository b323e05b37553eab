package mysql

import "fmt"

const itemColumns = "id, entity_type, entity_id, store_id, action, priority, status, attempts, last_attempt_at, error_message, created_at, updated_at"

// queries holds all SQL for one queue table, rendered once at
// construction so the hot path only binds arguments.
type queries struct {
	upsert         string
	supersedeSaves string
	fetchPending   string
	fetchRetryBase string
	lockOne        string
	markSent       string
	markFailed     string
	resetStuck     string
	cleanupOld     string
	requeue        string
	deleteByStatus string
	statsByStatus  string
	statsByEntity  string
	oldestPending  string
}

func newQueries(table string) (queries, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return queries{}, err
	}

	return queries{
		upsert: fmt.Sprintf(`INSERT INTO %s
    (entity_type, entity_id, store_id, action, priority, status, attempts, last_attempt_at, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'pending', 0, NULL, NULL, ?, ?)
ON DUPLICATE KEY UPDATE
    priority = VALUES(priority),
    status = 'pending',
    attempts = 0,
    last_attempt_at = NULL,
    error_message = NULL,
    updated_at = VALUES(updated_at),
    id = LAST_INSERT_ID(id)`, name),

		supersedeSaves: fmt.Sprintf(`DELETE FROM %s
WHERE entity_type = ? AND entity_id = ? AND store_id = ? AND action = 'save'
  AND status IN ('pending', 'processing', 'failed')`, name),

		fetchPending: fmt.Sprintf(`SELECT %s FROM %s
WHERE status = 'pending'
ORDER BY priority ASC, created_at ASC, id ASC
LIMIT ?`, itemColumns, name),

		// Completed at render time with one (attempts = ? AND
		// last_attempt_at <= ?) disjunct per retry delay.
		fetchRetryBase: fmt.Sprintf(`SELECT %s FROM %s
WHERE status = 'failed' AND (%%s)
ORDER BY priority ASC, created_at ASC, id ASC
LIMIT ?`, itemColumns, name),

		lockOne: fmt.Sprintf(`UPDATE %s
SET status = 'processing', attempts = attempts + 1, last_attempt_at = ?, updated_at = ?
WHERE id = ? AND status IN ('pending', 'failed')`, name),

		markSent: fmt.Sprintf(`UPDATE %s
SET status = 'sent', error_message = NULL, updated_at = ?
WHERE id IN (%%s)`, name),

		markFailed: fmt.Sprintf(`UPDATE %s
SET status = CASE WHEN attempts >= ? THEN 'dead' ELSE 'failed' END,
    error_message = ?,
    updated_at = ?
WHERE id IN (%%s)`, name),

		resetStuck: fmt.Sprintf(`UPDATE %s
SET status = 'pending', updated_at = ?
WHERE status = 'processing' AND last_attempt_at <= ?`, name),

		cleanupOld: fmt.Sprintf(`DELETE FROM %s
WHERE status = 'sent' AND updated_at <= ?`, name),

		requeue: fmt.Sprintf(`UPDATE %s
SET status = 'pending', attempts = 0, error_message = NULL, updated_at = ?
WHERE status IN (%%s)`, name),

		deleteByStatus: fmt.Sprintf(`DELETE FROM %s WHERE status IN (%%s)`, name),

		statsByStatus: fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, name),

		statsByEntity: fmt.Sprintf(`SELECT entity_type, COUNT(*) FROM %s GROUP BY entity_type`, name),

		oldestPending: fmt.Sprintf(`SELECT created_at FROM %s
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT 1`, name),
	}, nil
}

// placeholders renders "?, ?, ?" for n bind parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',', ' ')
		}
		b = append(b, '?')
	}

	return string(b)
}
