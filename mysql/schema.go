package mysql

import "fmt"

// Schema returns the DDL for the queue table. The unique key over the
// natural key columns is what makes Upsert a dedup operation.
func Schema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    entity_type     VARCHAR(64)     NOT NULL,
    entity_id       VARCHAR(128)    NOT NULL,
    store_id        INT             NOT NULL DEFAULT 0,
    action          VARCHAR(16)     NOT NULL,
    priority        INT             NOT NULL DEFAULT 5,
    status          VARCHAR(16)     NOT NULL DEFAULT 'pending',
    attempts        INT             NOT NULL DEFAULT 0,
    last_attempt_at TIMESTAMP(6)    NULL,
    error_message   TEXT            NULL,
    created_at      TIMESTAMP(6)    NOT NULL,
    updated_at      TIMESTAMP(6)    NOT NULL,
    PRIMARY KEY (id),
    UNIQUE KEY uq_entity (entity_type, entity_id, store_id, action),
    KEY idx_status_priority (status, priority, created_at),
    KEY idx_status_attempts (status, attempts, last_attempt_at),
    KEY idx_status_updated (status, updated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`, name), nil
}

// CircuitSchema returns the DDL for the circuit breaker table. One row
// per protected service, shared by every process.
func CircuitSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    service_name    VARCHAR(64)  NOT NULL,
    state           VARCHAR(16)  NOT NULL DEFAULT 'closed',
    failure_count   INT          NOT NULL DEFAULT 0,
    last_failure_at TIMESTAMP(6) NULL,
    opened_at       TIMESTAMP(6) NULL,
    updated_at      TIMESTAMP(6) NOT NULL,
    PRIMARY KEY (service_name)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`, name), nil
}
