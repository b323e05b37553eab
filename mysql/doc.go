// Package mysql implements the ragsync Store and CircuitStore on MySQL.
//
// The store relies on:
//   - a UNIQUE key over (entity_type, entity_id, store_id, action) plus
//     INSERT ... ON DUPLICATE KEY UPDATE for the dedup upsert
//   - guarded single-statement UPDATEs for every status transition, so
//     concurrent dispatcher processes never double-send
//   - CASE expressions for the failed/dead split
//
// Open the database with parseTime=true in the DSN. See Schema and
// CircuitSchema for the DDL.
package mysql
