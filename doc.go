// Package ragsync propagates catalog and content changes to an external
// search/indexing backend over a signed webhook.
//
// Typical flow:
//  1. Domain code calls QueueService.Enqueue whenever an entity changes; the
//     change is recorded as a durable queue item, deduplicated by its
//     natural key (entity type, entity id, store id, action).
//  2. A Dispatcher runs on a schedule (or on demand), locks a batch of
//     pending and retry-eligible items, resolves payloads through the
//     registered entity builders, and sends one signed batch to the webhook.
//  3. Outcomes flow back into the store: sent on success, failed or dead on
//     error, with a persistent circuit breaker guarding the backend.
//
// For the MySQL implementation of Store and CircuitStore, see the mysql
// package.
package ragsync
