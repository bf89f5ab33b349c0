// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package bus wraps a Watermill-over-NATS-JetStream message bus with the
resilience properties the sync daemon needs: a circuit breaker around
publish, durable at-least-once consumption, and an optional embedded NATS
server for single-binary deployments.

Producer publishes SyncMessage envelopes to master-updates or ship-updates.
Consumer subscribes to the opposite direction's topic and hands decoded
envelopes to a caller-supplied handler, acking on success and nacking (for
JetStream redelivery, up to the consumer's MaxDeliver) on failure.
Envelopes that fail to decode are logged and acked. The bus writes nothing
to the dead-letter store; which failures are dead-lettered is the
handler's decision.
*/
package bus
