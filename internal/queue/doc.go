// Package queue persists pipeline state in SQLite and provides the
// coordination primitives the rest of the daemon is built on: durable file
// and job records, optimistic job claiming, heartbeats, the append-only event
// log, and checkpoint resolution for resumable work.
//
// The database is the single source of truth. Workers never share memory;
// every cross-worker decision is a conditional write whose RowsAffected
// result decides the winner.
package queue
