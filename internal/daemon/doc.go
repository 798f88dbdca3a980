// Package daemon wires the pipeline subsystems into a single long-running
// process: the SQLite-backed queue, the shared FTP connection, the worker
// pool, the recovery orchestrator, remote discovery, and the notification
// fanout. A file lock keeps a host to one daemon instance.
package daemon
