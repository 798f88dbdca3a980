// Command telecine is the operator CLI for the ingest pipeline. It reads the
// same SQLite database as the telecined daemon, so status, queue management,
// and pause controls work whether or not the daemon is running.
package main
