// Package tap defines the core types and interfaces shared by the fetcher,
// paginator, sync engine, and orchestrator of the Acuite tap.
package tap
