// Package operations runs a collection job as a sequence of dependent steps
// and publishes every state change as a snapshot.
//
// The pipeline is
//
//	discovery -> collection -> export
//
// Discovery lists the issues listed inside the job's window, collection
// fetches and reassembles their prices, and export writes the table. Steps
// run in dependency order; a failed step skips every step that depends on it.
//
// A Job wraps one run with the last-run tracker: it computes the window,
// treats an empty window as "already up to date", and records success only
// after the whole pipeline completed. A Runner executes jobs in the
// background for the HTTP server, one run per job at a time.
package operations
