// Package preflight checks that a dirindex data directory can be served:
// free disk space, write access, file descriptor limits, the state left by
// a previous run, and whether another server holds the data directory.
//
// Use the Checker type to run all checks:
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
