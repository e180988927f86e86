// Package preflight runs the environment checks behind 'storyrag doctor':
// free disk space, write access and file descriptor limits for the project,
// plus reachability of the model server, the embedder, the index and the
// story database.
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, targets)
//	checker.PrintResults(results)
//	if checker.HasCriticalFailures(results) {
//	    // exit non-zero
//	}
package preflight
