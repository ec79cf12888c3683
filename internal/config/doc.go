// Package config provides the validated configuration value consumed by
// the admission engine, plus YAML loading and file watching used by the
// avaguard binary.
//
// A Config is built once, validated, and then treated as immutable.
// Reconfiguration happens by loading a new value and constructing a new
// engine from it; fields are never mutated in place on a live engine.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("avaguard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Environment variables are substituted with ${VAR} and ${VAR:-default}
// syntax before parsing. Durations accept Go duration strings ("30s")
// or bare integers, which are read as seconds.
//
// # File Watching
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
//	    // build and swap a new engine
//	}, config.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = watcher.Start(ctx)
package config
