// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, runtime metrics and debug introspection for the
// broadcast server.
//
// Provides:
//   - Layered config loading (viper, pflag, environment) with validation
//   - File-watch reload hooks (fsnotify)
//   - Thread-safe metrics counters with snapshot reads
//   - Named debug probes, including platform probes
package control
