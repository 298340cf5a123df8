// Package registry loads entity definitions from a directory of JSON/YAML
// documents, validates each file independently and publishes the result as an
// immutable core.Snapshot swapped atomically on reload. A bad definition is
// skipped and reported; it never blocks the rest of the directory. The
// optional Watch loop auto-reloads on filesystem changes.
package registry
