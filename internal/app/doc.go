// Package app is the application layer - the only place that references
// multiple domain components. It owns the session lifecycle: intake
// orchestration, the dispatch worker pool, and the expiry reaper.
package app
