// Package logging provides a small component-tagged logging facade over
// log/slog. Callers tag every entry with the subsystem it originates from
// ("Auth", "Gateway", "Session", ...) so a single stream stays filterable.
package logging
