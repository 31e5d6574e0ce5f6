// Package stores provides the deployment history layer: which policy
// functions were reconciled when, what each pass did to them, and which
// bundle and version a function carries. Backed by SQLite with embedded
// migrations.
package stores
