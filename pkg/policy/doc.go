// Package policy defines the policy description data model and its loading
// and validation pipeline.
//
// A Description is the declarative document an operator writes: a named
// policy plus a mode record describing how the policy function is
// triggered. Descriptions are loaded from YAML policy files (or the JSON
// document embedded in a deployed bundle), validated structurally and
// against the CUE schema, and then treated as immutable for the duration of
// one reconciliation pass.
//
// Policy execution itself (filter and action evaluation) is an external
// collaborator reached through the Runner interface.
package policy
