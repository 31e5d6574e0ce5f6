// Package events reconciles event bindings: the EventBridge rule (match
// pattern or schedule) plus the single delivery target that routes cloud
// events to a policy function alias.
//
// A Descriptor is derived from a policy mode and renders to a
// provider-native event pattern or schedule expression. The Reconciler
// diffs the derived rule against remote state and applies only the calls
// needed to converge, so re-running a bind is free when nothing changed.
package events
