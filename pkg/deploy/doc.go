// Package deploy reconciles policy functions against the serverless
// provider: the function resource itself, its published alias, and the
// event bindings that route cloud events into it.
//
// Reconcile is idempotent. Each pass builds the content-addressed bundle,
// diffs the desired spec against remote state on two independent axes
// (code identity and configuration), and issues only the mutations needed
// to converge. A pass over an already-converged function performs reads
// only.
package deploy
