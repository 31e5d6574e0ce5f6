// Package awsapi provides the scoped AWS service clients used by the
// reconcilers, plus the error classification that separates "resource not
// found" (a normal branch condition) from every other remote failure.
//
// The reconcilers depend on the narrow LambdaAPI and EventBridgeAPI
// interfaces rather than the concrete SDK clients, so tests can substitute
// in-memory fakes without touching the network.
package awsapi
