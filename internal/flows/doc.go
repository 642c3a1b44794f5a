// Package flows holds the token-centric Engine operations as functions over
// explicit dependency structs: refresh rotation (RunRefresh), logout
// (RunLogout) and access-token validation (RunValidate).
//
// Flows return a result carrying a failure kind and the underlying error;
// the root package maps those to its public error kinds, emits audit
// events and counts metrics. Flows hold no state between calls and never
// import the root package.
package flows
