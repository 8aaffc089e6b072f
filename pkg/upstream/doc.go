// Package upstream holds the clients for the services the gateway proxies
// to: an OpenAI-compatible chat completion provider and a text classifier
// used for emotion analysis.
//
// Both clients make a single attempt per call with an explicit timeout and
// report latency and failures through observability.Metrics. Handlers depend
// on the Completer and Classifier interfaces, not on these implementations.
package upstream
