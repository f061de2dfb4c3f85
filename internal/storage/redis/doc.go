// Package redis offers caching primitives for the ChatGate runtime. It
// exposes a response cache keyed by a digest of the conversation so that
// identical completion requests can be answered without another provider
// round trip.
package redis
