// Package syncengine implements the tiered persistence and synchronization
// engine inside the data-platform context.
//
// The module routes reads and writes across a local device store, a per-user
// remote keyed-blob store and a remote record store, gated by a cached
// capability probe. Writes made while remote tiers are unreachable are queued
// and replayed in order once connectivity returns; divergent copies resolve by
// last writer wins. Infrastructure stays behind ports and adapters.
package syncengine
