// Package snapshot holds the immutable point-in-time view of the twin and
// the builder that produces it.
//
// A snapshot is a tree of ProviderSnapshot, ServiceSnapshot and
// ResourceSnapshot values. Children carry back-references to their owner so a
// resource predicate can inspect its service and provider. Every provider in
// one Build call shares the same SnapshotTime.
//
// The builder reads the live twin through the capability interfaces Source,
// ProviderHandle, ServiceHandle and ResourceHandle, so it never depends on a
// concrete device schema. Filters run in a fixed order:
//
//	location -> provider -> service -> resource -> resource value
//
// and services left empty are pruned last, so no predicate ever sees a
// partially built child.
package snapshot
