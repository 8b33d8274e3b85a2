// Package orphan finds running agents that stopped reporting activity and
// marks them failed with reason "orphaned".
//
// FindOrphaned is a pure function over a snapshot. The Sweeper applies it to a
// live registry on a ticker or on demand, commits each transition with a
// lastActivity precondition, and then invokes an optional Terminator once per
// orphan. Terminator failures are reported but never undo a transition.
package orphan
