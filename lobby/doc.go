// Package lobby tracks which participants are connected and which entity
// represents each of them.
//
// The server drives its [Registry] from connect and disconnect events and
// broadcasts [Registry.Snapshot] whenever membership changed. Clients never
// see other clients' sockets; their registry changes only through
// [Registry.Reconcile] with the snapshots they receive.
package lobby
