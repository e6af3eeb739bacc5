// Package ui describes dashboard widgets as a tree of elements, serializes the
// tree to the JSON documents the Doover dashboard renders, and keeps that tree
// in sync with the remote "ui_state" and "ui_cmds" channels.
//
// A tree is rooted at a Container owned by a Manager. Application code builds
// the tree once, mutates values as the device runs, and calls
// Manager.HandleComms periodically. The manager diffs the serialized tree
// against the last state it observed remotely and publishes only the changes,
// rate limited unless a critical change is pending.
//
// Inbound command values (from dashboard users) arrive through Manager.Pull or
// a session subscription and are routed to the matching Interaction, which
// validates them with its transform hook and then invokes its callback.
//
// The package is not safe for concurrent use: a Manager and its tree must be
// driven from a single goroutine.
package ui
