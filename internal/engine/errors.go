// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package engine

import (
	"github.com/samber/oops"

	"github.com/patchbay/patchbay/internal/graph"
)

// Error codes for engine failures.
const (
	CodeConfigInvalid     = "CONFIG_INVALID"
	CodeNotPrepared       = "ENGINE_NOT_PREPARED"
	CodePrepareFailed     = "ENGINE_PREPARE_FAILED"
	CodeUnknownNode       = "GRAPH_UNKNOWN_NODE"
	CodeFixedNode         = "GRAPH_FIXED_NODE"
	CodeIllegalConnection = "GRAPH_ILLEGAL_CONNECTION"
	CodeNoConnection      = "GRAPH_NO_CONNECTION"
	CodeInvalidProcessor  = "GRAPH_INVALID_PROCESSOR"
	CodeStateInvalid      = "ENGINE_STATE_INVALID"
	CodeStateRestore      = "ENGINE_STATE_RESTORE"
)

// ErrUnknownNode creates an error for a node id the graph does not hold.
func ErrUnknownNode(id graph.NodeID) error {
	return oops.In("engine").
		Code(CodeUnknownNode).
		With("node_id", id).
		Errorf("unknown node %d", id)
}

// ErrFixedNode creates an error for an operation refused on an I/O node.
func ErrFixedNode(id graph.NodeID, op string) error {
	return oops.In("engine").
		Code(CodeFixedNode).
		With("node_id", id).
		With("operation", op).
		Errorf("cannot %s fixed I/O node %d", op, id)
}

// ErrIllegalConnection creates an error for a rejected edge.
func ErrIllegalConnection(c graph.Connection) error {
	return oops.In("engine").
		Code(CodeIllegalConnection).
		With("connection", c.String()).
		Errorf("illegal or duplicate connection %s", c)
}

// ErrNoConnection creates an error for removing an absent edge.
func ErrNoConnection(c graph.Connection) error {
	return oops.In("engine").
		Code(CodeNoConnection).
		With("connection", c.String()).
		Errorf("no connection %s", c)
}
