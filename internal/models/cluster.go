// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package models

import "time"

// NodeRole describes what work a cluster node accepts.
type NodeRole string

// Node roles.
const (
	RoleGateway  NodeRole = "GATEWAY"
	RoleExecutor NodeRole = "EXECUTOR"
	RoleBoth     NodeRole = "BOTH"
)

// CanExecute reports whether the role accepts handler executions.
func (r NodeRole) CanExecute() bool {
	return r == RoleExecutor || r == RoleBoth
}

// NodeStatus is the liveness classification of a peer, derived from the time
// since its last heartbeat.
type NodeStatus string

// Node statuses.
const (
	NodeUp      NodeStatus = "UP"
	NodeSuspect NodeStatus = "SUSPECT"
	NodeDown    NodeStatus = "DOWN"
	NodeLeaving NodeStatus = "LEAVING"
)

// NodeState is one node's view of itself, exchanged on every heartbeat.
type NodeState struct {
	NodeID         string     `json:"node_id"`
	Host           string     `json:"host"`
	Port           int        `json:"port"`
	Version        string     `json:"version"`
	Role           NodeRole   `json:"role"`
	Status         NodeStatus `json:"status"`
	LastHeartbeat  time.Time  `json:"last_heartbeat"`
	ActiveHandlers int64      `json:"active_handlers"`
	TotalRequests  int64      `json:"total_requests"`
}

// ForwardEnvelope is the body of POST /cluster/forward: the request to run
// plus the id of the node that forwarded it.
type ForwardEnvelope struct {
	Request      *Request `json:"request"`
	OriginNodeID string   `json:"origin_node_id"`
}
