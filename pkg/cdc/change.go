// Package cdc publishes process state changes on the broker and feeds
// delivered changes to a state machine.
package cdc

import (
	"strings"
)

// Change is the wire form of one process state change.
type Change struct {
	ProcessID string `json:"processId"`
	State     string `json:"state"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Subject returns {prefix}.{role}.{state}, all lower case after the prefix.
func Subject(prefix string, c Change) string {
	return prefix + "." + strings.ToLower(c.Type) + "." + strings.ToLower(c.State)
}
