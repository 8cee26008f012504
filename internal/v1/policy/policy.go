// Package policy holds the per-client policy table: a static map keyed by
// clientPolicyKey controlling admission behavior.
package policy

import (
	"encoding/json"
	"os"
)

// DefaultKey is used when a token carries no clientPolicyKey.
const DefaultKey = "default"

// Policy is one clientPolicyKey's configuration.
type Policy struct {
	AllowNonHostRoomCreation bool `json:"allowNonHostRoomCreation"`
	AllowHostJoin            bool `json:"allowHostJoin"`
	UseWaitingRoom           bool `json:"useWaitingRoom"`
	AllowDisplayNameUpdate   bool `json:"allowDisplayNameUpdate"`
}

// defaultPolicy: first joiner becomes host, subsequent joiners wait for
// approval.
var defaultPolicy = Policy{
	AllowNonHostRoomCreation: true,
	AllowHostJoin:            true,
	UseWaitingRoom:           true,
	AllowDisplayNameUpdate:   true,
}

// Table is the process-wide client-policy map, keyed by clientPolicyKey.
type Table struct {
	policies map[string]Policy
}

// NewTable builds a Table from the CLIENT_POLICY_JSON environment override
// (shape: {<clientId>: {...}}), falling back to a single "default" entry.
func NewTable() *Table {
	t := &Table{policies: map[string]Policy{DefaultKey: defaultPolicy}}
	raw := os.Getenv("CLIENT_POLICY_JSON")
	if raw == "" {
		return t
	}
	var override map[string]Policy
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		return t
	}
	for k, v := range override {
		t.policies[k] = v
	}
	return t
}

// Get returns the policy for clientPolicyKey, falling back to "default"
// when the key is empty or unrecognized.
func (t *Table) Get(clientPolicyKey string) Policy {
	if clientPolicyKey == "" {
		clientPolicyKey = DefaultKey
	}
	if p, ok := t.policies[clientPolicyKey]; ok {
		return p
	}
	return t.policies[DefaultKey]
}
