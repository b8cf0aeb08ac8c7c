// Package audit records every release-affecting operation. Events form
// a hash chain in a file-backed log (the durability contract) and are
// additionally streamed to Kafka and archived to S3 when those sinks are
// configured.
package audit

import (
	"errors"
	"time"
)

// Actions recorded by the release controller.
const (
	ActionCycleBegin     = "cycle.begin"
	ActionMarathonStart  = "marathon.start"
	ActionMarathonEval   = "marathon.evaluate"
	ActionMarathonAbort  = "marathon.abort"
	ActionCanaryEnable   = "canary.enable"
	ActionCanaryDisable  = "canary.disable"
	ActionCanaryFraction = "canary.set_fraction"
	ActionPromote        = "release.promote"
	ActionRollback       = "release.rollback"
)

// Event is one audit record. Hash covers the canonical payload bytes
// concatenated with the previous event's hash, so any rewrite of history
// breaks the chain.
type Event struct {
	ID       string      `json:"id"`
	Action   string      `json:"action"`
	Actor    string      `json:"actor,omitempty"`
	Payload  interface{} `json:"payload"`
	PrevHash string      `json:"prev_hash,omitempty"`
	Hash     string      `json:"hash,omitempty"`
	Ts       time.Time   `json:"ts"`
}

var ErrNotFound = errors.New("audit event not found")
