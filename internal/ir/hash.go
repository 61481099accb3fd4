package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with old hashes.
const (
	DomainScenario = "lockstep/scenario/v1"
	DomainTrace    = "lockstep/trace/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ScenarioHash identifies a scenario by content. Two files that decode to
// the same Scenario hash the same regardless of format or key order.
func ScenarioHash(s Scenario) (string, error) {
	canonical, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("ScenarioHash: %w", err)
	}
	return hashWithDomain(DomainScenario, canonical), nil
}

// TraceEntry is the order-independent part of one executed step: what
// ran, where, and how it ended. Sequence numbers are left out because
// steps within a round are deliberately unordered.
type TraceEntry struct {
	Actor string `json:"actor"`
	Round int    `json:"round"`
	Step  int    `json:"step"`
	Op    string `json:"op"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
}

// TraceDigest hashes entries, which must already be in a deterministic
// order. Equal digests across runs mean the runs took the same path.
func TraceDigest(entries []TraceEntry) (string, error) {
	if entries == nil {
		entries = []TraceEntry{}
	}
	canonical, err := MarshalCanonical(entries)
	if err != nil {
		return "", fmt.Errorf("TraceDigest: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}
