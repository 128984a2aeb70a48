// Package graph holds the static rules of the dialogue graph: what each
// node kind allows, and the validation report gating activation.
package graph

import "mootcourt/internal/domain"

// Unlimited marks a kind with no outgoing-edge ceiling.
const Unlimited = -1

// KindRule describes the edge constraints of one node kind. The rules are
// advisory at the storage layer; the validator and the authoring rules
// consult them.
type KindRule struct {
	// MaxOutgoing is the number of outgoing edges the kind is designed
	// for; Unlimited for no ceiling. Decision nodes expose three anchors
	// on the canvas but may hold more edges, so their ceiling is soft.
	MaxOutgoing int
	// InboundAllowed is false for kinds that must never be a target.
	InboundAllowed bool
	// OutboundAllowed is false for kinds that must never be a source.
	OutboundAllowed bool
	// RequiresOutgoing marks kinds where zero outgoing edges is a
	// validation error rather than a dead end by design.
	RequiresOutgoing bool
}

var kindRules = map[domain.NodeKind]KindRule{
	domain.KindStart:       {MaxOutgoing: 1, InboundAllowed: false, OutboundAllowed: true},
	domain.KindDevelopment: {MaxOutgoing: 1, InboundAllowed: true, OutboundAllowed: true},
	domain.KindDecision:    {MaxOutgoing: Unlimited, InboundAllowed: true, OutboundAllowed: true, RequiresOutgoing: true},
	domain.KindFinal:       {MaxOutgoing: 0, InboundAllowed: true, OutboundAllowed: false},
	domain.KindGroup:       {MaxOutgoing: 1, InboundAllowed: true, OutboundAllowed: true},
	domain.KindResponse:    {MaxOutgoing: 1, InboundAllowed: true, OutboundAllowed: true},
}

// RuleFor returns the rule set of a kind. Unknown kinds get the
// development rules so a bad row degrades instead of panicking.
func RuleFor(kind domain.NodeKind) KindRule {
	if r, ok := kindRules[kind]; ok {
		return r
	}
	return kindRules[domain.KindDevelopment]
}

// ValidKind reports whether kind is one of the closed set.
func ValidKind(kind domain.NodeKind) bool {
	_, ok := kindRules[kind]
	return ok
}

// DecisionAnchorCount is how many outbound anchors the canvas renders on a
// decision node. Edges past this count still work, they just share anchors.
const DecisionAnchorCount = 3
