package graph

import (
	"fmt"
	"sort"

	"mootcourt/internal/domain"
)

// Issue is one validation finding, attributed to the node or edge that
// caused it.
type Issue struct {
	Code   string `json:"code"`
	NodeID string `json:"node_id,omitempty"`
	EdgeID string `json:"edge_id,omitempty"`
	Detail string `json:"detail"`
}

// Report is the outcome of validating a dialogue graph. Warnings never
// block activation; any error does.
type Report struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Validate statically checks a graph. It is pure and deterministic: the
// same nodes and edges always yield the same report, with issues ordered
// by node/edge id. All checks accumulate; nothing short-circuits.
func Validate(nodes []domain.Node, edges []domain.Response) Report {
	rep := Report{Errors: []Issue{}, Warnings: []Issue{}}

	nodeByID := make(map[string]domain.Node, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}
	outgoing := make(map[string]int, len(nodes))
	for _, e := range edges {
		outgoing[e.SourceID]++
	}

	var initials []string
	finals := 0
	sorted := append([]domain.Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, n := range sorted {
		if n.IsInitial {
			initials = append(initials, n.ID)
		}
		if n.IsFinal || n.Kind == domain.KindFinal {
			finals++
		}
		if RuleFor(n.Kind).RequiresOutgoing && outgoing[n.ID] == 0 {
			rep.Errors = append(rep.Errors, Issue{
				Code:   "decision_without_responses",
				NodeID: n.ID,
				Detail: fmt.Sprintf("decision node %q has no outgoing responses", n.Title),
			})
		}
	}

	if len(initials) == 0 {
		rep.Errors = append(rep.Errors, Issue{
			Code:   "no_initial_node",
			Detail: "graph has no initial node",
		})
	}
	if len(initials) > 1 {
		rep.Warnings = append(rep.Warnings, Issue{
			Code:   "multiple_initial_nodes",
			Detail: fmt.Sprintf("graph has %d initial nodes; execution starts at the lowest id", len(initials)),
		})
	}
	if finals == 0 {
		rep.Errors = append(rep.Errors, Issue{
			Code:   "no_final_node",
			Detail: "graph has no final node",
		})
	}

	sortedEdges := append([]domain.Response(nil), edges...)
	sort.Slice(sortedEdges, func(i, j int) bool { return sortedEdges[i].ID < sortedEdges[j].ID })
	for _, e := range sortedEdges {
		if _, ok := nodeByID[e.SourceID]; !ok {
			rep.Errors = append(rep.Errors, Issue{
				Code:   "edge_source_missing",
				EdgeID: e.ID,
				Detail: fmt.Sprintf("response %q references missing source node %s", e.Label, e.SourceID),
			})
		}
		if e.TargetID != nil {
			if _, ok := nodeByID[*e.TargetID]; !ok {
				rep.Errors = append(rep.Errors, Issue{
					Code:   "edge_target_missing",
					EdgeID: e.ID,
					Detail: fmt.Sprintf("response %q references missing target node %s", e.Label, *e.TargetID),
				})
			}
		}
		if src, ok := nodeByID[e.SourceID]; ok {
			rule := RuleFor(src.Kind)
			if !rule.OutboundAllowed {
				rep.Warnings = append(rep.Warnings, Issue{
					Code:   "outbound_on_terminal",
					EdgeID: e.ID,
					NodeID: src.ID,
					Detail: fmt.Sprintf("%s node %q should not have outgoing responses", src.Kind, src.Title),
				})
			} else if rule.MaxOutgoing != Unlimited && outgoing[src.ID] > rule.MaxOutgoing {
				rep.Warnings = append(rep.Warnings, Issue{
					Code:   "fanout_exceeds_kind",
					NodeID: src.ID,
					Detail: fmt.Sprintf("%s node %q has %d outgoing responses, designed for %d", src.Kind, src.Title, outgoing[src.ID], rule.MaxOutgoing),
				})
			}
		}
		if e.TargetID != nil {
			if dst, ok := nodeByID[*e.TargetID]; ok && !RuleFor(dst.Kind).InboundAllowed {
				rep.Warnings = append(rep.Warnings, Issue{
					Code:   "inbound_on_start",
					EdgeID: e.ID,
					NodeID: dst.ID,
					Detail: fmt.Sprintf("%s node %q should not be a response target", dst.Kind, dst.Title),
				})
			}
		}
	}

	// The fanout warning fires once per node, not per edge; dedupe.
	rep.Warnings = dedupe(rep.Warnings)
	rep.Valid = len(rep.Errors) == 0
	return rep
}

// InitialNode resolves the node execution starts from: the flagged initial
// node, lowest id winning when flags are ambiguous. Second return is false
// when the graph has no usable initial node.
func InitialNode(nodes []domain.Node) (domain.Node, bool) {
	var best domain.Node
	found := false
	for _, n := range nodes {
		if !n.IsInitial {
			continue
		}
		if !found || n.ID < best.ID {
			best = n
			found = true
		}
	}
	return best, found
}

func dedupe(issues []Issue) []Issue {
	seen := make(map[string]struct{}, len(issues))
	out := issues[:0]
	for _, is := range issues {
		key := is.Code + "|" + is.NodeID + "|" + is.EdgeID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, is)
	}
	return out
}
