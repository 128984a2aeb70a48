package graph_test

import (
	"testing"

	"mootcourt/internal/domain"
	"mootcourt/internal/graph"
)

func node(id string, kind domain.NodeKind, initial, final bool) domain.Node {
	return domain.Node{ID: id, Kind: kind, Title: id, IsInitial: initial, IsFinal: final}
}

func edge(id, source string, target *string) domain.Response {
	return domain.Response{ID: id, SourceID: source, TargetID: target, Label: id}
}

func strptr(s string) *string { return &s }

func hasIssue(issues []graph.Issue, code string) bool {
	for _, is := range issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

func TestValidateLinearGraph(t *testing.T) {
	nodes := []domain.Node{
		node("n1", domain.KindStart, true, false),
		node("n2", domain.KindDevelopment, false, false),
		node("n3", domain.KindFinal, false, true),
	}
	edges := []domain.Response{
		edge("e1", "n1", strptr("n2")),
		edge("e2", "n2", strptr("n3")),
	}
	rep := graph.Validate(nodes, edges)
	if !rep.Valid {
		t.Fatalf("expected valid graph, got errors: %+v", rep.Errors)
	}
	if len(rep.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", rep.Warnings)
	}
}

func TestValidateMissingInitialAndFinal(t *testing.T) {
	nodes := []domain.Node{node("n1", domain.KindDevelopment, false, false)}
	rep := graph.Validate(nodes, nil)
	if rep.Valid {
		t.Fatalf("expected invalid graph")
	}
	if !hasIssue(rep.Errors, "no_initial_node") {
		t.Fatalf("missing no_initial_node error: %+v", rep.Errors)
	}
	if !hasIssue(rep.Errors, "no_final_node") {
		t.Fatalf("missing no_final_node error: %+v", rep.Errors)
	}
}

func TestValidateDecisionWithoutResponses(t *testing.T) {
	nodes := []domain.Node{
		node("n1", domain.KindStart, true, false),
		node("n2", domain.KindDecision, false, false),
		node("n3", domain.KindFinal, false, true),
	}
	edges := []domain.Response{edge("e1", "n1", strptr("n2"))}
	rep := graph.Validate(nodes, edges)
	if rep.Valid {
		t.Fatalf("expected invalid graph")
	}
	if !hasIssue(rep.Errors, "decision_without_responses") {
		t.Fatalf("missing decision_without_responses: %+v", rep.Errors)
	}
}

func TestValidateDanglingTargetIsError(t *testing.T) {
	nodes := []domain.Node{
		node("n1", domain.KindStart, true, false),
		node("n2", domain.KindFinal, false, true),
	}
	edges := []domain.Response{edge("e1", "n1", strptr("gone"))}
	rep := graph.Validate(nodes, edges)
	if rep.Valid {
		t.Fatalf("expected invalid graph")
	}
	if !hasIssue(rep.Errors, "edge_target_missing") {
		t.Fatalf("missing edge_target_missing: %+v", rep.Errors)
	}
}

func TestValidateNilTargetAllowed(t *testing.T) {
	nodes := []domain.Node{
		node("n1", domain.KindStart, true, false),
		node("n2", domain.KindFinal, false, true),
	}
	// a dangling edge (nil target) is authoring in progress, not an error
	edges := []domain.Response{edge("e1", "n1", nil)}
	rep := graph.Validate(nodes, edges)
	if !rep.Valid {
		t.Fatalf("expected valid graph, got: %+v", rep.Errors)
	}
}

func TestValidateWarningsDoNotBlock(t *testing.T) {
	nodes := []domain.Node{
		node("n1", domain.KindStart, true, false),
		node("n2", domain.KindStart, true, false),
		node("n3", domain.KindFinal, false, true),
	}
	edges := []domain.Response{
		edge("e1", "n1", strptr("n3")),
		edge("e2", "n2", strptr("n3")),
	}
	rep := graph.Validate(nodes, edges)
	if !rep.Valid {
		t.Fatalf("expected valid graph, got: %+v", rep.Errors)
	}
	if !hasIssue(rep.Warnings, "multiple_initial_nodes") {
		t.Fatalf("missing multiple_initial_nodes warning: %+v", rep.Warnings)
	}
}

func TestValidateFanoutWarning(t *testing.T) {
	nodes := []domain.Node{
		node("n1", domain.KindStart, true, false),
		node("n2", domain.KindFinal, false, true),
		node("n3", domain.KindFinal, false, true),
	}
	edges := []domain.Response{
		edge("e1", "n1", strptr("n2")),
		edge("e2", "n1", strptr("n3")),
	}
	rep := graph.Validate(nodes, edges)
	if !rep.Valid {
		t.Fatalf("expected valid graph, got: %+v", rep.Errors)
	}
	if !hasIssue(rep.Warnings, "fanout_exceeds_kind") {
		t.Fatalf("missing fanout_exceeds_kind warning: %+v", rep.Warnings)
	}
	// fires once per node even with two offending edges
	count := 0
	for _, w := range rep.Warnings {
		if w.Code == "fanout_exceeds_kind" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("fanout warning deduped to %d entries", count)
	}
}

func TestInitialNodeLowestIDWins(t *testing.T) {
	nodes := []domain.Node{
		node("b", domain.KindStart, true, false),
		node("a", domain.KindStart, true, false),
		node("c", domain.KindFinal, false, true),
	}
	n, ok := graph.InitialNode(nodes)
	if !ok || n.ID != "a" {
		t.Fatalf("expected lowest-id initial, got %q ok=%v", n.ID, ok)
	}
	_, ok = graph.InitialNode([]domain.Node{node("x", domain.KindDevelopment, false, false)})
	if ok {
		t.Fatalf("expected no initial node")
	}
}
