package locator

import (
	"reflect"
	"sort"
	"testing"
)

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestLocatorAddEdges(t *testing.T) {
	l := New()
	l.Add("user-1", "edge-a")
	l.Add("user-1", "edge-b")
	l.Add("user-2", "edge-a")

	if !l.IsOnline("user-1") {
		t.Fatal("expected user-1 online")
	}
	got := sorted(l.Edges("user-1"))
	want := []string{"edge-a", "edge-b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Edges(user-1) = %v, want %v", got, want)
	}
}

func TestLocatorRemoveUnknownEdgeIsNoop(t *testing.T) {
	l := New()
	l.Add("user-1", "edge-a")

	l.Remove("user-1", "edge-b")

	if !l.IsOnline("user-1") {
		t.Fatal("removing an edge that never claimed the user must not drop the real claim")
	}
	got := l.Edges("user-1")
	if len(got) != 1 || got[0] != "edge-a" {
		t.Errorf("Edges(user-1) = %v, want [edge-a]", got)
	}
}

func TestLocatorRemoveDrainsEntry(t *testing.T) {
	l := New()
	l.Add("user-1", "edge-a")
	l.Remove("user-1", "edge-a")

	if l.IsOnline("user-1") {
		t.Fatal("expected user-1 offline after last edge removed")
	}
	if edges := l.Edges("user-1"); len(edges) != 0 {
		t.Errorf("Edges(user-1) = %v, want empty", edges)
	}
}

func TestLocatorRemoveEdgeSweepsAllUsers(t *testing.T) {
	l := New()
	l.Add("user-1", "edge-a")
	l.Add("user-2", "edge-a")
	l.Add("user-2", "edge-b")

	l.RemoveEdge("edge-a")

	if l.IsOnline("user-1") {
		t.Error("user-1 should be offline after its only edge disconnected")
	}
	if !l.IsOnline("user-2") {
		t.Error("user-2 should still be online via edge-b")
	}
}

func TestLocatorAddEdgeUsersIsPurelyAdditive(t *testing.T) {
	l := New()
	l.Add("user-1", "edge-a")
	l.Add("user-2", "edge-b")

	l.AddEdgeUsers("edge-a", []string{"user-2", "user-3"})

	if !l.IsOnline("user-1") {
		t.Error("user-1 must remain online: FULL_SYNC never clears existing mappings")
	}
	if !l.IsOnline("user-2") {
		t.Error("user-2 should remain online")
	}
	if !l.IsOnline("user-3") {
		t.Error("user-3 should be online after FULL_SYNC")
	}

	edges := l.Edges("user-2")
	if len(edges) != 2 {
		t.Fatalf("user-2 edges = %v, want both edge-a and edge-b (additive)", edges)
	}
}
