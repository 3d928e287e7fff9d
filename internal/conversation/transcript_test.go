package conversation

import "testing"

func TestNewTranscriptSeedsSystemAndOpening(t *testing.T) {
	tr := NewTranscript("be brief", "say hello")
	if tr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tr.Len())
	}
	if got := tr.Snapshot()[0]; got.Role != RoleSystem || got.Content != "be brief" {
		t.Fatalf("Snapshot()[0] = %+v, want system turn", got)
	}
	if got := tr.Snapshot()[1]; got.Role != RoleUser || got.Content != "say hello" {
		t.Fatalf("Snapshot()[1] = %+v, want opening user turn", got)
	}
}

func TestTranscriptSnapshotIsStable(t *testing.T) {
	tr := NewTranscript("sys", "open")
	snap := tr.Snapshot()
	tr.Append(Turn{Role: RoleAssistant, Content: "hi"})

	if len(snap) != 2 {
		t.Fatalf("len(snapshot) = %d, want 2", len(snap))
	}
	snap[0].Content = "mutated"
	if tr.Snapshot()[0].Content != "sys" {
		t.Fatalf("mutating a snapshot changed the transcript: %q", tr.Snapshot()[0].Content)
	}
	if tr.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tr.Len())
	}
}

func TestTranscriptAppendKeepsOrder(t *testing.T) {
	tr := NewTranscript("sys", "open")
	tr.Append(Turn{Role: RoleAssistant, Content: "a1"})
	tr.Append(Turn{Role: RoleUser, Content: "u1"})
	tr.Append(Turn{Role: RoleAssistant, Content: "a2"})

	want := []string{"sys", "open", "a1", "u1", "a2"}
	got := tr.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Fatalf("turn[%d] = %q, want %q", i, got[i].Content, want[i])
		}
	}
}
