package task

import "testing"

func TestApplyAliasRewritesFirstToken(t *testing.T) {
	aliases := map[string]string{"ll": "ls -la"}
	got := ApplyAlias("ll /tmp", aliases)
	if got != "ls -la /tmp" {
		t.Fatalf("got %q, want %q", got, "ls -la /tmp")
	}
}

func TestApplyAliasLeavesUnmatchedCommandUnchanged(t *testing.T) {
	aliases := map[string]string{"ll": "ls -la"}
	got := ApplyAlias("echo hi", aliases)
	if got != "echo hi" {
		t.Fatalf("got %q, want unchanged", got)
	}
}

func TestApplyAliasHandlesEmptyInputs(t *testing.T) {
	if got := ApplyAlias("", map[string]string{"ll": "ls -la"}); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	if got := ApplyAlias("ll /tmp", nil); got != "ll /tmp" {
		t.Fatalf("got %q, want unchanged with no alias table", got)
	}
}
