package worktree

import "testing"

func TestSanitizeForPathReplacesSlashes(t *testing.T) {
	if got := SanitizeForPath("feature/auth"); got != "feature-auth" {
		t.Fatalf("SanitizeForPath = %q, want %q", got, "feature-auth")
	}
}

func TestCalculateWorktreePath(t *testing.T) {
	got := CalculateWorktreePath("/home/u/.kild", "myproj", "feature/auth")
	want := "/home/u/.kild/worktrees/myproj/feature-auth"
	if got != want {
		t.Fatalf("CalculateWorktreePath = %q, want %q", got, want)
	}
}

func TestBranchAndAdminNames(t *testing.T) {
	if got := BranchName("feature/auth"); got != "kild/feature-auth" {
		t.Fatalf("BranchName = %q", got)
	}
	if got := AdminName("feature/auth"); got != "kild-feature-auth" {
		t.Fatalf("AdminName = %q", got)
	}
}

func TestDeriveProjectNameFromRemote(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widgets.git": "widgets",
		"git@github.com:acme/widgets.git":     "widgets",
		"https://github.com/acme/widgets":     "widgets",
		"":                                    "unknown",
	}
	for in, want := range cases {
		if got := DeriveProjectNameFromRemote(in); got != want {
			t.Fatalf("DeriveProjectNameFromRemote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateProjectIDIsDeterministic(t *testing.T) {
	a := GenerateProjectID("/home/u/proj")
	b := GenerateProjectID("/home/u/proj")
	if a != b {
		t.Fatalf("GenerateProjectID not deterministic: %q vs %q", a, b)
	}
	c := GenerateProjectID("/home/u/other")
	if a == c {
		t.Fatalf("GenerateProjectID collided for distinct paths")
	}
}
