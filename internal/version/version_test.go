package version

import "testing"

func TestVersionDefaults(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
	// GitCommit and BuildDate are optional ldflags overrides; empty is fine.
	_ = GitCommit
	_ = BuildDate
}

func TestVersionOverride(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()
	Version = "1.2.3"
	if Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", Version)
	}
}
