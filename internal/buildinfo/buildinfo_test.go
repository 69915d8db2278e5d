package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "prenatal-clinic/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch", "uptime"} {
		if info[k] == "" {
			t.Errorf("Info()[%q] is empty", k)
		}
	}
}

func TestCommit_PrefersStamp(t *testing.T) {
	orig := GitCommit
	t.Cleanup(func() { GitCommit = orig })

	GitCommit = "abc1234"
	if got := Commit(); got != "abc1234" {
		t.Errorf("Commit() = %q, want stamped value", got)
	}

	GitCommit = "unknown"
	if got := Commit(); got == "" {
		t.Error("Commit() returned empty string without a stamp")
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, "prenatal-clinic "+Version+" (") {
		t.Errorf("String() = %q", s)
	}
}
