package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	if got := Version(); got != "0.3.0" {
		t.Errorf("Version() = %q, want 0.3.0", got)
	}
}

func TestBuildInfoString(t *testing.T) {
	tests := []struct {
		name   string
		commit string
		want   string
	}{
		{"no commit", "", "walletscan v0.3.0 " + runtime.Version()},
		{"short commit ignored", "abc", "walletscan v0.3.0 " + runtime.Version()},
		{"commit abbreviated", "1a2b3c4d5e6f", "walletscan v0.3.0 (1a2b3c4) " + runtime.Version()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := GetBuildInfo()
			b.GitCommit = tt.commit
			if got := b.String(); !strings.HasPrefix(got, tt.want) {
				t.Errorf("String() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}
