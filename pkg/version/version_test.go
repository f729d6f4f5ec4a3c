package version

import "testing"

func TestVersionFallbacks(t *testing.T) {
	oldTag, oldCommit, oldDate := tag, commit, date
	t.Cleanup(func() { tag, commit, date = oldTag, oldCommit, oldDate })

	tests := []struct {
		tag, commit, date string
		short, full       string
	}{
		{"", "unknown", "unknown", "dev", "dev"},
		{"", "abc1234", "2026-01-01", "abc1234", "abc1234 built 2026-01-01"},
		{"v0.2.0", "abc1234", "2026-01-01", "v0.2.0", "v0.2.0 (abc1234) built 2026-01-01"},
	}
	for _, tt := range tests {
		tag, commit, date = tt.tag, tt.commit, tt.date
		if got := String(); got != tt.short {
			t.Errorf("String() = %q, want %q", got, tt.short)
		}
		if got := Full(); got != tt.full {
			t.Errorf("Full() = %q, want %q", got, tt.full)
		}
	}

	tag, commit, date = "", "unknown", "unknown"
	if got := Banner("udpchat-server"); got != "udpchat-server dev" {
		t.Errorf("Banner = %q", got)
	}
}
