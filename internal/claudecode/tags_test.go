package claudecode

import "testing"

func TestStripSystemTags(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text unchanged", "fix the login bug", "fix the login bug"},
		{
			"paired system-reminder stripped",
			"please help\n<system-reminder>some hidden context</system-reminder>\nwith this",
			"please help\n\nwith this",
		},
		{
			"orphan opening tag strips to end",
			"do the thing\n<ide_opened_file>/src/main.go\nmore stuff that was never closed",
			"do the thing",
		},
		{
			"multiple known tags",
			"hello <gitStatus>branch: main</gitStatus> world <command-name>/foo</command-name>",
			"hello  world",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripSystemTags(tc.input); got != tc.expected {
				t.Errorf("stripSystemTags(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestStripSystemTags_Idempotent(t *testing.T) {
	inputs := []string{
		"plain",
		"<system-reminder>x</system-reminder>remaining text",
		"<ide_context>unterminated tail",
		"nested-ish <claudeMd>stuff</claudeMd> and <ide_selection>orphan",
	}
	for _, in := range inputs {
		once := stripSystemTags(in)
		twice := stripSystemTags(once)
		if once != twice {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
