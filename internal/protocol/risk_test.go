package protocol

import "testing"

func TestAssessRisk(t *testing.T) {
	cases := []struct {
		name     string
		tool     string
		input    map[string]any
		expected RiskLevel
	}{
		{"bash rm is high", "Bash", map[string]any{"command": "rm -rf foo"}, RiskHigh},
		{"bash sudo is high", "Bash", map[string]any{"command": "sudo reboot"}, RiskHigh},
		{"bash npm is medium", "Bash", map[string]any{"command": "npm install"}, RiskMedium},
		{"bash ls is low", "Bash", map[string]any{"command": "ls -la"}, RiskLow},
		{"write is medium", "Write", map[string]any{"file_path": "/tmp/x"}, RiskMedium},
		{"edit is medium", "Edit", map[string]any{"file_path": "/tmp/x"}, RiskMedium},
		{"read is low", "Read", map[string]any{"file_path": "/tmp/x"}, RiskLow},
		{"unknown tool is low", "Frobnicate", nil, RiskLow},
		{"high beats medium tie-break", "Bash", map[string]any{"command": "sudo npm install"}, RiskHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AssessRisk(tc.tool, tc.input); got != tc.expected {
				t.Errorf("AssessRisk(%q, %v) = %q, want %q", tc.tool, tc.input, got, tc.expected)
			}
		})
	}
}

func TestAssessRisk_Deterministic(t *testing.T) {
	input := map[string]any{"command": "rm -rf /"}
	first := AssessRisk("Bash", input)
	for i := 0; i < 10; i++ {
		if got := AssessRisk("Bash", input); got != first {
			t.Fatalf("AssessRisk is not deterministic: got %q, want %q", got, first)
		}
	}
}

func TestRiskLevel_Less(t *testing.T) {
	if !RiskLow.Less(RiskMedium) {
		t.Error("low should be less than medium")
	}
	if RiskCritical.Less(RiskHigh) {
		t.Error("critical should not be less than high")
	}
	if RiskMedium.Less(RiskMedium) {
		t.Error("a level is never less than itself")
	}
}

func TestCategorizeTool(t *testing.T) {
	if CategorizeTool("Bash") != CategoryShell {
		t.Error("Bash should categorize as shell")
	}
	if CategorizeTool("Write") != CategoryFileWrite {
		t.Error("Write should categorize as file_write")
	}
	if CategorizeTool("Unknown") != CategoryOther {
		t.Error("unrecognised tools should categorize as other")
	}
}
