package protocol

import (
	"fmt"
	"strings"
)

// RiskLevel is the deterministic risk classification of a tool call.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskRank orders risk levels for threshold comparisons (below-threshold
// auto-approve in the approval manager).
var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Less reports whether r is strictly below other in severity.
func (r RiskLevel) Less(other RiskLevel) bool {
	return riskRank[r] < riskRank[other]
}

var highRiskBashSubstrings = []string{"rm", "sudo", "chmod", "chown", "kill", "mkfs", "dd"}
var mediumRiskBashSubstrings = []string{"npm", "pip", "brew", "apt", "yarn", "pnpm", "cargo"}

// AssessRisk is a pure, deterministic classifier: the same (name, input)
// always yields the same RiskLevel. High-risk substrings are checked before
// medium-risk ones, so a command matching both (e.g. "sudo npm install")
// classifies high.
func AssessRisk(toolName string, input map[string]any) RiskLevel {
	if toolName == "Bash" {
		command, _ := input["command"].(string)
		for _, substr := range highRiskBashSubstrings {
			if containsWord(command, substr) {
				return RiskHigh
			}
		}
		for _, substr := range mediumRiskBashSubstrings {
			if containsWord(command, substr) {
				return RiskMedium
			}
		}
		return RiskLow
	}

	if toolName == "Write" || toolName == "Edit" {
		return RiskMedium
	}

	return RiskLow
}

// containsWord reports whether substr appears anywhere in command. A plain
// substring match is deliberate: "npmx" still counts as containing "npm".
func containsWord(command, substr string) bool {
	return strings.Contains(command, substr)
}

// ToolCategory groups tool names into coarse categories for display and
// analytics purposes.
type ToolCategory string

const (
	CategoryShell     ToolCategory = "shell"
	CategoryFileWrite ToolCategory = "file_write"
	CategoryFileRead  ToolCategory = "file_read"
	CategoryNetwork   ToolCategory = "network"
	CategorySearch    ToolCategory = "search"
	CategoryOther     ToolCategory = "other"
)

// CategorizeTool is a pure classifier mapping a tool name to a category.
func CategorizeTool(name string) ToolCategory {
	switch name {
	case "Bash":
		return CategoryShell
	case "Write", "Edit", "NotebookEdit":
		return CategoryFileWrite
	case "Read", "NotebookRead":
		return CategoryFileRead
	case "WebFetch", "WebSearch":
		return CategoryNetwork
	case "Grep", "Glob":
		return CategorySearch
	default:
		return CategoryOther
	}
}

// ActionType categorizes a tool call the way a routed approval client
// renders it, independent of RiskLevel/ToolCategory (display grouping, not
// risk).
type ActionType string

const (
	ActionTypeCommand   ActionType = "command"
	ActionTypeFileWrite ActionType = "file_write"
	ActionTypeFileRead  ActionType = "file_read"
	ActionTypeNetwork   ActionType = "network"
	ActionTypeMCPTool   ActionType = "mcp_tool"
	ActionTypeOther     ActionType = "other"
)

// ClassifyActionType is a pure classifier mapping a tool name to its
// ActionType. MCP tools are surfaced to adapters with an "mcp__" prefix
// (Claude Code's convention for tools proxied through an MCP server), so
// that's checked before the built-in tool names.
func ClassifyActionType(toolName string) ActionType {
	if strings.HasPrefix(toolName, "mcp__") {
		return ActionTypeMCPTool
	}
	switch toolName {
	case "Bash":
		return ActionTypeCommand
	case "Write", "Edit", "NotebookEdit":
		return ActionTypeFileWrite
	case "Read", "NotebookRead", "Glob", "Grep":
		return ActionTypeFileRead
	case "WebFetch", "WebSearch":
		return ActionTypeNetwork
	default:
		return ActionTypeOther
	}
}

// DescribeToolCall renders a short human-readable description of a tool
// call, used as the default preview text for approval requests that don't
// have a richer preview table entry.
func DescribeToolCall(toolName string, input map[string]any) string {
	switch toolName {
	case "Bash":
		if cmd, ok := input["command"].(string); ok {
			return fmt.Sprintf("Run: %s", cmd)
		}
		return "Run a shell command"
	case "Write", "Edit":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("%s %s", toolName, path)
		}
		return toolName
	case "Read":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("Read %s", path)
		}
		return "Read a file"
	default:
		return toolName
	}
}
