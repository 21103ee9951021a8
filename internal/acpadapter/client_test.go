package acpadapter

import (
	"context"
	"testing"

	"github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/agentbridge/internal/approval"
	"github.com/relaywire/agentbridge/internal/logger"
)

type fakeApprover struct {
	decision approval.Decision
	received approval.HookInput
}

func (f *fakeApprover) RequestApproval(ctx context.Context, input approval.HookInput) approval.Decision {
	f.received = input
	return f.decision
}

func TestResolvePath_RelativeStaysUnderRoot(t *testing.T) {
	c := newClient(logger.Default(), "/workspace/proj", &fakeApprover{})

	resolved, err := c.resolvePath("src/main.go")
	require.NoError(t, err)
	require.Equal(t, "/workspace/proj/src/main.go", resolved)
}

func TestResolvePath_TraversalRejected(t *testing.T) {
	c := newClient(logger.Default(), "/workspace/proj", &fakeApprover{})

	_, err := c.resolvePath("../../etc/passwd")
	require.Error(t, err)
}

func TestResolvePath_AbsoluteOutsideRootRejected(t *testing.T) {
	c := newClient(logger.Default(), "/workspace/proj", &fakeApprover{})

	_, err := c.resolvePath("/etc/passwd")
	require.Error(t, err)
}

func TestDescribeToolCall_ExtractsNameInputAndLocation(t *testing.T) {
	req := acp.RequestPermissionRequest{
		ToolCall: acp.RequestPermissionToolCall{
			Kind:      acp.Ptr(acp.ToolKind("edit")),
			RawInput:  map[string]any{"content": "new text"},
			Locations: []acp.ToolCallLocation{{Path: "/workspace/proj/file.go"}},
		},
	}

	name, input := describeToolCall(req)
	require.Equal(t, "edit", name)
	require.Equal(t, "new text", input["content"])
	require.Equal(t, "/workspace/proj/file.go", input["file_path"])
}

func TestSelectAllowOption_PrefersAllowKind(t *testing.T) {
	options := []acp.PermissionOption{
		{OptionId: "reject", Kind: acp.PermissionOptionKindRejectOnce},
		{OptionId: "allow", Kind: acp.PermissionOptionKindAllowOnce},
	}

	got := selectAllowOption(options)
	require.Equal(t, acp.PermissionOptionId("allow"), got.OptionId)
}

func TestSelectAllowOption_FallsBackToFirst(t *testing.T) {
	options := []acp.PermissionOption{
		{OptionId: "reject", Kind: acp.PermissionOptionKindRejectOnce},
	}

	got := selectAllowOption(options)
	require.Equal(t, acp.PermissionOptionId("reject"), got.OptionId)
}

func TestRequestPermission_NoOptionsCancels(t *testing.T) {
	c := newClient(logger.Default(), "/workspace", &fakeApprover{})

	resp, err := c.RequestPermission(context.Background(), acp.RequestPermissionRequest{})
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Cancelled)
}

func TestRequestPermission_DeniedCancels(t *testing.T) {
	approver := &fakeApprover{decision: approval.DecisionDeny}
	c := newClient(logger.Default(), "/workspace", approver)

	resp, err := c.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: "s1",
		ToolCall:  acp.RequestPermissionToolCall{Kind: acp.Ptr(acp.ToolKind("run_shell_command"))},
		Options:   []acp.PermissionOption{{OptionId: "allow", Kind: acp.PermissionOptionKindAllowOnce}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Cancelled)
	require.Equal(t, "s1", approver.received.SessionID)
}

func TestRequestPermission_AllowedSelectsOption(t *testing.T) {
	approver := &fakeApprover{decision: approval.DecisionAllow}
	c := newClient(logger.Default(), "/workspace", approver)

	resp, err := c.RequestPermission(context.Background(), acp.RequestPermissionRequest{
		SessionId: "s1",
		ToolCall:  acp.RequestPermissionToolCall{Kind: acp.Ptr(acp.ToolKind("run_shell_command"))},
		Options:   []acp.PermissionOption{{OptionId: "allow", Kind: acp.PermissionOptionKindAllowOnce}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Selected)
	require.Equal(t, acp.PermissionOptionId("allow"), resp.Outcome.Selected.OptionId)
}

func TestSessionUpdate_ForwardsToHandler(t *testing.T) {
	c := newClient(logger.Default(), "/workspace", &fakeApprover{})
	var got acp.SessionNotification
	c.setUpdateHandler(func(n acp.SessionNotification) { got = n })

	require.NoError(t, c.SessionUpdate(context.Background(), acp.SessionNotification{SessionId: "s1"}))
	require.Equal(t, acp.SessionId("s1"), got.SessionId)
}
