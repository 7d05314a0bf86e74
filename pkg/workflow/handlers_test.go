package workflow

import (
	"context"
	"testing"

	"github.com/dukex/weave/pkg/expression"
	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeContext(def *models.WorkflowDefinition, nodeID string, input any) *NodeContext {
	n, _ := def.NodeByID(nodeID)

	return &NodeContext{
		Execution:  &models.WorkflowExecution{ID: "exec-1", Variables: map[string]any{"who": "world"}},
		Definition: def,
		Node:       n,
		Input:      input,
	}
}

func TestEchoTaskRunner(t *testing.T) {
	def := testutil.CreateTestWorkflow()
	def.Nodes[1].Config.Params = map[string]any{
		"greeting": "hello {{ .vars.who }}",
		"from":     "{{ .input.source }}",
		"static":   "plain",
	}

	output, err := EchoTaskRunner{}.RunTask(t.Context(), nodeContext(def, "task", map[string]any{"source": "upstream", "kept": true}))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"source":   "upstream",
		"kept":     true,
		"greeting": "hello world",
		"from":     "upstream",
		"static":   "plain",
	}, output)
}

func TestEchoTaskRunner_BadTemplate(t *testing.T) {
	def := testutil.CreateTestWorkflow()
	def.Nodes[1].Config.Params = map[string]any{"broken": "{{ .vars.who "}

	_, err := EchoTaskRunner{}.RunTask(t.Context(), nodeContext(def, "task", nil))
	assert.ErrorContains(t, err, "failed to render parameter broken")
}

func TestDecisionNode_OutputAndRouting(t *testing.T) {
	evaluator := expression.EvaluatorFunc(func(_ context.Context, condition string, _ *models.WorkflowExecution, _ any) (bool, error) {
		return condition == "yes", nil
	})

	def := testutil.CreateTestWorkflow(testutil.WithGraph(
		[]*models.WorkflowNode{
			node("start", models.NodeTypeStart),
			node("decide", models.NodeTypeDecision),
			node("a", models.NodeTypeEnd),
			node("b", models.NodeTypeEnd),
		},
		[]*models.WorkflowConnection{
			testutil.Connect("c0", "start", "decide"),
			testutil.Connect("to-a", "decide", "a"),
			testutil.Connect("to-b", "decide", "b"),
		},
	))

	handler := decisionNode(evaluator)

	def.Nodes[1].Config.Condition = "yes"
	outcome, err := handler(t.Context(), nodeContext(def, "decide", nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": true}, outcome.Output)
	require.Len(t, outcome.Next, 1)
	assert.Equal(t, "to-a", outcome.Next[0].ID)

	def.Nodes[1].Config.Condition = "no"
	outcome, err = handler(t.Context(), nodeContext(def, "decide", nil))
	require.NoError(t, err)
	require.Len(t, outcome.Next, 1)
	assert.Equal(t, "to-b", outcome.Next[0].ID)
}

func TestHandlerTable_WithDoesNotMutate(t *testing.T) {
	table := NewHandlerTable(HandlerConfig{})

	called := false
	custom := table.With(models.NodeTypeApproval, func(context.Context, *NodeContext) (Outcome, error) {
		called = true

		return Outcome{}, nil
	})

	def := testutil.CreateTestWorkflow()

	_, err := table[models.NodeTypeApproval](t.Context(), nodeContext(def, "task", nil))
	require.ErrorIs(t, err, ErrUnsupportedNodeType)

	_, err = custom[models.NodeTypeApproval](t.Context(), nodeContext(def, "task", nil))
	require.NoError(t, err)
	assert.True(t, called)
}
