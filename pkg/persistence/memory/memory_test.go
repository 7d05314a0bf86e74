package memory_test

import (
	"context"
	"testing"

	"github.com/dukex/weave/pkg/persistence"
	"github.com/dukex/weave/pkg/persistence/memory"
	"github.com/dukex/weave/pkg/persistence/persistencetest"
	"github.com/dukex/weave/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}

func TestPersistence_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	repo := p.WorkflowRepository()

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, repo.Save(ctx, workflow))

	workflow.Nodes[0].Name = "mutated after save"

	got, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Start", got.Nodes[0].Name)

	got.Name = "mutated after load"

	again, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, again.Name)
}
