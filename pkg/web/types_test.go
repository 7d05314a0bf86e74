package web_test

import (
	"errors"
	"testing"

	"github.com/dukex/weave/pkg/models"
	"github.com/dukex/weave/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringPtr(s string) *string {
	return &s
}

func TestUpdateWorkflowRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name      string
		request   web.UpdateWorkflowRequest
		wantErr   bool
		errFields []string
	}{
		{
			name:    "empty request",
			request: web.UpdateWorkflowRequest{},
		},
		{
			name: "valid name",
			request: web.UpdateWorkflowRequest{
				Name: stringPtr("renamed"),
			},
		},
		{
			name: "empty name",
			request: web.UpdateWorkflowRequest{
				Name: stringPtr(""),
			},
			wantErr:   true,
			errFields: []string{"Name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Struct(tt.request)
			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))

			fields := make([]string, 0, len(validationErrors))
			for _, fe := range validationErrors {
				fields = append(fields, fe.Field())
			}

			assert.ElementsMatch(t, tt.errFields, fields)
		})
	}
}

func TestUpdateWorkflowRequest_Patch(t *testing.T) {
	t.Parallel()

	settings := models.DefaultSettings()
	req := web.UpdateWorkflowRequest{
		Description: stringPtr("nightly export"),
		Variables:   map[string]any{"region": "eu"},
		Settings:    &settings,
	}

	patch := req.Patch()

	assert.Nil(t, patch.Name)
	assert.Equal(t, "nightly export", *patch.Description)
	assert.Equal(t, "eu", patch.Variables["region"])
	assert.Same(t, &settings, patch.Settings)
	assert.Nil(t, patch.Nodes)
}

func TestExecuteWorkflowRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	require.NoError(t, v.Struct(web.ExecuteWorkflowRequest{TriggeredBy: "webhook"}))

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}

	assert.Error(t, v.Struct(web.ExecuteWorkflowRequest{TriggeredBy: string(long)}))
}
