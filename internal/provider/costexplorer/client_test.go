package costexplorer

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

type mockAPI struct {
	lastInput *ce.GetCostAndUsageInput
	output    *ce.GetCostAndUsageOutput
	err       error
}

func (m *mockAPI) GetCostAndUsage(ctx context.Context, params *ce.GetCostAndUsageInput, optFns ...func(*ce.Options)) (*ce.GetCostAndUsageOutput, error) {
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return m.output, nil
}

func mustPeriod(t *testing.T, s string) models.Period {
	t.Helper()
	p, err := models.ParsePeriod(s)
	require.NoError(t, err)
	return p
}

func TestFetchCosts_GroupsByService(t *testing.T) {
	api := &mockAPI{
		output: &ce.GetCostAndUsageOutput{
			ResultsByTime: []ceTypes.ResultByTime{{
				Groups: []ceTypes.Group{
					{
						Keys:    []string{"Amazon Elastic Compute Cloud - Compute"},
						Metrics: map[string]ceTypes.MetricValue{"UnblendedCost": {Amount: aws.String("1500.75")}},
					},
					{
						Keys:    []string{"Amazon Relational Database Service"},
						Metrics: map[string]ceTypes.MetricValue{"UnblendedCost": {Amount: aws.String("499.25")}},
					},
				},
			}},
		},
	}
	source := NewWithClient(api)

	snap, err := source.FetchCosts(context.Background(), "123456789012", mustPeriod(t, "2026-07"))
	require.NoError(t, err)

	assert.InDelta(t, 2000.0, snap.TotalCost, 0.001)
	assert.Len(t, snap.Breakdown, 2)
	assert.Equal(t, "aws_cost_explorer", snap.Source)

	// Period becomes a closed-month date interval.
	require.NotNil(t, api.lastInput)
	assert.Equal(t, "2026-07-01", *api.lastInput.TimePeriod.Start)
	assert.Equal(t, "2026-08-01", *api.lastInput.TimePeriod.End)
	assert.Equal(t, []string{"123456789012"}, api.lastInput.Filter.Dimensions.Values)
}

func TestFetchCosts_ThrottlingIsTransient(t *testing.T) {
	api := &mockAPI{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate exceeded"}}
	source := NewWithClient(api)

	_, err := source.FetchCosts(context.Background(), "123456789012", mustPeriod(t, "2026-07"))
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
}

func TestFetchCosts_AccessDeniedIsPermanent(t *testing.T) {
	api := &mockAPI{err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no ce:GetCostAndUsage"}}
	source := NewWithClient(api)

	_, err := source.FetchCosts(context.Background(), "123456789012", mustPeriod(t, "2026-07"))
	require.Error(t, err)
	assert.False(t, provider.IsTransient(err))
}
