// Package costexplorer implements provider.MetricsSource against the
// AWS Cost Explorer API. Cost Explorer only answers from us-east-1.
package costexplorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

const costMetric = "UnblendedCost"

// API is the subset of the Cost Explorer client the source uses.
type API interface {
	GetCostAndUsage(ctx context.Context, params *ce.GetCostAndUsageInput, optFns ...func(*ce.Options)) (*ce.GetCostAndUsageOutput, error)
}

// Source fetches per-account costs from Cost Explorer, filtered by
// linked account.
type Source struct {
	client API
}

// New builds a Source from the default AWS credential chain.
func New(ctx context.Context) (*Source, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-1"))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Source{client: ce.NewFromConfig(cfg)}, nil
}

// NewWithClient builds a Source around an existing client (for tests).
func NewWithClient(client API) *Source {
	return &Source{client: client}
}

// Name returns the provider identifier.
func (s *Source) Name() string {
	return "costexplorer"
}

// FetchCosts returns the monthly cost snapshot for a linked account.
func (s *Source) FetchCosts(ctx context.Context, accountID string, period models.Period) (*models.CostSnapshot, error) {
	if !models.ValidAccountID(accountID) {
		return nil, &provider.FetchError{
			Provider:  s.Name(),
			AccountID: accountID,
			Message:   "account_id must be 12 digits",
		}
	}

	input := &ce.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(period.Start().Format("2006-01-02")),
			End:   aws.String(period.End().Format("2006-01-02")),
		},
		Granularity: ceTypes.GranularityMonthly,
		Metrics:     []string{costMetric},
		GroupBy: []ceTypes.GroupDefinition{
			{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
		Filter: &ceTypes.Expression{
			Dimensions: &ceTypes.DimensionValues{
				Key:    ceTypes.DimensionLinkedAccount,
				Values: []string{accountID},
			},
		},
	}

	result, err := s.client.GetCostAndUsage(ctx, input)
	if err != nil {
		return nil, s.classify(accountID, err)
	}

	var total float64
	breakdown := make(map[string]float64)

	for _, byTime := range result.ResultsByTime {
		for _, group := range byTime.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			metric, ok := group.Metrics[costMetric]
			if !ok || metric.Amount == nil {
				continue
			}
			amount, err := strconv.ParseFloat(*metric.Amount, 64)
			if err != nil {
				continue
			}
			breakdown[group.Keys[0]] += amount
			total += amount
		}
	}

	return &models.CostSnapshot{
		AccountID: accountID,
		Period:    period,
		TotalCost: math.Round(total*100) / 100,
		Breakdown: breakdown,
		Source:    "aws_cost_explorer",
		FetchedAt: time.Now().UTC(),
	}, nil
}

// classify maps SDK errors to the transient/permanent taxonomy.
// Throttling and internal service errors are transient; access and
// validation errors are permanent.
func (s *Source) classify(accountID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	transient := true
	message := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.ErrorMessage()
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "LimitExceededException", "RequestTimeout", "InternalFailure", "ServiceUnavailable":
			transient = true
		default:
			transient = false
		}
	}

	return &provider.FetchError{
		Provider:  s.Name(),
		AccountID: accountID,
		Message:   message,
		Transient: transient,
		Err:       err,
	}
}
