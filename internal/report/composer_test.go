package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

var july = models.Period{Year: 2026, Month: 7}

func teamInput(accountID, name string, current, previous float64, isAnomaly bool) TeamInput {
	var change *float64
	if previous > 0 {
		c := (current - previous) / previous * 100
		change = &c
	}
	return TeamInput{
		Team: models.Team{
			ID:                "team-" + accountID[:4],
			DisplayName:       name,
			AccountID:         accountID,
			NotificationEmail: name + "@example.com",
		},
		Period:   july,
		Current:  &models.CostSnapshot{AccountID: accountID, TeamName: name, Period: july, TotalCost: current},
		Previous: &models.CostSnapshot{AccountID: accountID, TeamName: name, Period: july.Previous(), TotalCost: previous},
		Anomaly: &models.Anomaly{
			AccountID:     accountID,
			TeamName:      name,
			Period:        july,
			CurrentCost:   current,
			PreviousCost:  previous,
			PercentChange: change,
			IsAnomaly:     isAnomaly,
		},
	}
}

func TestComposeTeam_Basic(t *testing.T) {
	in := teamInput("111111111111", "Platform", 1200, 1000, false)
	in.Insight = &models.Insight{AccountID: "111111111111", Period: july, Narrative: "Steady."}

	report, err := ComposeTeam(in)
	require.NoError(t, err)
	assert.Equal(t, "Platform", report.Team.DisplayName)
	assert.False(t, report.AIUnavailable)
	assert.Equal(t, "Steady.", report.Insight.Narrative)
}

func TestComposeTeam_MissingInsightMarksAIUnavailable(t *testing.T) {
	report, err := ComposeTeam(teamInput("111111111111", "Platform", 1200, 1000, false))
	require.NoError(t, err)
	assert.Nil(t, report.Insight)
	assert.True(t, report.AIUnavailable)
}

func TestComposeTeam_RejectsForeignRecords(t *testing.T) {
	// A snapshot for another account must abort composition entirely.
	in := teamInput("111111111111", "Platform", 1200, 1000, false)
	in.Previous.AccountID = "222222222222"
	_, err := ComposeTeam(in)
	assert.ErrorIs(t, err, ErrCrossTenant)

	in = teamInput("111111111111", "Platform", 1200, 1000, false)
	in.Anomaly.AccountID = "222222222222"
	_, err = ComposeTeam(in)
	assert.ErrorIs(t, err, ErrCrossTenant)

	in = teamInput("111111111111", "Platform", 1200, 1000, false)
	in.Insight = &models.Insight{AccountID: "222222222222", Period: july}
	_, err = ComposeTeam(in)
	assert.ErrorIs(t, err, ErrCrossTenant)
}

func TestComposeAdmin_TotalsExcludeFailures(t *testing.T) {
	report := ComposeAdmin(AdminInput{
		Period: july,
		Succeeded: []TeamInput{
			teamInput("111111111111", "Platform", 1200, 1000, false),
			teamInput("222222222222", "Data", 3000, 2000, true),
		},
		Failures: []models.AccountFailure{
			{AccountID: "333333333333", TeamName: "ML", Stage: "fetch", Reason: "auth failed"},
		},
	})

	assert.Equal(t, 2, report.AccountCount)
	assert.Equal(t, 4200.0, report.TotalCurrent)
	assert.Equal(t, 3000.0, report.TotalPrevious)
	require.NotNil(t, report.PercentChange)
	assert.InDelta(t, 40.0, *report.PercentChange, 0.01)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "ML", report.Failures[0].TeamName)
}

func TestComposeAdmin_AnomaliesRankedByChange(t *testing.T) {
	report := ComposeAdmin(AdminInput{
		Period: july,
		Succeeded: []TeamInput{
			teamInput("111111111111", "Platform", 1300, 1000, true), // +30%
			teamInput("222222222222", "Data", 2000, 1000, true),     // +100%
			teamInput("333333333333", "ML", 1100, 1000, false),
		},
	})

	require.Len(t, report.Anomalies, 2)
	assert.Equal(t, "Data", report.Anomalies[0].TeamName)
	assert.Equal(t, "Platform", report.Anomalies[1].TeamName)
}

func TestComposeAdmin_TopSpendersOrderedAndCapped(t *testing.T) {
	report := ComposeAdmin(AdminInput{
		Period: july,
		Succeeded: []TeamInput{
			teamInput("111111111111", "Platform", 500, 400, false),
			teamInput("222222222222", "Data", 3000, 2500, false),
			teamInput("333333333333", "ML", 1500, 1400, false),
		},
		TopSpenders: 2,
	})

	require.Len(t, report.TopSpenders, 2)
	assert.Equal(t, "Data", report.TopSpenders[0].TeamName)
	assert.Equal(t, "ML", report.TopSpenders[1].TeamName)
}

func TestComposeAdmin_DeduplicatesRecommendations(t *testing.T) {
	a := teamInput("111111111111", "Platform", 1200, 1000, false)
	a.Insight = &models.Insight{
		AccountID:       "111111111111",
		Period:          july,
		Recommendations: []string{"Buy savings plans", "Right-size instances"},
	}
	b := teamInput("222222222222", "Data", 2000, 1800, false)
	b.Insight = &models.Insight{
		AccountID:       "222222222222",
		Period:          july,
		Recommendations: []string{"Buy savings plans", "Archive cold data"},
	}

	report := ComposeAdmin(AdminInput{Period: july, Succeeded: []TeamInput{a, b}})
	assert.Equal(t, []string{"Buy savings plans", "Right-size instances", "Archive cold data"}, report.Recommendations)
}

func TestComposeAdmin_DeduplicatesRephrasedRecommendations(t *testing.T) {
	a := teamInput("111111111111", "Platform", 1200, 1000, false)
	a.Insight = &models.Insight{
		AccountID:       "111111111111",
		Period:          july,
		Recommendations: []string{"Buy Savings Plans"},
	}
	b := teamInput("222222222222", "Data", 2000, 1800, false)
	b.Insight = &models.Insight{
		AccountID:       "222222222222",
		Period:          july,
		Recommendations: []string{"buy  savings plans", " Buy savings plans ", "Archive cold data"},
	}

	// Case and whitespace variants collapse; the first phrasing wins.
	report := ComposeAdmin(AdminInput{Period: july, Succeeded: []TeamInput{a, b}})
	assert.Equal(t, []string{"Buy Savings Plans", "Archive cold data"}, report.Recommendations)
}

func TestComposeAdmin_SyntheticPropagates(t *testing.T) {
	in := teamInput("111111111111", "Platform", 1200, 1000, false)
	in.Current.Synthetic = true

	report := ComposeAdmin(AdminInput{Period: july, Succeeded: []TeamInput{in}})
	assert.True(t, report.ContainsSynthetic)
}

func TestComposeAdmin_ZeroPreviousHasNilChange(t *testing.T) {
	report := ComposeAdmin(AdminInput{
		Period:    july,
		Succeeded: []TeamInput{teamInput("111111111111", "Platform", 1200, 0, false)},
	})
	assert.Nil(t, report.PercentChange)
}
