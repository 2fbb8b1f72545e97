// Package report composes the per-team and admin views of a run.
// Composition is pure; it never fetches or persists.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// ErrCrossTenant is returned when a record for a different account
// reaches a team report. Composition fails closed: no report is
// produced rather than one leaking another tenant's data.
var ErrCrossTenant = errors.New("record belongs to a different account")

// DefaultTopSpenders caps the admin report's spending table.
const DefaultTopSpenders = 10

// TeamInput is everything known about one account after analysis.
type TeamInput struct {
	Team     models.Team
	Period   models.Period
	Current  *models.CostSnapshot
	Previous *models.CostSnapshot
	Anomaly  *models.Anomaly
	Insight  *models.Insight
}

// ComposeTeam builds the single-tenant report. Every record is checked
// against the team's account ID; any mismatch aborts composition.
func ComposeTeam(in TeamInput) (*models.TeamReport, error) {
	accountID := in.Team.AccountID
	check := func(got, record string) error {
		if got != accountID {
			return fmt.Errorf("%w: %s record for %s in report for %s", ErrCrossTenant, record, got, accountID)
		}
		return nil
	}

	if in.Current == nil {
		return nil, fmt.Errorf("no current snapshot for account %s", accountID)
	}
	if err := check(in.Current.AccountID, "current snapshot"); err != nil {
		return nil, err
	}
	if in.Previous != nil {
		if err := check(in.Previous.AccountID, "previous snapshot"); err != nil {
			return nil, err
		}
	}
	if in.Anomaly == nil {
		return nil, fmt.Errorf("no anomaly result for account %s", accountID)
	}
	if err := check(in.Anomaly.AccountID, "anomaly"); err != nil {
		return nil, err
	}
	if in.Insight != nil {
		if err := check(in.Insight.AccountID, "insight"); err != nil {
			return nil, err
		}
	}

	return &models.TeamReport{
		Team:          in.Team,
		Period:        in.Period,
		Current:       in.Current,
		Previous:      in.Previous,
		Anomaly:       in.Anomaly,
		Insight:       in.Insight,
		AIUnavailable: in.Insight == nil,
	}, nil
}

// AdminInput collects the whole run for aggregation.
type AdminInput struct {
	Period      models.Period
	Succeeded   []TeamInput
	Failures    []models.AccountFailure
	TopSpenders int
}

// ComposeAdmin aggregates the run across accounts. Totals cover
// successfully fetched accounts only; failed accounts are listed but
// excluded from every sum.
func ComposeAdmin(in AdminInput) *models.AdminReport {
	topN := in.TopSpenders
	if topN <= 0 {
		topN = DefaultTopSpenders
	}

	report := &models.AdminReport{
		Period:       in.Period,
		AccountCount: len(in.Succeeded),
		Failures:     in.Failures,
	}

	var spenders []models.TeamSpend
	seenRec := make(map[string]struct{})

	for _, t := range in.Succeeded {
		if t.Current == nil || t.Anomaly == nil {
			continue
		}
		report.TotalCurrent += t.Current.TotalCost
		if t.Previous != nil {
			report.TotalPrevious += t.Previous.TotalCost
		}
		if t.Current.Synthetic {
			report.ContainsSynthetic = true
		}

		spenders = append(spenders, models.TeamSpend{
			TeamName:      t.Team.DisplayName,
			AccountID:     t.Team.AccountID,
			CurrentCost:   t.Current.TotalCost,
			PreviousCost:  t.Anomaly.PreviousCost,
			PercentChange: t.Anomaly.PercentChange,
		})

		if t.Anomaly.IsAnomaly {
			report.Anomalies = append(report.Anomalies, *t.Anomaly)
		}

		if t.Insight != nil {
			for _, rec := range t.Insight.Recommendations {
				// Different accounts often get the same advice with
				// different casing or spacing; keep the first phrasing.
				key := normalizeRecommendation(rec)
				if _, ok := seenRec[key]; ok {
					continue
				}
				seenRec[key] = struct{}{}
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
	}

	if report.TotalPrevious > 0 {
		change := (report.TotalCurrent - report.TotalPrevious) / report.TotalPrevious * 100
		report.PercentChange = &change
	}

	sort.Slice(spenders, func(i, j int) bool {
		if spenders[i].CurrentCost != spenders[j].CurrentCost {
			return spenders[i].CurrentCost > spenders[j].CurrentCost
		}
		return spenders[i].TeamName < spenders[j].TeamName
	})
	if len(spenders) > topN {
		spenders = spenders[:topN]
	}
	report.TopSpenders = spenders

	// Worst offenders first.
	sort.Slice(report.Anomalies, func(i, j int) bool {
		ci, cj := report.Anomalies[i].ChangeOrZero(), report.Anomalies[j].ChangeOrZero()
		if ci != cj {
			return ci > cj
		}
		return report.Anomalies[i].TeamName < report.Anomalies[j].TeamName
	})

	return report
}

// normalizeRecommendation folds case and collapses whitespace so
// rephrasings of the same advice deduplicate.
func normalizeRecommendation(rec string) string {
	return strings.Join(strings.Fields(strings.ToLower(rec)), " ")
}
