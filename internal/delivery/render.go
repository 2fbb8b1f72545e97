package delivery

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

var funcs = template.FuncMap{
	"money": func(v float64) string { return fmt.Sprintf("$%.2f", v) },
	"pct": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%+.1f%%", *v)
	},
}

var teamTmpl = template.Must(template.New("team").Funcs(funcs).Parse(teamHTML))
var adminTmpl = template.Must(template.New("admin").Funcs(funcs).Parse(adminHTML))

// RenderTeamReport produces the HTML body of a team's monthly email.
func RenderTeamReport(report *models.TeamReport) (string, error) {
	var b strings.Builder
	if err := teamTmpl.Execute(&b, report); err != nil {
		return "", fmt.Errorf("failed to render team report: %w", err)
	}
	return b.String(), nil
}

// TeamSubject returns the email subject for a team report.
func TeamSubject(report *models.TeamReport) string {
	if report.Anomaly != nil && report.Anomaly.IsAnomaly {
		return fmt.Sprintf("Cost anomaly detected for %s (%s)", report.Team.DisplayName, report.Period)
	}
	return fmt.Sprintf("Monthly cost report for %s (%s)", report.Team.DisplayName, report.Period)
}

// RenderAdminReport produces the HTML body of the executive summary.
func RenderAdminReport(report *models.AdminReport) (string, error) {
	var b strings.Builder
	if err := adminTmpl.Execute(&b, report); err != nil {
		return "", fmt.Errorf("failed to render admin report: %w", err)
	}
	return b.String(), nil
}

// AdminSubject returns the email subject for the admin summary.
func AdminSubject(report *models.AdminReport) string {
	return fmt.Sprintf("Executive cost summary for %s (%d anomalies)", report.Period, len(report.Anomalies))
}

const teamHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222; max-width: 640px; margin: 0 auto;">
  <h2>Cloud Cost Report: {{.Team.DisplayName}}</h2>
  <p>Account {{.Team.AccountID}} &middot; {{.Period}}</p>

  {{if .Current.Synthetic}}
  <p style="background: #fff3cd; padding: 10px; border: 1px solid #ffc107;">
    <strong>Note:</strong> the billing provider was unreachable; the figures below are synthetic demo data, not billing data.
  </p>
  {{end}}

  <table cellpadding="8" style="border-collapse: collapse; width: 100%;">
    <tr style="background: #f5f5f5;">
      <td><strong>Current month</strong></td>
      <td align="right">{{money .Current.TotalCost}}</td>
    </tr>
    {{if .Previous}}
    <tr>
      <td><strong>Previous month</strong></td>
      <td align="right">{{money .Previous.TotalCost}}</td>
    </tr>
    {{end}}
    <tr style="background: #f5f5f5;">
      <td><strong>Change</strong></td>
      <td align="right">{{if .Anomaly.NewAccount}}new account{{else}}{{pct .Anomaly.PercentChange}}{{end}}</td>
    </tr>
  </table>

  {{if .Anomaly.IsAnomaly}}
  <h3 style="color: #c0392b;">&#9888; Spending anomaly detected</h3>
  <p>This month's spend rose {{pct .Anomaly.PercentChange}} over the previous month.</p>
  {{if .Anomaly.TopDrivers}}
  <p><strong>Largest increases:</strong></p>
  <table cellpadding="6" style="border-collapse: collapse;">
    {{range .Anomaly.TopDrivers}}
    <tr><td>{{.Service}}</td><td align="right">+{{money .Delta}}</td></tr>
    {{end}}
  </table>
  {{end}}
  {{end}}

  {{if .Insight}}
  <h3>Analysis</h3>
  <p>{{.Insight.Narrative}}</p>
  {{if .Insight.Prediction.High}}
  <p><strong>Next month forecast:</strong> {{money .Insight.Prediction.Low}} &ndash; {{money .Insight.Prediction.High}}{{if .Insight.Prediction.Confidence}} ({{.Insight.Prediction.Confidence}} confidence){{end}}</p>
  {{end}}
  {{if .Insight.Recommendations}}
  <p><strong>Recommendations:</strong></p>
  <ul>
    {{range .Insight.Recommendations}}<li>{{.}}</li>{{end}}
  </ul>
  {{end}}
  {{else if .AIUnavailable}}
  <p style="color: #777;">AI analysis was unavailable for this report.</p>
  {{end}}
</body>
</html>
`

const adminHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222; max-width: 720px; margin: 0 auto;">
  <h2>Executive Cost Summary &middot; {{.Period}}</h2>

  {{if .ContainsSynthetic}}
  <p style="background: #fff3cd; padding: 10px; border: 1px solid #ffc107;">
    <strong>Note:</strong> one or more accounts below carry synthetic demo data; the billing provider was unreachable for them.
  </p>
  {{end}}

  {{if .ExecutiveSummary}}
  <p>{{.ExecutiveSummary}}</p>
  {{end}}

  <table cellpadding="8" style="border-collapse: collapse; width: 100%;">
    <tr style="background: #f5f5f5;">
      <td><strong>Accounts</strong></td>
      <td align="right">{{.AccountCount}}</td>
    </tr>
    <tr>
      <td><strong>Total spend</strong></td>
      <td align="right">{{money .TotalCurrent}}</td>
    </tr>
    <tr style="background: #f5f5f5;">
      <td><strong>Previous month</strong></td>
      <td align="right">{{money .TotalPrevious}}</td>
    </tr>
    <tr>
      <td><strong>Change</strong></td>
      <td align="right">{{pct .PercentChange}}</td>
    </tr>
  </table>

  {{if .Anomalies}}
  <h3 style="color: #c0392b;">Anomalies ({{len .Anomalies}})</h3>
  <table cellpadding="6" border="1" style="border-collapse: collapse; width: 100%;">
    <tr style="background: #f5f5f5;"><th>Team</th><th>Account</th><th>Current</th><th>Change</th></tr>
    {{range .Anomalies}}
    <tr>
      <td>{{.TeamName}}</td>
      <td>{{.AccountID}}</td>
      <td align="right">{{money .CurrentCost}}</td>
      <td align="right">{{pct .PercentChange}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}

  {{if .TopSpenders}}
  <h3>Top spenders</h3>
  <table cellpadding="6" border="1" style="border-collapse: collapse; width: 100%;">
    <tr style="background: #f5f5f5;"><th>Team</th><th>Current</th><th>Previous</th><th>Change</th></tr>
    {{range .TopSpenders}}
    <tr>
      <td>{{.TeamName}}</td>
      <td align="right">{{money .CurrentCost}}</td>
      <td align="right">{{money .PreviousCost}}</td>
      <td align="right">{{pct .PercentChange}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}

  {{if .Recommendations}}
  <h3>Recommendations</h3>
  <ul>
    {{range .Recommendations}}<li>{{.}}</li>{{end}}
  </ul>
  {{end}}

  {{if .Failures}}
  <h3 style="color: #c0392b;">Accounts not included</h3>
  <table cellpadding="6" border="1" style="border-collapse: collapse; width: 100%;">
    <tr style="background: #f5f5f5;"><th>Team</th><th>Account</th><th>Stage</th><th>Reason</th></tr>
    {{range .Failures}}
    <tr><td>{{.TeamName}}</td><td>{{.AccountID}}</td><td>{{.Stage}}</td><td>{{.Reason}}</td></tr>
    {{end}}
  </table>
  <p style="color: #777;">Totals above exclude these accounts.</p>
  {{end}}
</body>
</html>
`
