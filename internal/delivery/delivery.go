// Package delivery renders reports to HTML email and sends them,
// consulting the delivery ledger so a re-run never emails twice.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// Email kinds recorded in the ledger.
const (
	KindTeamReport   = "team_report"
	KindAdminSummary = "admin_summary"
)

// adminLedgerAccount keys admin-wide emails in the per-account ledger.
const adminLedgerAccount = "admin"

// Ledger records which emails already went out for a period.
type Ledger interface {
	WasDelivered(ctx context.Context, period models.Period, accountID, kind string) (bool, error)
	RecordDelivery(ctx context.Context, period models.Period, accountID, kind string, recipients []string) error
}

// Deliverer sends report emails. In preview mode nothing is sent and
// nothing is recorded.
type Deliverer struct {
	mailer  provider.Mailer
	ledger  Ledger
	logger  *slog.Logger
	preview bool
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deliverer) { d.logger = logger }
}

// WithPreview suppresses all sends; rendered reports are logged only.
func WithPreview(preview bool) Option {
	return func(d *Deliverer) { d.preview = preview }
}

// New creates a Deliverer.
func New(mailer provider.Mailer, ledger Ledger, opts ...Option) *Deliverer {
	d := &Deliverer{mailer: mailer, ledger: ledger, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendTeamReport emails one team's report to its recipients. Already
// delivered (period, account) pairs are skipped, which makes re-running
// a period after a partial delivery safe.
func (d *Deliverer) SendTeamReport(ctx context.Context, report *models.TeamReport) error {
	return d.send(ctx, sendRequest{
		period:     report.Period,
		accountID:  report.Team.AccountID,
		kind:       KindTeamReport,
		recipients: report.Team.Recipients(),
		subject:    TeamSubject(report),
		render:     func() (string, error) { return RenderTeamReport(report) },
	})
}

// SendAdminReport emails the executive summary to the admin list.
func (d *Deliverer) SendAdminReport(ctx context.Context, report *models.AdminReport, recipients []string) error {
	return d.send(ctx, sendRequest{
		period:     report.Period,
		accountID:  adminLedgerAccount,
		kind:       KindAdminSummary,
		recipients: recipients,
		subject:    AdminSubject(report),
		render:     func() (string, error) { return RenderAdminReport(report) },
	})
}

type sendRequest struct {
	period     models.Period
	accountID  string
	kind       string
	recipients []string
	subject    string
	render     func() (string, error)
}

func (d *Deliverer) send(ctx context.Context, req sendRequest) error {
	if len(req.recipients) == 0 {
		return fmt.Errorf("no recipients for %s %s", req.kind, req.accountID)
	}

	body, err := req.render()
	if err != nil {
		return err
	}

	if d.preview {
		d.logger.Info("preview mode, suppressing email",
			"kind", req.kind,
			"account_id", req.accountID,
			"period", req.period.String(),
			"recipients", len(req.recipients))
		return nil
	}

	sent, err := d.ledger.WasDelivered(ctx, req.period, req.accountID, req.kind)
	if err != nil {
		return err
	}
	if sent {
		d.logger.Info("email already delivered, skipping",
			"kind", req.kind,
			"account_id", req.accountID,
			"period", req.period.String())
		return nil
	}

	if err := d.mailer.Send(ctx, provider.Email{
		To:       req.recipients,
		Subject:  req.subject,
		HTMLBody: body,
	}); err != nil {
		return err
	}

	if err := d.ledger.RecordDelivery(ctx, req.period, req.accountID, req.kind, req.recipients); err != nil {
		// The mail is out; a ledger failure must not fail the run. Worst
		// case a re-run sends a duplicate.
		d.logger.Error("failed to record delivery",
			"kind", req.kind,
			"account_id", req.accountID,
			"error", err)
	}

	d.logger.Info("email delivered",
		"kind", req.kind,
		"account_id", req.accountID,
		"period", req.period.String(),
		"recipients", len(req.recipients))
	return nil
}
