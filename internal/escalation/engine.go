package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stockflow/reminderd/internal/db"
	"github.com/stockflow/reminderd/internal/mailer"
	"github.com/stockflow/reminderd/internal/metrics"
)

// Skip reasons reported in logs and metrics. Skips are not errors: they
// produce no ledger entry and no summary error.
const (
	SkipNoRecipient   = "no_recipient"
	SkipNotOverdue    = "not_overdue"
	SkipAlreadyToday  = "already_attempted_today"
	SkipNoTierDue     = "no_tier_due"
	SkipConcurrentRun = "concurrent_run"
)

// InvoiceSource is the read-only side the engine consumes: the overdue
// invoice set and the tenant settings the templates need.
type InvoiceSource interface {
	ListOverdueInvoices(ctx context.Context, today time.Time) ([]*db.OverdueInvoice, error)
	GetTenantSettings(ctx context.Context, tenantID uuid.UUID) (*db.TenantSettings, error)
}

// Ledger is the append-only reminder record store the engine owns the write
// contract for. AppendReminderRecord must return db.ErrDuplicateReminder when
// a record for the same invoice and calendar day already exists.
type Ledger interface {
	ListReminderRecords(ctx context.Context, invoiceID uuid.UUID) ([]*db.ReminderRecord, error)
	AppendReminderRecord(ctx context.Context, rec *db.ReminderRecord) error
}

// Config tunes one engine instance. Zero values get defaults.
type Config struct {
	Concurrency int            // bounded worker pool size, default 4
	SendTimeout time.Duration  // per-email delivery budget, default 10s
	Location    *time.Location // reporting timezone for calendar-day math, default UTC
}

// RunError is one per-invoice failure in a run summary.
type RunError struct {
	InvoiceNumber string `json:"invoice_number"`
	Message       string `json:"message"`
}

// RunSummary is the transient result of one engine invocation.
type RunSummary struct {
	TotalEligible int        `json:"total_eligible"`
	Processed     int        `json:"processed"`
	Skipped       int        `json:"skipped"`
	Errors        []RunError `json:"errors"`
}

// Engine drives one full escalation run over the eligible invoice set. It is
// stateless between runs; everything it needs to decide lives in the ledger.
type Engine struct {
	invoices InvoiceSource
	ledger   Ledger
	mailer   mailer.Mailer
	rules    []Rule
	config   Config
	logger   *zap.Logger
}

// NewEngine validates the rule table once and returns a ready engine.
func NewEngine(
	invoices InvoiceSource,
	ledger Ledger,
	m mailer.Mailer,
	rules []Rule,
	cfg Config,
	logger *zap.Logger,
) (*Engine, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Engine{
		invoices: invoices,
		ledger:   ledger,
		mailer:   m,
		rules:    rules,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Run processes every eligible overdue invoice once and reports the outcome.
//
// It returns an error when the invoice repository cannot be reached, when the
// reminder ledger cannot be read, or when the run is cancelled; per-invoice
// delivery failures are isolated into the summary's error list and never
// abort the run. Invoices are independent, so they are processed by a bounded
// worker pool.
func (e *Engine) Run(ctx context.Context, today time.Time) (*RunSummary, error) {
	start := time.Now()

	invoices, err := e.invoices.ListOverdueInvoices(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list overdue invoices: %w", err)
	}

	summary := &RunSummary{TotalEligible: len(invoices)}
	metrics.SetEligibleInvoices(len(invoices))

	e.logger.Info("escalation run started",
		zap.Int("eligible", len(invoices)),
		zap.Time("today", today),
	)

	var mu sync.Mutex
	tenants := newTenantCache(e.invoices)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for _, inv := range invoices {
		inv := inv
		g.Go(func() error {
			res, err := e.processInvoice(gctx, inv, today, tenants)
			if err != nil {
				// Cancellation or an unreadable ledger aborts the whole run;
				// the caller sees a failed run, not a partial success.
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.sent:
				summary.Processed++
			case res.skipReason != "":
				summary.Skipped++
			}
			if res.errMsg != "" {
				summary.Errors = append(summary.Errors, RunError{
					InvoiceNumber: inv.Number,
					Message:       res.errMsg,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		metrics.RecordRun("engine", "aborted", time.Since(start))
		return nil, fmt.Errorf("run aborted: %w", err)
	}

	metrics.RecordRun("engine", "completed", time.Since(start))

	e.logger.Info("escalation run finished",
		zap.Int("eligible", summary.TotalEligible),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)),
		zap.Duration("duration", time.Since(start)),
	)

	return summary, nil
}

// invoiceResult is the outcome of one invoice within a run.
type invoiceResult struct {
	sent       bool
	skipReason string
	errMsg     string
}

// processInvoice applies the full decision chain for one invoice: recipient
// check, dedup guard, tier selection, render, send, ledger append. A non-nil
// error aborts the run (cancellation or an unreadable ledger); delivery and
// append failures fold into the result.
func (e *Engine) processInvoice(
	ctx context.Context,
	inv *db.OverdueInvoice,
	today time.Time,
	tenants *tenantCache,
) (invoiceResult, error) {
	if err := ctx.Err(); err != nil {
		return invoiceResult{}, err
	}

	log := e.logger.With(
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.Number),
	)

	if inv.ClientEmail == "" {
		log.Debug("skipping invoice", zap.String("reason", SkipNoRecipient))
		metrics.RecordSkip(SkipNoRecipient)
		return invoiceResult{skipReason: SkipNoRecipient}, nil
	}

	days := daysOverdue(inv.DueDate, today, e.config.Location)
	if days < 1 {
		metrics.RecordSkip(SkipNotOverdue)
		return invoiceResult{skipReason: SkipNotOverdue}, nil
	}

	// The ledger is the source of truth for dedup and tier progression; if it
	// cannot be read the run aborts rather than guessing.
	records, err := e.ledger.ListReminderRecords(ctx, inv.ID)
	if err != nil {
		if ctx.Err() != nil {
			return invoiceResult{}, ctx.Err()
		}
		log.Error("failed to read reminder history", zap.Error(err))
		return invoiceResult{}, fmt.Errorf("read reminder history for %s: %w", inv.Number, err)
	}

	// Dedup guard: one attempt per invoice per calendar day, success or not.
	// Evaluated before any side effect.
	if len(records) > 0 {
		last := records[len(records)-1]
		if sameDay(last.SentAt, today, e.config.Location) {
			log.Debug("skipping invoice", zap.String("reason", SkipAlreadyToday))
			metrics.RecordSkip(SkipAlreadyToday)
			return invoiceResult{skipReason: SkipAlreadyToday}, nil
		}
	}

	priorSent := 0
	for _, rec := range records {
		if rec.Status == db.ReminderStatusSent {
			priorSent++
		}
	}

	rule, ok := SelectRule(e.rules, days, priorSent)
	if !ok {
		metrics.RecordSkip(SkipNoTierDue)
		return invoiceResult{skipReason: SkipNoTierDue}, nil
	}

	// Missing tenant settings blank the company_name placeholder rather than
	// aborting the invoice.
	settings, err := tenants.get(ctx, inv.TenantID)
	if err != nil {
		if ctx.Err() != nil {
			return invoiceResult{}, ctx.Err()
		}
		log.Warn("tenant settings unavailable, rendering without company name",
			zap.Error(err),
			zap.String("tenant_id", inv.TenantID.String()),
		)
		settings = &db.TenantSettings{TenantID: inv.TenantID}
	}

	data := map[string]string{
		"company_name":   settings.CompanyName,
		"client_name":    inv.ClientName,
		"invoice_number": inv.Number,
		"total":          inv.Total.StringFixed(2),
		"due_date":       inv.DueDate.Format("2 January 2006"),
	}

	msg := mailer.Message{
		From:     settings.SenderEmail,
		To:       inv.ClientEmail,
		Subject:  Render(rule.Subject, data),
		HTMLBody: Render(rule.Body, data),
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.SendTimeout)
	sendErr := e.mailer.Send(sendCtx, msg)
	cancel()

	// A cancelled run abandons the attempt without a ledger write so the next
	// run retries cleanly.
	if ctx.Err() != nil {
		return invoiceResult{}, ctx.Err()
	}

	rec := &db.ReminderRecord{
		ID:        uuid.New(),
		InvoiceID: inv.ID,
		Tier:      rule.Tier,
		Recipient: inv.ClientEmail,
		SentAt:    time.Now().UTC(),
		SentOn:    civilDate(today, e.config.Location),
	}

	if sendErr != nil {
		errMsg := sendErr.Error()
		rec.Status = db.ReminderStatusFailed
		rec.ErrorMessage = &errMsg
	} else {
		rec.Status = db.ReminderStatusSent
	}

	if appendErr := e.ledger.AppendReminderRecord(ctx, rec); appendErr != nil {
		if errors.Is(appendErr, db.ErrDuplicateReminder) {
			// Another run got there first; its record stands.
			log.Info("concurrent run already recorded this invoice today")
			metrics.RecordSkip(SkipConcurrentRun)
			return invoiceResult{skipReason: SkipConcurrentRun}, nil
		}
		if ctx.Err() != nil {
			return invoiceResult{}, ctx.Err()
		}
		log.Error("failed to append reminder record",
			zap.Error(appendErr),
			zap.String("status", rec.Status),
		)
		return invoiceResult{
			errMsg: fmt.Sprintf("record reminder: %v", appendErr),
		}, nil
	}

	metrics.RecordReminder(rec.Status, rec.Tier)

	if sendErr != nil {
		log.Warn("reminder delivery failed",
			zap.Int("tier", rule.Tier),
			zap.Int("days_overdue", days),
			zap.Error(sendErr),
		)
		return invoiceResult{errMsg: fmt.Sprintf("send reminder: %v", sendErr)}, nil
	}

	log.Info("reminder sent",
		zap.Int("tier", rule.Tier),
		zap.Int("days_overdue", days),
		zap.String("recipient", inv.ClientEmail),
	)

	return invoiceResult{sent: true}, nil
}

// tenantCache memoizes tenant settings for the duration of one run.
type tenantCache struct {
	mu       sync.Mutex
	source   InvoiceSource
	settings map[uuid.UUID]*db.TenantSettings
}

func newTenantCache(source InvoiceSource) *tenantCache {
	return &tenantCache{
		source:   source,
		settings: make(map[uuid.UUID]*db.TenantSettings),
	}
}

func (c *tenantCache) get(ctx context.Context, tenantID uuid.UUID) (*db.TenantSettings, error) {
	c.mu.Lock()
	cached, ok := c.settings[tenantID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	settings, err := c.source.GetTenantSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.settings[tenantID] = settings
	c.mu.Unlock()

	return settings, nil
}

// civilDate reduces a moment to its calendar date in loc, anchored at UTC
// midnight so date arithmetic is immune to DST.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysOverdue counts whole calendar days from the due date to today. The due
// date is already a civil date (a DATE column scanned at midnight UTC), so it
// is taken as-is; converting it into the reporting timezone would shift it to
// the previous day anywhere west of UTC.
func daysOverdue(due, today time.Time, loc *time.Location) int {
	y, m, d := due.Date()
	dueDay := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(civilDate(today, loc).Sub(dueDay) / (24 * time.Hour))
}

// sameDay reports whether two moments fall on the same calendar day in loc.
func sameDay(a, b time.Time, loc *time.Location) bool {
	return civilDate(a, loc).Equal(civilDate(b, loc))
}
