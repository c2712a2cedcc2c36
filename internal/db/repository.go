package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrDuplicateReminder is returned by AppendReminderRecord when a record for
// the same (invoice, calendar day) already exists. Concurrent runs hit this
// when they race for the same invoice; callers treat it as "already handled
// today", not as a failure.
var ErrDuplicateReminder = errors.New("reminder already recorded for this invoice today")

// ErrTenantNotFound is returned when no settings row exists for a tenant.
var ErrTenantNotFound = errors.New("tenant settings not found")

const uniqueViolationCode = "23505"

// Repository implements both stores the escalation engine consumes: the
// read-only invoice/client side and the append-only reminder ledger.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new reminder repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListOverdueInvoices returns unpaid and partially paid invoices whose due
// date is strictly before today, with client name and email denormalized.
// Invoices belonging to deleted clients are excluded.
func (r *Repository) ListOverdueInvoices(ctx context.Context, today time.Time) ([]*OverdueInvoice, error) {
	query := `
		SELECT
			i.id, i.number, i.tenant_id, i.client_id,
			c.name, COALESCE(c.email, ''),
			i.total, i.due_date, i.status
		FROM invoices i
		JOIN clients c ON c.id = i.client_id
		WHERE i.status IN ($1, $2)
		  AND i.due_date < $3
		ORDER BY i.due_date ASC
	`

	// due_date is a DATE; comparing it against the full run timestamp would
	// count invoices due today as overdue.
	rows, err := r.db.Pool().Query(ctx, query,
		InvoiceStatusUnpaid, InvoiceStatusPartiallyPaid, dateOnly(today))
	if err != nil {
		return nil, fmt.Errorf("query overdue invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*OverdueInvoice
	for rows.Next() {
		var inv OverdueInvoice
		err := rows.Scan(
			&inv.ID,
			&inv.Number,
			&inv.TenantID,
			&inv.ClientID,
			&inv.ClientName,
			&inv.ClientEmail,
			&inv.Total,
			&inv.DueDate,
			&inv.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, &inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return invoices, nil
}

// ListReminderRecords returns an invoice's full reminder history ordered by
// send time ascending.
func (r *Repository) ListReminderRecords(ctx context.Context, invoiceID uuid.UUID) ([]*ReminderRecord, error) {
	query := `
		SELECT
			id, invoice_id, tier, recipient, status,
			error_message, sent_at, sent_on
		FROM reminder_records
		WHERE invoice_id = $1
		ORDER BY sent_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query reminder records: %w", err)
	}
	defer rows.Close()

	return scanReminderRecords(rows)
}

// ListReminderRecordsByTenant retrieves a tenant's reminder history with
// pagination, newest first. Used by the audit API.
func (r *Repository) ListReminderRecordsByTenant(
	ctx context.Context,
	tenantID uuid.UUID,
	limit int,
	offset int,
) ([]*ReminderRecord, error) {
	query := `
		SELECT
			rr.id, rr.invoice_id, rr.tier, rr.recipient, rr.status,
			rr.error_message, rr.sent_at, rr.sent_on
		FROM reminder_records rr
		JOIN invoices i ON i.id = rr.invoice_id
		WHERE i.tenant_id = $1
		ORDER BY rr.sent_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query tenant reminder records: %w", err)
	}
	defer rows.Close()

	return scanReminderRecords(rows)
}

// AppendReminderRecord inserts exactly one ledger row for a send attempt.
// The unique index on (invoice_id, sent_on) makes the insert atomic across
// concurrent runs; a violation surfaces as ErrDuplicateReminder.
func (r *Repository) AppendReminderRecord(ctx context.Context, rec *ReminderRecord) error {
	query := `
		INSERT INTO reminder_records (
			id, invoice_id, tier, recipient, status, error_message, sent_at, sent_on
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.Pool().Exec(
		ctx,
		query,
		rec.ID,
		rec.InvoiceID,
		rec.Tier,
		rec.Recipient,
		rec.Status,
		rec.ErrorMessage,
		rec.SentAt,
		rec.SentOn,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateReminder
		}
		r.logger.Error("failed to append reminder record",
			zap.Error(err),
			zap.String("invoice_id", rec.InvoiceID.String()),
		)
		return fmt.Errorf("insert reminder record: %w", err)
	}

	r.logger.Info("reminder record appended",
		zap.String("invoice_id", rec.InvoiceID.String()),
		zap.Int("tier", rec.Tier),
		zap.String("status", rec.Status),
	)

	return nil
}

// GetTenantSettings returns the company name and sender address for a tenant.
func (r *Repository) GetTenantSettings(ctx context.Context, tenantID uuid.UUID) (*TenantSettings, error) {
	query := `
		SELECT tenant_id, company_name, sender_email
		FROM tenant_settings
		WHERE tenant_id = $1
	`

	var settings TenantSettings
	err := r.db.Pool().QueryRow(ctx, query, tenantID).Scan(
		&settings.TenantID,
		&settings.CompanyName,
		&settings.SenderEmail,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	if err != nil {
		r.logger.Error("failed to get tenant settings",
			zap.Error(err),
			zap.String("tenant_id", tenantID.String()),
		)
		return nil, fmt.Errorf("query tenant settings: %w", err)
	}

	return &settings, nil
}

// dateOnly strips the clock from a moment, leaving the civil date of the
// moment's own location.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func scanReminderRecords(rows pgx.Rows) ([]*ReminderRecord, error) {
	var records []*ReminderRecord
	for rows.Next() {
		var rec ReminderRecord
		err := rows.Scan(
			&rec.ID,
			&rec.InvoiceID,
			&rec.Tier,
			&rec.Recipient,
			&rec.Status,
			&rec.ErrorMessage,
			&rec.SentAt,
			&rec.SentOn,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}
