package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice status constants
const (
	InvoiceStatusUnpaid        = "unpaid"
	InvoiceStatusPartiallyPaid = "partially_paid"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusCancelled     = "cancelled"
)

// Reminder status constants
const (
	ReminderStatusSent   = "sent"
	ReminderStatusFailed = "failed"
)

// OverdueInvoice is an unpaid or partially paid invoice past its due date,
// with the client denormalized onto it so a run needs no per-invoice lookups.
type OverdueInvoice struct {
	ID          uuid.UUID       `json:"id"`
	Number      string          `json:"number"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	ClientID    uuid.UUID       `json:"client_id"`
	ClientName  string          `json:"client_name"`
	ClientEmail string          `json:"client_email"`
	Total       decimal.Decimal `json:"total"`
	DueDate     time.Time       `json:"due_date"`
	Status      string          `json:"status"`
}

// ReminderRecord is one row of the reminder ledger: a single send attempt,
// successful or not. Rows are append-only and never mutated; the set of rows
// for an invoice is the source of truth for tier progression and daily dedup.
type ReminderRecord struct {
	ID           uuid.UUID `json:"id"`
	InvoiceID    uuid.UUID `json:"invoice_id"`
	Tier         int       `json:"tier"`
	Recipient    string    `json:"recipient"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	SentAt       time.Time `json:"sent_at"`
	SentOn       time.Time `json:"sent_on"` // calendar date in the reporting timezone
}

// TenantSettings holds the per-tenant fields the reminder templates need.
type TenantSettings struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	CompanyName string    `json:"company_name"`
	SenderEmail string    `json:"sender_email"`
}
