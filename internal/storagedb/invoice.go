package storagedb

import (
	"context"
	"database/sql"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// InvoiceRepo is the typed repository for lightning invoices (spec §4.9).
type InvoiceRepo struct{ db *sql.DB }

// NewInvoiceRepo builds an InvoiceRepo backed by db.
func NewInvoiceRepo(db *sql.DB) *InvoiceRepo { return &InvoiceRepo{db: db} }

const invoiceColumns = "id, uuid, source, description, amount_sats, payment_hash, payment_request, status, created_at, updated_at, deleted_at"

func scanInvoice(row interface{ Scan(...any) error }) (*types.Invoice, error) {
	var inv types.Invoice
	if err := row.Scan(&inv.ID, &inv.UUID, &inv.Source, &inv.Description, &inv.AmountSats,
		&inv.PaymentHash, &inv.PaymentRequest, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt, &inv.DeletedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Insert creates a new unpaid invoice. uuid must be globally unique (spec
// generates it with google/uuid before calling a provider).
func (r *InvoiceRepo) Insert(ctx context.Context, uuid string, source types.InvoiceSource, description string, amountSats int64, paymentHash, paymentRequest string) (*types.Invoice, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO invoice (uuid, source, description, amount_sats, payment_hash, payment_request)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid, string(source), description, amountSats, paymentHash, paymentRequest)
	if err != nil {
		return nil, apperr.Wrap(classifyUnique(err), "inserting invoice %s", uuid)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Internal(err, "reading inserted invoice id")
	}
	return r.SelectByID(ctx, id)
}

// SelectByID fetches one invoice by id.
func (r *InvoiceRepo) SelectByID(ctx context.Context, id int64) (*types.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoice WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invoice %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting invoice %d", id)
	}
	return inv, nil
}

// SelectByUUID fetches one invoice by its public uuid.
func (r *InvoiceRepo) SelectByUUID(ctx context.Context, uuid string) (*types.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoice WHERE uuid = ?`, uuid)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invoice %s not found", uuid)
	}
	if err != nil {
		return nil, apperr.Internal(err, "selecting invoice %s", uuid)
	}
	return inv, nil
}

// SelectUnpaid returns every invoice still awaiting settlement, polled by
// the invoice engine's background job.
func (r *InvoiceRepo) SelectUnpaid(ctx context.Context) ([]*types.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoice WHERE status = 'unpaid' ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.Internal(err, "selecting unpaid invoices")
	}
	defer rows.Close()
	var out []*types.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scanning invoice")
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MarkPaid flips status unpaid->paid, scoped by the affected-rows check so
// a concurrent poller applies the deferred effect exactly once.
func (r *InvoiceRepo) MarkPaid(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invoice SET status = 'paid', updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'unpaid'`, id)
	if err != nil {
		return false, apperr.Internal(err, "marking invoice %d paid", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Internal(err, "checking rows affected for invoice %d", id)
	}
	return n == 1, nil
}
