// Package invoice creates and settles lightning invoices through a
// pluggable Provider, and applies the deferred effect encoded in an
// invoice's description once it is marked paid (spec §4.10).
package invoice

import "context"

// Provider issues and checks lightning invoices against one backend.
type Provider interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (paymentHash, paymentRequest string, err error)
	CheckSettled(ctx context.Context, paymentHash string) (bool, error)
}
