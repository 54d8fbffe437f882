package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/btcmap/btcmap-api/internal/annotate"
	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/types"
)

// InvoiceRepo is the subset of InvoiceRepo the engine needs.
type InvoiceRepo interface {
	Insert(ctx context.Context, uuid string, source types.InvoiceSource, description string, amountSats int64, paymentHash, paymentRequest string) (*types.Invoice, error)
	SelectUnpaid(ctx context.Context) ([]*types.Invoice, error)
	MarkPaid(ctx context.Context, id int64) (bool, error)
}

// CommentPublisher is the subset of ElementCommentRepo the engine needs to
// apply an element_comment:publish effect.
type CommentPublisher interface {
	SetDeletedAt(ctx context.Context, id int64, at *time.Time) error
	SelectByID(ctx context.Context, id int64) (*types.ElementComment, error)
	CountLiveByElementID(ctx context.Context, elementID int64) (int, error)
}

// Engine creates invoices against a Provider and polls them to
// settlement, applying each invoice's deferred effect exactly once.
type Engine struct {
	provider     Provider
	source       types.InvoiceSource
	invoices     InvoiceRepo
	elements     annotate.ElementRepo
	comments     CommentPublisher
	log          logging.Logger
	unpaidMaxAge time.Duration
}

// NewEngine builds an invoice Engine. unpaidMaxAge bounds how old an
// unpaid invoice can be before PollUnpaid stops checking it (spec §4.10:
// "selects unpaid invoices younger than 1 hour").
func NewEngine(provider Provider, source types.InvoiceSource, invoices InvoiceRepo, elements annotate.ElementRepo, comments CommentPublisher, log logging.Logger, unpaidMaxAge time.Duration) *Engine {
	if unpaidMaxAge <= 0 {
		unpaidMaxAge = time.Hour
	}
	return &Engine{
		provider:     provider,
		source:       source,
		invoices:     invoices,
		elements:     elements,
		comments:     comments,
		log:          log,
		unpaidMaxAge: unpaidMaxAge,
	}
}

// Create requests a fresh invoice from the provider and persists it
// unpaid. description encodes the deferred effect to apply once paid.
func (e *Engine) Create(ctx context.Context, amountSats int64, description string) (*types.Invoice, error) {
	paymentHash, paymentRequest, err := e.provider.CreateInvoice(ctx, amountSats, description)
	if err != nil {
		return nil, fmt.Errorf("requesting invoice from provider: %w", err)
	}

	inv, err := e.invoices.Insert(ctx, uuid.NewString(), e.source, description, amountSats, paymentHash, paymentRequest)
	if err != nil {
		return nil, fmt.Errorf("persisting invoice: %w", err)
	}
	return inv, nil
}

// PollUnpaid checks every unpaid invoice younger than unpaidMaxAge against
// the provider, flips settled ones to paid, and applies their deferred
// effect. Each invoice is handled independently; one failure does not
// abort the rest.
func (e *Engine) PollUnpaid(ctx context.Context) error {
	unpaid, err := e.invoices.SelectUnpaid(ctx)
	if err != nil {
		return fmt.Errorf("loading unpaid invoices: %w", err)
	}

	cutoff := time.Now().UTC().Add(-e.unpaidMaxAge)
	for _, inv := range unpaid {
		if inv.CreatedAt.Before(cutoff) {
			continue
		}
		if err := e.pollOne(ctx, inv); err != nil {
			e.log.Error("polling invoice failed", "invoice_id", inv.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) pollOne(ctx context.Context, inv *types.Invoice) error {
	settled, err := e.provider.CheckSettled(ctx, inv.PaymentHash)
	if err != nil {
		return fmt.Errorf("checking settlement for invoice %d: %w", inv.ID, err)
	}
	if !settled {
		return nil
	}

	flipped, err := e.invoices.MarkPaid(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("marking invoice %d paid: %w", inv.ID, err)
	}
	if !flipped {
		// A concurrent poll already flipped this invoice; skip the effect.
		return nil
	}

	e.applyEffect(ctx, inv)
	return nil
}

func (e *Engine) applyEffect(ctx context.Context, inv *types.Invoice) {
	effect := ParseDescription(inv.Description)
	switch effect.Kind {
	case EffectElementCommentPublish:
		if err := e.comments.SetDeletedAt(ctx, effect.TargetID, nil); err != nil {
			e.log.Error("publishing comment effect failed", "invoice_id", inv.ID, "comment_id", effect.TargetID, "error", err)
			return
		}
		comment, err := e.comments.SelectByID(ctx, effect.TargetID)
		if err != nil {
			e.log.Error("loading published comment failed", "invoice_id", inv.ID, "comment_id", effect.TargetID, "error", err)
			return
		}
		if err := annotate.RefreshCommentCount(ctx, e.elements, e.comments, comment.ElementID); err != nil {
			e.log.Error("refreshing comment count failed", "invoice_id", inv.ID, "element_id", comment.ElementID, "error", err)
		}
	case EffectElementBoost:
		if err := annotate.ApplyBoost(ctx, e.elements, effect.TargetID, effect.Days, time.Now().UTC()); err != nil {
			e.log.Error("applying boost effect failed", "invoice_id", inv.ID, "element_id", effect.TargetID, "error", err)
		}
	default:
		e.log.Warn("invoice paid with unparseable description", "invoice_id", inv.ID, "description", inv.Description)
	}
}
