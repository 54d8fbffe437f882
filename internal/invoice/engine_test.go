package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/types"
)

type fakeProvider struct {
	createHash string
	createReq  string
	settled    map[string]bool
}

func (p *fakeProvider) CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, string, error) {
	return p.createHash, "lnbc1...", nil
}

func (p *fakeProvider) CheckSettled(ctx context.Context, paymentHash string) (bool, error) {
	return p.settled[paymentHash], nil
}

type fakeInvoiceRepo struct {
	byID map[int64]*types.Invoice
	next int64
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{byID: make(map[int64]*types.Invoice)}
}

func (r *fakeInvoiceRepo) Insert(ctx context.Context, uuid string, source types.InvoiceSource, description string, amountSats int64, paymentHash, paymentRequest string) (*types.Invoice, error) {
	r.next++
	inv := &types.Invoice{
		ID:             r.next,
		UUID:           uuid,
		Source:         source,
		Description:    description,
		AmountSats:     amountSats,
		PaymentHash:    paymentHash,
		PaymentRequest: paymentRequest,
		Status:         types.InvoiceUnpaid,
		CreatedAt:      time.Now().UTC(),
	}
	r.byID[inv.ID] = inv
	return inv, nil
}

func (r *fakeInvoiceRepo) SelectUnpaid(ctx context.Context) ([]*types.Invoice, error) {
	var out []*types.Invoice
	for _, inv := range r.byID {
		if inv.Status == types.InvoiceUnpaid {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *fakeInvoiceRepo) MarkPaid(ctx context.Context, id int64) (bool, error) {
	inv, ok := r.byID[id]
	if !ok || inv.Status != types.InvoiceUnpaid {
		return false, nil
	}
	inv.Status = types.InvoicePaid
	return true, nil
}

type fakeElements struct {
	tags map[int64]string
}

func (f *fakeElements) SelectByID(ctx context.Context, id int64) (*types.Element, error) {
	return &types.Element{ID: id, Tags: f.tags[id]}, nil
}

func (f *fakeElements) SetTags(ctx context.Context, id int64, tags string) error {
	f.tags[id] = tags
	return nil
}

type fakeComments struct {
	published map[int64]bool
	elementID int64
}

func (f *fakeComments) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	f.published[id] = at == nil
	return nil
}

func (f *fakeComments) SelectByID(ctx context.Context, id int64) (*types.ElementComment, error) {
	return &types.ElementComment{ID: id, ElementID: f.elementID}, nil
}

func (f *fakeComments) CountLiveByElementID(ctx context.Context, elementID int64) (int, error) {
	count := 0
	for _, published := range f.published {
		if published {
			count++
		}
	}
	return count, nil
}

func TestEngineCreatePersistsUnpaidInvoice(t *testing.T) {
	invoices := newFakeInvoiceRepo()
	engine := NewEngine(&fakeProvider{createHash: "hash1"}, types.InvoiceSourceLnbits, invoices, &fakeElements{tags: map[int64]string{}}, &fakeComments{published: map[int64]bool{}}, logging.Nop(), time.Hour)

	inv, err := engine.Create(context.Background(), 1000, "element_boost:7:30")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.Status != types.InvoiceUnpaid || inv.PaymentHash != "hash1" {
		t.Fatalf("got %+v", inv)
	}
}

func TestEnginePollUnpaidAppliesBoostEffectOnce(t *testing.T) {
	invoices := newFakeInvoiceRepo()
	provider := &fakeProvider{createHash: "hash2", settled: map[string]bool{"hash2": true}}
	elements := &fakeElements{tags: map[int64]string{7: `{}`}}
	engine := NewEngine(provider, types.InvoiceSourceLnbits, invoices, elements, &fakeComments{published: map[int64]bool{}}, logging.Nop(), time.Hour)

	inv, err := engine.Create(context.Background(), 1000, "element_boost:7:30")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := engine.PollUnpaid(context.Background()); err != nil {
		t.Fatalf("PollUnpaid: %v", err)
	}
	if invoices.byID[inv.ID].Status != types.InvoicePaid {
		t.Fatalf("invoice not marked paid")
	}
	if elements.tags[7] == `{}` {
		t.Fatalf("boost effect was not applied")
	}

	// Second poll must not reapply the effect: nothing left unpaid.
	tagsAfterFirst := elements.tags[7]
	if err := engine.PollUnpaid(context.Background()); err != nil {
		t.Fatalf("second PollUnpaid: %v", err)
	}
	if elements.tags[7] != tagsAfterFirst {
		t.Fatalf("effect reapplied on already-paid invoice")
	}
}

func TestEnginePollUnpaidAppliesCommentPublishEffect(t *testing.T) {
	invoices := newFakeInvoiceRepo()
	provider := &fakeProvider{createHash: "hash3", settled: map[string]bool{"hash3": true}}
	comments := &fakeComments{published: map[int64]bool{}}
	engine := NewEngine(provider, types.InvoiceSourceLnbits, invoices, &fakeElements{tags: map[int64]string{}}, comments, logging.Nop(), time.Hour)

	if _, err := engine.Create(context.Background(), 500, "element_comment:99:publish"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := engine.PollUnpaid(context.Background()); err != nil {
		t.Fatalf("PollUnpaid: %v", err)
	}
	if !comments.published[99] {
		t.Fatalf("comment 99 was not published")
	}
}

func TestEnginePollUnpaidSkipsInvoicesOlderThanMaxAge(t *testing.T) {
	invoices := newFakeInvoiceRepo()
	provider := &fakeProvider{createHash: "hash4", settled: map[string]bool{"hash4": true}}
	engine := NewEngine(provider, types.InvoiceSourceLnbits, invoices, &fakeElements{tags: map[int64]string{}}, &fakeComments{published: map[int64]bool{}}, logging.Nop(), time.Hour)

	inv, err := engine.Create(context.Background(), 500, "element_boost:1:1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	invoices.byID[inv.ID].CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	if err := engine.PollUnpaid(context.Background()); err != nil {
		t.Fatalf("PollUnpaid: %v", err)
	}
	if invoices.byID[inv.ID].Status != types.InvoiceUnpaid {
		t.Fatalf("stale invoice should not have been checked")
	}
}
