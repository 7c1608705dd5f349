package workflow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/store"
)

// Deals records the post-sale deal for a contract. The contract id is the
// de-duplication key; both the offer path and the signature path call
// RecordIfAbsent and whichever runs second finds the first one's deal.
type Deals struct {
	*deps
}

func (d *Deals) Get(ctx context.Context, id string) (domain.Deal, error) {
	return d.repo.GetDeal(ctx, id)
}

// ForContract returns the deal recorded for a contract, if any.
func (d *Deals) ForContract(ctx context.Context, contractID string) (domain.Deal, bool, error) {
	found, err := d.repo.FindDeals(ctx, store.Eq{Field: "contract_id", Value: contractID})
	if err != nil {
		return domain.Deal{}, false, err
	}
	if len(found) == 0 {
		return domain.Deal{}, false, nil
	}
	if len(found) > 1 {
		d.log.ErrorContext(ctx, "multiple deals for one contract", "contract_id", contractID, "count", len(found))
	}
	return found[0], true, nil
}

// RecordIfAbsent returns the existing deal for terms.ContractID or creates one
// in progress at the given step. created reports whether this call wrote it.
func (d *Deals) RecordIfAbsent(ctx context.Context, terms domain.DealTerms, step string) (deal domain.Deal, created bool, err error) {
	existing, ok, err := d.ForContract(ctx, terms.ContractID)
	if err != nil {
		return domain.Deal{}, false, err
	}
	if ok {
		return existing, false, nil
	}
	now := d.now()
	deal = domain.Deal{
		ID:               DealIDForContract(terms.ContractID),
		ContractID:       terms.ContractID,
		OfferID:          terms.OfferID,
		ListingID:        terms.ListingID,
		BuyerID:          terms.BuyerID,
		SellerID:         terms.SellerID,
		Quantity:         terms.Quantity,
		AgreedPrice:      terms.AgreedPrice,
		TotalValue:       terms.AgreedPrice.Mul(decimal.NewFromInt(int64(terms.Quantity))),
		Status:           domain.DealInProgress,
		CurrentStep:      step,
		ComplianceStatus: domain.ComplianceNotReviewed,
		PaymentStatus:    "pending",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := d.repo.CreateDeal(ctx, &deal); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			got, gerr := d.repo.GetDeal(ctx, deal.ID)
			return got, false, gerr
		}
		return domain.Deal{}, false, err
	}
	d.log.InfoContext(ctx, "deal recorded", "deal_id", deal.ID, "contract_id", deal.ContractID, "total_value", deal.TotalValue.String())
	return deal, true, nil
}

// advance moves an in-progress deal from one tracking step to the next. Any
// other starting point is left unchanged.
func (d *Deals) advance(ctx context.Context, deal domain.Deal, from, to string) (domain.Deal, error) {
	if deal.Status != domain.DealInProgress || deal.CurrentStep != from {
		return deal, nil
	}
	deal.CurrentStep = to
	deal.UpdatedAt = d.now()
	if err := d.repo.UpdateDeal(ctx, &deal); err != nil {
		return domain.Deal{}, err
	}
	return deal, nil
}

// CancelForContract cancels the in-progress deal of a cancelled contract.
// No deal, or one already past in_progress, is left as is.
func (d *Deals) CancelForContract(ctx context.Context, contractID string) (*domain.Deal, error) {
	deal, ok, err := d.ForContract(ctx, contractID)
	if err != nil || !ok {
		return nil, err
	}
	next, ok := deal.Status.Next(domain.DealCancel)
	if !ok {
		return &deal, nil
	}
	deal.Status = next
	deal.UpdatedAt = d.now()
	if err := d.repo.UpdateDeal(ctx, &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}
