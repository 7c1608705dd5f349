package workflow

import (
	"context"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
)

// Reconcile repairs cross-entity drift around a live contract. It only moves
// things forward: deals are recorded through RecordIfAbsent, and listings are
// changed only when they do not already reflect the contract.
//
//   - both signatures present: finish the completion (deal, listing, archive)
//   - cancelled: finish the cancellation (archive, release, deal)
//   - awaiting signatures on the offer path: make sure the deal and the
//     listing reservation written at acceptance exist, or cancel the contract
//     when the listing can no longer fill it
func (c *Contracts) Reconcile(ctx context.Context, ctr domain.Contract) Outcome {
	switch {
	case ctr.BothSigned() || ctr.Status == domain.ContractBothSigned:
		c.log.InfoContext(ctx, "reconciling completed contract still live", "contract_id", ctr.ID)
		return c.complete(ctx, ctr)
	case ctr.Status == domain.ContractCancelled:
		c.log.InfoContext(ctx, "reconciling cancelled contract still live", "contract_id", ctr.ID)
		return c.finishCancel(ctx, ctr)
	case ctr.FromOffer():
		return c.reconcileAccepted(ctx, ctr)
	}
	return Outcome{Contract: &ctr}
}

func (c *Contracts) reconcileAccepted(ctx context.Context, ctr domain.Contract) Outcome {
	out := Outcome{Contract: &ctr}
	attrs := []any{"contract_id", ctr.ID, "offer_id", ctr.OfferID, "listing_id", ctr.ListingID}

	before, lerr := c.listings.Get(ctx, ctr.ListingID)
	if lerr == nil && !before.Reflects(ctr.ID) && unfillable(before, ctr.Quantity) {
		return c.voidUnfillable(ctx, ctr, before)
	}

	dealID := DealIDForContract(ctr.ID)
	deal, created, err := c.deals.RecordIfAbsent(ctx, domain.DealTermsFor(ctr), domain.StepAwaitingSignatures)
	if err != nil {
		out.Drift = append(out.Drift, c.drift(ctx, StepRecordDeal, err, attrs...))
	} else {
		if created {
			c.log.InfoContext(ctx, "repaired missing deal for accepted offer", attrs...)
		}
		dealID = deal.ID
		out.Deal = &deal
	}

	err = lerr
	if err == nil && !before.Reflects(ctr.ID) {
		var lst domain.Listing
		lst, err = c.listings.ReserveForOffer(ctx, ctr, dealID)
		if err == nil {
			c.log.InfoContext(ctx, "repaired listing for accepted offer", append(attrs, "status", string(lst.Status), "quantity", lst.Quantity)...)
			before = lst
		}
	}
	if err != nil {
		out.Drift = append(out.Drift, c.drift(ctx, StepListing, err, attrs...))
	} else {
		out.Listing = &before
	}
	return out
}

// voidUnfillable cancels an accepted offer's contract whose listing was sold,
// withdrawn or reduced below the offer's quantity before the reservation
// landed. The contract can never complete, so it is archived as
// listing_unavailable along with its deal.
func (c *Contracts) voidUnfillable(ctx context.Context, ctr domain.Contract, lst domain.Listing) Outcome {
	c.log.WarnContext(ctx, "accepted offer can no longer be filled, cancelling contract",
		"contract_id", ctr.ID, "offer_id", ctr.OfferID, "listing_id", lst.ID,
		"listing_status", string(lst.Status), "listing_quantity", lst.Quantity, "quantity", ctr.Quantity)
	if err := ctr.ApplyCancel(domain.ArchiveListingUnavailable, c.now()); err != nil {
		return Outcome{Contract: &ctr, Drift: []Drift{c.drift(ctx, StepCancelContract, err, "contract_id", ctr.ID)}}
	}
	if err := c.repo.UpdateContract(ctx, &ctr); err != nil {
		return Outcome{Contract: &ctr, Drift: []Drift{c.drift(ctx, StepCancelContract, err, "contract_id", ctr.ID)}}
	}
	return c.finishCancel(ctx, ctr)
}
