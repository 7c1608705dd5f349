package workflow

import (
	"context"
	"errors"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
)

// Offers owns the offer state machine and the promotion of an accepted offer
// into a contract and deal.
type Offers struct {
	*deps
	listings  *Listings
	deals     *Deals
	contracts *Contracts
}

func (o *Offers) Submit(ctx context.Context, actor domain.Actor, listingID string, terms domain.OfferTerms) (domain.Offer, error) {
	if actor.UserType != domain.UserBuyer {
		return domain.Offer{}, domain.Forbidden("only buyers submit offers")
	}
	if err := terms.Validate(); err != nil {
		return domain.Offer{}, err
	}
	now := o.now()
	if terms.ExpiresAt != nil && !terms.ExpiresAt.After(now) {
		return domain.Offer{}, domain.Invalid("expires_at must be in the future")
	}
	lst, err := o.listings.Get(ctx, listingID)
	if err != nil {
		return domain.Offer{}, err
	}
	if lst.SellerID == actor.UserID {
		return domain.Offer{}, domain.Forbidden("sellers cannot make offers on their own listing")
	}
	if lst.Status != domain.ListingActive {
		return domain.Offer{}, domain.Conflict("listing", listingID, "listing is %s", lst.Status)
	}
	if terms.Quantity > lst.Quantity {
		return domain.Offer{}, domain.Invalid("quantity %d exceeds the %d available", terms.Quantity, lst.Quantity)
	}
	off := domain.Offer{
		ID:             newID("off_"),
		ListingID:      listingID,
		BuyerID:        actor.UserID,
		SellerID:       lst.SellerID,
		UnitPrice:      terms.UnitPrice,
		Quantity:       terms.Quantity,
		Notes:          terms.Notes,
		DeliveryWindow: terms.DeliveryWindow,
		Status:         domain.OfferPending,
		ExpiresAt:      terms.ExpiresAt,
		CreatedAt:      now,
	}
	if err := o.repo.CreateOffer(ctx, &off); err != nil {
		return domain.Offer{}, err
	}
	return off, nil
}

// Load returns an offer, expiring it if its deadline passed and
// re-synthesising the contract of an accepted offer whose promotion never
// wrote one.
func (o *Offers) Load(ctx context.Context, id string) (domain.Offer, error) {
	off, err := o.current(ctx, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if off.Status == domain.OfferAccepted {
		if _, err := o.repo.GetContract(ctx, ContractIDForOffer(off.ID)); errors.Is(err, domain.ErrNotFound) {
			if _, aerr := o.repo.GetArchivedContract(ctx, ContractIDForOffer(off.ID)); errors.Is(aerr, domain.ErrNotFound) {
				o.log.InfoContext(ctx, "accepted offer has no contract, resuming promotion", "offer_id", off.ID)
				o.promote(ctx, off)
			}
		}
	}
	return off, nil
}

// current loads an offer and applies a lapsed deadline.
func (o *Offers) current(ctx context.Context, id string) (domain.Offer, error) {
	off, err := o.repo.GetOffer(ctx, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if !off.ExpiredAt(o.now()) {
		return off, nil
	}
	if err := off.Decide(domain.OfferExpire, o.now()); err != nil {
		return domain.Offer{}, err
	}
	if err := o.repo.UpdateOffer(ctx, &off); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return o.repo.GetOffer(ctx, id)
		}
		return domain.Offer{}, err
	}
	o.log.InfoContext(ctx, "offer expired", "offer_id", id)
	return off, nil
}

// Peek returns an offer as stored, without applying expiry or repairs.
func (o *Offers) Peek(ctx context.Context, id string) (domain.Offer, error) {
	return o.repo.GetOffer(ctx, id)
}

func (o *Offers) decidable(ctx context.Context, actor domain.Actor, id string) (domain.Offer, error) {
	stored, err := o.Peek(ctx, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if actor.UserID != stored.SellerID && !actor.IsAdmin() {
		return domain.Offer{}, domain.Forbidden("only the listing's seller may decide an offer")
	}
	off, err := o.current(ctx, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if off.Status.Terminal() {
		return domain.Offer{}, domain.InvalidState("offer", id, "offer already %s", off.Status)
	}
	return off, nil
}

// Accept marks the offer accepted, which is the durable record that a
// contract, a deal and a listing update are owed, then performs those steps
// best-effort. Step failures are reported in the outcome's Drift.
func (o *Offers) Accept(ctx context.Context, actor domain.Actor, id string) (Outcome, error) {
	off, err := o.decidable(ctx, actor, id)
	if err != nil {
		return Outcome{}, err
	}
	lst, err := o.listings.Get(ctx, off.ListingID)
	if err != nil {
		return Outcome{}, err
	}
	if lst.Status != domain.ListingActive {
		return Outcome{}, domain.Conflict("listing", lst.ID, "listing is %s", lst.Status)
	}
	if off.Quantity > lst.Quantity {
		return Outcome{}, domain.Conflict("listing", lst.ID, "only %d left, offer wants %d", lst.Quantity, off.Quantity)
	}
	if err := off.Decide(domain.OfferAccept, o.now()); err != nil {
		return Outcome{}, err
	}
	if err := o.repo.UpdateOffer(ctx, &off); err != nil {
		return Outcome{}, err
	}
	o.log.InfoContext(ctx, "offer accepted", "offer_id", off.ID, "listing_id", off.ListingID, "actor_id", actor.UserID)
	return o.promote(ctx, off), nil
}

func (o *Offers) Reject(ctx context.Context, actor domain.Actor, id string) (domain.Offer, error) {
	off, err := o.decidable(ctx, actor, id)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := off.Decide(domain.OfferReject, o.now()); err != nil {
		return domain.Offer{}, err
	}
	if err := o.repo.UpdateOffer(ctx, &off); err != nil {
		return domain.Offer{}, err
	}
	o.log.InfoContext(ctx, "offer rejected", "offer_id", off.ID, "actor_id", actor.UserID)
	return off, nil
}

// promote performs the steps owed by an accepted offer: contract, deal,
// listing. Nothing is undone when a later step fails.
func (o *Offers) promote(ctx context.Context, off domain.Offer) Outcome {
	out := Outcome{Offer: &off}
	attrs := []any{"offer_id", off.ID, "listing_id", off.ListingID}

	lst, err := o.listings.Get(ctx, off.ListingID)
	if err != nil {
		out.Drift = append(out.Drift, o.drift(ctx, StepCreateContract, err, attrs...))
		return out
	}
	ctr, archived, err := o.contracts.ensureForOffer(ctx, off, lst)
	if err != nil {
		out.Drift = append(out.Drift, o.drift(ctx, StepCreateContract, err, attrs...))
		return out
	}
	out.Contract = &ctr
	if archived {
		out.Archived = true
		return out
	}
	attrs = append(attrs, "contract_id", ctr.ID)
	if !lst.Reflects(ctr.ID) && unfillable(lst, ctr.Quantity) {
		voided := o.contracts.voidUnfillable(ctx, ctr, lst)
		voided.Offer = &off
		return voided
	}

	dealID := DealIDForContract(ctr.ID)
	deal, _, err := o.deals.RecordIfAbsent(ctx, domain.DealTermsFor(ctr), domain.StepAwaitingSignatures)
	if err != nil {
		out.Drift = append(out.Drift, o.drift(ctx, StepRecordDeal, err, attrs...))
	} else {
		dealID = deal.ID
		out.Deal = &deal
	}

	updated, err := o.listings.ReserveForOffer(ctx, ctr, dealID)
	if err != nil {
		out.Drift = append(out.Drift, o.drift(ctx, StepListing, err, attrs...))
	} else {
		out.Listing = &updated
	}
	return out
}
