package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/canonhash"
	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/render"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/store"
)

// Contracts owns signature collection, the contract state machine and
// archival. Live contracts are actionable; terminal ones belong in the
// archive collection.
type Contracts struct {
	*deps
	listings *Listings
	deals    *Deals
}

// ContractView is a contract as returned to readers, live or archived.
type ContractView struct {
	domain.Contract
	Archived             bool                 `json:"archived"`
	ArchiveReason        domain.ArchiveReason `json:"archive_reason,omitempty"`
	ArchivedAt           *time.Time           `json:"archived_at,omitempty"`
	SellerContactVisible bool                 `json:"seller_contact_visible"`
}

func liveView(c domain.Contract) ContractView {
	return ContractView{Contract: c, SellerContactVisible: c.SellerContactVisible()}
}

func archivedView(a domain.ArchivedContract) ContractView {
	at := a.ArchivedAt
	return ContractView{
		Contract:             a.Contract,
		Archived:             true,
		ArchiveReason:        a.Reason,
		ArchivedAt:           &at,
		SellerContactVisible: a.Contract.SellerContactVisible(),
	}
}

type DirectPurchase struct {
	// Quantity defaults to everything the listing has left.
	Quantity       int    `json:"quantity"`
	Notes          string `json:"notes"`
	DeliveryWindow string `json:"delivery_window"`
}

type SignatureInput struct {
	Payload string                `json:"signature"`
	Device  domain.DeviceMetadata `json:"device"`
}

type contractDraft struct {
	id             string
	listing        domain.Listing
	buyerID        string
	sellerID       string
	offerID        string
	quantity       int
	unitPrice      decimal.Decimal
	notes          string
	deliveryWindow string
}

// signedTerms is what a signature commits to.
type signedTerms struct {
	ContractID string          `json:"contract_id"`
	ListingID  string          `json:"listing_id"`
	OfferID    string          `json:"offer_id,omitempty"`
	BuyerID    string          `json:"buyer_id"`
	SellerID   string          `json:"seller_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalValue decimal.Decimal `json:"total_value"`
	TextHash   string          `json:"text_hash"`
}

func (c *Contracts) draft(d contractDraft) (domain.Contract, error) {
	now := c.now()
	ctr := domain.Contract{
		ID:        d.id,
		ListingID: d.listing.ID,
		BuyerID:   d.buyerID,
		SellerID:  d.sellerID,
		OfferID:   d.offerID,
		Quantity:  d.quantity,
		UnitPrice: d.unitPrice,
		Status:    domain.ContractPendingBuyerSignature,
		CreatedAt: now,
	}
	ctr.TotalValue = ctr.Terms().Total()
	ctr.Text = render.ContractText(render.Terms{
		ContractID:     ctr.ID,
		ListingID:      ctr.ListingID,
		ListingTitle:   d.listing.Title,
		OfferID:        ctr.OfferID,
		BuyerID:        ctr.BuyerID,
		SellerID:       ctr.SellerID,
		Quantity:       ctr.Quantity,
		UnitPrice:      ctr.UnitPrice,
		DeliveryWindow: d.deliveryWindow,
		Notes:          d.notes,
		Date:           now,
	})
	ctr.TextHash = render.HashRendered(ctr.Text)
	h, _, err := canonhash.SumObject(signedTerms{
		ContractID: ctr.ID,
		ListingID:  ctr.ListingID,
		OfferID:    ctr.OfferID,
		BuyerID:    ctr.BuyerID,
		SellerID:   ctr.SellerID,
		Quantity:   ctr.Quantity,
		UnitPrice:  ctr.UnitPrice,
		TotalValue: ctr.TotalValue,
		TextHash:   ctr.TextHash,
	})
	if err != nil {
		return domain.Contract{}, err
	}
	ctr.TermsHash = h
	return ctr, nil
}

// CreateDirect starts a direct purchase. The listing is bound first; if the
// contract cannot be written afterwards the binding is released again.
func (c *Contracts) CreateDirect(ctx context.Context, actor domain.Actor, listingID string, in DirectPurchase) (domain.Contract, error) {
	if actor.UserType != domain.UserBuyer {
		return domain.Contract{}, domain.Forbidden("only buyers purchase listings")
	}
	lst, err := c.listings.Get(ctx, listingID)
	if err != nil {
		return domain.Contract{}, err
	}
	if lst.SellerID == actor.UserID {
		return domain.Contract{}, domain.Forbidden("sellers cannot purchase their own listing")
	}
	qty := in.Quantity
	if qty == 0 {
		qty = lst.Quantity
	}
	if qty <= 0 {
		return domain.Contract{}, domain.Conflict("listing", listingID, "nothing left to purchase")
	}
	if qty > lst.Quantity {
		return domain.Contract{}, domain.Invalid("quantity %d exceeds the %d available", qty, lst.Quantity)
	}
	ctr, err := c.draft(contractDraft{
		id:             newID("ctr_"),
		listing:        lst,
		buyerID:        actor.UserID,
		sellerID:       lst.SellerID,
		quantity:       qty,
		unitPrice:      lst.UnitPrice,
		notes:          in.Notes,
		deliveryWindow: in.DeliveryWindow,
	})
	if err != nil {
		return domain.Contract{}, err
	}
	if _, err := c.listings.BindToContract(ctx, listingID, ctr.ID); err != nil {
		return domain.Contract{}, err
	}
	if err := c.repo.CreateContract(ctx, &ctr); err != nil {
		if _, rerr := c.listings.Release(ctx, listingID, ctr.ID); rerr != nil {
			c.log.ErrorContext(ctx, "listing left bound to unwritten contract",
				"listing_id", listingID, "contract_id", ctr.ID, "error", rerr)
		}
		return domain.Contract{}, err
	}
	c.log.InfoContext(ctx, "contract created", "contract_id", ctr.ID, "listing_id", listingID, "buyer_id", actor.UserID)
	return ctr, nil
}

// ensureForOffer returns the contract of an accepted offer, writing it under
// the offer's deterministic id when neither a live nor an archived copy
// exists.
func (c *Contracts) ensureForOffer(ctx context.Context, o domain.Offer, lst domain.Listing) (ctr domain.Contract, archived bool, err error) {
	id := ContractIDForOffer(o.ID)
	ctr, err = c.repo.GetContract(ctx, id)
	if err == nil {
		return ctr, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Contract{}, false, err
	}
	a, err := c.repo.GetArchivedContract(ctx, id)
	if err == nil {
		return a.Contract, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Contract{}, false, err
	}
	ctr, err = c.draft(contractDraft{
		id:             id,
		listing:        lst,
		buyerID:        o.BuyerID,
		sellerID:       o.SellerID,
		offerID:        o.ID,
		quantity:       o.Quantity,
		unitPrice:      o.UnitPrice,
		notes:          o.Notes,
		deliveryWindow: o.DeliveryWindow,
	})
	if err != nil {
		return domain.Contract{}, false, err
	}
	if err := c.repo.CreateContract(ctx, &ctr); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			ctr, err = c.repo.GetContract(ctx, id)
			return ctr, false, err
		}
		return domain.Contract{}, false, err
	}
	return ctr, false, nil
}

// Peek returns a live or archived contract as stored, without reconciling.
func (c *Contracts) Peek(ctx context.Context, id string) (domain.Contract, error) {
	ctr, err := c.repo.GetContract(ctx, id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return ctr, err
	}
	a, aerr := c.repo.GetArchivedContract(ctx, id)
	if aerr != nil {
		return domain.Contract{}, aerr
	}
	return a.Contract, nil
}

// live loads an actionable contract, reconciling it first. A contract that is
// archived, or becomes archived by the reconciliation, fails with an
// invalid-state error.
func (c *Contracts) live(ctx context.Context, id string) (domain.Contract, Outcome, error) {
	ctr, err := c.repo.GetContract(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Contract{}, Outcome{}, err
		}
		a, aerr := c.repo.GetArchivedContract(ctx, id)
		if aerr != nil {
			return domain.Contract{}, Outcome{}, err
		}
		return domain.Contract{}, Outcome{}, domain.InvalidState("contract", id, "contract is %s and archived", a.Status)
	}
	rep := c.Reconcile(ctx, ctr)
	if rep.Archived {
		return domain.Contract{}, rep, domain.InvalidState("contract", id, "contract is %s and archived", rep.Contract.Status)
	}
	return *rep.Contract, rep, nil
}

// signable loads a contract for a signature. An accepted offer's contract is
// only signable once its listing reservation is in place; until then the
// listing may be held by a competing contract.
func (c *Contracts) signable(ctx context.Context, id string) (domain.Contract, error) {
	ctr, rep, err := c.live(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	if ctr.FromOffer() {
		for _, d := range rep.Drift {
			if d.Step == StepListing {
				return domain.Contract{}, domain.Conflict("contract", id, "listing reservation not in place: %v", d.Err)
			}
		}
	}
	return ctr, nil
}

// Load returns a contract for display, repairing any drift left by an
// earlier partial transition. Archived contracts are returned as stored.
func (c *Contracts) Load(ctx context.Context, id string) (ContractView, error) {
	ctr, err := c.repo.GetContract(ctx, id)
	if err == nil {
		rep := c.Reconcile(ctx, ctr)
		if !rep.Archived {
			return liveView(*rep.Contract), nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return ContractView{}, err
	}
	a, err := c.repo.GetArchivedContract(ctx, id)
	if err != nil {
		return ContractView{}, err
	}
	return archivedView(a), nil
}

func (c *Contracts) SignAsBuyer(ctx context.Context, actor domain.Actor, contractID string, in SignatureInput) (domain.Contract, error) {
	if strings.TrimSpace(in.Payload) == "" {
		return domain.Contract{}, domain.Invalid("signature payload is required")
	}
	stored, err := c.Peek(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	if actor.UserID != stored.BuyerID {
		return domain.Contract{}, domain.Forbidden("only the buyer may sign as buyer")
	}
	ctr, err := c.signable(ctx, contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	sig := domain.Signature{Payload: in.Payload, SignedAt: c.now(), Device: in.Device, TermsHash: ctr.TermsHash}
	if err := ctr.ApplyBuyerSignature(sig); err != nil {
		return domain.Contract{}, err
	}
	if err := c.repo.UpdateContract(ctx, &ctr); err != nil {
		return domain.Contract{}, err
	}
	c.log.InfoContext(ctx, "buyer signed", "contract_id", ctr.ID, "buyer_id", actor.UserID)
	return ctr, nil
}

// SignAsSeller records the countersignature and then completes the sale:
// deal, listing, archive. The signature write is the only step whose failure
// is returned.
func (c *Contracts) SignAsSeller(ctx context.Context, actor domain.Actor, contractID string, in SignatureInput) (Outcome, error) {
	if strings.TrimSpace(in.Payload) == "" {
		return Outcome{}, domain.Invalid("signature payload is required")
	}
	stored, err := c.Peek(ctx, contractID)
	if err != nil {
		return Outcome{}, err
	}
	if actor.UserID != stored.SellerID {
		return Outcome{}, domain.Forbidden("only the seller may sign as seller")
	}
	ctr, err := c.signable(ctx, contractID)
	if err != nil {
		return Outcome{}, err
	}
	sig := domain.Signature{Payload: in.Payload, SignedAt: c.now(), Device: in.Device, TermsHash: ctr.TermsHash}
	if err := ctr.ApplySellerSignature(sig); err != nil {
		return Outcome{}, err
	}
	if err := c.repo.UpdateContract(ctx, &ctr); err != nil {
		return Outcome{}, err
	}
	c.log.InfoContext(ctx, "seller signed", "contract_id", ctr.ID, "seller_id", actor.UserID)
	return c.complete(ctx, ctr), nil
}

// Cancel ends a contract before both signatures exist. The cancelled status
// is written to the live copy first; archival and the listing release follow.
func (c *Contracts) Cancel(ctx context.Context, actor domain.Actor, contractID string) (Outcome, error) {
	stored, err := c.Peek(ctx, contractID)
	if err != nil {
		return Outcome{}, err
	}
	var reason domain.ArchiveReason
	switch {
	case actor.UserID == stored.BuyerID:
		reason = domain.CancelReasonFor(domain.UserBuyer)
	case actor.UserID == stored.SellerID:
		reason = domain.CancelReasonFor(domain.UserSeller)
	case actor.IsAdmin():
		reason = domain.CancelReasonFor(domain.UserAdmin)
	default:
		return Outcome{}, domain.Forbidden("only the contract parties or an admin may cancel")
	}
	ctr, _, err := c.live(ctx, contractID)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctr.ApplyCancel(reason, c.now()); err != nil {
		return Outcome{}, err
	}
	if err := c.repo.UpdateContract(ctx, &ctr); err != nil {
		return Outcome{}, err
	}
	c.log.InfoContext(ctx, "contract cancelled", "contract_id", ctr.ID, "reason", string(reason), "actor_id", actor.UserID)
	return c.finishCancel(ctx, ctr), nil
}

// PendingFor lists the live contracts waiting on the actor's signature.
// Admins see every contract waiting on anyone.
func (c *Contracts) PendingFor(ctx context.Context, actor domain.Actor) ([]domain.Contract, error) {
	switch actor.UserType {
	case domain.UserBuyer:
		return c.repo.FindContracts(ctx,
			store.Eq{Field: "buyer_id", Value: actor.UserID},
			store.Eq{Field: "status", Value: string(domain.ContractPendingBuyerSignature)})
	case domain.UserSeller:
		return c.repo.FindContracts(ctx,
			store.Eq{Field: "seller_id", Value: actor.UserID},
			store.Eq{Field: "status", Value: string(domain.ContractPendingSellerSignature)})
	case domain.UserAdmin:
		var out []domain.Contract
		for _, st := range []domain.ContractStatus{domain.ContractPendingBuyerSignature, domain.ContractPendingSellerSignature} {
			found, err := c.repo.FindContracts(ctx, store.Eq{Field: "status", Value: string(st)})
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
		return out, nil
	}
	return nil, domain.Forbidden("unknown user type %q", actor.UserType)
}

// complete runs the dependent steps of a both-signed contract. Each step is
// idempotent so the reconciler can call this again from any partial state.
func (c *Contracts) complete(ctx context.Context, ctr domain.Contract) Outcome {
	out := Outcome{Contract: &ctr}
	attrs := []any{"contract_id", ctr.ID, "listing_id", ctr.ListingID}

	dealID := DealIDForContract(ctr.ID)
	deal, _, err := c.deals.RecordIfAbsent(ctx, domain.DealTermsFor(ctr), domain.StepAwaitingPayment)
	if err != nil {
		out.Drift = append(out.Drift, c.drift(ctx, StepRecordDeal, err, attrs...))
	} else {
		dealID = deal.ID
		if adv, err := c.deals.advance(ctx, deal, domain.StepAwaitingSignatures, domain.StepAwaitingPayment); err != nil {
			out.Drift = append(out.Drift, c.drift(ctx, StepAdvanceDeal, err, attrs...))
		} else {
			deal = adv
		}
		out.Deal = &deal
	}

	lst, err := c.listings.Get(ctx, ctr.ListingID)
	if err == nil && !lst.Settled(ctr.ID) {
		lst, err = c.listings.FinalizeSale(ctx, ctr.ListingID, ctr.Quantity, ctr.ID, dealID)
	}
	if err != nil {
		out.Drift = append(out.Drift, c.drift(ctx, StepListing, err, attrs...))
	} else {
		out.Listing = &lst
	}

	c.retire(ctx, ctr, domain.ArchiveCompleted, &out)
	return out
}

// finishCancel runs the dependent steps of a cancelled contract.
func (c *Contracts) finishCancel(ctx context.Context, ctr domain.Contract) Outcome {
	out := Outcome{Contract: &ctr}
	attrs := []any{"contract_id", ctr.ID, "listing_id", ctr.ListingID}

	if lst, err := c.listings.Release(ctx, ctr.ListingID, ctr.ID); err != nil {
		out.Drift = append(out.Drift, c.drift(ctx, StepListing, err, attrs...))
	} else {
		out.Listing = &lst
	}
	if deal, err := c.deals.CancelForContract(ctx, ctr.ID); err != nil {
		out.Drift = append(out.Drift, c.drift(ctx, StepCancelDeal, err, attrs...))
	} else {
		out.Deal = deal
	}
	c.retire(ctx, ctr, ctr.ArchiveReason(), &out)
	return out
}

func (c *Contracts) archiveCopy(ctx context.Context, ctr domain.Contract, reason domain.ArchiveReason) error {
	return c.repo.ArchiveContract(ctx, domain.ArchivedContract{Contract: ctr, Reason: reason, ArchivedAt: c.now()})
}

// retire archives ctr and deletes the live copy. The live copy is kept
// whenever an earlier step drifted, so the reconciler can resume from it.
func (c *Contracts) retire(ctx context.Context, ctr domain.Contract, reason domain.ArchiveReason, out *Outcome) {
	attrs := []any{"contract_id", ctr.ID, "listing_id", ctr.ListingID}
	if err := c.archiveCopy(ctx, ctr, reason); err != nil {
		out.Drift = append(out.Drift, c.drift(ctx, StepArchive, err, attrs...))
		return
	}
	if len(out.Drift) > 0 {
		return
	}
	if err := c.repo.DeleteContract(ctx, ctr.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		out.Drift = append(out.Drift, c.drift(ctx, StepDeleteLive, err, attrs...))
		return
	}
	out.Archived = true
}
