package workflow

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
)

// Listings owns the listing state machine. Other managers only ever change a
// listing through these methods.
type Listings struct {
	*deps
}

type NewListing struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Media       []string        `json:"media"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (n NewListing) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return domain.Invalid("title is required")
	}
	if n.Quantity <= 0 {
		return domain.Invalid("quantity must be positive")
	}
	if !n.UnitPrice.IsPositive() {
		return domain.Invalid("unit_price must be positive")
	}
	return nil
}

// Create records a seller submission awaiting moderation.
func (l *Listings) Create(ctx context.Context, actor domain.Actor, in NewListing) (domain.Listing, error) {
	if actor.UserType != domain.UserSeller {
		return domain.Listing{}, domain.Forbidden("only sellers create listings")
	}
	if err := in.Validate(); err != nil {
		return domain.Listing{}, err
	}
	now := l.now()
	lst := domain.Listing{
		ID:          newID("lst_"),
		SellerID:    actor.UserID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Media:       in.Media,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		Status:      domain.ListingPendingVerification,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.repo.CreateListing(ctx, &lst); err != nil {
		return domain.Listing{}, err
	}
	return lst, nil
}

func (l *Listings) Get(ctx context.Context, id string) (domain.Listing, error) {
	return l.repo.GetListing(ctx, id)
}

func (l *Listings) Approve(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	return l.moderate(ctx, actor, id, domain.ListingApprove)
}

func (l *Listings) Reject(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	return l.moderate(ctx, actor, id, domain.ListingReject)
}

func (l *Listings) moderate(ctx context.Context, actor domain.Actor, id string, ev domain.ListingEvent) (domain.Listing, error) {
	if !actor.IsAdmin() {
		return domain.Listing{}, domain.Forbidden("listing moderation requires admin")
	}
	lst, err := l.repo.GetListing(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	next, ok := lst.Status.Next(ev)
	if !ok {
		return domain.Listing{}, domain.InvalidState("listing", id, "cannot %s while %s", ev, lst.Status)
	}
	lst.Status = next
	lst.UpdatedAt = l.now()
	if err := l.repo.UpdateListing(ctx, &lst); err != nil {
		return domain.Listing{}, err
	}
	l.log.InfoContext(ctx, "listing moderated", "listing_id", id, "event", string(ev), "status", string(next), "actor_id", actor.UserID)
	return lst, nil
}

// BindToContract reserves an active listing for one live contract. Binding a
// listing to the contract it is already bound to is a no-op.
func (l *Listings) BindToContract(ctx context.Context, listingID, contractID string) (domain.Listing, error) {
	lst, err := l.repo.GetListing(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if lst.BoundTo(contractID) {
		return lst, nil
	}
	next, ok := lst.Status.Next(domain.ListingBind)
	if !ok {
		if lst.Status == domain.ListingInContract {
			return domain.Listing{}, domain.Conflict("listing", listingID, "already bound to contract %s", lst.ContractID)
		}
		return domain.Listing{}, domain.Conflict("listing", listingID, "listing is %s", lst.Status)
	}
	lst.Status = next
	lst.ContractID = contractID
	lst.UpdatedAt = l.now()
	if err := l.repo.UpdateListing(ctx, &lst); err != nil {
		return domain.Listing{}, err
	}
	return lst, nil
}

// Release makes a bound listing purchasable again. With a non-empty
// contractID only a binding to that contract is released; any other state is
// left alone. An active listing with no binding is already released.
func (l *Listings) Release(ctx context.Context, listingID, contractID string) (domain.Listing, error) {
	lst, err := l.repo.GetListing(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if lst.Status == domain.ListingActive && lst.ContractID == "" {
		return lst, nil
	}
	if contractID != "" && !lst.BoundTo(contractID) {
		l.log.InfoContext(ctx, "release skipped, listing not bound to contract",
			"listing_id", listingID, "contract_id", contractID, "status", string(lst.Status), "bound_contract_id", lst.ContractID)
		return lst, nil
	}
	next, ok := lst.Status.Next(domain.ListingRelease)
	if !ok {
		return domain.Listing{}, domain.InvalidState("listing", listingID, "cannot release while %s", lst.Status)
	}
	lst.Status = next
	lst.ContractID = ""
	lst.UpdatedAt = l.now()
	if err := l.repo.UpdateListing(ctx, &lst); err != nil {
		return domain.Listing{}, err
	}
	return lst, nil
}

// FinalizeSale deducts a contract's quantity from the listing. The listing is
// sold once nothing remains, otherwise it is active again. Each contract is
// deducted at most once.
func (l *Listings) FinalizeSale(ctx context.Context, listingID string, soldQuantity int, contractID, dealID string) (domain.Listing, error) {
	if soldQuantity <= 0 {
		return domain.Listing{}, domain.Invalid("sold quantity must be positive")
	}
	lst, err := l.repo.GetListing(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if lst.Settled(contractID) {
		return lst, nil
	}
	if lst.Status == domain.ListingInContract && !lst.BoundTo(contractID) {
		return domain.Listing{}, domain.Conflict("listing", listingID, "bound to contract %s", lst.ContractID)
	}
	remaining := lst.Quantity - soldQuantity
	ev := domain.ListingPartialSale
	if remaining <= 0 {
		ev = domain.ListingSellOut
		remaining = 0
	}
	next, ok := lst.Status.Next(ev)
	if !ok {
		return domain.Listing{}, domain.InvalidState("listing", listingID, "cannot finalize sale while %s", lst.Status)
	}
	lst.Status = next
	lst.Quantity = remaining
	lst.ContractID = ""
	if next == domain.ListingSold {
		lst.DealID = dealID
	}
	lst.SettledContracts = append(lst.SettledContracts, contractID)
	lst.UpdatedAt = l.now()
	if err := l.repo.UpdateListing(ctx, &lst); err != nil {
		return domain.Listing{}, err
	}
	return lst, nil
}

// ReserveForOffer applies the listing side of an accepted offer. An offer
// that takes everything left binds the listing until the contract completes;
// a smaller one is deducted immediately and the listing stays active. The
// listing must be active with enough quantity left.
func (l *Listings) ReserveForOffer(ctx context.Context, c domain.Contract, dealID string) (domain.Listing, error) {
	lst, err := l.repo.GetListing(ctx, c.ListingID)
	if err != nil {
		return domain.Listing{}, err
	}
	if lst.Reflects(c.ID) {
		return lst, nil
	}
	if lst.Status != domain.ListingActive {
		return domain.Listing{}, domain.Conflict("listing", lst.ID, "listing is %s", lst.Status)
	}
	if c.Quantity > lst.Quantity {
		return domain.Listing{}, domain.Conflict("listing", lst.ID, "only %d left, contract needs %d", lst.Quantity, c.Quantity)
	}
	if c.Quantity == lst.Quantity {
		return l.BindToContract(ctx, lst.ID, c.ID)
	}
	return l.FinalizeSale(ctx, lst.ID, c.Quantity, c.ID, dealID)
}

// unfillable reports whether lst can never carry a contract for qty units.
// Quantity only goes down, and sold or inactive listings stay that way.
func unfillable(lst domain.Listing, qty int) bool {
	return lst.Status == domain.ListingSold || lst.Status == domain.ListingInactive || lst.Quantity < qty
}
