package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ListingStatus string

const (
	ListingPendingVerification ListingStatus = "pending_verification"
	ListingActive              ListingStatus = "active"
	ListingInContract          ListingStatus = "in_contract"
	ListingSold                ListingStatus = "sold"
	ListingInactive            ListingStatus = "inactive"
)

type ListingEvent string

const (
	ListingApprove ListingEvent = "approve"
	ListingReject  ListingEvent = "reject"
	ListingBind    ListingEvent = "bind"
	ListingRelease ListingEvent = "release"
	// ListingPartialSale decrements quantity and leaves the listing purchasable.
	ListingPartialSale ListingEvent = "partial_sale"
	ListingSellOut     ListingEvent = "sell_out"
)

// Next returns the status reached from s on ev, or false when ev is not
// allowed from s.
func (s ListingStatus) Next(ev ListingEvent) (ListingStatus, bool) {
	switch s {
	case ListingPendingVerification:
		switch ev {
		case ListingApprove:
			return ListingActive, true
		case ListingReject:
			return ListingInactive, true
		}
	case ListingActive:
		switch ev {
		case ListingBind:
			return ListingInContract, true
		case ListingPartialSale:
			return ListingActive, true
		case ListingSellOut:
			return ListingSold, true
		case ListingReject:
			return ListingInactive, true
		}
	case ListingInContract:
		switch ev {
		case ListingRelease, ListingPartialSale:
			return ListingActive, true
		case ListingSellOut:
			return ListingSold, true
		}
	case ListingSold, ListingInactive:
	}
	return s, false
}

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingPendingVerification, ListingActive, ListingInContract, ListingSold, ListingInactive:
		return true
	}
	return false
}

type Listing struct {
	ID          string          `json:"listing_id"`
	SellerID    string          `json:"seller_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Media       []string        `json:"media,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Status      ListingStatus   `json:"status"`
	ContractID  string          `json:"contract_id,omitempty"`
	DealID      string          `json:"deal_id,omitempty"`
	// SettledContracts lists every contract whose quantity has already been
	// deducted, so finalizing the same contract twice is a no-op.
	SettledContracts []string  `json:"settled_contracts,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"-"`
}

func (l Listing) BoundTo(contractID string) bool {
	return l.Status == ListingInContract && l.ContractID == contractID
}

func (l Listing) Settled(contractID string) bool {
	for _, id := range l.SettledContracts {
		if id == contractID {
			return true
		}
	}
	return false
}

// Reflects reports whether the listing already carries the effect of the
// given contract, either as its current binding or as a settled sale.
func (l Listing) Reflects(contractID string) bool {
	return l.BoundTo(contractID) || l.Settled(contractID)
}

func (l Listing) Validate() error {
	if !l.Status.Valid() {
		return Invalid("listing %s: unknown status %q", l.ID, l.Status)
	}
	if l.Quantity < 0 {
		return Invalid("listing %s: negative quantity", l.ID)
	}
	if l.ContractID != "" && l.Status != ListingInContract {
		return Invalid("listing %s: contract_id set while %s", l.ID, l.Status)
	}
	return nil
}
