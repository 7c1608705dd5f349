package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
	OfferExpired  OfferStatus = "expired"
)

type OfferEvent string

const (
	OfferAccept OfferEvent = "accept"
	OfferReject OfferEvent = "reject"
	OfferExpire OfferEvent = "expire"
)

// Next returns the status reached from s on ev. Every status other than
// pending is terminal.
func (s OfferStatus) Next(ev OfferEvent) (OfferStatus, bool) {
	switch s {
	case OfferPending:
		switch ev {
		case OfferAccept:
			return OfferAccepted, true
		case OfferReject:
			return OfferRejected, true
		case OfferExpire:
			return OfferExpired, true
		}
	case OfferAccepted, OfferRejected, OfferExpired:
	}
	return s, false
}

func (s OfferStatus) Terminal() bool { return s != OfferPending }

type OfferTerms struct {
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int             `json:"quantity"`
	Notes          string          `json:"notes,omitempty"`
	DeliveryWindow string          `json:"delivery_window,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

func (t OfferTerms) Validate() error {
	if t.Quantity <= 0 {
		return Invalid("quantity must be positive")
	}
	if !t.UnitPrice.IsPositive() {
		return Invalid("unit_price must be positive")
	}
	return nil
}

type Offer struct {
	ID             string          `json:"offer_id"`
	ListingID      string          `json:"listing_id"`
	BuyerID        string          `json:"buyer_id"`
	SellerID       string          `json:"seller_id"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int             `json:"quantity"`
	Notes          string          `json:"notes,omitempty"`
	DeliveryWindow string          `json:"delivery_window,omitempty"`
	Status         OfferStatus     `json:"status"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Version        int64           `json:"-"`
}

func (o Offer) ExpiredAt(now time.Time) bool {
	return o.Status == OfferPending && o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

func (o Offer) TotalValue() decimal.Decimal {
	return o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// Decide moves a pending offer to its single terminal status.
func (o *Offer) Decide(ev OfferEvent, now time.Time) error {
	next, ok := o.Status.Next(ev)
	if !ok {
		return InvalidState("offer", o.ID, "offer already %s", o.Status)
	}
	o.Status = next
	t := now.UTC()
	o.DecidedAt = &t
	return nil
}
