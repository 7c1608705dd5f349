package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DealStatus string

const (
	DealInProgress DealStatus = "in_progress"
	DealCompleted  DealStatus = "completed"
	DealCancelled  DealStatus = "cancelled"
)

type DealEvent string

const (
	DealComplete DealEvent = "complete"
	DealCancel   DealEvent = "cancel"
)

func (s DealStatus) Next(ev DealEvent) (DealStatus, bool) {
	switch s {
	case DealInProgress:
		switch ev {
		case DealComplete:
			return DealCompleted, true
		case DealCancel:
			return DealCancelled, true
		}
	case DealCompleted, DealCancelled:
	}
	return s, false
}

const (
	StepAwaitingSignatures = "awaiting_signatures"
	StepAwaitingPayment    = "awaiting_payment"
	ComplianceNotReviewed  = "not_reviewed"
)

// DealTerms is everything the recorder needs to create a deal for one contract.
type DealTerms struct {
	ContractID  string          `json:"contract_id"`
	OfferID     string          `json:"offer_id,omitempty"`
	ListingID   string          `json:"listing_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	Quantity    int             `json:"quantity"`
	AgreedPrice decimal.Decimal `json:"agreed_price"`
}

func DealTermsFor(c Contract) DealTerms {
	return DealTerms{
		ContractID:  c.ID,
		OfferID:     c.OfferID,
		ListingID:   c.ListingID,
		BuyerID:     c.BuyerID,
		SellerID:    c.SellerID,
		Quantity:    c.Quantity,
		AgreedPrice: c.UnitPrice,
	}
}

type Deal struct {
	ID               string          `json:"deal_id"`
	ContractID       string          `json:"contract_id"`
	OfferID          string          `json:"offer_id,omitempty"`
	ListingID        string          `json:"listing_id"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	Quantity         int             `json:"quantity"`
	AgreedPrice      decimal.Decimal `json:"agreed_price"`
	TotalValue       decimal.Decimal `json:"total_value"`
	Status           DealStatus      `json:"status"`
	CurrentStep      string          `json:"current_step"`
	ComplianceStatus string          `json:"compliance_status"`
	PaymentStatus    string          `json:"payment_status,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int64           `json:"-"`
}
