package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ContractStatus string

const (
	ContractPendingBuyerSignature  ContractStatus = "pending_buyer_signature"
	ContractPendingSellerSignature ContractStatus = "pending_seller_signature"
	ContractBothSigned             ContractStatus = "both_signed"
	ContractCancelled              ContractStatus = "cancelled"
)

type ContractEvent string

const (
	ContractBuyerSign  ContractEvent = "buyer_sign"
	ContractSellerSign ContractEvent = "seller_sign"
	ContractCancel     ContractEvent = "cancel"
)

//	pending_buyer_signature  --buyer_sign-->  pending_seller_signature
//	pending_buyer_signature  --cancel------>  cancelled
//	pending_seller_signature --seller_sign->  both_signed
//	pending_seller_signature --cancel------>  cancelled
func (s ContractStatus) Next(ev ContractEvent) (ContractStatus, bool) {
	switch s {
	case ContractPendingBuyerSignature:
		switch ev {
		case ContractBuyerSign:
			return ContractPendingSellerSignature, true
		case ContractCancel:
			return ContractCancelled, true
		}
	case ContractPendingSellerSignature:
		switch ev {
		case ContractSellerSign:
			return ContractBothSigned, true
		case ContractCancel:
			return ContractCancelled, true
		}
	case ContractBothSigned, ContractCancelled:
	}
	return s, false
}

func (s ContractStatus) Terminal() bool {
	return s == ContractBothSigned || s == ContractCancelled
}

type ArchiveReason string

const (
	ArchiveCompleted      ArchiveReason = "completed"
	ArchiveBuyerCancelled ArchiveReason = "buyer_cancelled"
	ArchiveSellerDeclined ArchiveReason = "seller_declined"
	ArchiveAdminCancelled ArchiveReason = "admin_cancelled"

	// ArchiveListingUnavailable voids an accepted offer's contract whose
	// listing was sold or reserved elsewhere before its reservation landed.
	ArchiveListingUnavailable ArchiveReason = "listing_unavailable"
)

// CancelReasonFor tags a cancellation with the role of whoever performed it.
func CancelReasonFor(t UserType) ArchiveReason {
	switch t {
	case UserBuyer:
		return ArchiveBuyerCancelled
	case UserSeller:
		return ArchiveSellerDeclined
	case UserAdmin:
		return ArchiveAdminCancelled
	}
	return ArchiveAdminCancelled
}

type DeviceMetadata struct {
	UserAgent string `json:"user_agent,omitempty"`
	Platform  string `json:"platform,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Signature is write-once. Payload is opaque (an image data URL or a media reference).
type Signature struct {
	Payload   string         `json:"payload"`
	SignedAt  time.Time      `json:"signed_at"`
	Device    DeviceMetadata `json:"device"`
	TermsHash string         `json:"terms_hash"`
}

type ContractTerms struct {
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (t ContractTerms) Total() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Quantity)))
}

type Contract struct {
	ID              string          `json:"contract_id"`
	ListingID       string          `json:"listing_id"`
	BuyerID         string          `json:"buyer_id"`
	SellerID        string          `json:"seller_id"`
	OfferID         string          `json:"offer_id,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalValue      decimal.Decimal `json:"total_value"`
	Text            string          `json:"contract_text"`
	TextHash        string          `json:"text_hash"`
	TermsHash       string          `json:"terms_hash"`
	Status          ContractStatus  `json:"status"`
	BuyerSignature  *Signature      `json:"buyer_signature,omitempty"`
	SellerSignature *Signature      `json:"seller_signature,omitempty"`
	CancelReason    ArchiveReason   `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	Version         int64           `json:"-"`
}

func (c Contract) Terms() ContractTerms {
	return ContractTerms{Quantity: c.Quantity, UnitPrice: c.UnitPrice}
}

func (c Contract) BothSigned() bool {
	return c.BuyerSignature != nil && c.SellerSignature != nil
}

// SellerContactVisible gates the seller's contact details on buyer commitment.
func (c Contract) SellerContactVisible() bool {
	return c.BuyerSignature != nil
}

func (c Contract) FromOffer() bool { return c.OfferID != "" }

func (c *Contract) ApplyBuyerSignature(sig Signature) error {
	if c.BuyerSignature != nil {
		return InvalidState("contract", c.ID, "buyer signature already recorded")
	}
	next, ok := c.Status.Next(ContractBuyerSign)
	if !ok {
		return InvalidState("contract", c.ID, "cannot record buyer signature while %s", c.Status)
	}
	c.BuyerSignature = &sig
	c.Status = next
	return nil
}

func (c *Contract) ApplySellerSignature(sig Signature) error {
	if c.BuyerSignature == nil {
		return InvalidState("contract", c.ID, "buyer must sign before seller")
	}
	if c.SellerSignature != nil {
		return InvalidState("contract", c.ID, "seller signature already recorded")
	}
	next, ok := c.Status.Next(ContractSellerSign)
	if !ok {
		return InvalidState("contract", c.ID, "cannot record seller signature while %s", c.Status)
	}
	c.SellerSignature = &sig
	c.Status = next
	t := sig.SignedAt
	c.CompletedAt = &t
	return nil
}

func (c *Contract) ApplyCancel(reason ArchiveReason, now time.Time) error {
	next, ok := c.Status.Next(ContractCancel)
	if !ok {
		return InvalidState("contract", c.ID, "cannot cancel while %s", c.Status)
	}
	c.Status = next
	c.CancelReason = reason
	t := now.UTC()
	c.CancelledAt = &t
	return nil
}

// ArchiveReason is the reason recorded when the contract leaves the live
// collection. Only meaningful for terminal contracts.
func (c Contract) ArchiveReason() ArchiveReason {
	if c.Status == ContractBothSigned {
		return ArchiveCompleted
	}
	if c.CancelReason != "" {
		return c.CancelReason
	}
	return ArchiveAdminCancelled
}

type ArchivedContract struct {
	Contract
	Reason     ArchiveReason `json:"archive_reason"`
	ArchivedAt time.Time     `json:"archived_at"`
}
