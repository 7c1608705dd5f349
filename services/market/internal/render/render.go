// Package render produces the plain-text purchase agreement for a contract.
// Output is a pure function of the terms.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DeterminismVersion = "market-agreement-v1"

type Terms struct {
	ContractID     string
	ListingID      string
	ListingTitle   string
	OfferID        string
	BuyerID        string
	SellerID       string
	Quantity       int
	UnitPrice      decimal.Decimal
	DeliveryWindow string
	Notes          string
	Date           time.Time
}

func (t Terms) Total() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Quantity)))
}

// ContractText renders the agreement. Free-text fields are trimmed and
// omitted when empty.
func ContractText(t Terms) string {
	var b strings.Builder
	b.WriteString("HARDWARE PURCHASE AGREEMENT\n")
	b.WriteString("Agreement: " + t.ContractID + "\n")
	if !t.Date.IsZero() {
		b.WriteString("Date: " + t.Date.UTC().Format("2006-01-02") + "\n")
	}
	b.WriteString("\n")

	b.WriteString("1. Parties\n")
	b.WriteString("Seller: " + t.SellerID + "\n")
	b.WriteString("Buyer: " + t.BuyerID + "\n")
	b.WriteString("\n")

	b.WriteString("2. Goods\n")
	title := strings.TrimSpace(t.ListingTitle)
	if title == "" {
		title = t.ListingID
	}
	b.WriteString("Item: " + title + " (listing " + t.ListingID + ")\n")
	if t.OfferID != "" {
		b.WriteString("Accepted offer: " + t.OfferID + "\n")
	}
	b.WriteString("Quantity: " + decimal.NewFromInt(int64(t.Quantity)).String() + "\n")
	b.WriteString("Unit price: " + t.UnitPrice.StringFixed(2) + "\n")
	b.WriteString("Total price: " + t.Total().StringFixed(2) + "\n")
	b.WriteString("\n")

	if w := strings.TrimSpace(t.DeliveryWindow); w != "" {
		b.WriteString("3. Delivery\n")
		b.WriteString("Delivery window: " + w + "\n")
		b.WriteString("\n")
	}
	if n := strings.TrimSpace(t.Notes); n != "" {
		b.WriteString("Buyer notes:\n")
		b.WriteString(n + "\n")
		b.WriteString("\n")
	}

	b.WriteString("Signatures\n")
	b.WriteString("The buyer signs first. The agreement binds both parties once the seller countersigns.\n")
	b.WriteString("Buyer signature: ____________________\n")
	b.WriteString("Seller signature: ____________________\n")
	return NormalizeText(b.String())
}

func NormalizeText(in string) string {
	s := strings.ReplaceAll(in, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}

func HashRendered(rendered string) string {
	sum := sha256.Sum256([]byte(rendered))
	return hex.EncodeToString(sum[:])
}
