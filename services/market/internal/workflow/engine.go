// Package workflow moves listings, offers, contracts and deals through their
// state machines using single-document writes only.
//
// Every multi-document transition is a small saga: one durable intent write
// that the caller sees succeed or fail, followed by best-effort dependent
// writes. A dependent write that fails is recorded as Drift, logged, and left
// for the reconciler that runs whenever a contract is loaded. Nothing is
// rolled back.
package workflow

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/store"
)

// Step names reported in Drift and logs.
const (
	StepCreateContract = "create_contract"
	StepRecordDeal     = "record_deal"
	StepAdvanceDeal    = "advance_deal"
	StepCancelDeal     = "cancel_deal"
	StepCancelContract = "cancel_contract"
	StepListing        = "listing"
	StepArchive        = "archive"
	StepDeleteLive     = "delete_live"
)

// Drift is a dependent step that failed after its saga's intent write
// committed. It is never returned as an operation error.
type Drift struct {
	Step string
	Err  error
}

func (d Drift) Error() string { return d.Step + ": " + d.Err.Error() }

func (d Drift) Unwrap() error { return d.Err }

type Engine struct {
	Listings  *Listings
	Offers    *Offers
	Contracts *Contracts
	Deals     *Deals

	deps *deps
}

type deps struct {
	repo *store.Repo
	log  *slog.Logger
	now  func() time.Time
}

func New(repo *store.Repo, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &deps{repo: repo, log: log, now: func() time.Time { return time.Now().UTC() }}
	e := &Engine{deps: d}
	e.Deals = &Deals{deps: d}
	e.Listings = &Listings{deps: d}
	e.Contracts = &Contracts{deps: d, listings: e.Listings, deals: e.Deals}
	e.Offers = &Offers{deps: d, listings: e.Listings, deals: e.Deals, contracts: e.Contracts}
	return e
}

// SetClock replaces the time source for every manager.
func (e *Engine) SetClock(now func() time.Time) { e.deps.now = now }

func (d *deps) drift(ctx context.Context, step string, err error, attrs ...any) Drift {
	args := append([]any{"step", step, "error", err}, attrs...)
	d.log.WarnContext(ctx, "workflow step failed, left for reconciliation", args...)
	return Drift{Step: step, Err: err}
}

// Outcome is the result of an operation that ran dependent steps. Fields are
// set for the entities the operation touched.
type Outcome struct {
	Offer    *domain.Offer
	Contract *domain.Contract
	Deal     *domain.Deal
	Listing  *domain.Listing
	Archived bool
	Drift    []Drift
}

// PendingSteps lists the dependent steps still owed to reconciliation.
func (o Outcome) PendingSteps() []string {
	out := make([]string, 0, len(o.Drift))
	for _, d := range o.Drift {
		out = append(out, d.Step)
	}
	return out
}

var idNamespace = uuid.MustParse("6f1c7e4a-2b1d-5c8e-9a44-2f3d8b7c1e90")

func newID(prefix string) string { return prefix + uuid.NewString() }

// ContractIDForOffer is the id of the contract synthesised when an offer is
// accepted. Retrying the synthesis collides with an earlier success.
func ContractIDForOffer(offerID string) string {
	return "ctr_" + uuid.NewSHA1(idNamespace, []byte("offer/"+offerID)).String()
}

// DealIDForContract is the id every deal for a contract is created under.
func DealIDForContract(contractID string) string {
	return "deal_" + uuid.NewSHA1(idNamespace, []byte("contract/"+contractID)).String()
}
