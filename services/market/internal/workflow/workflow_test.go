package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/store"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/store/storetest"
)

var (
	seller = domain.Actor{UserID: "usr_seller", UserType: domain.UserSeller}
	buyer  = domain.Actor{UserID: "usr_buyer", UserType: domain.UserBuyer}
	buyer2 = domain.Actor{UserID: "usr_buyer2", UserType: domain.UserBuyer}
	admin  = domain.Actor{UserID: "usr_admin", UserType: domain.UserAdmin}

	sig = SignatureInput{Payload: "data:image/png;base64,AAAA", Device: domain.DeviceMetadata{UserAgent: "test", Platform: "linux"}}
)

type harness struct {
	e      *Engine
	mem    *store.Memory
	faults *storetest.Faulty
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	faults := storetest.NewFaulty(mem)
	h := &harness{
		e:      New(store.NewRepo(faults), nil),
		mem:    mem,
		faults: faults,
		clock:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	h.e.SetClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) listing(t *testing.T, qty int, price int64) domain.Listing {
	t.Helper()
	ctx := context.Background()
	l, err := h.e.Listings.Create(ctx, seller, NewListing{Title: "GPU node", Quantity: qty, UnitPrice: decimal.NewFromInt(price)})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if l.Status != domain.ListingPendingVerification {
		t.Fatalf("expected pending_verification, got %s", l.Status)
	}
	l, err = h.e.Listings.Approve(ctx, admin, l.ID)
	if err != nil {
		t.Fatalf("approve listing: %v", err)
	}
	return l
}

func (h *harness) mustListing(t *testing.T, id string) domain.Listing {
	t.Helper()
	l, err := h.e.Listings.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	return l
}

func (h *harness) assertArchivedOnce(t *testing.T, contractID string, reason domain.ArchiveReason) {
	t.Helper()
	if _, err := h.mem.Get(context.Background(), store.CollContracts, contractID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected contract %s gone from live collection, got %v", contractID, err)
	}
	found, err := h.mem.Find(context.Background(), store.CollArchive, store.Eq{Field: "contract_id", Value: contractID})
	if err != nil || len(found) != 1 {
		t.Fatalf("expected exactly one archive copy, got %d err=%v", len(found), err)
	}
	v, err := h.e.Contracts.Load(context.Background(), contractID)
	if err != nil {
		t.Fatalf("load archived: %v", err)
	}
	if !v.Archived || v.ArchiveReason != reason {
		t.Fatalf("expected archived with %s, got archived=%v reason=%s", reason, v.Archived, v.ArchiveReason)
	}
}

func TestDirectPurchaseScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 2, 1000)

	c, err := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{Quantity: 2})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	if c.Status != domain.ContractPendingBuyerSignature || c.TermsHash == "" || c.Text == "" {
		t.Fatalf("unexpected contract: %+v", c)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingInContract || got.ContractID != c.ID {
		t.Fatalf("expected listing bound to %s, got %s/%s", c.ID, got.Status, got.ContractID)
	}

	c, err = h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig)
	if err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	if c.Status != domain.ContractPendingSellerSignature {
		t.Fatalf("expected pending_seller_signature, got %s", c.Status)
	}
	if c.BuyerSignature.TermsHash != c.TermsHash {
		t.Fatalf("expected signature to cover the contract terms")
	}

	out, err := h.e.Contracts.SignAsSeller(ctx, seller, c.ID, sig)
	if err != nil {
		t.Fatalf("seller sign: %v", err)
	}
	if len(out.Drift) != 0 || !out.Archived {
		t.Fatalf("expected clean completion, got drift=%v archived=%v", out.PendingSteps(), out.Archived)
	}
	if out.Contract.Status != domain.ContractBothSigned || out.Contract.CompletedAt == nil {
		t.Fatalf("expected both_signed with completion time, got %+v", out.Contract)
	}
	if out.Deal == nil || !out.Deal.TotalValue.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected deal worth 2000, got %+v", out.Deal)
	}
	if out.Deal.CurrentStep != domain.StepAwaitingPayment {
		t.Fatalf("expected deal awaiting payment, got %s", out.Deal.CurrentStep)
	}
	got := h.mustListing(t, l.ID)
	if got.Status != domain.ListingSold || got.Quantity != 0 || got.ContractID != "" || got.DealID != out.Deal.ID {
		t.Fatalf("expected sold listing with deal, got %+v", got)
	}
	h.assertArchivedOnce(t, c.ID, domain.ArchiveCompleted)
	if h.mem.Len(store.CollDeals) != 1 {
		t.Fatalf("expected one deal, got %d", h.mem.Len(store.CollDeals))
	}
}

func TestPartialOfferAcceptanceScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 3, 1000)

	off, err := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(900), Quantity: 1, DeliveryWindow: "2 weeks"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	out, err := h.e.Offers.Accept(ctx, seller, off.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(out.Drift) != 0 {
		t.Fatalf("unexpected drift: %v", out.PendingSteps())
	}
	if out.Offer.Status != domain.OfferAccepted {
		t.Fatalf("expected accepted offer, got %s", out.Offer.Status)
	}
	if out.Contract == nil || out.Contract.ID != ContractIDForOffer(off.ID) || out.Contract.Status != domain.ContractPendingBuyerSignature {
		t.Fatalf("unexpected contract: %+v", out.Contract)
	}
	if out.Deal == nil || out.Deal.Status != domain.DealInProgress || out.Deal.CurrentStep != domain.StepAwaitingSignatures {
		t.Fatalf("expected in-progress deal at acceptance, got %+v", out.Deal)
	}
	got := h.mustListing(t, l.ID)
	if got.Status != domain.ListingActive || got.Quantity != 2 || got.ContractID != "" {
		t.Fatalf("expected active listing with 2 left, got %+v", got)
	}

	cid := out.Contract.ID
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, cid, sig); err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	done, err := h.e.Contracts.SignAsSeller(ctx, seller, cid, sig)
	if err != nil {
		t.Fatalf("seller sign: %v", err)
	}
	if !done.Archived || done.Deal.ID != out.Deal.ID || done.Deal.CurrentStep != domain.StepAwaitingPayment {
		t.Fatalf("expected archived contract reusing the offer's deal, got %+v", done)
	}
	if got := h.mustListing(t, l.ID); got.Quantity != 2 || got.Status != domain.ListingActive {
		t.Fatalf("completion must not deduct twice, got %+v", got)
	}
	if h.mem.Len(store.CollDeals) != 1 {
		t.Fatalf("expected one deal, got %d", h.mem.Len(store.CollDeals))
	}
}

func TestFullQuantityOfferBindsUntilCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 500)

	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(450), Quantity: 1})
	out, err := h.e.Offers.Accept(ctx, seller, off.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := h.mustListing(t, l.ID); !got.BoundTo(out.Contract.ID) {
		t.Fatalf("expected listing bound to offer contract, got %+v", got)
	}
	if _, err := h.e.Contracts.CreateDirect(ctx, buyer2, l.ID, DirectPurchase{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict purchasing a bound listing, got %v", err)
	}
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, out.Contract.ID, sig); err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	if _, err := h.e.Contracts.SignAsSeller(ctx, seller, out.Contract.ID, sig); err != nil {
		t.Fatalf("seller sign: %v", err)
	}
	got := h.mustListing(t, l.ID)
	if got.Status != domain.ListingSold || got.DealID != out.Deal.ID {
		t.Fatalf("expected sold listing, got %+v", got)
	}
}

func TestBuyerCancelRestoresAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})

	out, err := h.e.Contracts.Cancel(ctx, buyer, c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !out.Archived || out.Contract.Status != domain.ContractCancelled {
		t.Fatalf("expected archived cancellation, got %+v", out)
	}
	got := h.mustListing(t, l.ID)
	if got.Status != domain.ListingActive || got.ContractID != "" {
		t.Fatalf("expected active unbound listing, got %+v", got)
	}
	h.assertArchivedOnce(t, c.ID, domain.ArchiveBuyerCancelled)

	if _, err := h.e.Contracts.CreateDirect(ctx, buyer2, l.ID, DirectPurchase{}); err != nil {
		t.Fatalf("expected listing purchasable again, got %v", err)
	}
}

func TestSellerDeclineAfterBuyerSigned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig); err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	if _, err := h.e.Contracts.Cancel(ctx, seller, c.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	h.assertArchivedOnce(t, c.ID, domain.ArchiveSellerDeclined)
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingActive {
		t.Fatalf("expected active listing, got %s", got.Status)
	}
	if _, err := h.e.Contracts.SignAsSeller(ctx, seller, c.ID, sig); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error signing an archived contract, got %v", err)
	}
}

func TestCancelOfferContractCancelsDeal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})
	acc, _ := h.e.Offers.Accept(ctx, seller, off.ID)

	out, err := h.e.Contracts.Cancel(ctx, admin, acc.Contract.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Deal == nil || out.Deal.Status != domain.DealCancelled {
		t.Fatalf("expected cancelled deal, got %+v", out.Deal)
	}
	h.assertArchivedOnce(t, acc.Contract.ID, domain.ArchiveAdminCancelled)
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingActive || got.ContractID != "" {
		t.Fatalf("expected released listing, got %+v", got)
	}
}

func TestCannotCancelCompletedContract(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	_, _ = h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig)
	_, _ = h.e.Contracts.SignAsSeller(ctx, seller, c.ID, sig)
	if _, err := h.e.Contracts.Cancel(ctx, buyer, c.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestConcurrentPurchasesBindOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := domain.Actor{UserID: "usr_b" + string(rune('a'+i)), UserType: domain.UserBuyer}
			_, errs[i] = h.e.Contracts.CreateDirect(ctx, actor, l.ID, DirectPurchase{})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one purchase to bind, got %d", wins)
	}
	if h.mem.Len(store.CollContracts) != 1 {
		t.Fatalf("expected one live contract, got %d", h.mem.Len(store.CollContracts))
	}
}

func TestSellerCannotSignFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	if _, err := h.e.Contracts.SignAsSeller(ctx, seller, c.ID, sig); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	v, _ := h.e.Contracts.Load(ctx, c.ID)
	if v.SellerSignature != nil || v.Status != domain.ContractPendingBuyerSignature {
		t.Fatalf("contract changed by rejected signature: %+v", v.Contract)
	}
	if v.SellerContactVisible {
		t.Fatalf("seller contact must stay hidden before the buyer signs")
	}
}

func TestBuyerSignatureIsWriteOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	first, err := h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig)
	if err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	h.clock = h.clock.Add(time.Hour)
	again := SignatureInput{Payload: "different"}
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, again); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on re-sign, got %v", err)
	}
	v, _ := h.e.Contracts.Load(ctx, c.ID)
	if v.BuyerSignature.Payload != sig.Payload || !v.BuyerSignature.SignedAt.Equal(first.BuyerSignature.SignedAt) {
		t.Fatalf("buyer signature changed: %+v", v.BuyerSignature)
	}
	if !v.SellerContactVisible {
		t.Fatalf("seller contact visible once the buyer signed")
	}
}

func TestSignaturesRequireTheRightParty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer2, c.ID, sig); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, _ = h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig)
	if _, err := h.e.Contracts.SignAsSeller(ctx, buyer, c.ID, sig); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.e.Contracts.Cancel(ctx, buyer2, c.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRecordIfAbsentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	terms := domain.DealTerms{ContractID: "ctr_x", ListingID: "lst_x", BuyerID: "b", SellerID: "s", Quantity: 2, AgreedPrice: decimal.NewFromInt(10)}
	first, created, err := h.e.Deals.RecordIfAbsent(ctx, terms, domain.StepAwaitingSignatures)
	if err != nil || !created {
		t.Fatalf("expected deal created, got created=%v err=%v", created, err)
	}
	second, created, err := h.e.Deals.RecordIfAbsent(ctx, terms, domain.StepAwaitingPayment)
	if err != nil || created {
		t.Fatalf("expected existing deal, got created=%v err=%v", created, err)
	}
	if first.ID != second.ID || second.CurrentStep != domain.StepAwaitingSignatures {
		t.Fatalf("expected the first deal unchanged, got %+v", second)
	}
	if h.mem.Len(store.CollDeals) != 1 {
		t.Fatalf("expected one deal, got %d", h.mem.Len(store.CollDeals))
	}
}

func TestRecordIfAbsentLosesCreateRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	terms := domain.DealTerms{ContractID: "ctr_y", Quantity: 1, AgreedPrice: decimal.NewFromInt(10)}
	// The deal already exists under its deterministic id but is not yet
	// visible to the contract_id query, as when another recorder wins the race.
	if err := h.mem.Create(ctx, store.CollDeals, DealIDForContract("ctr_y"), []byte(`{"deal_id":"`+DealIDForContract("ctr_y")+`","status":"in_progress"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, created, err := h.e.Deals.RecordIfAbsent(ctx, terms, domain.StepAwaitingPayment)
	if err != nil || created || got.ID != DealIDForContract("ctr_y") {
		t.Fatalf("expected existing deal returned, got %+v created=%v err=%v", got, created, err)
	}
}

func TestCompletionListingFailureRepairedOnLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 2, 1000)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	_, _ = h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig)

	h.faults.FailNext(storetest.OpUpdate, store.CollListings, 1)
	out, err := h.e.Contracts.SignAsSeller(ctx, seller, c.ID, sig)
	if err != nil {
		t.Fatalf("seller sign should report drift, not fail: %v", err)
	}
	if out.Archived || len(out.Drift) != 1 || out.Drift[0].Step != StepListing {
		t.Fatalf("expected listing drift with live copy kept, got %v archived=%v", out.PendingSteps(), out.Archived)
	}
	if h.mem.Len(store.CollContracts) != 1 {
		t.Fatalf("live copy must survive until the listing step succeeds")
	}

	v, err := h.e.Contracts.Load(ctx, c.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !v.Archived || v.Status != domain.ContractBothSigned {
		t.Fatalf("expected reconciled archive view, got %+v", v)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingSold {
		t.Fatalf("expected sold listing after repair, got %s", got.Status)
	}
	h.assertArchivedOnce(t, c.ID, domain.ArchiveCompleted)
	if h.mem.Len(store.CollDeals) != 1 {
		t.Fatalf("expected one deal, got %d", h.mem.Len(store.CollDeals))
	}
}

func TestCompletionDealFailureRepairedOnLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 1000)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	_, _ = h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig)

	h.faults.FailNext(storetest.OpCreate, store.CollDeals, 1)
	out, _ := h.e.Contracts.SignAsSeller(ctx, seller, c.ID, sig)
	if out.Archived || out.Deal != nil {
		t.Fatalf("expected deal drift, got %+v", out)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingSold || got.DealID != DealIDForContract(c.ID) {
		t.Fatalf("listing step should still run with the deal's id, got %+v", got)
	}

	if _, err := h.e.Contracts.Load(ctx, c.ID); err != nil {
		t.Fatalf("load: %v", err)
	}
	deal, ok, err := h.e.Deals.ForContract(ctx, c.ID)
	if err != nil || !ok || deal.ID != DealIDForContract(c.ID) {
		t.Fatalf("expected repaired deal, got %+v ok=%v err=%v", deal, ok, err)
	}
	h.assertArchivedOnce(t, c.ID, domain.ArchiveCompleted)
	if got := h.mustListing(t, l.ID); len(got.SettledContracts) != 1 {
		t.Fatalf("listing settled more than once: %+v", got.SettledContracts)
	}
}

func TestDeleteFailureLeavesOneArchiveCopy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 1000)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})
	_, _ = h.e.Contracts.SignAsBuyer(ctx, buyer, c.ID, sig)

	h.faults.FailNext(storetest.OpDelete, store.CollContracts, 1)
	out, _ := h.e.Contracts.SignAsSeller(ctx, seller, c.ID, sig)
	if out.Archived || len(out.Drift) != 1 || out.Drift[0].Step != StepDeleteLive {
		t.Fatalf("expected delete drift, got %v", out.PendingSteps())
	}
	if h.mem.Len(store.CollArchive) != 1 || h.mem.Len(store.CollContracts) != 1 {
		t.Fatalf("expected archived copy and surviving live copy")
	}
	pending, _ := h.e.Contracts.PendingFor(ctx, seller)
	if len(pending) != 0 {
		t.Fatalf("a completed contract must not be pending, got %d", len(pending))
	}
	if _, err := h.e.Contracts.Load(ctx, c.ID); err != nil {
		t.Fatalf("load: %v", err)
	}
	h.assertArchivedOnce(t, c.ID, domain.ArchiveCompleted)
}

func TestCancelReleaseFailureRepairedOnLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 1000)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})

	h.faults.FailNext(storetest.OpUpdate, store.CollListings, 1)
	out, err := h.e.Contracts.Cancel(ctx, buyer, c.ID)
	if err != nil {
		t.Fatalf("cancel should report drift, not fail: %v", err)
	}
	if out.Archived || len(out.Drift) != 1 || out.Drift[0].Step != StepListing {
		t.Fatalf("expected listing drift, got %v", out.PendingSteps())
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingInContract {
		t.Fatalf("expected listing still bound, got %s", got.Status)
	}

	v, err := h.e.Contracts.Load(ctx, c.ID)
	if err != nil || !v.Archived {
		t.Fatalf("expected reconciled archive, got %+v err=%v", v, err)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingActive || got.ContractID != "" {
		t.Fatalf("expected listing released by reconciliation, got %+v", got)
	}
	h.assertArchivedOnce(t, c.ID, domain.ArchiveBuyerCancelled)
}

func TestCreateDirectReleasesWhenContractWriteFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 1000)

	h.faults.FailNext(storetest.OpCreate, store.CollContracts, 1)
	if _, err := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{}); !errors.Is(err, storetest.ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingActive || got.ContractID != "" {
		t.Fatalf("expected binding released, got %+v", got)
	}
}

func TestAcceptedOfferWithoutContractRepairedOnLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 3, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})

	h.faults.FailNext(storetest.OpCreate, store.CollContracts, 1)
	out, err := h.e.Offers.Accept(ctx, seller, off.ID)
	if err != nil {
		t.Fatalf("accept should succeed with drift: %v", err)
	}
	if out.Contract != nil || len(out.Drift) != 1 || out.Drift[0].Step != StepCreateContract {
		t.Fatalf("expected contract drift, got %v", out.PendingSteps())
	}
	if out.Offer.Status != domain.OfferAccepted {
		t.Fatalf("the offer decision must persist, got %s", out.Offer.Status)
	}

	loaded, err := h.e.Offers.Load(ctx, off.ID)
	if err != nil || loaded.Status != domain.OfferAccepted {
		t.Fatalf("load offer: %+v err=%v", loaded, err)
	}
	v, err := h.e.Contracts.Load(ctx, ContractIDForOffer(off.ID))
	if err != nil || v.Status != domain.ContractPendingBuyerSignature {
		t.Fatalf("expected synthesised contract, got %+v err=%v", v, err)
	}
	if _, ok, _ := h.e.Deals.ForContract(ctx, v.ID); !ok {
		t.Fatalf("expected deal after repair")
	}
	if got := h.mustListing(t, l.ID); got.Quantity != 2 {
		t.Fatalf("expected quantity 2 after repair, got %d", got.Quantity)
	}
	if _, err := h.e.Offers.Load(ctx, off.ID); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if h.mem.Len(store.CollContracts) != 1 || h.mem.Len(store.CollDeals) != 1 {
		t.Fatalf("repairs must not duplicate contracts or deals")
	}
}

func TestAcceptedOfferDriftRepairedByContractLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 3, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})

	h.faults.FailNext(storetest.OpCreate, store.CollDeals, 1)
	h.faults.FailNext(storetest.OpUpdate, store.CollListings, 1)
	out, _ := h.e.Offers.Accept(ctx, seller, off.ID)
	if len(out.Drift) != 2 {
		t.Fatalf("expected deal and listing drift, got %v", out.PendingSteps())
	}
	if got := h.mustListing(t, l.ID); got.Quantity != 3 {
		t.Fatalf("expected untouched listing, got %d", got.Quantity)
	}

	if _, err := h.e.Contracts.Load(ctx, out.Contract.ID); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := h.mustListing(t, l.ID); got.Quantity != 2 || !got.Settled(out.Contract.ID) {
		t.Fatalf("expected listing repaired, got %+v", got)
	}
	if _, ok, _ := h.e.Deals.ForContract(ctx, out.Contract.ID); !ok {
		t.Fatalf("expected deal repaired")
	}
	if _, err := h.e.Contracts.Load(ctx, out.Contract.ID); err != nil {
		t.Fatalf("load again: %v", err)
	}
	if got := h.mustListing(t, l.ID); got.Quantity != 2 {
		t.Fatalf("repeated loads must not deduct again, got %d", got.Quantity)
	}
}

func TestOfferDecisionsAreFinal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 2, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})

	if _, err := h.e.Offers.Accept(ctx, buyer, off.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for buyer, got %v", err)
	}
	rej, err := h.e.Offers.Reject(ctx, seller, off.ID)
	if err != nil || rej.Status != domain.OfferRejected || rej.DecidedAt == nil {
		t.Fatalf("reject: %+v err=%v", rej, err)
	}
	if _, err := h.e.Offers.Accept(ctx, seller, off.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state accepting a rejected offer, got %v", err)
	}
	if got := h.mustListing(t, l.ID); got.Quantity != 2 || got.Status != domain.ListingActive {
		t.Fatalf("reject must not touch the listing, got %+v", got)
	}
	if h.mem.Len(store.CollContracts) != 0 || h.mem.Len(store.CollDeals) != 0 {
		t.Fatalf("reject must not create contracts or deals")
	}
}

func TestOfferExpiresLazily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 2, 100)
	exp := h.clock.Add(24 * time.Hour)
	off, err := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1, ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.clock = exp.Add(time.Minute)
	if _, err := h.e.Offers.Accept(ctx, seller, off.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for expired offer, got %v", err)
	}
	got, _ := h.e.Offers.Load(ctx, off.ID)
	if got.Status != domain.OfferExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestOfferRequiresAvailableListing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})
	if _, err := h.e.Contracts.CreateDirect(ctx, buyer2, l.ID, DirectPurchase{}); err != nil {
		t.Fatalf("direct: %v", err)
	}
	if _, err := h.e.Offers.Accept(ctx, seller, off.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict accepting against a bound listing, got %v", err)
	}
	got, _ := h.e.Offers.Load(ctx, off.ID)
	if got.Status != domain.OfferPending {
		t.Fatalf("failed acceptance must leave the offer pending, got %s", got.Status)
	}
	if _, err := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict submitting against a bound listing, got %v", err)
	}
}

func TestPendingForReadsLiveContractsOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.listing(t, 1, 100)
	b := h.listing(t, 1, 100)
	c1, _ := h.e.Contracts.CreateDirect(ctx, buyer, a.ID, DirectPurchase{})
	c2, _ := h.e.Contracts.CreateDirect(ctx, buyer, b.ID, DirectPurchase{})
	_, _ = h.e.Contracts.SignAsBuyer(ctx, buyer, c2.ID, sig)

	mine, err := h.e.Contracts.PendingFor(ctx, buyer)
	if err != nil || len(mine) != 1 || mine[0].ID != c1.ID {
		t.Fatalf("buyer pending: %+v err=%v", mine, err)
	}
	theirs, _ := h.e.Contracts.PendingFor(ctx, seller)
	if len(theirs) != 1 || theirs[0].ID != c2.ID {
		t.Fatalf("seller pending: %+v", theirs)
	}
	_, _ = h.e.Contracts.Cancel(ctx, buyer, c1.ID)
	mine, _ = h.e.Contracts.PendingFor(ctx, buyer)
	if len(mine) != 0 {
		t.Fatalf("archived contracts must not be pending, got %d", len(mine))
	}
	all, _ := h.e.Contracts.PendingFor(ctx, admin)
	if len(all) != 1 {
		t.Fatalf("admin pending: %d", len(all))
	}
}

func TestListingOperationsAreRetrySafe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 3, 100)

	if _, err := h.e.Listings.BindToContract(ctx, l.ID, "ctr_1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := h.e.Listings.BindToContract(ctx, l.ID, "ctr_1"); err != nil {
		t.Fatalf("rebind same contract: %v", err)
	}
	if _, err := h.e.Listings.BindToContract(ctx, l.ID, "ctr_2"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := h.e.Listings.Release(ctx, l.ID, "ctr_2"); err != nil {
		t.Fatalf("release of another contract should be a no-op: %v", err)
	}
	if got := h.mustListing(t, l.ID); !got.BoundTo("ctr_1") {
		t.Fatalf("foreign release must not unbind, got %+v", got)
	}
	if _, err := h.e.Listings.Release(ctx, l.ID, ""); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := h.e.Listings.Release(ctx, l.ID, ""); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	if _, err := h.e.Listings.FinalizeSale(ctx, l.ID, 1, "ctr_9", "deal_9"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, err := h.e.Listings.FinalizeSale(ctx, l.ID, 1, "ctr_9", "deal_9")
	if err != nil || got.Quantity != 2 {
		t.Fatalf("finalize twice must deduct once, got %d err=%v", got.Quantity, err)
	}
	got, err = h.e.Listings.FinalizeSale(ctx, l.ID, 5, "ctr_10", "deal_10")
	if err != nil || got.Status != domain.ListingSold || got.Quantity != 0 || got.DealID != "deal_10" {
		t.Fatalf("expected sold out, got %+v err=%v", got, err)
	}
	if _, err := h.e.Listings.Release(ctx, l.ID, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state releasing a sold listing, got %v", err)
	}
}

func TestModerationRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l, _ := h.e.Listings.Create(ctx, seller, NewListing{Title: "Switch", Quantity: 1, UnitPrice: decimal.NewFromInt(5)})
	if _, err := h.e.Listings.Approve(ctx, seller, l.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected unapproved listing to be unavailable, got %v", err)
	}
	got, err := h.e.Listings.Reject(ctx, admin, l.ID)
	if err != nil || got.Status != domain.ListingInactive {
		t.Fatalf("reject: %+v err=%v", got, err)
	}
	if _, err := h.e.Listings.Approve(ctx, admin, l.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state approving an inactive listing, got %v", err)
	}
	if _, err := h.e.Listings.Create(ctx, buyer, NewListing{Title: "x", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for buyer, got %v", err)
	}
}

func (h *harness) openDeals(t *testing.T, listingID string) []domain.Deal {
	t.Helper()
	deals, err := h.e.deps.repo.FindDeals(context.Background(),
		store.Eq{Field: "listing_id", Value: listingID},
		store.Eq{Field: "status", Value: string(domain.DealInProgress)})
	if err != nil {
		t.Fatalf("find deals: %v", err)
	}
	return deals
}

func (h *harness) acceptWithReservationDrift(t *testing.T, offerID string) domain.Contract {
	t.Helper()
	h.faults.FailNext(storetest.OpUpdate, store.CollListings, 1)
	out, err := h.e.Offers.Accept(context.Background(), seller, offerID)
	if err != nil {
		t.Fatalf("accept should succeed with drift: %v", err)
	}
	if out.Contract == nil || len(out.Drift) != 1 || out.Drift[0].Step != StepListing {
		t.Fatalf("expected listing drift, got %v", out.PendingSteps())
	}
	return *out.Contract
}

func TestReservationDriftCannotDoubleSell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	offA, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})
	offB, _ := h.e.Offers.Submit(ctx, buyer2, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(95), Quantity: 1})

	a := h.acceptWithReservationDrift(t, offA.ID)
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingActive {
		t.Fatalf("expected listing untouched by the failed reservation, got %s", got.Status)
	}

	outB, err := h.e.Offers.Accept(ctx, seller, offB.ID)
	if err != nil || len(outB.Drift) != 0 {
		t.Fatalf("accept B: %v drift=%v", err, outB.PendingSteps())
	}
	b := *outB.Contract
	if got := h.mustListing(t, l.ID); !got.BoundTo(b.ID) {
		t.Fatalf("expected listing bound to %s, got %+v", b.ID, got)
	}

	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, a.ID, sig); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict signing a contract without its reservation, got %v", err)
	}
	if _, err := h.e.Contracts.SignAsSeller(ctx, seller, a.ID, sig); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict countersigning without a reservation, got %v", err)
	}
	if got := h.mustListing(t, l.ID); !got.BoundTo(b.ID) {
		t.Fatalf("a refused signature must not move the binding, got %+v", got)
	}

	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer2, b.ID, sig); err != nil {
		t.Fatalf("buyer2 sign: %v", err)
	}
	done, err := h.e.Contracts.SignAsSeller(ctx, seller, b.ID, sig)
	if err != nil || !done.Archived {
		t.Fatalf("expected B completed, got %+v err=%v", done, err)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingSold || got.DealID != DealIDForContract(b.ID) {
		t.Fatalf("expected listing sold to B, got %+v", got)
	}

	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, a.ID, sig); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected A voided once the listing sold, got %v", err)
	}
	h.assertArchivedOnce(t, a.ID, domain.ArchiveListingUnavailable)
	if d, ok, _ := h.e.Deals.ForContract(ctx, a.ID); !ok || d.Status != domain.DealCancelled {
		t.Fatalf("expected A's deal cancelled, got %+v", d)
	}
	open := h.openDeals(t, l.ID)
	if len(open) != 1 || open[0].ContractID != b.ID || open[0].CurrentStep != domain.StepAwaitingPayment {
		t.Fatalf("expected exactly B's deal open, got %+v", open)
	}
	if h.mem.Len(store.CollContracts) != 0 {
		t.Fatalf("expected no live contracts, got %d", h.mem.Len(store.CollContracts))
	}
}

func TestReservationDriftThenDirectPurchaseSellsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})
	a := h.acceptWithReservationDrift(t, off.ID)

	d, err := h.e.Contracts.CreateDirect(ctx, buyer2, l.ID, DirectPurchase{})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	if v, err := h.e.Contracts.Load(ctx, a.ID); err != nil || v.Archived || v.Status != domain.ContractPendingBuyerSignature {
		t.Fatalf("expected A waiting while the listing is held, got %+v err=%v", v, err)
	}
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, a.ID, sig); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict while D holds the listing, got %v", err)
	}

	_, _ = h.e.Contracts.SignAsBuyer(ctx, buyer2, d.ID, sig)
	if out, err := h.e.Contracts.SignAsSeller(ctx, seller, d.ID, sig); err != nil || !out.Archived {
		t.Fatalf("expected D completed, got %+v err=%v", out, err)
	}

	v, err := h.e.Contracts.Load(ctx, a.ID)
	if err != nil || !v.Archived || v.ArchiveReason != domain.ArchiveListingUnavailable {
		t.Fatalf("expected A archived as listing_unavailable, got %+v err=%v", v, err)
	}
	open := h.openDeals(t, l.ID)
	if len(open) != 1 || open[0].ContractID != d.ID {
		t.Fatalf("expected one open deal for the sold unit, got %+v", open)
	}
	signed, err := h.e.deps.repo.FindContracts(ctx, store.Eq{Field: "status", Value: string(domain.ContractBothSigned)})
	if err != nil || len(signed) != 0 {
		t.Fatalf("expected no both_signed contract left live, got %d err=%v", len(signed), err)
	}
}

func TestReservationDriftResumesWhenListingFreed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 1})
	a := h.acceptWithReservationDrift(t, off.ID)

	d, err := h.e.Contracts.CreateDirect(ctx, buyer2, l.ID, DirectPurchase{})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, a.ID, sig); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict while D holds the listing, got %v", err)
	}
	if _, err := h.e.Contracts.Cancel(ctx, buyer2, d.ID); err != nil {
		t.Fatalf("cancel D: %v", err)
	}

	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer, a.ID, sig); err != nil {
		t.Fatalf("expected A signable once the listing was released, got %v", err)
	}
	if got := h.mustListing(t, l.ID); !got.BoundTo(a.ID) {
		t.Fatalf("expected listing bound to A, got %+v", got)
	}
	out, err := h.e.Contracts.SignAsSeller(ctx, seller, a.ID, sig)
	if err != nil || !out.Archived || len(out.Drift) != 0 {
		t.Fatalf("expected A completed, got %+v err=%v", out, err)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingSold || got.DealID != DealIDForContract(a.ID) {
		t.Fatalf("expected listing sold to A, got %+v", got)
	}
	if open := h.openDeals(t, l.ID); len(open) != 1 || open[0].ContractID != a.ID {
		t.Fatalf("expected only A's deal open, got %+v", open)
	}
}

func TestAcceptVoidsContractWhenListingAlreadyGone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 2, 100)
	off, _ := h.e.Offers.Submit(ctx, buyer, l.ID, domain.OfferTerms{UnitPrice: decimal.NewFromInt(90), Quantity: 2})

	h.faults.FailNext(storetest.OpCreate, store.CollContracts, 1)
	if _, err := h.e.Offers.Accept(ctx, seller, off.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.e.Listings.FinalizeSale(ctx, l.ID, 1, "ctr_elsewhere", "deal_elsewhere"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := h.e.Offers.Load(ctx, off.ID); err != nil {
		t.Fatalf("load offer: %v", err)
	}
	h.assertArchivedOnce(t, ContractIDForOffer(off.ID), domain.ArchiveListingUnavailable)
	if got := h.mustListing(t, l.ID); got.Quantity != 1 || got.Status != domain.ListingActive {
		t.Fatalf("a voided contract must leave the listing alone, got %+v", got)
	}
	if len(h.openDeals(t, l.ID)) != 0 {
		t.Fatalf("expected no open deal for a voided contract")
	}
}

func TestStrangerCannotTriggerRepair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})

	h.faults.FailNext(storetest.OpUpdate, store.CollListings, 1)
	if out, _ := h.e.Contracts.Cancel(ctx, buyer, c.ID); out.Archived {
		t.Fatalf("expected cancellation left pending")
	}

	before := h.faults.Calls(storetest.OpUpdate, store.CollListings)
	if _, err := h.e.Contracts.SignAsBuyer(ctx, buyer2, c.ID, sig); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.e.Contracts.SignAsSeller(ctx, buyer2, c.ID, sig); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.e.Contracts.Cancel(ctx, buyer2, c.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if got := h.faults.Calls(storetest.OpUpdate, store.CollListings); got != before {
		t.Fatalf("expected no listing writes on refused calls, got %d", got-before)
	}
	if got := h.mustListing(t, l.ID); got.Status != domain.ListingInContract || h.mem.Len(store.CollContracts) != 1 {
		t.Fatalf("expected pending cancellation untouched, got %s", got.Status)
	}
}

func TestCancelWritesOneArchiveCopy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.listing(t, 1, 100)
	c, _ := h.e.Contracts.CreateDirect(ctx, buyer, l.ID, DirectPurchase{})

	out, err := h.e.Contracts.Cancel(ctx, buyer, c.ID)
	if err != nil || !out.Archived {
		t.Fatalf("cancel: %+v err=%v", out, err)
	}
	if got := h.faults.Calls(storetest.OpCreate, store.CollArchive); got != 1 {
		t.Fatalf("expected one archive write, got %d", got)
	}
}
