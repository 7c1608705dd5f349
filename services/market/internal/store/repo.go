package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
)

// Repo maps domain entities onto DocStore collections. Every method is a
// single-document operation; callers compose them into sagas.
type Repo struct {
	docs DocStore
}

func NewRepo(docs DocStore) *Repo { return &Repo{docs: docs} }

func get[T any](ctx context.Context, docs DocStore, coll, entity, id string) (T, int64, error) {
	var out T
	doc, err := docs.Get(ctx, coll, id)
	if err != nil {
		return out, 0, translate(err, entity, id)
	}
	if err := json.Unmarshal(doc.Body, &out); err != nil {
		return out, 0, fmt.Errorf("decode %s %s: %w", entity, id, err)
	}
	return out, doc.Version, nil
}

func create(ctx context.Context, docs DocStore, coll, entity, id string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return translate(docs.Create(ctx, coll, id, b), entity, id)
}

func update(ctx context.Context, docs DocStore, coll, entity, id string, expected int64, v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	version, err := docs.Update(ctx, coll, id, expected, b)
	return version, translate(err, entity, id)
}

func find[T any](ctx context.Context, docs DocStore, coll string, where ...Eq) ([]T, []int64, error) {
	found, err := docs.Find(ctx, coll, where...)
	if err != nil {
		return nil, nil, err
	}
	out := make([]T, 0, len(found))
	versions := make([]int64, 0, len(found))
	for _, d := range found {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return nil, nil, fmt.Errorf("decode %s %s: %w", coll, d.ID, err)
		}
		out = append(out, v)
		versions = append(versions, d.Version)
	}
	return out, versions, nil
}

func translate(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return domain.NotFound(entity, id)
	case errors.Is(err, ErrVersionConflict):
		return domain.Conflict(entity, id, "modified concurrently; reload and retry")
	case errors.Is(err, ErrAlreadyExists):
		return fmt.Errorf("%s %s: %w", entity, id, ErrAlreadyExists)
	}
	return fmt.Errorf("%s %s: %w", entity, id, err)
}

func (r *Repo) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	l, v, err := get[domain.Listing](ctx, r.docs, CollListings, "listing", id)
	l.Version = v
	return l, err
}

func (r *Repo) CreateListing(ctx context.Context, l *domain.Listing) error {
	if err := create(ctx, r.docs, CollListings, "listing", l.ID, l); err != nil {
		return err
	}
	l.Version = 1
	return nil
}

func (r *Repo) UpdateListing(ctx context.Context, l *domain.Listing) error {
	v, err := update(ctx, r.docs, CollListings, "listing", l.ID, l.Version, l)
	if err != nil {
		return err
	}
	l.Version = v
	return nil
}

func (r *Repo) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	o, v, err := get[domain.Offer](ctx, r.docs, CollOffers, "offer", id)
	o.Version = v
	return o, err
}

func (r *Repo) CreateOffer(ctx context.Context, o *domain.Offer) error {
	if err := create(ctx, r.docs, CollOffers, "offer", o.ID, o); err != nil {
		return err
	}
	o.Version = 1
	return nil
}

func (r *Repo) UpdateOffer(ctx context.Context, o *domain.Offer) error {
	v, err := update(ctx, r.docs, CollOffers, "offer", o.ID, o.Version, o)
	if err != nil {
		return err
	}
	o.Version = v
	return nil
}

func (r *Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	c, v, err := get[domain.Contract](ctx, r.docs, CollContracts, "contract", id)
	c.Version = v
	return c, err
}

func (r *Repo) CreateContract(ctx context.Context, c *domain.Contract) error {
	if err := create(ctx, r.docs, CollContracts, "contract", c.ID, c); err != nil {
		return err
	}
	c.Version = 1
	return nil
}

func (r *Repo) UpdateContract(ctx context.Context, c *domain.Contract) error {
	v, err := update(ctx, r.docs, CollContracts, "contract", c.ID, c.Version, c)
	if err != nil {
		return err
	}
	c.Version = v
	return nil
}

func (r *Repo) DeleteContract(ctx context.Context, id string) error {
	return translate(r.docs.Delete(ctx, CollContracts, id), "contract", id)
}

func (r *Repo) FindContracts(ctx context.Context, where ...Eq) ([]domain.Contract, error) {
	out, versions, err := find[domain.Contract](ctx, r.docs, CollContracts, where...)
	for i := range out {
		out[i].Version = versions[i]
	}
	return out, err
}

// ArchiveContract copies a terminal contract into the archive collection.
// An existing archive copy with the same id means a previous attempt got this
// far, which is reported as success.
func (r *Repo) ArchiveContract(ctx context.Context, a domain.ArchivedContract) error {
	err := create(ctx, r.docs, CollArchive, "archived contract", a.ID, a)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

func (r *Repo) GetArchivedContract(ctx context.Context, id string) (domain.ArchivedContract, error) {
	a, _, err := get[domain.ArchivedContract](ctx, r.docs, CollArchive, "contract", id)
	return a, err
}

func (r *Repo) FindArchivedContracts(ctx context.Context, where ...Eq) ([]domain.ArchivedContract, error) {
	out, _, err := find[domain.ArchivedContract](ctx, r.docs, CollArchive, where...)
	return out, err
}

func (r *Repo) GetDeal(ctx context.Context, id string) (domain.Deal, error) {
	d, v, err := get[domain.Deal](ctx, r.docs, CollDeals, "deal", id)
	d.Version = v
	return d, err
}

func (r *Repo) CreateDeal(ctx context.Context, d *domain.Deal) error {
	if err := create(ctx, r.docs, CollDeals, "deal", d.ID, d); err != nil {
		return err
	}
	d.Version = 1
	return nil
}

func (r *Repo) UpdateDeal(ctx context.Context, d *domain.Deal) error {
	v, err := update(ctx, r.docs, CollDeals, "deal", d.ID, d.Version, d)
	if err != nil {
		return err
	}
	d.Version = v
	return nil
}

func (r *Repo) FindDeals(ctx context.Context, where ...Eq) ([]domain.Deal, error) {
	out, versions, err := find[domain.Deal](ctx, r.docs, CollDeals, where...)
	for i := range out {
		out[i].Version = versions[i]
	}
	return out, err
}

type idempotencyRecord struct {
	ActorID        string         `json:"actor_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Endpoint       string         `json:"endpoint"`
	ResponseStatus int            `json:"response_status"`
	ResponseBody   map[string]any `json:"response_body"`
	CreatedAt      time.Time      `json:"created_at"`
}

func idempotencyDocID(actorID, key, endpoint string) string {
	sum := sha256.Sum256([]byte(actorID + "\n" + key + "\n" + endpoint))
	return hex.EncodeToString(sum[:])
}

func (r *Repo) GetIdempotencyRecord(ctx context.Context, actorID, key, endpoint string) (int, map[string]any, bool, error) {
	rec, _, err := get[idempotencyRecord](ctx, r.docs, CollIdempotency, "idempotency record", idempotencyDocID(actorID, key, endpoint))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return rec.ResponseStatus, rec.ResponseBody, true, nil
}

func (r *Repo) SaveIdempotencyRecord(ctx context.Context, actorID, key, endpoint string, status int, body map[string]any) error {
	rec := idempotencyRecord{
		ActorID:        actorID,
		IdempotencyKey: key,
		Endpoint:       endpoint,
		ResponseStatus: status,
		ResponseBody:   body,
		CreatedAt:      time.Now().UTC(),
	}
	err := create(ctx, r.docs, CollIdempotency, "idempotency record", idempotencyDocID(actorID, key, endpoint), rec)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}
