// Package marketlane is a Go client for the market service HTTP API.
package marketlane

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
)

const APIVersion = "v1"

const basePath = "/market/" + APIVersion

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("marketlane sdk error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.Message)
}

// IsConflict reports whether err is a 409 from the service, the signal to
// re-fetch and decide again.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusConflict
}

// Identity is the caller as the session gateway would assert it.
type Identity struct {
	ActorID      string
	ActorType    string
	GatewayToken string
}

func (id Identity) apply(req *http.Request) error {
	if strings.TrimSpace(id.ActorID) == "" || strings.TrimSpace(id.ActorType) == "" {
		return errors.New("actor id and type are required")
	}
	req.Header.Set("X-Actor-Id", id.ActorID)
	req.Header.Set("X-Actor-Type", id.ActorType)
	if id.GatewayToken != "" {
		req.Header.Set("X-Gateway-Token", id.GatewayToken)
	}
	return nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	identity   Identity
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL string, identity Identity, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		identity:   identity,
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

// As returns a copy of the client that acts as another identity.
func (c *Client) As(identity Identity) *Client {
	cp := *c
	cp.identity = identity
	return &cp
}

func NewIdempotencyKey() string { return uuid.NewString() }

type NewListing struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Media       []string        `json:"media,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type DirectPurchase struct {
	Quantity       int    `json:"quantity,omitempty"`
	Notes          string `json:"notes,omitempty"`
	DeliveryWindow string `json:"delivery_window,omitempty"`
}

type Signature struct {
	Payload string                `json:"signature"`
	Device  domain.DeviceMetadata `json:"device"`
}

// ContractView is a contract as the service returns it, live or archived.
type ContractView struct {
	domain.Contract
	Archived             bool                 `json:"archived"`
	ArchiveReason        domain.ArchiveReason `json:"archive_reason,omitempty"`
	ArchivedAt           *time.Time           `json:"archived_at,omitempty"`
	SellerContactVisible bool                 `json:"seller_contact_visible"`
}

// Outcome is the result of a multi-entity transition. PendingSteps names the
// steps that did not complete; a later read of the contract or offer finishes
// them.
type Outcome struct {
	RequestID    string           `json:"request_id"`
	Offer        *domain.Offer    `json:"offer,omitempty"`
	Contract     *domain.Contract `json:"contract,omitempty"`
	Deal         *domain.Deal     `json:"deal,omitempty"`
	Listing      *domain.Listing  `json:"listing,omitempty"`
	Archived     bool             `json:"archived"`
	PendingSteps []string         `json:"pending_steps"`
}

// Document is the rendered agreement text and its hash.
type Document struct {
	Text     string
	TextHash string
}

func (c *Client) CreateListing(ctx context.Context, in NewListing, idempotencyKey string) (*domain.Listing, error) {
	var out struct {
		Listing domain.Listing `json:"listing"`
	}
	if err := c.do(ctx, http.MethodPost, "/listings", in, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out.Listing, nil
}

func (c *Client) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	var out struct {
		Listing domain.Listing `json:"listing"`
	}
	if err := c.do(ctx, http.MethodGet, "/listings/"+url.PathEscape(listingID), nil, "", &out); err != nil {
		return nil, err
	}
	return &out.Listing, nil
}

func (c *Client) ApproveListing(ctx context.Context, listingID, idempotencyKey string) (*domain.Listing, error) {
	return c.moderate(ctx, listingID, "approve", idempotencyKey)
}

func (c *Client) RejectListing(ctx context.Context, listingID, idempotencyKey string) (*domain.Listing, error) {
	return c.moderate(ctx, listingID, "reject", idempotencyKey)
}

func (c *Client) moderate(ctx context.Context, listingID, action, idempotencyKey string) (*domain.Listing, error) {
	var out struct {
		Listing domain.Listing `json:"listing"`
	}
	if err := c.do(ctx, http.MethodPost, "/listings/"+url.PathEscape(listingID)+":"+action, nil, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out.Listing, nil
}

func (c *Client) SubmitOffer(ctx context.Context, listingID string, terms domain.OfferTerms, idempotencyKey string) (*domain.Offer, error) {
	var out struct {
		Offer domain.Offer `json:"offer"`
	}
	if err := c.do(ctx, http.MethodPost, "/listings/"+url.PathEscape(listingID)+"/offers", terms, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out.Offer, nil
}

func (c *Client) GetOffer(ctx context.Context, offerID string) (*domain.Offer, error) {
	var out struct {
		Offer domain.Offer `json:"offer"`
	}
	if err := c.do(ctx, http.MethodGet, "/offers/"+url.PathEscape(offerID), nil, "", &out); err != nil {
		return nil, err
	}
	return &out.Offer, nil
}

func (c *Client) AcceptOffer(ctx context.Context, offerID, idempotencyKey string) (*Outcome, error) {
	var out Outcome
	if err := c.do(ctx, http.MethodPost, "/offers/"+url.PathEscape(offerID)+":accept", nil, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RejectOffer(ctx context.Context, offerID, idempotencyKey string) (*domain.Offer, error) {
	var out struct {
		Offer domain.Offer `json:"offer"`
	}
	if err := c.do(ctx, http.MethodPost, "/offers/"+url.PathEscape(offerID)+":reject", nil, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out.Offer, nil
}

// Purchase starts a direct purchase of a listing at its asking price.
func (c *Client) Purchase(ctx context.Context, listingID string, in DirectPurchase, idempotencyKey string) (*domain.Contract, error) {
	var out struct {
		Contract domain.Contract `json:"contract"`
	}
	if err := c.do(ctx, http.MethodPost, "/listings/"+url.PathEscape(listingID)+"/contracts", in, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (c *Client) GetContract(ctx context.Context, contractID string) (*ContractView, error) {
	var out struct {
		Contract ContractView `json:"contract"`
	}
	if err := c.do(ctx, http.MethodGet, "/contracts/"+url.PathEscape(contractID), nil, "", &out); err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// PendingContracts lists the live contracts waiting on the caller.
func (c *Client) PendingContracts(ctx context.Context) ([]domain.Contract, error) {
	var out struct {
		Contracts []domain.Contract `json:"contracts"`
	}
	if err := c.do(ctx, http.MethodGet, "/contracts", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Contracts, nil
}

func (c *Client) ContractDocument(ctx context.Context, contractID string) (*Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/contracts/"+url.PathEscape(contractID)+"/document", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, parseSDKError(resp.StatusCode, body)
	}
	return &Document{Text: string(body), TextHash: resp.Header.Get("X-Text-Hash")}, nil
}

func (c *Client) SignAsBuyer(ctx context.Context, contractID string, sig Signature, idempotencyKey string) (*domain.Contract, error) {
	var out struct {
		Contract domain.Contract `json:"contract"`
	}
	if err := c.do(ctx, http.MethodPost, "/contracts/"+url.PathEscape(contractID)+":signBuyer", sig, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

func (c *Client) SignAsSeller(ctx context.Context, contractID string, sig Signature, idempotencyKey string) (*Outcome, error) {
	var out Outcome
	if err := c.do(ctx, http.MethodPost, "/contracts/"+url.PathEscape(contractID)+":signSeller", sig, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelContract(ctx context.Context, contractID, idempotencyKey string) (*Outcome, error) {
	var out Outcome
	if err := c.do(ctx, http.MethodPost, "/contracts/"+url.PathEscape(contractID)+":cancel", nil, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDeal(ctx context.Context, dealID string) (*domain.Deal, error) {
	var out struct {
		Deal domain.Deal `json:"deal"`
	}
	if err := c.do(ctx, http.MethodGet, "/deals/"+url.PathEscape(dealID), nil, "", &out); err != nil {
		return nil, err
	}
	return &out.Deal, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+basePath+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "marketlane-go-sdk/0.1.0 (api:"+APIVersion+")")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.identity.apply(req); err != nil {
		return nil, err
	}
	return req, nil
}

// do sends one API call and decodes the JSON response into out. Reads are
// retried on transient failures; writes only when they carry an idempotency
// key, since only then is a repeat safe.
func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	attempts := 1
	if method == http.MethodGet || idempotencyKey != "" {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := c.newRequest(ctx, method, path, bodyBytes)
		if err != nil {
			return err
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts && ctx.Err() == nil {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return parseSDKError(resp.StatusCode, respBody)
	}
	return errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	max := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max > float64(cfg.MaxDelay) {
		max = float64(cfg.MaxDelay)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)+1))
	if err != nil {
		time.Sleep(time.Duration(max))
		return
	}
	time.Sleep(time.Duration(n.Int64()))
}

func parseSDKError(status int, body []byte) error {
	out := &Error{StatusCode: status}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	out.RequestID, _ = obj["request_id"].(string)
	if inner, ok := obj["error"].(map[string]any); ok {
		obj = inner
	}
	out.ErrorCode, _ = obj["code"].(string)
	out.Message, _ = obj["message"].(string)
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
