package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/authn"
	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
	"github.com/joshblitstein/HardWareMarket-sub000/pkg/httpx"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/idempotency"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/store"
	"github.com/joshblitstein/HardWareMarket-sub000/services/market/internal/workflow"
)

type server struct {
	engine       *workflow.Engine
	repo         *store.Repo
	log          *slog.Logger
	gatewayToken string
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/market/v1", func(api chi.Router) {
		api.Use(authn.Middleware(s.gatewayToken, func(w http.ResponseWriter, r *http.Request, err error) {
			httpx.WriteError(w, 401, "UNAUTHORIZED", "missing or invalid identity headers", nil)
		}))

		api.Post("/listings", func(w http.ResponseWriter, r *http.Request) {
			var req workflow.NewListing
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				l, err := s.engine.Listings.Create(r.Context(), actor, req)
				if err != nil {
					return 0, nil, err
				}
				return 201, map[string]any{"request_id": httpx.NewRequestID(), "listing": l}, nil
			})
		})

		api.Get("/listings/{listing_id}", func(w http.ResponseWriter, r *http.Request) {
			l, err := s.engine.Listings.Get(r.Context(), chi.URLParam(r, "listing_id"))
			if err != nil {
				s.writeErr(w, r, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "listing": l})
		})

		api.Post("/listings/{listing_id}:approve", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "listing_id")
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				l, err := s.engine.Listings.Approve(r.Context(), actor, id)
				if err != nil {
					return 0, nil, err
				}
				return 200, map[string]any{"request_id": httpx.NewRequestID(), "listing": l}, nil
			})
		})

		api.Post("/listings/{listing_id}:reject", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "listing_id")
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				l, err := s.engine.Listings.Reject(r.Context(), actor, id)
				if err != nil {
					return 0, nil, err
				}
				return 200, map[string]any{"request_id": httpx.NewRequestID(), "listing": l}, nil
			})
		})

		api.Post("/listings/{listing_id}/offers", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "listing_id")
			var req domain.OfferTerms
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				o, err := s.engine.Offers.Submit(r.Context(), actor, id, req)
				if err != nil {
					return 0, nil, err
				}
				return 201, map[string]any{"request_id": httpx.NewRequestID(), "offer": o}, nil
			})
		})

		api.Post("/listings/{listing_id}/contracts", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "listing_id")
			var req workflow.DirectPurchase
			if err := httpx.ReadJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				c, err := s.engine.Contracts.CreateDirect(r.Context(), actor, id, req)
				if err != nil {
					return 0, nil, err
				}
				return 201, map[string]any{"request_id": httpx.NewRequestID(), "contract": c}, nil
			})
		})

		api.Get("/offers/{offer_id}", func(w http.ResponseWriter, r *http.Request) {
			actor, _ := authn.ActorFrom(r.Context())
			id := chi.URLParam(r, "offer_id")
			stored, err := s.engine.Offers.Peek(r.Context(), id)
			if err != nil {
				s.writeErr(w, r, err)
				return
			}
			if !party(actor, stored.BuyerID, stored.SellerID) {
				s.writeErr(w, r, domain.Forbidden("not a party to this offer"))
				return
			}
			o, err := s.engine.Offers.Load(r.Context(), id)
			if err != nil {
				s.writeErr(w, r, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "offer": o})
		})

		api.Post("/offers/{offer_id}:accept", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "offer_id")
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				out, err := s.engine.Offers.Accept(r.Context(), actor, id)
				if err != nil {
					return 0, nil, err
				}
				return 200, outcomeBody(out), nil
			})
		})

		api.Post("/offers/{offer_id}:reject", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "offer_id")
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				o, err := s.engine.Offers.Reject(r.Context(), actor, id)
				if err != nil {
					return 0, nil, err
				}
				return 200, map[string]any{"request_id": httpx.NewRequestID(), "offer": o}, nil
			})
		})

		api.Get("/contracts", func(w http.ResponseWriter, r *http.Request) {
			actor, _ := authn.ActorFrom(r.Context())
			cs, err := s.engine.Contracts.PendingFor(r.Context(), actor)
			if err != nil {
				s.writeErr(w, r, err)
				return
			}
			if cs == nil {
				cs = []domain.Contract{}
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "contracts": cs})
		})

		api.Get("/contracts/{contract_id}", func(w http.ResponseWriter, r *http.Request) {
			v, ok := s.loadContract(w, r)
			if !ok {
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "contract": v})
		})

		api.Get("/contracts/{contract_id}/document", func(w http.ResponseWriter, r *http.Request) {
			v, ok := s.loadContract(w, r)
			if !ok {
				return
			}
			w.Header().Set("content-type", "text/plain; charset=utf-8")
			w.Header().Set("X-Text-Hash", v.TextHash)
			w.WriteHeader(200)
			_, _ = io.WriteString(w, v.Text)
		})

		api.Post("/contracts/{contract_id}:signBuyer", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "contract_id")
			req, ok := readSignature(w, r)
			if !ok {
				return
			}
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				c, err := s.engine.Contracts.SignAsBuyer(r.Context(), actor, id, req)
				if err != nil {
					return 0, nil, err
				}
				return 200, map[string]any{"request_id": httpx.NewRequestID(), "contract": c}, nil
			})
		})

		api.Post("/contracts/{contract_id}:signSeller", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "contract_id")
			req, ok := readSignature(w, r)
			if !ok {
				return
			}
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				out, err := s.engine.Contracts.SignAsSeller(r.Context(), actor, id, req)
				if err != nil {
					return 0, nil, err
				}
				return 200, outcomeBody(out), nil
			})
		})

		api.Post("/contracts/{contract_id}:cancel", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "contract_id")
			s.mutate(w, r, func(actor domain.Actor) (int, map[string]any, error) {
				out, err := s.engine.Contracts.Cancel(r.Context(), actor, id)
				if err != nil {
					return 0, nil, err
				}
				return 200, outcomeBody(out), nil
			})
		})

		api.Get("/deals/{deal_id}", func(w http.ResponseWriter, r *http.Request) {
			actor, _ := authn.ActorFrom(r.Context())
			d, err := s.engine.Deals.Get(r.Context(), chi.URLParam(r, "deal_id"))
			if err != nil {
				s.writeErr(w, r, err)
				return
			}
			if !party(actor, d.BuyerID, d.SellerID) {
				s.writeErr(w, r, domain.Forbidden("not a party to this deal"))
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "deal": d})
		})
	})
	return r
}

func (s *server) loadContract(w http.ResponseWriter, r *http.Request) (workflow.ContractView, bool) {
	actor, _ := authn.ActorFrom(r.Context())
	id := chi.URLParam(r, "contract_id")
	stored, err := s.engine.Contracts.Peek(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return workflow.ContractView{}, false
	}
	if !party(actor, stored.BuyerID, stored.SellerID) {
		s.writeErr(w, r, domain.Forbidden("not a party to this contract"))
		return workflow.ContractView{}, false
	}
	v, err := s.engine.Contracts.Load(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return workflow.ContractView{}, false
	}
	return v, true
}

// mutate runs a state-changing handler, replaying the stored response when
// the actor retries with the same Idempotency-Key.
func (s *server) mutate(w http.ResponseWriter, r *http.Request, run func(actor domain.Actor) (int, map[string]any, error)) {
	actor, _ := authn.ActorFrom(r.Context())
	ac := idempotency.ActorContext{ActorID: actor.UserID, IdempotencyKey: r.Header.Get(idempotency.Header)}
	endpoint := r.Method + " " + r.URL.Path

	status, body, replayed, err := idempotency.Replay(r.Context(), s.repo, ac, endpoint)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replay", "true")
		httpx.WriteJSON(w, status, body)
		return
	}

	status, body, err = run(actor)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := idempotency.Save(r.Context(), s.repo, ac, endpoint, status, body); err != nil {
		s.log.WarnContext(r.Context(), "idempotency record not saved", "endpoint", endpoint, "error", err)
	}
	httpx.WriteJSON(w, status, body)
}

func (s *server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.Classify(err)
	if status >= 500 {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	httpx.WriteDomainError(w, err)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func outcomeBody(out workflow.Outcome) map[string]any {
	body := map[string]any{
		"request_id":    httpx.NewRequestID(),
		"archived":      out.Archived,
		"pending_steps": out.PendingSteps(),
	}
	if out.Offer != nil {
		body["offer"] = out.Offer
	}
	if out.Contract != nil {
		body["contract"] = out.Contract
	}
	if out.Deal != nil {
		body["deal"] = out.Deal
	}
	if out.Listing != nil {
		body["listing"] = out.Listing
	}
	return body
}

func readSignature(w http.ResponseWriter, r *http.Request) (workflow.SignatureInput, bool) {
	var req workflow.SignatureInput
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return req, false
	}
	if req.Device.UserAgent == "" {
		req.Device.UserAgent = r.UserAgent()
	}
	if req.Device.IPAddress == "" {
		req.Device.IPAddress = clientIP(r)
	}
	return req, true
}

func party(actor domain.Actor, ids ...string) bool {
	if actor.IsAdmin() {
		return true
	}
	for _, id := range ids {
		if id == actor.UserID {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if v := strings.TrimSpace(strings.Split(xff, ",")[0]); v != "" {
			return v
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
