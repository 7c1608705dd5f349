// mktctl is an operator CLI for the market service. Reads go through the
// service's normal read paths, so showing a contract or offer also finishes
// any transition steps left pending by an earlier failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/joshblitstein/HardWareMarket-sub000/sdk/go/marketlane"
)

const usage = `usage: mktctl [flags] <resource> <verb> [id]

resources and verbs:
  listing  show|approve|reject <listing_id>
  offer    show|accept|reject <offer_id>
  contract show|document|cancel <contract_id>
  contract pending
  deal     show <deal_id>

flags:
`

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("mktctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("base-url", getenv("MARKET_BASE_URL", "http://localhost:8090"), "market service base URL")
	actorID := fs.String("actor-id", os.Getenv("MARKET_ACTOR_ID"), "acting user id")
	actorType := fs.String("actor-type", getenv("MARKET_ACTOR_TYPE", "admin"), "acting user type (buyer, seller, admin)")
	token := fs.String("gateway-token", os.Getenv("MARKET_GATEWAY_TOKEN"), "gateway token, when the service requires one")
	timeout := fs.Duration("timeout", 15*time.Second, "overall request timeout")
	idemKey := fs.String("idempotency-key", "", "idempotency key for write verbs (generated when empty)")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	client := marketlane.NewClient(*baseURL, marketlane.Identity{
		ActorID:      *actorID,
		ActorType:    *actorType,
		GatewayToken: *token,
	})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	key := strings.TrimSpace(*idemKey)
	if key == "" {
		key = marketlane.NewIdempotencyKey()
	}
	out, err := dispatch(ctx, client, fs.Args(), key)
	if err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(stderr, ue.msg)
			fs.Usage()
			return 2
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if s, ok := out.(string); ok {
		fmt.Fprint(stdout, s)
		return 0
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, c *marketlane.Client, args []string, key string) (any, error) {
	if len(args) < 2 {
		return nil, usageError{"missing resource or verb"}
	}
	resource, verb, rest := args[0], args[1], args[2:]
	if resource == "contract" && verb == "pending" {
		return c.PendingContracts(ctx)
	}
	if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
		return nil, usageError{fmt.Sprintf("%s %s needs exactly one id", resource, verb)}
	}
	id := rest[0]

	switch resource + " " + verb {
	case "listing show":
		return c.GetListing(ctx, id)
	case "listing approve":
		return c.ApproveListing(ctx, id, key)
	case "listing reject":
		return c.RejectListing(ctx, id, key)
	case "offer show":
		return c.GetOffer(ctx, id)
	case "offer accept":
		return c.AcceptOffer(ctx, id, key)
	case "offer reject":
		return c.RejectOffer(ctx, id, key)
	case "contract show":
		return c.GetContract(ctx, id)
	case "contract document":
		doc, err := c.ContractDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		return doc.Text, nil
	case "contract cancel":
		return c.CancelContract(ctx, id, key)
	case "deal show":
		return c.GetDeal(ctx, id)
	}
	return nil, usageError{fmt.Sprintf("unknown command %q", resource+" "+verb)}
}

func getenv(k, d string) string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v
}
