package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/smallbiznis/agentmarket/internal/escrow"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	"github.com/smallbiznis/agentmarket/internal/settlement"
	"github.com/urfave/cli/v2"
)

var rentalCmd = &cli.Command{
	Name:  "rental",
	Usage: "rent offerings and manage rentals",
	Subcommands: []*cli.Command{
		{
			Name:  "pay-per-use",
			Usage: "rent an offering for a bounded number of uses",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "offering", Required: true},
				&cli.Int64Flag{Name: "max-usage", Required: true},
				&cli.Int64Flag{Name: "payment", Required: true},
			},
			Action: func(cctx *cli.Context) error {
				req := rentaldomain.RentPayPerUseRequest{
					OfferingID: cctx.Uint64("offering"),
					MaxUsage:   cctx.Int64("max-usage"),
					Payment:    cctx.Int64("payment"),
				}
				var resp idResponse
				if err := api.post(cctx.Context, "/rentals/pay-per-use", req, &resp); err != nil {
					return err
				}
				fmt.Printf("rental %d created\n", resp.ID)
				return nil
			},
		},
		{
			Name:  "subscribe",
			Usage: "rent an offering for a period of time",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "offering", Required: true},
				&cli.DurationFlag{Name: "duration", Required: true, Usage: "e.g. 720h"},
				&cli.Int64Flag{Name: "payment", Required: true},
			},
			Action: func(cctx *cli.Context) error {
				req := map[string]any{
					"offering_id":      cctx.Uint64("offering"),
					"duration_seconds": int64(cctx.Duration("duration") / time.Second),
					"payment":          cctx.Int64("payment"),
				}
				var resp idResponse
				if err := api.post(cctx.Context, "/rentals/subscription", req, &resp); err != nil {
					return err
				}
				fmt.Printf("rental %d created\n", resp.ID)
				return nil
			},
		},
		{
			Name:      "get",
			Usage:     "show one rental",
			ArgsUsage: "<id>",
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				var rental rentaldomain.Rental
				if err := api.get(cctx.Context, fmt.Sprintf("/rentals/%d", id), nil, &rental); err != nil {
					return err
				}
				return printJSON(rental)
			},
		},
		{
			Name:      "use",
			Usage:     "consume one use of a rental",
			ArgsUsage: "<id>",
			Action:    rentalTransition("use"),
		},
		{
			Name:      "cancel",
			Usage:     "cancel a rental and refund the unused escrow",
			ArgsUsage: "<id>",
			Action:    rentalTransition("cancel"),
		},
		{
			Name:      "complete",
			Usage:     "complete a rental and settle its escrow",
			ArgsUsage: "<id>",
			Action:    rentalTransition("complete"),
		},
		{
			Name:      "escrow",
			Usage:     "show a rental's escrow account and payouts",
			ArgsUsage: "<id>",
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				var resp struct {
					Account   escrow.Account        `json:"account"`
					Held      int64                 `json:"held"`
					Transfers []settlement.Transfer `json:"transfers"`
				}
				if err := api.get(cctx.Context, fmt.Sprintf("/rentals/%d/escrow", id), nil, &resp); err != nil {
					return err
				}
				return printJSON(resp)
			},
		},
		{
			Name:      "list",
			Usage:     "list the rentals of a renter",
			ArgsUsage: "[address]",
			Action: func(cctx *cli.Context) error {
				renter := cfg.Caller
				if cctx.NArg() > 0 {
					renter = cctx.Args().First()
				}
				if renter == "" {
					return fmt.Errorf("missing renter address")
				}
				var resp struct {
					Data []rentaldomain.Rental `json:"data"`
				}
				if err := api.get(cctx.Context, "/renters/"+url.PathEscape(renter)+"/rentals", nil, &resp); err != nil {
					return err
				}
				rows := make([][]string, 0, len(resp.Data))
				for _, r := range resp.Data {
					expires := "-"
					if r.ExpiresAt != nil {
						expires = r.ExpiresAt.Format(time.RFC3339)
					}
					rows = append(rows, []string{
						u64(r.ID), u64(r.OfferingID), string(r.Kind), string(r.Status),
						i64(r.EscrowAmount), fmt.Sprintf("%d/%d", r.UsageCount, r.MaxUsage), expires,
					})
				}
				printTable([]string{"ID", "Offering", "Kind", "Status", "Escrow", "Usage", "Expires"}, rows)
				return nil
			},
		},
	},
}

func rentalTransition(action string) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		id, err := idArg(cctx)
		if err != nil {
			return err
		}
		var rental rentaldomain.Rental
		if err := api.post(cctx.Context, fmt.Sprintf("/rentals/%d/%s", id, action), nil, &rental); err != nil {
			return err
		}
		fmt.Printf("rental %d %s, %d uses\n", rental.ID, rental.Status, rental.UsageCount)
		return nil
	}
}

var balanceCmd = &cli.Command{
	Name:      "balance",
	Usage:     "show the settled balance of an address",
	ArgsUsage: "[address]",
	Action: func(cctx *cli.Context) error {
		address := cfg.Caller
		if cctx.NArg() > 0 {
			address = cctx.Args().First()
		}
		if address == "" {
			return fmt.Errorf("missing address")
		}
		var resp struct {
			Address string `json:"address"`
			Balance int64  `json:"balance"`
		}
		if err := api.get(cctx.Context, "/accounts/"+url.PathEscape(address)+"/balance", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("%s %d\n", resp.Address, resp.Balance)
		return nil
	},
}
