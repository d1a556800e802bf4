package main

import (
	"fmt"
	"net/url"
	"strconv"

	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"github.com/urfave/cli/v2"
)

var providerCmd = &cli.Command{
	Name:  "provider",
	Usage: "manage compute providers",
	Subcommands: []*cli.Command{
		{
			Name:      "register",
			Usage:     "register a compute provider (admin only)",
			ArgsUsage: "<address>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "endpoint", Usage: "provider endpoint url"},
			},
			Action: func(cctx *cli.Context) error {
				address, err := stringArg(cctx, "address")
				if err != nil {
					return err
				}
				req := usagedomain.RegisterComputeProviderRequest{Address: address, EndpointURL: cctx.String("endpoint")}
				return api.post(cctx.Context, "/compute-providers", req, nil)
			},
		},
		{
			Name:      "get",
			Usage:     "show a compute provider",
			ArgsUsage: "<address>",
			Action: func(cctx *cli.Context) error {
				address, err := stringArg(cctx, "address")
				if err != nil {
					return err
				}
				var provider usagedomain.ComputeProvider
				if err := api.get(cctx.Context, "/compute-providers/"+url.PathEscape(address), nil, &provider); err != nil {
					return err
				}
				return printJSON(provider)
			},
		},
	},
}

var usageCmd = &cli.Command{
	Name:  "usage",
	Usage: "record and verify compute usage",
	Subcommands: []*cli.Command{
		{
			Name:  "record",
			Usage: "record one job run against a rental (compute providers only)",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "rental", Required: true},
				&cli.StringFlag{Name: "job", Required: true},
				&cli.Int64Flag{Name: "compute-ms"},
				&cli.Int64Flag{Name: "resources"},
				&cli.StringFlag{Name: "input-hash"},
				&cli.StringFlag{Name: "output-hash"},
			},
			Action: func(cctx *cli.Context) error {
				req := usagedomain.RecordUsageRequest{
					RentalID:      cctx.Uint64("rental"),
					JobID:         cctx.String("job"),
					ComputeTimeMs: cctx.Int64("compute-ms"),
					ResourcesUsed: cctx.Int64("resources"),
					InputHash:     cctx.String("input-hash"),
					OutputHash:    cctx.String("output-hash"),
				}
				var resp idResponse
				if err := api.post(cctx.Context, "/usage-records", req, &resp); err != nil {
					return err
				}
				fmt.Printf("usage record %d created\n", resp.ID)
				return nil
			},
		},
		{
			Name:      "get",
			Usage:     "show one usage record",
			ArgsUsage: "<id>",
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				var record usagedomain.UsageRecord
				if err := api.get(cctx.Context, fmt.Sprintf("/usage-records/%d", id), nil, &record); err != nil {
					return err
				}
				return printJSON(record)
			},
		},
		{
			Name:      "verify",
			Usage:     "attach a verification verdict to a usage record",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "proof", Required: true},
				&cli.BoolFlag{Name: "reject", Usage: "record a negative verdict"},
			},
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				req := usagedomain.VerifyUsageRequest{ProofHash: cctx.String("proof"), Verified: !cctx.Bool("reject")}
				var record usagedomain.UsageRecord
				if err := api.post(cctx.Context, fmt.Sprintf("/usage-records/%d/verify", id), req, &record); err != nil {
					return err
				}
				fmt.Printf("usage record %d verified=%t\n", record.ID, record.Verified)
				return nil
			},
		},
		{
			Name:      "list",
			Usage:     "list the usage records of a rental",
			ArgsUsage: "<rental-id>",
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				var resp struct {
					Data []usagedomain.UsageRecord `json:"data"`
				}
				if err := api.get(cctx.Context, fmt.Sprintf("/rentals/%d/usage-records", id), nil, &resp); err != nil {
					return err
				}
				rows := make([][]string, 0, len(resp.Data))
				for _, r := range resp.Data {
					rows = append(rows, []string{
						u64(r.ID), r.JobID, r.ComputeProvider,
						i64(r.ComputeTimeMs), i64(r.ResourcesUsed), strconv.FormatBool(r.Verified),
					})
				}
				printTable([]string{"ID", "Job", "Provider", "Compute ms", "Resources", "Verified"}, rows)
				return nil
			},
		},
	},
}
