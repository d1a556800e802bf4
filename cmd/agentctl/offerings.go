package main

import (
	"fmt"
	"net/url"
	"strconv"

	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"github.com/urfave/cli/v2"
)

type idResponse struct {
	ID uint64 `json:"id"`
}

type offeringList struct {
	Data []offeringdomain.Offering `json:"data"`
}

var offeringCmd = &cli.Command{
	Name:  "offering",
	Usage: "manage agent offerings",
	Subcommands: []*cli.Command{
		{
			Name:  "register",
			Usage: "register a new offering owned by the caller",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "description"},
				&cli.StringFlag{Name: "category"},
				&cli.StringFlag{Name: "content-hash", Required: true},
				&cli.Int64Flag{Name: "price-per-use"},
				&cli.Int64Flag{Name: "subscription-price"},
			},
			Action: func(cctx *cli.Context) error {
				req := offeringdomain.RegisterRequest{
					Name:              cctx.String("name"),
					Description:       cctx.String("description"),
					Category:          cctx.String("category"),
					ContentHash:       cctx.String("content-hash"),
					PricePerUse:       cctx.Int64("price-per-use"),
					SubscriptionPrice: cctx.Int64("subscription-price"),
				}
				var resp idResponse
				if err := api.post(cctx.Context, "/offerings", req, &resp); err != nil {
					return err
				}
				fmt.Printf("offering %d registered\n", resp.ID)
				return nil
			},
		},
		{
			Name:      "get",
			Usage:     "show one offering",
			ArgsUsage: "<id>",
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				var item offeringdomain.Offering
				if err := api.get(cctx.Context, fmt.Sprintf("/offerings/%d", id), nil, &item); err != nil {
					return err
				}
				return printJSON(item)
			},
		},
		{
			Name:  "list",
			Usage: "list active offerings, or filter by owner or category",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "owner"},
				&cli.StringFlag{Name: "category"},
				&cli.IntFlag{Name: "offset"},
				&cli.IntFlag{Name: "limit", Value: 50},
			},
			Action: func(cctx *cli.Context) error {
				path := "/offerings"
				var query url.Values
				switch {
				case cctx.String("owner") != "":
					path = "/owners/" + url.PathEscape(cctx.String("owner")) + "/offerings"
				case cctx.String("category") != "":
					path = "/categories/" + url.PathEscape(cctx.String("category")) + "/offerings"
				default:
					query = url.Values{}
					query.Set("offset", strconv.Itoa(cctx.Int("offset")))
					query.Set("limit", strconv.Itoa(cctx.Int("limit")))
				}
				var resp offeringList
				if err := api.get(cctx.Context, path, query, &resp); err != nil {
					return err
				}
				rows := make([][]string, 0, len(resp.Data))
				for _, o := range resp.Data {
					rows = append(rows, []string{
						u64(o.ID), o.Name, o.Category, o.Owner,
						i64(o.PricePerUse), i64(o.SubscriptionPrice),
						strconv.FormatBool(o.Active), u64(o.TotalUsage), u64(o.Rating),
					})
				}
				printTable([]string{"ID", "Name", "Category", "Owner", "Per Use", "Subscription", "Active", "Usage", "Rating"}, rows)
				return nil
			},
		},
		{
			Name:  "count",
			Usage: "print the number of registered offerings",
			Action: func(cctx *cli.Context) error {
				var resp struct {
					Total uint64 `json:"total"`
				}
				if err := api.get(cctx.Context, "/offerings/count", nil, &resp); err != nil {
					return err
				}
				fmt.Println(resp.Total)
				return nil
			},
		},
		{
			Name:      "update",
			Usage:     "replace an offering's name, description and prices",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "description"},
				&cli.Int64Flag{Name: "price-per-use"},
				&cli.Int64Flag{Name: "subscription-price"},
			},
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				req := offeringdomain.UpdateRequest{
					Name:              cctx.String("name"),
					Description:       cctx.String("description"),
					PricePerUse:       cctx.Int64("price-per-use"),
					SubscriptionPrice: cctx.Int64("subscription-price"),
				}
				return api.patch(cctx.Context, fmt.Sprintf("/offerings/%d", id), req, nil)
			},
		},
		{
			Name:      "activate",
			Usage:     "make an offering rentable",
			ArgsUsage: "<id>",
			Action:    offeringToggle("activate"),
		},
		{
			Name:      "deactivate",
			Usage:     "stop new rentals of an offering",
			ArgsUsage: "<id>",
			Action:    offeringToggle("deactivate"),
		},
		{
			Name:      "review",
			Usage:     "rate an offering you have rented",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "rating", Required: true, Usage: "1 to 5"},
				&cli.StringFlag{Name: "comment"},
			},
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				req := offeringdomain.AddReviewRequest{Rating: cctx.Int("rating"), Comment: cctx.String("comment")}
				return api.post(cctx.Context, fmt.Sprintf("/offerings/%d/reviews", id), req, nil)
			},
		},
		{
			Name:      "reviews",
			Usage:     "list an offering's reviews",
			ArgsUsage: "<id>",
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				var resp struct {
					Data []offeringdomain.Review `json:"data"`
				}
				if err := api.get(cctx.Context, fmt.Sprintf("/offerings/%d/reviews", id), nil, &resp); err != nil {
					return err
				}
				rows := make([][]string, 0, len(resp.Data))
				for _, r := range resp.Data {
					rows = append(rows, []string{r.Reviewer, strconv.Itoa(int(r.Rating)), r.Comment})
				}
				printTable([]string{"Reviewer", "Rating", "Comment"}, rows)
				return nil
			},
		},
		{
			Name:      "stats",
			Usage:     "show recorded usage totals for an offering",
			ArgsUsage: "<id>",
			Action: func(cctx *cli.Context) error {
				id, err := idArg(cctx)
				if err != nil {
					return err
				}
				var stats usagedomain.AgentUsageStats
				if err := api.get(cctx.Context, fmt.Sprintf("/offerings/%d/usage-stats", id), nil, &stats); err != nil {
					return err
				}
				return printJSON(stats)
			},
		},
	},
}

func offeringToggle(action string) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		id, err := idArg(cctx)
		if err != nil {
			return err
		}
		return api.post(cctx.Context, fmt.Sprintf("/offerings/%d/%s", id, action), nil, nil)
	}
}
