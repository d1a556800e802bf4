package main

import (
	"fmt"
	"net/url"
	"strconv"

	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/urfave/cli/v2"
)

var eventsCmd = &cli.Command{
	Name:  "events",
	Usage: "page through the marketplace change log",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "entity-type", Usage: "offering, rental, usage_record or compute_provider"},
		&cli.StringFlag{Name: "entity-id"},
		&cli.StringFlag{Name: "page-token"},
		&cli.IntFlag{Name: "page-size", Value: 50},
	},
	Action: func(cctx *cli.Context) error {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(cctx.Int("page-size")))
		if v := cctx.String("entity-type"); v != "" {
			query.Set("entity_type", v)
		}
		if v := cctx.String("entity-id"); v != "" {
			query.Set("entity_id", v)
		}
		if v := cctx.String("page-token"); v != "" {
			query.Set("page_token", v)
		}

		var resp auditdomain.ListEventResponse
		if err := api.get(cctx.Context, "/events", query, &resp); err != nil {
			return err
		}
		rows := make([][]string, 0, len(resp.Events))
		for _, e := range resp.Events {
			rows = append(rows, []string{
				e.ID.String(), e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				e.EntityType, e.EntityID, e.Action, e.Actor,
			})
		}
		printTable([]string{"ID", "At", "Entity", "Entity ID", "Action", "Actor"}, rows)
		if resp.HasMore {
			fmt.Printf("next page token: %s\n", resp.NextPageToken)
		}
		return nil
	},
}
