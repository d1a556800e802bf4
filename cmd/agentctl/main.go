package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var (
	configPath string
	cfg        Config
	api        *client
)

var flagConfig = &cli.StringFlag{
	Name:        "config",
	Usage:       "path to the agentctl config file",
	EnvVars:     []string{"AGENTCTL_CONFIG"},
	Value:       defaultConfigPath,
	Destination: &configPath,
}

var flagServer = &cli.StringFlag{
	Name:    "server",
	Usage:   "marketplace API base url, overrides the config file",
	EnvVars: []string{"AGENTCTL_SERVER"},
}

var flagCaller = &cli.StringFlag{
	Name:    "caller",
	Usage:   "caller address sent with every request, overrides the config file",
	EnvVars: []string{"AGENTCTL_CALLER"},
}

func main() {
	app := &cli.App{
		Name:                 "agentctl",
		Usage:                "command line client for the agent marketplace",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			flagConfig,
			flagServer,
			flagCaller,
		},
		Before: func(cctx *cli.Context) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cctx.IsSet(flagServer.Name) {
				loaded.Server = cctx.String(flagServer.Name)
			}
			if cctx.IsSet(flagCaller.Name) {
				loaded.Caller = cctx.String(flagCaller.Name)
			}
			cfg = loaded
			api = newClient(cfg)
			return nil
		},
		Commands: []*cli.Command{
			initCmd,
			offeringCmd,
			rentalCmd,
			providerCmd,
			usageCmd,
			eventsCmd,
			balanceCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "write the current server and caller to the config file",
	Action: func(cctx *cli.Context) error {
		path, err := writeConfig(configPath, cfg)
		if err != nil {
			return err
		}
		fmt.Printf("config written to %s\n", path)
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(header []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

func idArg(cctx *cli.Context) (uint64, error) {
	if cctx.NArg() < 1 {
		return 0, fmt.Errorf("missing id argument")
	}
	id, err := strconv.ParseUint(cctx.Args().First(), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", cctx.Args().First())
	}
	return id, nil
}

func stringArg(cctx *cli.Context, name string) (string, error) {
	if cctx.NArg() < 1 || cctx.Args().First() == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return cctx.Args().First(), nil
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func i64(v int64) string  { return strconv.FormatInt(v, 10) }
