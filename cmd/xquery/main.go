package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	xquery "xquery-go"
	"xquery-go/internal/config"
	"xquery-go/internal/logger"
	"xquery-go/internal/server"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "xquery",
	Short:         "Run XQuery-style queries against XML documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		return nil
	},
}

func newEngine() *xquery.Engine {
	return xquery.New(xquery.WithProjectRoot(cfg.ProjectRoot), xquery.WithLogger(logger.Get()))
}

func runCmd() *cobra.Command {
	var workDir string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run <input.xml> <query.xq>",
		Short: "Execute a query file against an XML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			xmlBytes, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			queryText, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if workDir == "" {
				workDir = filepath.Dir(args[0])
			}
			res := newEngine().Execute(string(xmlBytes), string(queryText), workDir)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				for _, r := range res.Results {
					fmt.Fprintln(out, r)
				}
			}
			if !res.Success {
				color.New(color.FgRed, color.Bold).Fprintln(cmd.ErrOrStderr(), res.Message)
				return fmt.Errorf("query failed")
			}
			color.New(color.FgGreen).Fprintln(cmd.ErrOrStderr(), res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&workDir, "workdir", "", "base directory for relative doc() paths (default: directory of the XML file)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func preprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preprocess <query.xq>",
		Short: "Print a query after prolog stripping and FLWOR rewriting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryText, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), xquery.Preprocess(string(queryText)))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query engine over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(newEngine(), logger.Get()).Run(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.AddCommand(runCmd(), preprocessCmd(), serveCmd())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
