package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/admin"
	"github.com/saylorsolutions/routelog/pkg/config"
	"github.com/saylorsolutions/routelog/pkg/dsl"
	"github.com/saylorsolutions/routelog/pkg/entries"
	"github.com/saylorsolutions/routelog/plugin"
	"github.com/saylorsolutions/routelog/runtime"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type options struct {
	cfgPath string
	rules   string
}

// loadConfig reads the config file if one was given, and applies the rules flag over it.
func (o options) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(o.cfgPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if rules := strings.TrimSpace(o.rules); rules != "" {
		cfg.Rules = rules
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := new(options)
	cmd := &cobra.Command{
		Use:   "routelog",
		Short: "Route log lines to destinations with an ordered rule set",
		Long: `routelog reads log lines from its configured sources, evaluates each line against an ordered set of rules,
and writes the events produced by matching rules to named destinations.
It runs until every source has ended, or until it receives SIGINT or SIGTERM.
Sending SIGHUP reloads the rules file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutelog(cmd.Context(), *opts, os.Stderr)
		},
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&opts.cfgPath, "config", "c", "", "config yaml path")
	fs.StringVar(&opts.rules, "rules", "", "rules file path (overrides config rules)")
	cmd.AddCommand(
		newVetCmd(opts),
		newPluginsCmd(),
		newGrammarCmd(),
	)
	return cmd
}

func runRoutelog(ctx context.Context, opts options, logOut *os.File) (rerr error) {
	start := time.Now()
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging, logOut)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(log, cfg, plugins()...)
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := rt.Stop(); err != nil {
			log.Error("Error while stopping runtime", "error", err)
			if rerr == nil {
				rerr = err
			}
		}
		log.Info("Shut down", "uptime", time.Since(start).String())
	}()
	return serve(ctx, log, rt, cfg.Admin.Listen)
}

// serve runs rt until its sources end, along with the admin server if listen is set.
func serve(ctx context.Context, log hclog.Logger, rt *runtime.Runtime, listen string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return rt.Run(gctx)
	})
	if listen != "" {
		srv := admin.New(log, rt)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, listen)
		})
	}
	return g.Wait()
}

func newVetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "vet",
		Short: "Check the config and rules without reading any input",
		Long: `The vet subcommand loads the config, checks that every source and destination kind is provided by a plugin,
and compiles the rules file against the configured destinations.
Nothing is opened, and no input is read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVet(cmd.OutOrStdout(), *opts)
		},
	}
}

func runVet(out io.Writer, opts options) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	reg := plugin.NewRegistration()
	for _, p := range plugins() {
		p.Register(reg)
	}
	var errs []error
	for i, sc := range cfg.Sources {
		if err := reg.CheckSource(sc.Kind); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}
	for _, name := range cfg.DestinationNames() {
		if err := reg.CheckDestination(cfg.Destinations[name].Kind); err != nil {
			errs = append(errs, fmt.Errorf("destination '%s': %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	rs, err := runtime.CompileRules(cfg)
	if err != nil {
		return err
	}
	for _, w := range rs.Warnings() {
		fmt.Fprintf(out, "warning: rule '%s' at line %d column %d: %s\n", w.Rule, w.Line, w.Column, w.Reason)
	}
	_, err = fmt.Fprintf(out, "%s: %d rules routing to %d destinations\n", cfg.Rules, rs.Len(), len(rs.Destinations()))
	return err
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "Print documentation for every loaded plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := plugin.NewRegistration()
			for _, p := range plugins() {
				p.Register(reg)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Plugins provide the sources and destinations named by 'kind' in the config file.")
			fmt.Fprintln(out)
			_, err := fmt.Fprint(out, reg.AllDocs())
			return err
		},
	}
}

func newGrammarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grammar",
		Short: "Print the rule language grammar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprint(out, dsl.GrammarDescription, "\n")
			fmt.Fprintln(out, "[Transform Operations]")
			for _, op := range entries.Transforms() {
				fmt.Fprintf(out, "  transform(FIELD, %s)\n    %s\n", op.Usage(), op.Doc)
			}
			return nil
		},
	}
}
