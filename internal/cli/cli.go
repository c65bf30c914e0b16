// Package cli wires the haltalk command line: run serves a store over the
// configured transport, validate checks a configuration and fixture without
// connecting anywhere, describe prints the store the way a describe request
// would see it.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/haltalk/internal/hal/memstore"
	runtimepkg "github.com/drblury/haltalk/internal/runtime"
	configpkg "github.com/drblury/haltalk/internal/runtime/config"
	"github.com/drblury/haltalk/internal/runtime/ids"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	"github.com/drblury/haltalk/internal/wire"
	"github.com/drblury/haltalk/transport"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// serve runs a built service until ctx ends. Tests replace it.
var serve = func(ctx context.Context, svc *runtimepkg.Service) error {
	return svc.Start(ctx)
}

type options struct {
	configFile string
	fixture    string
	transport  string
	wireFormat string
	debug      int
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "haltalk",
		Short: "haltalk: status and command broker for HAL groups and remote components",
		Long: `haltalk publishes HAL groups and remote components to subscribers and
serves bind, set, get and describe requests over one message transport:
- halgroup: group status topics
- halrcomp: remote component status topics
- halrcmd: request and reply command channel`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file path (YAML)")
	flags.StringVarP(&opts.fixture, "fixture", "f", "", "HAL fixture loaded into the in-memory store (YAML)")
	flags.StringVar(&opts.transport, "transport", "", "override pubsub_system: channel, nats, kafka, rabbitmq")
	flags.StringVar(&opts.wireFormat, "wire-format", "", "override wire_format: json, protobuf")
	flags.CountVarP(&opts.debug, "debug", "d", "raise log verbosity, repeat for trace")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildValidateCommand(opts))
	rootCmd.AddCommand(buildDescribeCommand(opts))

	return rootCmd
}

func buildRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the store until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}
			store, err := opts.store()
			if err != nil {
				return err
			}

			logger := loggingpkg.NewDefaultLogger(cmd.ErrOrStderr(), conf.Debug)
			logger.Info("starting haltalk", loggingpkg.LogFields{"config": conf.String(), "version": Version})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := runtimepkg.TryNewService(conf, logger, ctx, runtimepkg.ServiceDependencies{Store: store})
			if err != nil {
				return err
			}
			err = serve(ctx, svc)
			if closeErr := svc.Close(); closeErr != nil {
				logger.Error("shutdown incomplete", closeErr, nil)
			}
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			logger.Info("haltalk stopped", nil)
			return err
		},
	}
}

func buildValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and fixture without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}
			if err := configpkg.ValidateConfig(conf); err != nil {
				return err
			}
			if !transport.DefaultRegistry.Has(conf.PubSubSystem) {
				return fmt.Errorf("unknown transport %q (registered: %v)", conf.PubSubSystem, transport.DefaultRegistry.Names())
			}
			if _, err := wire.CodecFor(conf.WireFormat); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: transport=%s wire_format=%s\n", conf.PubSubSystem, conf.WireFormat)
			if opts.fixture == "" {
				return nil
			}
			store, err := opts.store()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "fixture ok: %d components, %d signals, %d groups\n",
				len(store.Components()), len(store.Signals()), len(store.Groups()))
			return nil
		},
	}
}

func buildDescribeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the fixture as a describe reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.fixture == "" {
				return errors.New("describe needs --fixture")
			}
			store, err := opts.store()
			if err != nil {
				return err
			}
			env := wire.New(wire.MTHalrcmdDescription, ids.NewProcessUUID())
			env.Describe(store)
			data, err := wire.JSONCodec{}.Encode(env)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), data)
		},
	}
}

// load reads the config file and applies flag overrides.
func (o *options) load() (*configpkg.Config, error) {
	conf, err := configpkg.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.transport != "" {
		conf.PubSubSystem = o.transport
	}
	if o.wireFormat != "" {
		conf.WireFormat = o.wireFormat
	}
	if o.debug > conf.Debug {
		conf.Debug = o.debug
	}
	return conf, nil
}

// store loads the fixture, or returns an empty store when none is given.
func (o *options) store() (*memstore.Store, error) {
	if o.fixture == "" {
		return memstore.New(), nil
	}
	store, err := memstore.LoadFixtureFile(o.fixture)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", o.fixture, err)
	}
	return store, nil
}

func writeLine(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
