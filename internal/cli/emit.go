package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
	"github.com/correlator-io/openlineage-playground/internal/scenarios"
	"github.com/correlator-io/openlineage-playground/internal/transport"
)

// deterministicEpoch is the clock of --deterministic runs.
var deterministicEpoch = time.Date(2022, 4, 14, 5, 12, 0, 0, time.UTC)

type emitCommand struct {
	global *globalOptions

	configPath    string
	all           bool
	concurrent    bool
	deterministic bool
	abortEvents   bool
}

func newEmitCmd(global *globalOptions) *cobra.Command {
	emit := &emitCommand{global: global}

	cmd := &cobra.Command{
		Use:   "emit [scenario...]",
		Short: "Emit the events of one or more simulated pipelines",
		Example: heredoc.Doc(`
			# print the TrainFlow events as JSON
			$ olplay emit train-flow

			# send every scenario to a local collector
			$ OPENLINEAGE_URL=http://localhost:5000 olplay emit --all --concurrent

			# reproducible output for golden files
			$ olplay emit housing-regression --deterministic --config ./openlineage.yml
		`),
		ValidArgs: scenarios.Names(),
		RunE:      emit.RunE,
	}

	cmd.Flags().StringVarP(&emit.configPath, "config", "c", "",
		"transport config file (default $OPENLINEAGE_CONFIG or openlineage.yml)")
	cmd.Flags().BoolVar(&emit.all, "all", false, "emit every scenario")
	cmd.Flags().BoolVar(&emit.concurrent, "concurrent", false, "run the selected scenarios concurrently")
	cmd.Flags().BoolVar(&emit.deterministic, "deterministic", false,
		"use sequential run ids and a fixed clock (run ids interleave under --concurrent)")
	cmd.Flags().BoolVar(&emit.abortEvents, "abort-events", false,
		"emit ABORT for open runs when a flow fails validation")

	return cmd
}

func (e *emitCommand) RunE(cmd *cobra.Command, args []string) error {
	selected, err := e.selectScenarios(args)
	if err != nil {
		return err
	}

	cfg, err := loadTransportConfig(e.configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	tr, err := transport.New(ctx, cfg,
		transport.WithConsoleWriter(cmd.OutOrStdout()),
		transport.WithLogger(e.global.logger),
	)
	if err != nil {
		return fmt.Errorf("build %s transport: %w", cfg.Transport.Type, err)
	}

	defer closeTransport(tr, e.global.logger)

	em := emitter.New(tr, e.emitterOptions()...)

	if !e.concurrent {
		for _, s := range selected {
			if err := e.runScenario(ctx, em, s); err != nil {
				return err
			}
		}

		return nil
	}

	flows := make([]emitter.FlowFunc, len(selected))
	for i, s := range selected {
		flows[i] = func(ctx context.Context) error { return e.runScenario(ctx, em, s) }
	}

	return emitter.RunFlows(ctx, flows...)
}

func (e *emitCommand) selectScenarios(args []string) ([]scenarios.Scenario, error) {
	if e.all {
		if len(args) > 0 {
			return nil, errors.New("--all cannot be combined with scenario names")
		}

		return scenarios.All(), nil
	}

	if len(args) == 0 {
		return nil, errors.New("name at least one scenario or pass --all (see olplay list)")
	}

	selected := make([]scenarios.Scenario, 0, len(args))

	for _, name := range args {
		s, err := scenarios.Lookup(name)
		if err != nil {
			return nil, err
		}

		selected = append(selected, s)
	}

	return selected, nil
}

func (e *emitCommand) emitterOptions() []emitter.Option {
	opts := []emitter.Option{
		emitter.WithLogger(e.global.logger),
		emitter.WithAbortEvents(e.abortEvents),
	}

	if e.deterministic {
		assembler := emitter.NewAssembler()
		assembler.Now = func() time.Time { return deterministicEpoch }

		opts = append(opts,
			emitter.WithAssembler(assembler),
			emitter.WithIDGenerator(lineage.NewSequenceGenerator("run-")),
		)
	}

	return opts
}

func (e *emitCommand) runScenario(ctx context.Context, em *emitter.Emitter, s scenarios.Scenario) error {
	startTime := time.Now()

	if err := s.Run(ctx, em); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	e.global.logger.Info("Scenario emitted",
		slog.String("scenario", s.Name),
		slog.Duration("duration", time.Since(startTime)),
	)

	return nil
}

// loadTransportConfig reads path, or the file OPENLINEAGE_CONFIG names when
// path is empty. Environment overrides apply in both cases.
func loadTransportConfig(path string) (*transport.Config, error) {
	if path == "" {
		return transport.LoadConfigFromEnv()
	}

	cfg, err := transport.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()

	return cfg, nil
}

func closeTransport(tr transport.Transport, logger *slog.Logger) {
	closer, ok := tr.(io.Closer)
	if !ok {
		return
	}

	if err := closer.Close(); err != nil {
		logger.Error("Failed to close transport", slog.String("error", err.Error()))
	}
}
