package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/trailermpc/internal/automation"
	"github.com/san-kum/trailermpc/internal/config"
	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/logging"
	"github.com/san-kum/trailermpc/internal/metrics"
	"github.com/san-kum/trailermpc/internal/mpc"
	"github.com/san-kum/trailermpc/internal/optim"
	"github.com/san-kum/trailermpc/internal/sim"
	"github.com/san-kum/trailermpc/internal/solver"
	"github.com/san-kum/trailermpc/internal/store"
	"github.com/san-kum/trailermpc/internal/vehicle"
	"github.com/san-kum/trailermpc/internal/viz"
)

var (
	logLevel   string
	logPretty  bool
	configFile string
	saveFile   string
	exportFile string
	dt         float64
	duration   float64
	speed      float64
	steps      int
	soft       bool
	cold       bool
	plot       bool
	plotWidth  int
	benchRuns  int

	mcTrials       int
	mcSeed         int64
	mcLateral      float64
	mcHeadingDeg   float64
	mcArticDeg     float64
	mcTolerance    float64
	xtrackWeights  []float64
	headingWeights []float64

	log zerolog.Logger
)

var presetInfo = map[string]string{
	"straight":     "aligned start, straight reference line",
	"offset":       "reference line 3 m to the left",
	"obstacle":     "single obstacle on the line, hard clearance",
	"slalom":       "three staggered obstacles, soft clearance",
	"reverse-lane": "heading west onto a lane 4 m to the south",
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "trailermpc",
		Short:         "model predictive steering for a tractor-trailer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			log, err = logging.New(os.Stderr, logLevel, logPretty)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logging.DefaultLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", true, "human readable log output")

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "run a scenario to completion and print a summary",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScenario,
	}
	addScenarioFlags(runCmd)
	runCmd.Flags().BoolVar(&plot, "plot", true, "plot cross-track error and steering")
	runCmd.Flags().IntVar(&plotWidth, "width", 70, "plot width")
	runCmd.Flags().StringVar(&saveFile, "save", "", "write the resolved configuration to a yaml file")
	runCmd.Flags().StringVar(&exportFile, "export", "", "write the trajectory to a .json or .csv file")

	liveCmd := &cobra.Command{
		Use:   "live [preset]",
		Short: "run a scenario with live visualization",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addScenarioFlags(liveCmd)

	tickCmd := &cobra.Command{
		Use:   "tick [preset]",
		Short: "solve one horizon from the start pose and print it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTick,
	}
	addScenarioFlags(tickCmd)

	fleetCmd := &cobra.Command{
		Use:   "fleet [preset...]",
		Short: "run several scenarios concurrently",
		RunE:  runFleet,
	}

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark single horizon solves on every preset",
		RunE:  benchSolver,
	}
	benchCmd.Flags().IntVar(&benchRuns, "runs", 5, "solves per preset")

	tuneCmd := &cobra.Command{
		Use:   "tune [preset]",
		Short: "grid search the cost weights on a scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE:  tuneWeights,
	}
	addScenarioFlags(tuneCmd)
	tuneCmd.Flags().Float64SliceVar(&xtrackWeights, "xtrack", []float64{0.5, 1, 2, 4}, "cross-track weights to try")
	tuneCmd.Flags().Float64SliceVar(&headingWeights, "heading", []float64{10, 30, 60}, "heading weights to try")

	mcCmd := &cobra.Command{
		Use:   "montecarlo [preset]",
		Short: "run a scenario from randomly perturbed start poses",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMonteCarlo,
	}
	addScenarioFlags(mcCmd)
	mcCmd.Flags().IntVar(&mcTrials, "trials", 20, "number of trials")
	mcCmd.Flags().Int64Var(&mcSeed, "seed", 0, "random seed, 0 picks one from the clock")
	mcCmd.Flags().Float64Var(&mcLateral, "lateral", 2, "max lateral start offset (m)")
	mcCmd.Flags().Float64Var(&mcHeadingDeg, "heading", 10, "max heading perturbation (deg)")
	mcCmd.Flags().Float64Var(&mcArticDeg, "articulation", 5, "max articulation perturbation (deg)")
	mcCmd.Flags().Float64Var(&mcTolerance, "tol", 0.25, "final cross-track counted as converged (m)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available scenario presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, name := range config.ListPresets() {
				fmt.Fprintf(w, "%s\t%s\n", name, presetInfo[name])
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(runCmd, liveCmd, tickCmd, fleetCmd, benchCmd, tuneCmd, mcCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addScenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "control period in seconds")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "scenario duration in seconds")
	cmd.Flags().Float64Var(&speed, "speed", config.DefaultSpeed, "cruise speed in m/s")
	cmd.Flags().IntVar(&steps, "horizon", horizon.DefaultSteps, "horizon length in steps")
	cmd.Flags().BoolVar(&soft, "soft", false, "treat obstacle clearance as a soft constraint")
	cmd.Flags().BoolVar(&cold, "cold", false, "disable warm starting")
}

// loadConfig resolves preset, then config file on top of it, then explicit flags.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if len(args) > 0 {
		cfg = config.GetPreset(args[0])
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
		}
	}

	if configFile != "" {
		loaded, err := config.LoadOver(configFile, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Controller.Dt = dt
	}
	if flags.Changed("time") {
		cfg.Scenario.Duration = duration
	}
	if flags.Changed("speed") {
		cfg.Scenario.Speed = speed
	}
	if flags.Changed("horizon") {
		cfg.Controller.Horizon = steps
	}
	if flags.Changed("soft") {
		cfg.Controller.Soft = soft
	}
	if flags.Changed("cold") {
		cfg.Controller.WarmStart = !cold
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRunner() *sim.Runner {
	r := sim.New(sim.WithLogger(log))
	for _, m := range metrics.Standard() {
		r.AddMetric(m)
	}
	return r
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if saveFile != "" {
		if err := config.Save(saveFile, cfg); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sc := cfg.SimScenario()
	log.Info().Str("scenario", sc.Name).Int("steps", sc.Steps()).Msg("running")

	start := time.Now()
	res, err := newRunner().Run(ctx, sc)
	if res != nil {
		fmt.Println(viz.Summary(res))
		if plot {
			fmt.Println()
			fmt.Println(viz.Plots(res, plotWidth))
		}
		if exportFile != "" {
			if xerr := store.Export(exportFile, res); xerr != nil {
				return xerr
			}
			log.Info().Str("file", exportFile).Msg("trajectory exported")
		}
	}
	if err != nil {
		return err
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("done")
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	sc := cfg.SimScenario()

	// the alt screen would be garbled by log lines
	quiet := log.Level(zerolog.ErrorLevel)
	e, err := mpc.New(sc.Executor, mpc.WithLogger(quiet), mpc.WithWarmStart(!sc.ColdStart))
	if err != nil {
		return err
	}

	p := tea.NewProgram(viz.NewLive(e, sc, 70, 20), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	sc := cfg.SimScenario()

	e, err := mpc.New(sc.Executor, mpc.WithLogger(log))
	if err != nil {
		return err
	}

	start := time.Now()
	sol, err := e.Predict(cmd.Context(), sc.Dt, sc.Path, sc.Obstacles)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	g, path := e.Geometry(), cfg.Path()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "K\tX\tY\tHEADING\tTRAILER\tSTEER\tXTRACK\t")
	for k, s := range sol.States {
		cx, cy := vehicle.ControlPoint(s, g)
		fmt.Fprintf(w, "%d\t%.3f\t%.3f\t%.2f°\t%.2f°\t%.2f°\t%.3f\t\n",
			k, s.X, s.Y, deg(s.Heading), deg(s.TrailerHeading), deg(sol.Steering[k]), path.CrossTrack(cx, cy))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\ncost %.4f, %d iterations, %s\n", sol.Cost, sol.Iterations, elapsed.Round(time.Microsecond))
	return nil
}

func runFleet(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = config.ListPresets()
	}

	scenarios := make([]sim.Scenario, 0, len(names))
	for _, name := range names {
		cfg := config.GetPreset(name)
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s", name)
		}
		scenarios = append(scenarios, cfg.SimScenario())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	results, err := sim.RunFleet(ctx, scenarios, newRunner)
	for _, res := range results {
		if res != nil {
			fmt.Println(viz.Summary(res))
		}
	}
	if err != nil {
		return err
	}
	log.Info().Int("scenarios", len(results)).Dur("elapsed", time.Since(start)).Msg("fleet finished")
	return nil
}

func benchSolver(cmd *cobra.Command, args []string) error {
	if benchRuns < 1 {
		return fmt.Errorf("runs must be positive, got %d", benchRuns)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tHORIZON\tROWS\tMEAN\tMAX\tITERATIONS\tSTATUS")

	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		sc := cfg.SimScenario()
		m := sc.Executor

		p, err := horizon.Build(horizon.Input{
			State:     m.InitialState,
			Steering:  m.InitialSteering,
			Speed:     m.Speed,
			Dt:        sc.Dt,
			Geometry:  m.Geometry,
			Limits:    m.Limits,
			Path:      sc.Path,
			Obstacles: sc.Obstacles,
			Config:    m.Horizon,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		var total, worst time.Duration
		iterations := 0
		status := "ok"
		for i := 0; i < benchRuns; i++ {
			start := time.Now()
			sol, err := solver.Solve(p, m.MaxIterations)
			elapsed := time.Since(start)
			total += elapsed
			worst = max(worst, elapsed)
			if err != nil {
				status = "infeasible"
				continue
			}
			iterations = sol.Iterations
		}

		mean := total / time.Duration(benchRuns)
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%d\t%s\n",
			name, m.Horizon.Steps, p.NumInequalities(), mean.Round(time.Microsecond), worst.Round(time.Microsecond), iterations, status)
	}

	return w.Flush()
}

func tuneWeights(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	g, err := optim.NewGridSearch(
		[]string{"xtrack_weight", "heading_weight"},
		[][]float64{xtrackWeights, headingWeights},
	)
	if err != nil {
		return err
	}

	build := func(params map[string]float64) (sim.Scenario, error) {
		cfg := base.Clone()
		cfg.Controller.XTrackWeight = params["xtrack_weight"]
		cfg.Controller.HeadingWeight = params["heading_weight"]
		if err := cfg.Validate(); err != nil {
			return sim.Scenario{}, err
		}
		return cfg.SimScenario(), nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info().Int("candidates", g.Size()).Msg("tuning")
	best, all, err := g.Search(ctx, build, newRunner, optim.MetricScore("cross_track_rms", 1))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "XTRACK\tHEADING\tSCORE")
	for _, c := range all {
		score := fmt.Sprintf("%.4f", c.Score)
		if c.Err != nil {
			score = "error: " + c.Err.Error()
		}
		fmt.Fprintf(w, "%g\t%g\t%s\n", c.Params["xtrack_weight"], c.Params["heading_weight"], score)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nbest: xtrack %g, heading %g (score %.4f)\n",
		best.Params["xtrack_weight"], best.Params["heading_weight"], best.Score)
	return nil
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	mc := automation.MonteCarloConfig{
		Base:         cfg.SimScenario(),
		Lateral:      mcLateral,
		Heading:      mcHeadingDeg * math.Pi / 180,
		Articulation: mcArticDeg * math.Pi / 180,
		Trials:       mcTrials,
		Seed:         mcSeed,
		Tolerance:    mcTolerance,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	results, err := automation.RunMonteCarlo(ctx, mc, newRunner)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tY0\tHEADING0\tARTIC0\tFINAL XTRACK\tINFEASIBLE\tCONVERGED")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%.2f\t%.1f\t%.1f\t%.3f\t%d\t%t\n",
			r.Trial, r.Start.Y, deg(r.Start.Heading), deg(r.Start.Articulation()),
			r.FinalCrossTrack, r.Infeasible, r.Converged)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	converged, diverged := automation.MonteCarloStats(results)
	fmt.Printf("\nconverged %d, diverged %d\n", converged, diverged)
	log.Info().Int("trials", len(results)).Dur("elapsed", time.Since(start)).Msg("monte carlo finished")
	return nil
}

func deg(rad float64) float64 { return rad * 180 / math.Pi }
