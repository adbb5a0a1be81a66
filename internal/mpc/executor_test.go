package mpc_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/mpc"
	"github.com/san-kum/trailermpc/internal/solver"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

const dt = 0.1

var (
	straight = horizon.PathSegment{Start: horizon.Point{X: 0, Y: 0}, End: horizon.Point{X: 100, Y: 0}}
	offset   = horizon.PathSegment{Start: horizon.Point{X: 0, Y: 2}, End: horizon.Point{X: 100, Y: 2}}
)

// holdSolver returns the plan that keeps the current steering.
func holdSolver(calls *[]int) mpc.SolveFunc {
	return func(p *horizon.Problem, _ int, opts ...solver.Option) (horizon.Solution, error) {
		if calls != nil {
			*calls = append(*calls, len(opts))
		}
		return p.Solution(p.InitialGuess(nil)), nil
	}
}

func failingSolver(p *horizon.Problem, _ int, _ ...solver.Option) (horizon.Solution, error) {
	return horizon.Solution{}, &solver.InfeasibleError{Violation: 4, Iterations: 12, Wrapped: errors.New("stuck")}
}

func trailerOffset(e *mpc.Executor) float64 {
	x, y := vehicle.TrailerAxle(e.State(), e.Geometry())
	return math.Abs(offset.CrossTrack(x, y))
}

var _ = Describe("Executor", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("New", func() {
		It("starts idle at the configured pose", func() {
			cfg := mpc.DefaultConfig()
			cfg.InitialState = vehicle.State{X: 3, Y: 4, Heading: 0.1, TrailerHeading: 0.1}
			cfg.InitialSteering = 0.05

			e, err := mpc.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Status()).To(Equal(mpc.Idle))
			Expect(e.State()).To(Equal(cfg.InitialState))
			Expect(e.Steering()).To(Equal(0.05))
			Expect(e.Ticks()).To(BeZero())
		})

		DescribeTable("rejects bad configuration",
			func(mutate func(*mpc.Config), target error) {
				cfg := mpc.DefaultConfig()
				mutate(&cfg)
				_, err := mpc.New(cfg)
				Expect(err).To(MatchError(target))

				var ce *vehicle.ConfigError
				Expect(errors.As(err, &ce)).To(BeTrue())
			},
			Entry("zero wheelbase", func(c *mpc.Config) { c.Geometry.Wheelbase = 0 }, vehicle.ErrInvalidGeometry),
			Entry("negative trailer", func(c *mpc.Config) { c.Geometry.TrailerLength = -1 }, vehicle.ErrInvalidGeometry),
			Entry("zero rate limit", func(c *mpc.Config) { c.Limits.MaxSteerRate = 0 }, vehicle.ErrInvalidLimits),
			Entry("negative speed", func(c *mpc.Config) { c.Speed = -1 }, vehicle.ErrInvalidSpeed),
			Entry("empty horizon", func(c *mpc.Config) { c.Horizon.Steps = 0 }, horizon.ErrInvalidInput),
			Entry("steering beyond limit", func(c *mpc.Config) { c.InitialSteering = 1 }, vehicle.ErrInvalidLimits),
		)
	})

	Describe("Tick", func() {
		It("drives straight along an aligned path", func() {
			e, err := mpc.New(mpc.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			sol, err := e.Tick(ctx, dt, straight, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.Len()).To(Equal(horizon.DefaultSteps + 1))
			Expect(sol.Next()).To(BeNumerically("~", 0, 1e-6))

			s := e.State()
			Expect(s.X).To(BeNumerically("~", 0.5, 1e-9))
			Expect(s.Y).To(BeNumerically("~", 0, 1e-9))
			Expect(s.Heading).To(BeNumerically("~", 0, 1e-9))
			Expect(s.TrailerHeading).To(BeNumerically("~", 0, 1e-9))
			Expect(e.Status()).To(Equal(mpc.Tracking))
		})

		It("moves to the first predicted state", func() {
			e, err := mpc.New(mpc.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			sol, err := e.Tick(ctx, dt, offset, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.State()).To(Equal(sol.States[1]))
			Expect(e.Steering()).To(Equal(sol.Steering[1]))
		})

		It("steers toward a parallel path and closes the gap", func() {
			e, err := mpc.New(mpc.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			start := trailerOffset(e)

			sol, err := e.Tick(ctx, dt, offset, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.Next()).To(BeNumerically(">", 0))

			limits := vehicle.DefaultLimits()
			prev := sol.Next()
			for i := 0; i < 14; i++ {
				sol, err = e.Tick(ctx, dt, offset, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(math.Abs(sol.Next() - prev)).To(BeNumerically("<=", limits.MaxSteerRate*dt+1e-3))
				prev = sol.Next()
			}
			Expect(trailerOffset(e)).To(BeNumerically("<", start))
		})

		It("swerves around an obstacle on the path and keeps moving", func() {
			cfg := mpc.DefaultConfig()
			cfg.Horizon.VehicleRadius = 1
			e, err := mpc.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			obstacles := []horizon.Obstacle{{X: 10, Y: 0, Radius: 1}}

			for i := 0; i < 8; i++ {
				before := e.State()
				sol, err := e.Tick(ctx, dt, straight, obstacles)
				Expect(err).NotTo(HaveOccurred())
				Expect(e.State().X).To(BeNumerically(">", before.X))
				for _, s := range sol.States {
					Expect(obstacles[0].Clearance(s.X, s.Y, 1)).To(BeNumerically(">=", -1e-3))
				}
			}

			Expect(e.Ticks()).To(Equal(8))
			Expect(e.State().Y).To(BeNumerically(">", 0))
		})

		It("keeps state and steering when no horizon is feasible", func() {
			var buf bytes.Buffer
			e, err := mpc.New(mpc.DefaultConfig(),
				mpc.WithSolver(failingSolver),
				mpc.WithLogger(zerolog.New(&buf)))
			Expect(err).NotTo(HaveOccurred())
			before, steer := e.State(), e.Steering()

			for i := 0; i < 3; i++ {
				sol, err := e.Tick(ctx, dt, straight, nil)
				Expect(sol).To(BeNil())
				Expect(err).To(MatchError(mpc.ErrNoSolution))
				Expect(errors.Is(err, solver.ErrInfeasible)).To(BeTrue())

				var te *mpc.TickError
				Expect(errors.As(err, &te)).To(BeTrue())
				Expect(te.State).To(Equal(before))
			}

			Expect(e.State()).To(Equal(before))
			Expect(e.Steering()).To(Equal(steer))
			Expect(e.Status()).To(Equal(mpc.Idle))
			Expect(buf.String()).To(ContainSubstring(`"level":"warn"`))
			Expect(buf.String()).To(ContainSubstring("no feasible horizon"))
		})

		It("reports an obstacle covering the next position as infeasible", func() {
			cfg := mpc.DefaultConfig()
			cfg.Horizon.VehicleRadius = 1
			cfg.Horizon.Steps = 5
			cfg.MaxIterations = 200
			e, err := mpc.New(cfg)
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Tick(ctx, dt, straight, []horizon.Obstacle{{X: 0.5, Y: 0, Radius: 3}})
			Expect(err).To(MatchError(mpc.ErrNoSolution))
			Expect(e.State()).To(Equal(vehicle.State{}))
		})

		It("rejects invalid input without touching the state", func() {
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(nil)))
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Tick(ctx, 0, straight, nil)
			Expect(err).To(MatchError(horizon.ErrInvalidInput))
			Expect(errors.Is(err, mpc.ErrNoSolution)).To(BeFalse())

			_, err = e.Tick(ctx, dt, horizon.PathSegment{}, nil)
			Expect(err).To(MatchError(horizon.ErrInvalidInput))
			Expect(e.State()).To(Equal(vehicle.State{}))
		})

		It("stops on a cancelled context", func() {
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(nil)))
			Expect(err).NotTo(HaveOccurred())

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err = e.Tick(cancelled, dt, straight, nil)
			Expect(err).To(MatchError(context.Canceled))
			Expect(e.Ticks()).To(BeZero())
		})
	})

	Describe("warm start", func() {
		It("seeds every solve after the first", func() {
			var calls []int
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(&calls)))
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 3; i++ {
				_, err := e.Tick(ctx, dt, straight, nil)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(calls).To(Equal([]int{0, 1, 1}))

			Expect(e.Reconfigure(vehicle.DefaultGeometry())).To(Succeed())
			_, err = e.Tick(ctx, dt, straight, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls[len(calls)-1]).To(Equal(0))
		})

		It("can be disabled", func() {
			var calls []int
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(&calls)), mpc.WithWarmStart(false))
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 3; i++ {
				_, err := e.Tick(ctx, dt, straight, nil)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(calls).To(Equal([]int{0, 0, 0}))
		})
	})

	Describe("Predict", func() {
		It("solves without moving the vehicle", func() {
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(nil)))
			Expect(err).NotTo(HaveOccurred())

			sol, err := e.Predict(ctx, dt, straight, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(sol.States[1].X).To(BeNumerically("~", 0.5, 1e-9))
			Expect(e.State()).To(Equal(vehicle.State{}))
			Expect(e.Status()).To(Equal(mpc.Idle))
		})

		It("fails without side effects", func() {
			var (
				calls []int
				buf   bytes.Buffer
				fail  bool
			)
			hold := holdSolver(&calls)
			solve := func(p *horizon.Problem, n int, opts ...solver.Option) (horizon.Solution, error) {
				if fail {
					calls = append(calls, len(opts))
					return failingSolver(p, n)
				}
				return hold(p, n, opts...)
			}
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(solve), mpc.WithLogger(zerolog.New(&buf)))
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Tick(ctx, dt, straight, nil)
			Expect(err).NotTo(HaveOccurred())
			pose := e.State()

			fail = true
			_, err = e.Predict(ctx, dt, straight, nil)
			Expect(err).To(MatchError(mpc.ErrNoSolution))
			Expect(e.State()).To(Equal(pose))

			fail = false
			_, err = e.Tick(ctx, dt, straight, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(Equal([]int{0, 1, 1}))
			Expect(buf.String()).NotTo(ContainSubstring(`"level":"warn"`))
			Expect(buf.String()).NotTo(ContainSubstring("keeping previous steering"))
		})
	})

	Describe("Reset", func() {
		It("restores pose and steering and starts over", func() {
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(nil)))
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Tick(ctx, dt, straight, nil)
			Expect(err).NotTo(HaveOccurred())

			start := vehicle.State{X: -2, Y: 1}
			Expect(e.Reset(start, 0.1)).To(Succeed())
			Expect(e.State()).To(Equal(start))
			Expect(e.Steering()).To(Equal(0.1))
			Expect(e.Status()).To(Equal(mpc.Idle))
			Expect(e.Ticks()).To(BeZero())
		})

		It("rejects a bad state or steering", func() {
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(nil)))
			Expect(err).NotTo(HaveOccurred())

			Expect(e.Reset(vehicle.State{Y: math.Inf(1)}, 0)).To(MatchError(horizon.ErrInvalidInput))
			Expect(e.Reset(vehicle.State{}, 2)).To(MatchError(vehicle.ErrInvalidLimits))
			Expect(e.State()).To(Equal(vehicle.State{}))
		})
	})

	Describe("Reconfigure", func() {
		It("returns to idle and keeps the pose", func() {
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(nil)))
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Tick(ctx, dt, straight, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Status()).To(Equal(mpc.Tracking))
			pose := e.State()

			g := vehicle.Geometry{Wheelbase: 4, TrailerLength: 8, HitchOffset: -0.5}
			Expect(e.Reconfigure(g)).To(Succeed())
			Expect(e.Status()).To(Equal(mpc.Idle))
			Expect(e.Geometry()).To(Equal(g))
			Expect(e.State()).To(Equal(pose))
		})

		It("rejects invalid geometry and keeps the old one", func() {
			e, err := mpc.New(mpc.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			err = e.Reconfigure(vehicle.Geometry{Wheelbase: 0, TrailerLength: 5})
			Expect(err).To(MatchError(vehicle.ErrInvalidGeometry))
			Expect(e.Geometry()).To(Equal(vehicle.DefaultGeometry()))
		})

		It("is serialised with concurrent ticks", func() {
			e, err := mpc.New(mpc.DefaultConfig(), mpc.WithSolver(holdSolver(nil)))
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(2)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := e.Tick(ctx, dt, straight, nil)
					Expect(err).NotTo(HaveOccurred())
				}()
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					g := vehicle.DefaultGeometry()
					g.TrailerLength = 5 + float64(i)
					Expect(e.Reconfigure(g)).To(Succeed())
				}(i)
			}
			wg.Wait()

			Expect(e.Ticks()).To(Equal(4))
			Expect(e.State().X).To(BeNumerically("~", 2.0, 1e-9))
		})
	})

	Describe("SetState", func() {
		It("moves the vehicle", func() {
			e, err := mpc.New(mpc.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())

			s := vehicle.State{X: 10, Y: -3, Heading: 0.2, TrailerHeading: 0.1}
			Expect(e.SetState(s)).To(Succeed())
			Expect(e.State()).To(Equal(s))
			Expect(e.SetState(vehicle.State{X: math.NaN()})).To(MatchError(horizon.ErrInvalidInput))
		})
	})

	It("prints its status", func() {
		Expect(mpc.Idle.String()).To(Equal("idle"))
		Expect(mpc.Tracking.String()).To(Equal("tracking"))
	})
})
