package multishapelet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// OptimizerState is a bit field describing how an optimization run ended.
type OptimizerState uint32

const (
	// OptimizerConvergedGTol means the gradient infinity norm fell below GTol.
	OptimizerConvergedGTol OptimizerState = 1 << iota
	// OptimizerConvergedStep means an accepted step was shorter than MinStep.
	OptimizerConvergedStep
	// OptimizerFailedMaxIter means the iteration limit was reached.
	OptimizerFailedMaxIter
	// OptimizerFailedNonFinite means the objective or its derivative produced
	// a non-finite value at an accepted point.
	OptimizerFailedNonFinite

	OptimizerSuccess = OptimizerConvergedGTol | OptimizerConvergedStep
	OptimizerFailure = OptimizerFailedMaxIter | OptimizerFailedNonFinite
)

func (s OptimizerState) String() string {
	switch {
	case s&OptimizerConvergedGTol != 0:
		return "converged (gradient)"
	case s&OptimizerConvergedStep != 0:
		return "converged (step)"
	case s&OptimizerFailedMaxIter != 0:
		return "failed (max iterations)"
	case s&OptimizerFailedNonFinite != 0:
		return "failed (non-finite)"
	}
	return "running"
}

// HybridOptimizerControl holds the tuning parameters of the damped
// Gauss-Newton optimizer. Zero values are replaced by the defaults from
// NewHybridOptimizerControl.
type HybridOptimizerControl struct {
	// Tau scales the initial damping relative to the largest diagonal entry
	// of the approximate Hessian.
	Tau float64
	// GTol is the gradient infinity-norm convergence threshold.
	GTol float64
	// MinStep is the step-length convergence threshold, relative to the
	// parameter vector norm.
	MinStep float64
	// MaxIter bounds the number of outer iterations.
	MaxIter int
	// MaxInnerRetries bounds consecutive rejected trial steps before the
	// damping growth is considered stuck and the run fails.
	MaxInnerRetries int
	// UseCholesky selects the normal-equations solver; when false the step
	// is solved by QR on the damped augmented system, which is slower but
	// tolerates worse conditioning.
	UseCholesky bool
}

// NewHybridOptimizerControl returns the default optimizer configuration.
func NewHybridOptimizerControl() HybridOptimizerControl {
	return HybridOptimizerControl{
		Tau:             1e-3,
		GTol:            1e-8,
		MinStep:         1e-8,
		MaxIter:         200,
		MaxInnerRetries: 30,
		UseCholesky:     true,
	}
}

// HybridOptimizer minimizes half the squared residual norm of an Objective
// using Levenberg-Marquardt damping with the Madsen-Nielsen update rule.
// Trial points that evaluate to non-finite residuals are treated as
// rejections; a non-finite value at an accepted point is a failure.
type HybridOptimizer struct {
	ctrl HybridOptimizerControl
	obj  Objective

	params    []float64
	function  []float64
	jacobian  *mat.Dense
	gradient  *mat.VecDense
	hessian   *mat.SymDense
	cost      float64
	mu        float64
	nu        float64
	state     OptimizerState
	iteration int
}

// NewHybridOptimizer prepares an optimizer at the given starting point. The
// initial residuals and Jacobian are evaluated immediately so that State and
// Cost are meaningful before the first Run call.
func NewHybridOptimizer(obj Objective, initial []float64, ctrl HybridOptimizerControl) (*HybridOptimizer, error) {
	if len(initial) != obj.ParameterSize() {
		return nil, fmt.Errorf("incorrect parameter vector size: got %d, expected %d", len(initial), obj.ParameterSize())
	}
	n := obj.ParameterSize()
	m := obj.DataSize()
	opt := &HybridOptimizer{
		ctrl:     ctrl,
		obj:      obj,
		params:   append([]float64(nil), initial...),
		function: make([]float64, m),
		jacobian: mat.NewDense(m, n, nil),
		gradient: mat.NewVecDense(n, nil),
		hessian:  mat.NewSymDense(n, nil),
		nu:       2,
	}
	if opt.ctrl.Tau == 0 {
		opt.ctrl.Tau = 1e-3
	}
	if opt.ctrl.MaxIter == 0 {
		opt.ctrl.MaxIter = 200
	}
	if opt.ctrl.MaxInnerRetries == 0 {
		opt.ctrl.MaxInnerRetries = 30
	}
	if err := obj.ComputeFunction(opt.params, opt.function); err != nil {
		return nil, err
	}
	opt.cost = halfSquaredNorm(opt.function)
	if !isFinite(opt.cost) {
		opt.state = OptimizerFailedNonFinite
		return opt, nil
	}
	if err := opt.refreshDerivative(); err != nil {
		return nil, err
	}
	opt.mu = opt.ctrl.Tau * opt.maxHessianDiag()
	if opt.gradientNorm() <= opt.ctrl.GTol {
		opt.state = OptimizerConvergedGTol
	}
	return opt, nil
}

func halfSquaredNorm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return 0.5 * sum
}

func isFinite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func allFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}
	return true
}

// refreshDerivative recomputes the Jacobian, gradient and approximate
// Hessian at the current accepted point.
func (opt *HybridOptimizer) refreshDerivative() error {
	if err := opt.obj.ComputeDerivative(opt.params, opt.function, opt.jacobian); err != nil {
		return err
	}
	if !allFinite(opt.jacobian.RawMatrix().Data) {
		opt.state = OptimizerFailedNonFinite
		return nil
	}
	n := opt.obj.ParameterSize()
	f := mat.NewVecDense(len(opt.function), opt.function)
	opt.gradient.MulVec(opt.jacobian.T(), f)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var sum float64
			for k := 0; k < opt.obj.DataSize(); k++ {
				sum += opt.jacobian.At(k, i) * opt.jacobian.At(k, j)
			}
			opt.hessian.SetSym(i, j, sum)
		}
	}
	return nil
}

func (opt *HybridOptimizer) maxHessianDiag() float64 {
	max := 0.0
	for i := 0; i < opt.obj.ParameterSize(); i++ {
		if d := opt.hessian.At(i, i); d > max {
			max = d
		}
	}
	if max == 0 {
		return 1
	}
	return max
}

func (opt *HybridOptimizer) gradientNorm() float64 {
	return mat.Norm(opt.gradient, math.Inf(1))
}

// solveStep computes the damped step h solving (JtJ + mu I) h = -g.
func (opt *HybridOptimizer) solveStep() ([]float64, error) {
	n := opt.obj.ParameterSize()
	rhs := mat.NewVecDense(n, nil)
	rhs.ScaleVec(-1, opt.gradient)
	step := mat.NewVecDense(n, nil)
	if opt.ctrl.UseCholesky {
		damped := mat.NewSymDense(n, nil)
		damped.CopySym(opt.hessian)
		for i := 0; i < n; i++ {
			damped.SetSym(i, i, damped.At(i, i)+opt.mu)
		}
		var chol mat.Cholesky
		if chol.Factorize(damped) {
			if err := chol.SolveVecTo(step, rhs); err == nil {
				return step.RawVector().Data, nil
			}
		}
		// Fall through to QR when the damped Hessian is numerically
		// indefinite.
	}
	m := opt.obj.DataSize()
	aug := mat.NewDense(m+n, n, nil)
	aug.Slice(0, m, 0, n).(*mat.Dense).Copy(opt.jacobian)
	sqrtMu := math.Sqrt(opt.mu)
	for i := 0; i < n; i++ {
		aug.Set(m+i, i, sqrtMu)
	}
	b := mat.NewVecDense(m+n, nil)
	for i, v := range opt.function {
		b.SetVec(i, -v)
	}
	var qr mat.QR
	qr.Factorize(aug)
	if err := qr.SolveVecTo(step, false, b); err != nil {
		return nil, fmt.Errorf("step solve failed: %w", err)
	}
	return step.RawVector().Data, nil
}

// Step performs one outer iteration: solve for a damped step, evaluate the
// trial point, and accept or reject it by the gain ratio. It returns true
// while the optimization should continue.
func (opt *HybridOptimizer) Step() (bool, error) {
	if opt.state != 0 {
		return false, nil
	}
	if opt.iteration >= opt.ctrl.MaxIter {
		opt.state = OptimizerFailedMaxIter
		return false, nil
	}
	opt.iteration++
	trial := make([]float64, len(opt.params))
	trialFunc := make([]float64, len(opt.function))
	for retry := 0; ; retry++ {
		if retry > opt.ctrl.MaxInnerRetries {
			opt.state = OptimizerFailedMaxIter
			return false, nil
		}
		step, err := opt.solveStep()
		if err != nil {
			return false, err
		}
		stepNorm, paramNorm := 0.0, 0.0
		for i, h := range step {
			trial[i] = opt.params[i] + h
			stepNorm += h * h
			paramNorm += opt.params[i] * opt.params[i]
		}
		stepNorm = math.Sqrt(stepNorm)
		paramNorm = math.Sqrt(paramNorm)
		if stepNorm <= opt.ctrl.MinStep*(paramNorm+opt.ctrl.MinStep) {
			opt.state = OptimizerConvergedStep
			return false, nil
		}
		if err := opt.obj.ComputeFunction(trial, trialFunc); err != nil {
			return false, err
		}
		trialCost := halfSquaredNorm(trialFunc)
		// predicted = 0.5 * h . (mu h - g), always positive for a descent
		// direction.
		predicted := 0.0
		for i, h := range step {
			predicted += h * (opt.mu*h - opt.gradient.AtVec(i))
		}
		predicted *= 0.5
		if !isFinite(trialCost) {
			// Treat a non-finite trial as a rejection and back off.
			opt.mu *= opt.nu
			opt.nu *= 2
			continue
		}
		gain := (opt.cost - trialCost) / predicted
		if predicted > 0 && gain > 0 {
			copy(opt.params, trial)
			copy(opt.function, trialFunc)
			opt.cost = trialCost
			shrink := 1 - math.Pow(2*gain-1, 3)
			if shrink < 1.0/3.0 {
				shrink = 1.0 / 3.0
			}
			opt.mu *= shrink
			opt.nu = 2
			if err := opt.refreshDerivative(); err != nil {
				return false, err
			}
			if opt.state != 0 {
				return false, nil
			}
			if opt.gradientNorm() <= opt.ctrl.GTol {
				opt.state = OptimizerConvergedGTol
				return false, nil
			}
			return true, nil
		}
		opt.mu *= opt.nu
		opt.nu *= 2
	}
}

// Run iterates until convergence or failure and returns the final state.
// The objective is left evaluated at the accepted point, so state it caches
// from function evaluations (such as a solved amplitude) matches Parameters.
func (opt *HybridOptimizer) Run() (OptimizerState, error) {
	for {
		more, err := opt.Step()
		if err != nil {
			return opt.state, err
		}
		if !more {
			if err := opt.obj.ComputeFunction(opt.params, opt.function); err != nil {
				return opt.state, err
			}
			return opt.state, nil
		}
	}
}

// State returns the current termination state, or zero while running.
func (opt *HybridOptimizer) State() OptimizerState { return opt.state }

// Parameters returns the current accepted parameter vector.
func (opt *HybridOptimizer) Parameters() []float64 { return opt.params }

// Objective returns the objective being minimized.
func (opt *HybridOptimizer) Objective() Objective { return opt.obj }

// Cost returns half the squared residual norm at the current point.
func (opt *HybridOptimizer) Cost() float64 { return opt.cost }

// Iterations returns the number of outer iterations performed.
func (opt *HybridOptimizer) Iterations() int { return opt.iteration }
