// Copyright (C) 2025 The fiberface authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package fit provides 2D surface fitting over image regions: polynomial
// least squares and Gaussian nonlinear fits
package fit

import (
	"errors"
	"fmt"
	"math"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// A fit failed to converge or produced a singular system
var ErrDivergence = errors.New("fit diverged")

// Iteration budget for the nonlinear Gaussian fit
const gaussianMaxIterations = 4000

// Fits a 2D polynomial of total degree <= degree to the image intensities by
// least squares over all pixel coordinates, relative to the reference origin
// (x0, y0) so the fit is invariant to the crop origin. Returns the evaluated
// surface over the same grid. Fails with ErrDivergence if the least squares
// system is singular
func Polynomial(data []float32, width int32, degree int, x0, y0 float32) ([]float32, error) {
	if degree<0 { return nil, fmt.Errorf("%w: negative degree %d", ErrDivergence, degree) }
	height:=int32(len(data))/width

	// coordinates scaled to roughly [-1,1] to condition the Vandermonde matrix
	scale:=0.5*float64(width)
	if float64(height)>float64(width) { scale=0.5*float64(height) }
	if scale<1 { scale=1 }

	terms:=(degree+1)*(degree+2)/2
	n    :=int(width)*int(height)
	if n<terms { return nil, fmt.Errorf("%w: %d pixels for %d terms", ErrDivergence, n, terms) }

	a:=mat.NewDense(n, terms, nil)
	b:=mat.NewVecDense(n, nil)
	powers:=make([]float64, degree+1)
	for y:=int32(0); y<height; y++ {
		cy:=(float64(y)-float64(y0))/scale
		for x:=int32(0); x<width; x++ {
			cx:=(float64(x)-float64(x0))/scale
			row:=int(y*width+x)
			fillPowers(powers, cy)
			t:=0
			xPow:=1.0
			for i:=0; i<=degree; i++ {
				for j:=0; i+j<=degree; j++ {
					a.Set(row, t, xPow*powers[j])
					t++
				}
				xPow*=cx
			}
			b.SetVec(row, float64(data[row]))
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var coeffs mat.VecDense
	if err:=qr.SolveVecTo(&coeffs, false, b); err!=nil {
		return nil, fmt.Errorf("%w: %s", ErrDivergence, err.Error())
	}

	// evaluate the fitted surface over the grid
	surface:=make([]float32, len(data))
	for y:=int32(0); y<height; y++ {
		cy:=(float64(y)-float64(y0))/scale
		fillPowers(powers, cy)
		for x:=int32(0); x<width; x++ {
			cx:=(float64(x)-float64(x0))/scale
			sum:=0.0
			t:=0
			xPow:=1.0
			for i:=0; i<=degree; i++ {
				for j:=0; i+j<=degree; j++ {
					sum+=coeffs.AtVec(t)*xPow*powers[j]
					t++
				}
				xPow*=cx
			}
			surface[y*width+x]=float32(sum)
		}
	}
	return surface, nil
}

func fillPowers(powers []float64, v float64) {
	powers[0]=1
	for i:=1; i<len(powers); i++ {
		powers[i]=powers[i-1]*v
	}
}

// Parameters of a radially symmetric 2D Gaussian surface
// I(x,y) = Amplitude * exp(-((x-CenterX)^2+(y-CenterY)^2)/(2*Sigma^2)) + Offset
type GaussianParams struct {
	CenterX   float32
	CenterY   float32
	Sigma     float32
	Amplitude float32
	Offset    float32
}

// Fits a radially symmetric 2D Gaussian to the image intensities by nonlinear
// least squares with Nelder-Mead, starting from the given initial guess.
// Returns the evaluated surface and the fitted parameters. Fails with
// ErrDivergence if the minimizer does not converge within its iteration budget
func Gaussian(data []float32, width int32, guess GaussianParams) ([]float32, GaussianParams, error) {
	height:=int32(len(data))/width

	problem:=optimize.Problem{
		Func: func(p []float64) float64 {
			cx, cy, sigma, amp, off:=p[0], p[1], math.Abs(p[2]), p[3], p[4]
			if sigma<1e-8 { sigma=1e-8 }
			inv:=-0.5/(sigma*sigma)
			sumSqDiff:=0.0
			for y:=int32(0); y<height; y++ {
				dy:=float64(y)-cy
				for x:=int32(0); x<width; x++ {
					dx:=float64(x)-cx
					predict:=amp*math.Exp((dx*dx+dy*dy)*inv)+off
					diff:=float64(data[y*width+x])-predict
					sumSqDiff+=diff*diff
				}
			}
			return math.Sqrt(sumSqDiff/float64(len(data)))
		},
	}

	x0:=[]float64{float64(guess.CenterX), float64(guess.CenterY), float64(guess.Sigma),
	              float64(guess.Amplitude), float64(guess.Offset)}
	settings:=&optimize.Settings{MajorIterations: gaussianMaxIterations}
	result, err:=optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err!=nil {
		return nil, GaussianParams{}, fmt.Errorf("%w: %s", ErrDivergence, err.Error())
	}
	if result.Status==optimize.IterationLimit || result.Status==optimize.FunctionEvaluationLimit {
		return nil, GaussianParams{}, fmt.Errorf("%w: iteration budget of %d exhausted", ErrDivergence, gaussianMaxIterations)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, GaussianParams{}, fmt.Errorf("%w: non-finite residual", ErrDivergence)
	}

	params:=GaussianParams{
		CenterX:   float32(result.X[0]),
		CenterY:   float32(result.X[1]),
		Sigma:     float32(math.Abs(result.X[2])),
		Amplitude: float32(result.X[3]),
		Offset:    float32(result.X[4]),
	}
	return EvalGaussian(params, width, height), params, nil
}

// Evaluates the Gaussian surface with the given parameters over a
// width x height grid
func EvalGaussian(p GaussianParams, width, height int32) []float32 {
	surface:=make([]float32, width*height)
	sigma:=float64(p.Sigma)
	if sigma<1e-8 { sigma=1e-8 }
	inv:=-0.5/(sigma*sigma)
	for y:=int32(0); y<height; y++ {
		dy:=float64(y)-float64(p.CenterY)
		for x:=int32(0); x<width; x++ {
			dx:=float64(x)-float64(p.CenterX)
			surface[y*width+x]=float32(float64(p.Amplitude)*math.Exp((dx*dx+dy*dy)*inv)+float64(p.Offset))
		}
	}
	return surface
}
