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


// Package noise scores the spatial non-uniformity of a fiber face image.
// Eight methods reduce the masked circular region to either a diagnostic
// 2D array or a single modal noise parameter. For all methods except fft,
// higher means less uniform; the fft score concentrates towards 1 for a
// clean face and drops as speckle spreads the power spectrum
package noise

import (
	"errors"
	"fmt"
	"math"
	"github.com/fiberlab/fiberface/internal/center"
	"github.com/fiberlab/fiberface/internal/fit"
	"github.com/fiberlab/fiberface/internal/geom"
	"github.com/fiberlab/fiberface/internal/qsort"
	"github.com/fiberlab/fiberface/internal/stats"
)

// Unknown modal noise method name
var ErrInvalidMethod = errors.New("invalid modal noise method")

// A ratio metric hit a zero denominator, e.g. a zero-mean region
var ErrZeroDenominator = errors.New("zero denominator in noise metric")

// Diagnostic crops extend this factor beyond the fiber radius
const cropBuffer = 1.1

// Enumerated modal noise scoring methods
type Method int

const (
	MethodTophat Method = iota
	MethodFFT
	MethodPolynomial
	MethodGaussian
	MethodGradient
	MethodContrast
	MethodGini
	MethodEntropy
)

var methodNames=map[Method]string{
	MethodTophat:     "tophat",
	MethodFFT:        "fft",
	MethodPolynomial: "polynomial",
	MethodGaussian:   "gaussian",
	MethodGradient:   "gradient",
	MethodContrast:   "contrast",
	MethodGini:       "gini",
	MethodEntropy:    "entropy",
}

func (m Method) String() string {
	if s,ok:=methodNames[m]; ok { return s }
	return fmt.Sprintf("method(%d)", int(m))
}

// Parses a modal noise method name. Rejects unrecognized names with
// ErrInvalidMethod; no prefix or substring matching
func ParseMethod(s string) (Method, error) {
	for m,name:=range methodNames {
		if s==name { return m, nil }
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

// Options tune the scoring methods. The zero value selects the defaults
type Options struct {
	RadiusFactor float32 `json:"radiusFactor"` // fraction of the fiber radius analyzed, default 0.95 (fft: 1.05)
	Degree       int     `json:"degree"`       // polynomial fit degree, default 4
}

func (o Options) radiusFactor(def float32) float32 {
	if o.RadiusFactor<=0 { return def }
	return o.RadiusFactor
}

func (o Options) degree() int {
	if o.Degree<=0 { return 4 }
	return o.Degree
}

// Engine scores one corrected image with a resolved fiber geometry.
// PixelSize and Magnification are only needed for the fft frequency axis
type Engine struct {
	Data          []float32
	Width         int32
	Height        int32
	Geometry      center.Geometry
	PixelSize     float32 // microns per pixel
	Magnification float32
}

// Computes the scalar modal noise parameter for the given method
func (e *Engine) Parameter(method Method, opts Options) (float64, error) {
	switch method {
	case MethodTophat:     return e.tophatParameter(opts)
	case MethodFFT:        return e.fftParameter(opts)
	case MethodPolynomial: return e.polynomialParameter(opts)
	case MethodGaussian:   return e.gaussianParameter(opts)
	case MethodGradient:   return e.gradientParameter(opts)
	case MethodContrast:   return e.contrastParameter(opts)
	case MethodGini:       return e.giniParameter(opts)
	case MethodEntropy:    return e.entropyParameter(opts)
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidMethod, int(method))
}

// Computes the diagnostic 2D array for the given method: the ideal tophat for
// tophat, the gradient magnitude for gradient, the fitted surface for
// polynomial and gaussian, and the folded 2D power spectrum for fft.
// Contrast, gini and entropy are scalar-only and return the cropped region
func (e *Engine) Array(method Method, opts Options) (data []float32, width int32, err error) {
	switch method {
	case MethodTophat:     return e.tophatArray(opts)
	case MethodFFT:
		quad, mf, _, err:=e.powerQuadrant(opts)
		if err!=nil { return nil, 0, err }
		res:=make([]float32, len(quad))
		for i,v:=range quad { res[i]=float32(v) }
		return res, mf, nil
	case MethodPolynomial:
		surface, w, _, _, err:=e.polynomialFit(opts)
		return surface, w, err
	case MethodGaussian:
		surface, w, _, _, err:=e.gaussianFit(opts)
		return surface, w, err
	case MethodGradient:
		grad, w, _, _, err:=e.gradient()
		return grad, w, err
	case MethodContrast, MethodGini, MethodEntropy:
		cropped, w, _, _:=geom.Crop(e.Data, e.Width, e.Geometry.CenterX, e.Geometry.CenterY,
		                            e.Geometry.Radius*cropBuffer)
		return cropped, w, nil
	}
	return nil, 0, fmt.Errorf("%w: %d", ErrInvalidMethod, int(method))
}

// stdev / mean of the intensities inside radius*factor. Zero for an ideal
// tophat profile, the null hypothesis of no modal noise
func (e *Engine) tophatParameter(opts Options) (float64, error) {
	values, err:=e.intensities(e.Data, e.Width, e.Geometry, opts.radiusFactor(0.95))
	if err!=nil { return 0, err }
	s:=stats.CalcBasic(values)
	if s.Mean==0 { return 0, fmt.Errorf("%w: zero mean intensity", ErrZeroDenominator) }
	return float64(s.StdDev)/float64(s.Mean), nil
}

// The ideal tophat: mean intensity inside the fiber face spread over an
// antialiased disk, cropped to the diagnostic region
func (e *Engine) tophatArray(opts Options) ([]float32, int32, error) {
	g:=e.Geometry
	values, err:=e.intensities(e.Data, e.Width, g, opts.radiusFactor(0.95))
	if err!=nil { return nil, 0, err }
	mean:=float32(stats.Sum(values)/float64(len(values)))

	mask:=geom.CircleMask(e.Width, e.Height, g.CenterX, g.CenterY, g.Radius, 10)
	for i:=range mask { mask[i]*=mean }
	cropped, w, _, _:=geom.Crop(mask, e.Width, g.CenterX, g.CenterY, g.Radius*cropBuffer)
	return cropped, w, nil
}

// stdev of the gradient magnitude inside the region, normalized by the mean
// image intensity there. Sensitive to speckle boundaries
func (e *Engine) gradientParameter(opts Options) (float64, error) {
	grad, w, g, cropped, err:=e.gradient()
	if err!=nil { return 0, err }
	factor:=opts.radiusFactor(0.95)

	gradValues, err:=e.intensities(grad, w, g, factor)
	if err!=nil { return 0, err }
	imageValues, err:=e.intensities(cropped, w, g, factor)
	if err!=nil { return 0, err }

	mean:=stats.Sum(imageValues)/float64(len(imageValues))
	if mean==0 { return 0, fmt.Errorf("%w: zero mean intensity", ErrZeroDenominator) }
	return float64(stats.CalcBasic(gradValues).StdDev)/mean, nil
}

func (e *Engine) gradient() (grad []float32, width int32, g center.Geometry, cropped []float32, err error) {
	cropped, w, cx, cy:=geom.Crop(e.Data, e.Width, e.Geometry.CenterX, e.Geometry.CenterY,
	                              e.Geometry.Radius*cropBuffer)
	g=center.Geometry{CenterX: cx, CenterY: cy, Radius: e.Geometry.Radius}
	return geom.GradientMagnitude(cropped, w), w, g, cropped, nil
}

// stdev of (image - polynomial fit) normalized by the mean image intensity,
// both inside radius*factor of the crop center, the circumscribed circle of
// the fitted square
func (e *Engine) polynomialParameter(opts Options) (float64, error) {
	surface, w, g, cropped, err:=e.polynomialFit(opts)
	if err!=nil { return 0, err }
	return e.residualParameter(cropped, surface, w, g, g.Radius*float32(math.Sqrt2))
}

// Fits a polynomial to the region inside radius*factor/sqrt(2), the largest
// square inscribed in the analyzed disk. Returns the fitted surface, the
// crop geometry and the cropped image
func (e *Engine) polynomialFit(opts Options) (surface []float32, width int32, g center.Geometry, cropped []float32, err error) {
	radius:=e.Geometry.Radius*opts.radiusFactor(0.95)/float32(math.Sqrt2)
	cropped, w, cx, cy:=geom.Crop(e.Data, e.Width, e.Geometry.CenterX, e.Geometry.CenterY, radius)
	surface, err=fit.Polynomial(cropped, w, opts.degree(), cx, cy)
	if err!=nil { return nil, 0, center.Geometry{}, nil, err }
	return surface, w, center.Geometry{CenterX: cx, CenterY: cy, Radius: radius}, cropped, nil
}

// stdev of (image - gaussian fit) normalized by the mean image intensity,
// both inside radius*factor/sqrt(2) of the crop center, the inscribed circle
// the gaussian was fitted to
func (e *Engine) gaussianParameter(opts Options) (float64, error) {
	surface, w, g, cropped, err:=e.gaussianFit(opts)
	if err!=nil { return 0, err }
	return e.residualParameter(cropped, surface, w, g, g.Radius)
}

func (e *Engine) gaussianFit(opts Options) (surface []float32, width int32, g center.Geometry, cropped []float32, err error) {
	radius:=e.Geometry.Radius*opts.radiusFactor(0.95)/float32(math.Sqrt2)
	cropped, w, cx, cy:=geom.Crop(e.Data, e.Width, e.Geometry.CenterX, e.Geometry.CenterY, radius)

	s:=stats.CalcBasic(cropped)
	guess:=fit.GaussianParams{CenterX: cx, CenterY: cy, Sigma: radius, Amplitude: s.Max, Offset: s.Min}
	surface, _, err=fit.Gaussian(cropped, w, guess)
	if err!=nil { return nil, 0, center.Geometry{}, nil, err }
	return surface, w, center.Geometry{CenterX: cx, CenterY: cy, Radius: radius}, cropped, nil
}

// Shared residual scoring for the polynomial and gaussian fits over the
// disk of the given radius around the crop center
func (e *Engine) residualParameter(cropped, surface []float32, width int32, g center.Geometry, radius float32) (float64, error) {
	diff:=make([]float32, len(cropped))
	for i:=range cropped { diff[i]=cropped[i]-surface[i] }

	diffValues, err:=geom.IntensityValues(diff, width, g.CenterX, g.CenterY, radius)
	if err!=nil { return 0, err }
	imageValues, err:=geom.IntensityValues(cropped, width, g.CenterX, g.CenterY, radius)
	if err!=nil { return 0, err }

	mean:=stats.Sum(imageValues)/float64(len(imageValues))
	if mean==0 { return 0, fmt.Errorf("%w: zero mean intensity", ErrZeroDenominator) }
	return float64(stats.CalcBasic(diffValues).StdDev)/mean, nil
}

// Michelson contrast (max-min)/(max+min) of the intensities inside the region
func (e *Engine) contrastParameter(opts Options) (float64, error) {
	values, err:=e.intensities(e.Data, e.Width, e.Geometry, opts.radiusFactor(0.95))
	if err!=nil { return 0, err }
	s:=stats.CalcBasic(values)
	if s.Max+s.Min==0 { return 0, fmt.Errorf("%w: max+min intensity is zero", ErrZeroDenominator) }
	return float64(s.Max-s.Min)/float64(s.Max+s.Min), nil
}

// Gini coefficient of the intensities inside the region
func (e *Engine) giniParameter(opts Options) (float64, error) {
	values, err:=e.intensities(e.Data, e.Width, e.Geometry, opts.radiusFactor(0.95))
	if err!=nil { return 0, err }
	return GiniCoefficient(values)
}

// Hartley entropy -sum(p*log10(p)) of the normalized intensities inside the
// region. Zero intensities contribute nothing
func (e *Engine) entropyParameter(opts Options) (float64, error) {
	values, err:=e.intensities(e.Data, e.Width, e.Geometry, opts.radiusFactor(0.95))
	if err!=nil { return 0, err }
	sum:=stats.Sum(values)
	if sum<=0 { return 0, fmt.Errorf("%w: non-positive intensity sum", ErrZeroDenominator) }
	entropy:=0.0
	for _,v:=range values {
		p:=float64(v)/sum
		if p>0 { entropy-=p*math.Log10(p) }
	}
	return entropy, nil
}

func (e *Engine) intensities(data []float32, width int32, g center.Geometry, factor float32) ([]float32, error) {
	return geom.IntensityValues(data, width, g.CenterX, g.CenterY, g.Radius*factor)
}

// Gini coefficient of a nonnegative value array: sum_ij |a_i-a_j| over
// 2*n*sum(a). 0 for a constant array, approaching 1 when all mass sits in one
// element. Computed by the sort-based formulation, identical to the naive
// double sum up to floating point summation order
func GiniCoefficient(values []float32) (float64, error) {
	n:=len(values)
	if n==0 { return 0, geom.ErrEmptyRegion }

	sorted:=append([]float32(nil), values...)
	qsort.QSortFloat32(sorted)

	sum, weighted:=0.0, 0.0
	for i,v:=range sorted {
		sum     +=float64(v)
		weighted+=float64(i+1)*float64(v)
	}
	if sum<=0 { return 0, fmt.Errorf("%w: non-positive intensity sum", ErrZeroDenominator) }
	return 2*weighted/(float64(n)*sum) - float64(n+1)/float64(n), nil
}
