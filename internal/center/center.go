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


// Package center locates the fiber face on a corrected image. Four strategies
// produce a center and radius: a deterministic edge scan, a fixed-radius
// golden-section circle search, a joint radius+center search, and a Gaussian
// surface fit seeded from a cheaper method
package center

import (
	"errors"
	"fmt"
	"math"
	"github.com/fiberlab/fiberface/internal/fit"
	"github.com/fiberlab/fiberface/internal/geom"
)

// Golden ratio, interior probe points sit at (1-phi) and phi across the bracket
const phi = 0.6180339887498949

// Brackets shrink by phi per iteration, so the cap is generous for any
// realistic image size and tolerance. Guards against a tol of zero
const maxGoldenIterations = 256

// Edge detection threshold never exceeded in any row or column
var ErrNoEdge = errors.New("no edge found above threshold")

// Unknown estimation method name
var ErrInvalidMethod = errors.New("invalid method")

// Enumerated center finding strategies
type Method int

const (
	MethodEdge Method = iota
	MethodCircle
	MethodRadius
	MethodGaussian
)

var methodNames=map[Method]string{
	MethodEdge:     "edge",
	MethodCircle:   "circle",
	MethodRadius:   "radius",
	MethodGaussian: "gaussian",
}

func (m Method) String() string {
	if s,ok:=methodNames[m]; ok { return s }
	return fmt.Sprintf("method(%d)", int(m))
}

// Parses a method name. Rejects unrecognized names with ErrInvalidMethod;
// no prefix or substring matching
func ParseMethod(s string) (Method, error) {
	for m,name:=range methodNames {
		if s==name { return m, nil }
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

// A located fiber face: center position and radius, in pixels
type Geometry struct {
	CenterX float32 `json:"centerX"`
	CenterY float32 `json:"centerY"`
	Radius  float32 `json:"radius"`
}

// Diameter of the located fiber in pixels
func (g Geometry) Diameter() float32 { return 2*g.Radius }

// Estimator locates the fiber center and radius on a corrected image.
// Data is the corrected intensity array; Filtered a median-smoothed copy of
// it that the edge scan and the circle objective consume. Threshold is the
// edge detection intensity cutoff, also the area penalty weight of the
// joint radius search
type Estimator struct {
	Data      []float32
	Filtered  []float32
	Width     int32
	Height    int32
	Threshold float32
}

// Scans each column and row of the filtered image for the first and last
// index whose maximum exceeds the threshold. The midpoints of the left/right
// and top/bottom edges give the center; the larger span gives the diameter.
// Deterministic integer pixel math, serves as seed for the other methods
func (e *Estimator) Edge() (Geometry, error) {
	left, right:=int32(-1), int32(-1)
	for x:=int32(0); x<e.Width; x++ {
		if columnMax(e.Filtered, e.Width, x)>e.Threshold {
			if left<0 { left=x }
			right=x
		}
	}

	top, bottom:=int32(-1), int32(-1)
	for y:=int32(0); y<e.Height; y++ {
		if rowMax(e.Filtered, e.Width, y)>e.Threshold {
			if top<0 { top=y }
			bottom=y
		}
	}

	if left<0 || top<0 {
		return Geometry{}, fmt.Errorf("%w: threshold %g", ErrNoEdge, e.Threshold)
	}

	diameter:=right-left
	if bottom-top>diameter { diameter=bottom-top }
	return Geometry{
		CenterX: 0.5*float32(left+right),
		CenterY: 0.5*float32(top+bottom),
		Radius:  0.5*float32(diameter),
	}, nil
}

func columnMax(data []float32, width, x int32) float32 {
	max:=data[x]
	for i:=x+width; i<int32(len(data)); i+=width {
		if data[i]>max { max=data[i] }
	}
	return max
}

func rowMax(data []float32, width, y int32) float32 {
	row:=data[y*width:(y+1)*width]
	max:=row[0]
	for _,v:=range row[1:] {
		if v>max { max=v }
	}
	return max
}

// Finds the center for a circle of fixed radius that minimizes the filtered
// intensity left outside the circle, via golden-section search iterated over
// a 2x2 grid of candidate corners. The bracket shrinks by phi per iteration
// on both axes; the corner diagonally opposite the best one carries its score
// over so only three corner sums are recomputed per iteration. testRange>0
// restricts the initial bracket to that window around the edge method center.
// Returns the geometry and the minimal outside-circle sum
func (e *Estimator) Circle(radius, tol, testRange float32) (Geometry, float64, error) {
	if tol<=0 { tol=1 }
	res:=int32(1.0/tol)
	if res<1 { res=1 }
	total:=sum64(e.Filtered)

	var xs, ys [4]float32
	if testRange>0 {
		seed, err:=e.Edge()
		if err!=nil { return Geometry{}, 0, err }
		half:=testRange/2

		xs[0]=clamp(seed.CenterX-half, radius, float32(e.Width)-radius)
		xs[3]=clamp(seed.CenterX+half, radius, float32(e.Width)-radius)
		ys[0]=clamp(seed.CenterY-half, radius, float32(e.Height)-radius)
		ys[3]=clamp(seed.CenterY+half, radius, float32(e.Height)-radius)
	} else {
		xs[0], xs[3]=radius, float32(e.Width)-radius
		ys[0], ys[3]=radius, float32(e.Height)-radius
		if xs[3]<xs[0] { xs[0], xs[3]=0.5*float32(e.Width-1), 0.5*float32(e.Width-1) }
		if ys[3]<ys[0] { ys[0], ys[3]=0.5*float32(e.Height-1), 0.5*float32(e.Height-1) }
	}
	xs[1]=xs[0]+(1-phi)*(xs[3]-xs[0])
	xs[2]=xs[0]+phi*(xs[3]-xs[0])
	ys[1]=ys[0]+(1-phi)*(ys[3]-ys[0])
	ys[2]=ys[0]+phi*(ys[3]-ys[0])

	// outside-circle sums for the 2x2 grid of inner corners, indexed [y][x]
	outside:=func(x, y float32) float64 {
		return total-geom.CircleSum(e.Filtered, e.Width, x, y, radius, res)
	}
	var arraySum [2][2]float64
	for j:=0; j<2; j++ {
		for i:=0; i<2; i++ {
			arraySum[j][i]=outside(xs[i+1], ys[j+1])
		}
	}
	minJ, minI:=argMin2x2(arraySum)

	for iter:=0; abs32(xs[3]-xs[0])>tol && abs32(ys[3]-ys[0])>tol && iter<maxGoldenIterations; iter++ {
		// collapse the bracket towards the best corner on each axis
		if minJ==0 {
			ys[3]=ys[2]
			ys[2]=ys[1]
			ys[1]=ys[0]+(1-phi)*(ys[3]-ys[0])
		} else {
			ys[0]=ys[1]
			ys[1]=ys[2]
			ys[2]=ys[0]+phi*(ys[3]-ys[0])
		}
		if minI==0 {
			xs[3]=xs[2]
			xs[2]=xs[1]
			xs[1]=xs[0]+(1-phi)*(xs[3]-xs[0])
		} else {
			xs[0]=xs[1]
			xs[1]=xs[2]
			xs[2]=xs[0]+phi*(xs[3]-xs[0])
		}

		// the best corner keeps its position in the shrunk bracket on the
		// opposite grid slot, so its sum carries over without recomputation
		arraySum[1-minJ][1-minI]=arraySum[minJ][minI]
		minJ, minI=1-minJ, 1-minI

		for j:=0; j<2; j++ {
			for i:=0; i<2; i++ {
				if i!=minI || j!=minJ {
					arraySum[j][i]=outside(xs[i+1], ys[j+1])
				}
			}
		}
		minJ, minI=argMin2x2(arraySum)
	}

	return Geometry{CenterX: xs[minI+1], CenterY: ys[minJ+1], Radius: radius},
	       arraySum[minJ][minI], nil
}

// Finds center and radius jointly: an outer golden-section search over the
// radius wraps the fixed-radius circle search, minimizing the outside-circle
// sum plus threshold*pi*r^2. The area penalty keeps a trivially large circle
// with near-zero leftover intensity from winning. testRange>0 restricts the
// radius bracket to that window around the edge method radius
func (e *Estimator) Radius(tol, testRange float32) (Geometry, error) {
	if tol<=0 { tol=1 }

	var rs [4]float32
	if testRange>0 {
		seed, err:=e.Edge()
		if err!=nil { return Geometry{}, err }
		half:=testRange/2
		rs[0]=seed.Radius-half
		if rs[0]<0 { rs[0]=0 }
		rs[3]=seed.Radius+half
	} else {
		rs[0]=0
		rs[3]=0.5*float32(min32(e.Height, e.Width))
	}
	rs[1]=rs[0]+(1-phi)*(rs[3]-rs[0])
	rs[2]=rs[0]+phi*(rs[3]-rs[0])

	// penalized objective for the two interior radii, with the circle
	// geometry each evaluation produced
	evaluate:=func(r float32) (float64, Geometry, error) {
		geo, outsideSum, err:=e.Circle(r, tol, testRange)
		if err!=nil { return 0, Geometry{}, err }
		return outsideSum+float64(e.Threshold)*math.Pi*float64(r)*float64(r), geo, nil
	}

	var arraySum [2]float64
	var geos     [2]Geometry
	var err      error
	for i:=0; i<2; i++ {
		arraySum[i], geos[i], err=evaluate(rs[i+1])
		if err!=nil { return Geometry{}, err }
	}
	minIndex:=0
	if arraySum[1]<arraySum[0] { minIndex=1 }

	for iter:=0; abs32(rs[3]-rs[0])>tol && iter<maxGoldenIterations; iter++ {
		if minIndex==0 {
			rs[3]=rs[2]
			rs[2]=rs[1]
			rs[1]=rs[0]+(1-phi)*(rs[3]-rs[0])
		} else {
			rs[0]=rs[1]
			rs[1]=rs[2]
			rs[2]=rs[0]+phi*(rs[3]-rs[0])
		}

		// carry the surviving interior evaluation to its new slot
		arraySum[1-minIndex]=arraySum[minIndex]
		geos[1-minIndex]    =geos[minIndex]

		arraySum[minIndex], geos[minIndex], err=evaluate(rs[minIndex+1])
		if err!=nil { return Geometry{}, err }

		minIndex=0
		if arraySum[1]<arraySum[0] { minIndex=1 }
	}

	return Geometry{
		CenterX: geos[minIndex].CenterX,
		CenterY: geos[minIndex].CenterY,
		Radius:  rs[minIndex+1],
	}, nil
}

// Fits a radially symmetric Gaussian to the image, seeded with a cheaper
// method's geometry. The center is the fitted peak; the radius is 2 sigma,
// so the reported diameter of 2x2 sigma encompasses ~95% of the imaged light.
// Returns the geometry, the fitted surface and the raw fit parameters
func (e *Estimator) Gaussian(seed Geometry) (Geometry, []float32, fit.GaussianParams, error) {
	min, max:=e.Data[0], e.Data[0]
	for _,v:=range e.Data {
		if v<min { min=v }
		if v>max { max=v }
	}
	guess:=fit.GaussianParams{
		CenterX:   seed.CenterX,
		CenterY:   seed.CenterY,
		Sigma:     seed.Radius,
		Amplitude: max,
		Offset:    min,
	}
	surface, params, err:=fit.Gaussian(e.Data, e.Width, guess)
	if err!=nil { return Geometry{}, nil, fit.GaussianParams{}, err }

	return Geometry{
		CenterX: params.CenterX,
		CenterY: params.CenterY,
		Radius:  2*params.Sigma,
	}, surface, params, nil
}

func argMin2x2(a [2][2]float64) (minJ, minI int) {
	for j:=0; j<2; j++ {
		for i:=0; i<2; i++ {
			if a[j][i]<a[minJ][minI] { minJ, minI=j, i }
		}
	}
	return minJ, minI
}

func sum64(data []float32) float64 {
	sum:=float64(0)
	for _,v:=range data { sum+=float64(v) }
	return sum
}

func abs32(v float32) float32 {
	if v<0 { return -v }
	return v
}

func min32(a, b int32) int32 {
	if a<b { return a }
	return b
}

func clamp(v, lo, hi float32) float32 {
	if v<lo { return lo }
	if v>hi { return hi }
	return v
}
