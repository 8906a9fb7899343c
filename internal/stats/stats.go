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


package stats

import (
	"fmt"
	"math"
	"github.com/valyala/fastrand"
	"github.com/fiberlab/fiberface/internal/qsort"
)

// Basic statistics on intensity arrays
type Basic struct {
	Min    float32 // Minimum
	Max    float32 // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Standard deviation (norm 2, sigma)
}

// Pretty print basic stats to string
func (s *Basic) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculate basic statistics for a data array. Accumulates in float64,
// the noise metrics divide by differences of these results
func CalcBasic(data []float32) (s *Basic) {
	s=&Basic{}
	if len(data)==0 { return s }
	mmin, mmax:=data[0], data[0]
	sum:=float64(0)
	for _,v:=range data {
		if v<mmin { mmin=v }
		if v>mmax { mmax=v }
		sum+=float64(v)
	}
	mean:=sum/float64(len(data))

	sumSqDiff:=float64(0)
	for _,v:=range data {
		diff:=float64(v)-mean
		sumSqDiff+=diff*diff
	}
	s.Min, s.Max=mmin, mmax
	s.Mean  =float32(mean)
	s.StdDev=float32(math.Sqrt(sumSqDiff/float64(len(data))))
	return s
}

// Calculates the sum of a data array in float64
func Sum(data []float32) float64 {
	sum:=float64(0)
	for _,v:=range data { sum+=float64(v) }
	return sum
}

// Calculates fast approximate median of the (presumably large) data by random
// subsampling. Uses the provided samples array as scratchpad
func FastApproxMedian(data []float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i:=range samples {
		index:=rng.Uint32n(max)
		samples[i]=data[index]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates fast approximate median absolute deviation around the given
// location by random subsampling. Uses the provided samples array as scratchpad
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	max:=uint32(len(data))
	rng:=fastrand.RNG{}
	for i:=range samples {
		index:=rng.Uint32n(max)
		diff:=data[index]-location
		if diff<0 { diff=-diff }
		samples[i]=diff
	}
	return qsort.QSelectMedianFloat32(samples)*1.4826 // normalize to stddev for gaussians
}

// Estimates background location and scale of an image by sampled median and MAD.
// Used to pick an edge detection threshold when none is given
func EstimateLocationScale(data []float32, numSamples int) (location, scale float32) {
	if numSamples>len(data) { numSamples=len(data) }
	samples:=make([]float32, numSamples)
	location=FastApproxMedian(data, samples)
	scale   =FastApproxMAD(data, location, samples)
	return location, scale
}
