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


// Package geom provides the pixel-level primitives for circular fiber face
// regions: antialiased circle masks, intensity extraction, cropping and
// coordinate grids. Pixel centers sit at integer coordinates, Data[y*width+x]
package geom

import (
	"errors"
	"math"
)

// A requested circular region contains no pixels
var ErrEmptyRegion = errors.New("empty circular region")

// Half diagonal of a unit pixel. Pixels whose center is closer to the circle
// edge than this may straddle it and get supersampled
const pixelHalfDiagonal = 0.70710678 + 1e-6

// Returns paired flat coordinate arrays (X, Y) for an image of the given
// dimensions, with X[y*width+x]=x and Y[y*width+x]=y
func MeshGrid(width, height int32) (xs, ys []float32) {
	xs=make([]float32, width*height)
	ys=make([]float32, width*height)
	i:=0
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			xs[i]=float32(x)
			ys[i]=float32(y)
			i++
		}
	}
	return xs, ys
}

// Returns a mask of the circle with given center and radius over an image of
// the given dimensions. Mask values are 1 strictly inside the circle, 0
// strictly outside, and a supersampled fraction in [0,1] for pixels straddling
// the boundary. resolution is the supersampling factor per axis; 1 yields an
// exact binary mask by pixel center membership
func CircleMask(width, height int32, centerX, centerY, radius float32, resolution int32) []float32 {
	mask:=make([]float32, width*height)
	if radius<=0 { return mask }

	x0,x1,y0,y1:=circleBounds(width, height, centerX, centerY, radius)
	for y:=y0; y<y1; y++ {
		row:=y*width
		for x:=x0; x<x1; x++ {
			mask[row+x]=pixelCoverage(float32(x), float32(y), centerX, centerY, radius, resolution)
		}
	}
	return mask
}

// Fraction of the pixel centered on (x,y) covered by the circle, supersampled
// with resolution sub-pixels per axis
func pixelCoverage(x, y, centerX, centerY, radius float32, resolution int32) float32 {
	dx, dy:=float64(x-centerX), float64(y-centerY)
	distSq:=dx*dx+dy*dy
	if resolution<=1 {
		if distSq<=float64(radius)*float64(radius) { return 1 }
		return 0
	}
	dist:=math.Sqrt(distSq)
	if dist<=float64(radius)-pixelHalfDiagonal { return 1 }
	if dist> float64(radius)+pixelHalfDiagonal { return 0 }

	// supersample the straddling pixel
	res    :=float64(resolution)
	rsq    :=float64(radius)*float64(radius)
	inside :=int32(0)
	for sy:=int32(0); sy<resolution; sy++ {
		suby:=float64(y)-0.5+(float64(sy)+0.5)/res
		for sx:=int32(0); sx<resolution; sx++ {
			subx:=float64(x)-0.5+(float64(sx)+0.5)/res
			ddx, ddy:=subx-float64(centerX), suby-float64(centerY)
			if ddx*ddx+ddy*ddy<=rsq { inside++ }
		}
	}
	return float32(inside)/float32(resolution*resolution)
}

// Bounding box of the circle clipped to image bounds, as half-open intervals
func circleBounds(width, height int32, centerX, centerY, radius float32) (x0, x1, y0, y1 int32) {
	x0=int32(math.Floor(float64(centerX-radius)))-1
	x1=int32(math.Ceil (float64(centerX+radius)))+2
	y0=int32(math.Floor(float64(centerY-radius)))-1
	y1=int32(math.Ceil (float64(centerY+radius)))+2
	if x0<0 { x0=0 }
	if y0<0 { y0=0 }
	if x1>width  { x1=width  }
	if y1>height { y1=height }
	return x0, x1, y0, y1
}

// Sums the image intensities covered by the circle, weighting boundary pixels
// by their supersampled coverage. Only visits the circle's bounding box
func CircleSum(data []float32, width int32, centerX, centerY, radius float32, resolution int32) float64 {
	if radius<=0 { return 0 }
	height:=int32(len(data))/width
	x0,x1,y0,y1:=circleBounds(width, height, centerX, centerY, radius)
	sum:=float64(0)
	for y:=y0; y<y1; y++ {
		row:=y*width
		for x:=x0; x<x1; x++ {
			c:=pixelCoverage(float32(x), float32(y), centerX, centerY, radius, resolution)
			if c>0 { sum+=float64(data[row+x])*float64(c) }
		}
	}
	return sum
}

// Returns a copy of the image with everything outside the circle zeroed,
// and boundary pixels scaled by their coverage
func IsolateCircle(data []float32, width int32, centerX, centerY, radius float32, resolution int32) []float32 {
	height:=int32(len(data))/width
	res:=make([]float32, len(data))
	if radius<=0 { return res }
	x0,x1,y0,y1:=circleBounds(width, height, centerX, centerY, radius)
	for y:=y0; y<y1; y++ {
		row:=y*width
		for x:=x0; x<x1; x++ {
			c:=pixelCoverage(float32(x), float32(y), centerX, centerY, radius, resolution)
			if c>0 { res[row+x]=data[row+x]*c }
		}
	}
	return res
}

// Returns the flattened image values whose pixel centers fall within radius of
// the given center, boundary inclusive. Fails with ErrEmptyRegion if the
// radius is non-positive or no pixel centers fall inside
func IntensityValues(data []float32, width int32, centerX, centerY, radius float32) ([]float32, error) {
	if radius<=0 { return nil, ErrEmptyRegion }
	height:=int32(len(data))/width
	x0,x1,y0,y1:=circleBounds(width, height, centerX, centerY, radius)
	rsq:=float64(radius)*float64(radius)
	values:=make([]float32, 0, int((x1-x0)*(y1-y0)))
	for y:=y0; y<y1; y++ {
		row:=y*width
		dy:=float64(float32(y)-centerY)
		for x:=x0; x<x1; x++ {
			dx:=float64(float32(x)-centerX)
			if dx*dx+dy*dy<=rsq {
				values=append(values, data[row+x])
			}
		}
	}
	if len(values)==0 { return nil, ErrEmptyRegion }
	return values, nil
}

// Crops the image to a box of side 2*halfWidth centered as closely as possible
// on the given center, clipping to image bounds. Returns the cropped image,
// its width, and the center coordinates relative to the crop. Never fails:
// out of bounds requests clip, and a degenerate box yields a single pixel
func Crop(data []float32, width int32, centerX, centerY, halfWidth float32) (cropped []float32, croppedWidth int32, newCenterX, newCenterY float32) {
	height:=int32(len(data))/width
	if halfWidth<0 { halfWidth=0 }

	x0:=int32(math.Floor(float64(centerX-halfWidth)))
	x1:=int32(math.Ceil (float64(centerX+halfWidth)))+1
	y0:=int32(math.Floor(float64(centerY-halfWidth)))
	y1:=int32(math.Ceil (float64(centerY+halfWidth)))+1
	if x0<0 { x0=0 }
	if y0<0 { y0=0 }
	if x1>width  { x1=width  }
	if y1>height { y1=height }
	if x1<=x0 { if x0>=width  { x0=width-1  }; x1=x0+1 }
	if y1<=y0 { if y0>=height { y0=height-1 }; y1=y0+1 }

	croppedWidth=x1-x0
	cropped=make([]float32, croppedWidth*(y1-y0))
	for y:=y0; y<y1; y++ {
		copy(cropped[(y-y0)*croppedWidth:(y-y0+1)*croppedWidth], data[y*width+x0:y*width+x1])
	}
	return cropped, croppedWidth, centerX-float32(x0), centerY-float32(y0)
}

// Calculates the gradient magnitude sqrt(gx^2+gy^2) of the image using central
// differences in the interior and one-sided differences at the borders
func GradientMagnitude(data []float32, width int32) []float32 {
	height:=int32(len(data))/width
	res:=make([]float32, len(data))
	for y:=int32(0); y<height; y++ {
		row:=y*width
		for x:=int32(0); x<width; x++ {
			var gx, gy float64
			switch {
			case width==1:     gx=0
			case x==0:         gx=float64(data[row+1]-data[row])
			case x==width-1:   gx=float64(data[row+x]-data[row+x-1])
			default:           gx=float64(data[row+x+1]-data[row+x-1])*0.5
			}
			switch {
			case height==1:    gy=0
			case y==0:         gy=float64(data[width+x]-data[x])
			case y==height-1:  gy=float64(data[row+x]-data[row-width+x])
			default:           gy=float64(data[row+width+x]-data[row-width+x])*0.5
			}
			res[row+x]=float32(math.Sqrt(gx*gx+gy*gy))
		}
	}
	return res
}
