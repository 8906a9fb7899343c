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


package geom

import (
	"errors"
	"math"
	"testing"
)

func TestCircleMaskBinary(t *testing.T) {
	width, height:=int32(21), int32(21)
	cx, cy, r:=float32(10), float32(10), float32(5)
	mask:=CircleMask(width, height, cx, cy, r, 1)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			dx, dy:=float32(x)-cx, float32(y)-cy
			want:=float32(0)
			if dx*dx+dy*dy<=r*r { want=1 }
			if got:=mask[y*width+x]; got!=want {
				t.Errorf("mask at (%d,%d): got %f want %f", x, y, got, want)
			}
		}
	}
}

func TestCircleMaskAntialiased(t *testing.T) {
	width, height:=int32(41), int32(41)
	cx, cy, r:=float32(20), float32(20), float32(10)
	mask:=CircleMask(width, height, cx, cy, r, 10)

	sum:=0.0
	for i,v:=range mask {
		if v<0 || v>1 {
			t.Fatalf("mask value %f at index %d outside [0,1]", v, i)
		}
		sum+=float64(v)
	}
	if mask[20*41+20]!=1 { t.Errorf("center pixel coverage %f, want 1", mask[20*41+20]) }
	if mask[0]!=0 { t.Errorf("corner pixel coverage %f, want 0", mask[0]) }

	// mask area approximates the circle area, off by at most a fraction of the perimeter
	area:=math.Pi*float64(r)*float64(r)
	if diff:=math.Abs(sum-area); diff>0.05*area {
		t.Errorf("mask area %f, want %f within 5%%", sum, area)
	}
}

func TestCircleSumUniform(t *testing.T) {
	width, height:=int32(41), int32(41)
	data:=make([]float32, width*height)
	for i:=range data { data[i]=1 }

	sum:=CircleSum(data, width, 20, 20, 10, 10)
	area:=math.Pi*100
	if diff:=math.Abs(sum-area); diff>0.02*area {
		t.Errorf("circle sum %f, want %f within 2%%", sum, area)
	}
}

func TestIsolateCircle(t *testing.T) {
	width:=int32(21)
	data:=make([]float32, width*width)
	for i:=range data { data[i]=7 }

	iso:=IsolateCircle(data, width, 10, 10, 5, 1)
	for y:=int32(0); y<width; y++ {
		for x:=int32(0); x<width; x++ {
			dx, dy:=float32(x)-10, float32(y)-10
			want:=float32(0)
			if dx*dx+dy*dy<=25 { want=7 }
			if got:=iso[y*width+x]; got!=want {
				t.Errorf("isolated value at (%d,%d): got %f want %f", x, y, got, want)
			}
		}
	}
}

func TestIntensityValues(t *testing.T) {
	width:=int32(10)
	data:=make([]float32, width*width)
	for i:=range data { data[i]=float32(i) }

	values, err:=IntensityValues(data, width, 5, 5, 1)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	// pixel centers within distance 1 of (5,5): itself plus 4 neighbours
	if len(values)!=5 {
		t.Errorf("got %d values, want 5", len(values))
	}
}

func TestIntensityValuesEmpty(t *testing.T) {
	width:=int32(10)
	data:=make([]float32, width*width)

	if _, err:=IntensityValues(data, width, 5, 5, 0); !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("zero radius: got %v, want ErrEmptyRegion", err)
	}
	if _, err:=IntensityValues(data, width, 100, 100, 1); !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("region outside image: got %v, want ErrEmptyRegion", err)
	}
}

func TestCrop(t *testing.T) {
	width:=int32(10)
	data:=make([]float32, width*width)
	for i:=range data { data[i]=float32(i) }

	cropped, cw, cx, cy:=Crop(data, width, 5, 5, 2)
	if cw!=5 { t.Fatalf("cropped width %d, want 5", cw) }
	if len(cropped)!=25 { t.Fatalf("cropped size %d, want 25", len(cropped)) }
	if cx!=2 || cy!=2 { t.Errorf("new center (%f,%f), want (2,2)", cx, cy) }
	if cropped[0]!=data[3*width+3] {
		t.Errorf("cropped origin %f, want %f", cropped[0], data[3*width+3])
	}
}

func TestCropClipping(t *testing.T) {
	width:=int32(10)
	data:=make([]float32, width*width)

	cropped, cw, cx, cy:=Crop(data, width, 0, 0, 3)
	if cw!=4 { t.Errorf("clipped crop width %d, want 4", cw) }
	if len(cropped)!=16 { t.Errorf("clipped crop size %d, want 16", len(cropped)) }
	if cx!=0 || cy!=0 { t.Errorf("new center (%f,%f), want (0,0)", cx, cy) }

	// degenerate request yields a single pixel
	cropped, cw, _, _=Crop(data, width, 100, 100, 0)
	if cw!=1 || len(cropped)!=1 {
		t.Errorf("degenerate crop %dx%d, want 1x1", cw, int32(len(cropped))/cw)
	}
}

func TestMeshGrid(t *testing.T) {
	xs, ys:=MeshGrid(3, 2)
	wantX:=[]float32{0, 1, 2, 0, 1, 2}
	wantY:=[]float32{0, 0, 0, 1, 1, 1}
	for i:=range wantX {
		if xs[i]!=wantX[i] || ys[i]!=wantY[i] {
			t.Errorf("grid at %d: got (%f,%f) want (%f,%f)", i, xs[i], ys[i], wantX[i], wantY[i])
		}
	}
}

func TestGradientMagnitude(t *testing.T) {
	width, height:=int32(8), int32(8)
	data:=make([]float32, width*height)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			data[y*width+x]=2*float32(x)
		}
	}

	grad:=GradientMagnitude(data, width)
	for i,v:=range grad {
		if diff:=math.Abs(float64(v)-2); diff>1e-6 {
			t.Errorf("gradient at %d: got %f want 2", i, v)
		}
	}
}
