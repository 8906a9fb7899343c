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


package median

import (
	"testing"
	"github.com/valyala/fastrand"
	"github.com/fiberlab/fiberface/internal/qsort"
)

// brute force reference filter
func filterReference(data []float32, width, kernelSize int32) []float32 {
	height:=int32(len(data))/width
	half  :=kernelSize>>1
	output:=append([]float32(nil), data...)
	gathered:=[]float32{}
	for y:=half; y<height-half; y++ {
		for x:=half; x<width-half; x++ {
			gathered=gathered[:0]
			for ky:=y-half; ky<=y+half; ky++ {
				for kx:=x-half; kx<=x+half; kx++ {
					gathered=append(gathered, data[ky*width+kx])
				}
			}
			output[y*width+x]=qsort.QSelectMedianFloat32(gathered)
		}
	}
	return output
}

func TestFilterNxN(t *testing.T) {
	width, height:=int32(16), int32(12)
	rng:=fastrand.RNG{}
	data:=make([]float32, width*height)
	for i:=range data { data[i]=float32(rng.Uint32n(1000)) }

	for _,kernelSize:=range []int32{3, 5, 7} {
		output:=make([]float32, len(data))
		FilterNxN(output, data, width, kernelSize)
		want:=filterReference(data, width, kernelSize)
		for i:=range want {
			if output[i]!=want[i] {
				t.Errorf("kernel %d at %d: got %f want %f", kernelSize, i, output[i], want[i])
			}
		}
	}
}

func TestFilterNxNIdentity(t *testing.T) {
	data:=[]float32{4, 3, 2, 1}
	output:=make([]float32, len(data))
	FilterNxN(output, data, 2, 1)
	for i,v:=range output {
		if v!=data[i] { t.Errorf("kernel 1 changed pixel %d from %f to %f", i, data[i], v) }
	}
}

func TestFilterNxNRemovesHotPixel(t *testing.T) {
	width, height:=int32(9), int32(9)
	data:=make([]float32, width*height)
	for i:=range data { data[i]=10 }
	data[4*width+4]=10000

	output:=make([]float32, len(data))
	FilterNxN(output, data, width, 3)
	if output[4*width+4]!=10 {
		t.Errorf("hot pixel survived as %f, want 10", output[4*width+4])
	}
}

func TestBadPixelRepair(t *testing.T) {
	width, height:=int32(16), int32(12)
	data:=make([]float32, width*height)
	for i:=range data { data[i]=50 }
	hot:=5*width+7
	data[hot]=1000

	bpm:=BadPixelMap(data, width, 5, 5)
	if len(bpm)!=1 || bpm[0]!=hot {
		t.Fatalf("bad pixel map %v, want the single hot pixel at %d", bpm, hot)
	}

	FilterSparse(data, bpm, NeighborMask(width))
	if data[hot]!=50 {
		t.Errorf("hot pixel repaired to %f, want the neighborhood median 50", data[hot])
	}
}

func TestGatherAndMedian(t *testing.T) {
	data:=[]float32{1, 2, 3, 4, 5}
	mask:=[]int32{-1, 0, 1}
	buffer:=make([]float32, len(mask))

	if got:=GatherAndMedian(data, 2, mask, buffer); got!=3 {
		t.Errorf("interior median %f, want 3", got)
	}
	// offsets falling outside the array are skipped
	if got:=GatherAndMedian(data, 0, mask, buffer); got!=1.5 {
		t.Errorf("border median %f, want 1.5", got)
	}
}
