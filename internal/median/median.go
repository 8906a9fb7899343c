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
	"github.com/fiberlab/fiberface/internal/qsort"
	"github.com/fiberlab/fiberface/internal/stats"
)

// Applies a kernelSize x kernelSize median filter to the input data, assumed
// to be a 2D array with the given line width, and stores results in output.
// The kernel size must be odd. Pixels closer than kernelSize/2 to the border
// are copied over unchanged. The kernel smooths speckle before edge scans
// and circle fits so single hot pixels cannot fake a fiber edge
func FilterNxN(output, data []float32, width int32, kernelSize int32) {
	if kernelSize<=1 {
		copy(output, data)
		return
	}
	if kernelSize==3 {
		filter3x3(output, data, width)
		return
	}
	height:=int32(len(data))/width
	half  :=kernelSize>>1
	copy(output, data)

	gathered:=make([]float32, kernelSize*kernelSize)
	for y:=half; y<height-half; y++ {
		for x:=half; x<width-half; x++ {
			n:=0
			for ky:=y-half; ky<=y+half; ky++ {
				row:=ky*width
				for kx:=x-half; kx<=x+half; kx++ {
					gathered[n]=data[row+kx]
					n++
				}
			}
			output[y*width+x]=qsort.QSelectMedianFloat32(gathered)
		}
	}
}

// Applies a 3x3 median filter to the input data via a sorting network.
// Copies over the outermost rows and columns unchanged
func filter3x3(output, data []float32, width int32) {
	height:=len(data)/int(width)
	copy(output[:width], data[:width])                       // copy first row

	for line:=int(0); line<height-2; line++ {
		start, end:=line*int(width), (line+3)*int(width)

		output[start+int(width)]=data[start+int(width)]                // copy first column
		filterLine3x3(output[start:end], data[start:end], width)
		output[start+2*int(width)-1]=data[start+2*int(width)-1]        // copy last column
	}
	copy(output[(height-1)*int(width):], data[(height-1)*int(width):]) // copy last row
}

// Input data is three lines of given width. Applies a 3x3 median filter to these.
// Stores results in the middle row of the output, which must have the same shape
// as the input. Does not touch first and last column
func filterLine3x3(output, data []float32, width int32) {
	var gathered=[]float32{0,0,0,0,0,0,0,0,0}

	for i:=width+1; i<2*width-1; i++ {
		ioff:=i-width-1
		gathered[0]=data[ioff]
		gathered[1]=data[ioff+1]
		gathered[2]=data[ioff+2]
		ioff+=width
		gathered[3]=data[ioff]
		gathered[4]=data[ioff+1]
		gathered[5]=data[ioff+2]
		ioff+=width
		gathered[6]=data[ioff]
		gathered[7]=data[ioff+1]
		gathered[8]=data[ioff+2]
		output[i]=qsort.MedianFloat32Slice9(gathered)
	}
}

// Gathers the neighborhood of the given index defined by the mask of index
// offsets, and returns its median. Offsets outside the data range are skipped.
// Uses the provided buffer as scratchpad
func GatherAndMedian(data []float32, index int32, mask []int32, buffer []float32) float32 {
	num:=0
	for _,offset:=range mask {
		i:=index+offset
		if i>=0 && i<int32(len(data)) {
			buffer[num]=data[i]
			num++
		}
	}
	return qsort.QSelectMedianFloat32(buffer[:num])
}

// Index offsets of the 8 neighbors of a pixel in a row major image of the
// given width
func NeighborMask(width int32) []int32 {
	return []int32{-width-1, -width, -width+1, -1, 1, width-1, width, width+1}
}

// Flags defective pixels: those deviating from their 3x3 median by more than
// sigma times the standard deviation of all such deviations. Returns indices
// into data
func BadPixelMap(data []float32, width int32, sigmaLow, sigmaHigh float32) []int32 {
	filtered:=make([]float32, len(data))
	FilterNxN(filtered, data, width, 3)
	diff:=make([]float32, len(data))
	for i,v:=range data { diff[i]=v-filtered[i] }

	s:=stats.CalcBasic(diff)
	thresholdLow :=-s.StdDev*sigmaLow
	thresholdHigh:= s.StdDev*sigmaHigh

	bpm:=[]int32{}
	for i,d:=range diff {
		if d<thresholdLow || d>thresholdHigh {
			bpm=append(bpm, int32(i))
		}
	}
	return bpm
}

// Replaces the pixels at the given indices in place with the median of their
// mask neighborhood
func FilterSparse(data []float32, indices []int32, mask []int32) {
	buffer:=make([]float32, len(mask))
	for _,i:=range indices {
		data[i]=GatherAndMedian(data, i, mask, buffer)
	}
}
