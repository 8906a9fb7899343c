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


// Package fio reads and writes fiber frames on disk: FITS and TIFF input,
// FITS, TIFF and false color PNG output
package fio

import (
	"fmt"
	"github.com/fiberlab/fiberface/internal/fiberimg"
	"github.com/fiberlab/fiberface/internal/stats"
)

// A raw camera frame as stored on disk: the 2D intensity array plus the
// header metadata the analysis needs.
// FITS spec:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
type Frame struct {
	ID       int         // Sequential ID number, for log output. By convention, dark is -1 and flat is -2
	FileName string      // Original file name, if any, for log output

	Header Header        // All header keys, values, comments and history entries
	Bitpix int32         // Bits per pixel value from the header. Positive values are integral, negative floating
	Bzero  float32       // Zero offset. True pixel value is Bzero + Bscale * Data[i]
	Bscale float32       // Value scaler. True pixel value is Bzero + Bscale * Data[i]

	Width  int32         // NAXIS1
	Height int32         // NAXIS2

	Data   []float32     // The image data, row major

	Exposure   float32   // Exposure in seconds, from EXPOSURE or EXPTIME
	PixelSize  float32   // Microns per pixel on the CCD, from XPIXSZ or PIXSIZE1
	CameraName string    // Camera identifier string, from INSTRUME

	Stats *stats.Basic   // Min, max, mean, stddev computed while reading
}

// Creates an empty frame with an initialized header
func NewFrame() *Frame {
	return &Frame{
		Header: NewHeader(),
		Bscale: 1,
	}
}

// Creates a frame over the given data. The data is not copied
func NewFrameFromData(data []float32, width int32) *Frame {
	return &Frame{
		Header: NewHeader(),
		Bitpix: -32,
		Bscale: 1,
		Width:  width,
		Height: int32(len(data))/width,
		Data:   data,
		Stats:  stats.CalcBasic(data),
	}
}

// Pretty prints frame dimensions for log output
func (f *Frame) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Tells whether two frames share dimensions
func (f *Frame) SameDimensionsAs(other *Frame) bool {
	return f.Width==other.Width && f.Height==other.Height
}

// Subtracts the dark frame in place, scaled by the exposure ratio when both
// exposures are known. Negative results are clamped to zero
func (f *Frame) SubtractDark(dark *Frame) error {
	if !f.SameDimensionsAs(dark) {
		return fmt.Errorf("%d: dark frame is %s, light frame is %s", f.ID, dark.DimensionsToString(), f.DimensionsToString())
	}
	scale:=float32(1)
	if f.Exposure>0 && dark.Exposure>0 { scale=f.Exposure/dark.Exposure }
	for i,v:=range f.Data {
		v-=dark.Data[i]*scale
		if v<0 { v=0 }
		f.Data[i]=v
	}
	f.Stats=stats.CalcBasic(f.Data)
	return nil
}

// Divides by the flat frame in place, normalized to the flat mean so overall
// intensity is preserved. Flat pixels at or below zero pass the light pixel
// through unchanged
func (f *Frame) DivideFlat(flat *Frame) error {
	if !f.SameDimensionsAs(flat) {
		return fmt.Errorf("%d: flat frame is %s, light frame is %s", f.ID, flat.DimensionsToString(), f.DimensionsToString())
	}
	if flat.Stats==nil { flat.Stats=stats.CalcBasic(flat.Data) }
	mean:=flat.Stats.Mean
	if mean<=0 { return fmt.Errorf("%d: flat frame mean %.2f is not positive", f.ID, mean) }
	for i,v:=range f.Data {
		if fv:=flat.Data[i]; fv>0 {
			f.Data[i]=v*mean/fv
		}
	}
	f.Stats=stats.CalcBasic(f.Data)
	return nil
}

// Wraps the frame in an analysis image container. Calibration values given
// in calib win over header metadata; absent ones fall back to the header
func (f *Frame) ToImage(calib fiberimg.Calibration) (*fiberimg.Image, error) {
	if calib.PixelSize==0 { calib.PixelSize=f.PixelSize }
	if calib.Camera==fiberimg.CameraUnknown && f.CameraName!="" {
		if cam, err:=fiberimg.ParseCamera(f.CameraName); err==nil { calib.Camera=cam }
	}
	img, err:=fiberimg.New(f.Data, f.Width, calib)
	if err!=nil { return nil, fmt.Errorf("%d: %s: %s", f.ID, f.FileName, err.Error()) }
	img.ID, img.FileName=f.ID, f.FileName
	return img, nil
}
