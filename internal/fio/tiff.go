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


package fio

import (
	"bufio"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"golang.org/x/image/tiff"
	"github.com/fiberlab/fiberface/internal/stats"
)

// Reads a TIFF image into the frame. Color images collapse to grayscale
// luminance, fiber bench cameras are monochrome
func (f *Frame) ReadTIFF(r io.Reader) error {
	t, err:=tiff.Decode(bufio.NewReader(r))
	if err!=nil { return err }

	bounds:=t.Bounds()
	width, height:=bounds.Dx(), bounds.Dy()
	f.Bitpix=16
	f.Width, f.Height=int32(width), int32(height)
	f.Bzero, f.Bscale=0, 1
	f.Data=make([]float32, width*height)

	min, max, sum, sumSq:=float32(math.MaxFloat32), float32(-math.MaxFloat32), 0.0, 0.0
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			r16, g16, b16, _:=t.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray:=0.2126*float32(r16)+0.7152*float32(g16)+0.0722*float32(b16)
			f.Data[y*width+x]=gray
			if gray<min { min=gray }
			if gray>max { max=gray }
			sum  +=float64(gray)
			sumSq+=float64(gray)*float64(gray)
		}
	}

	n:=float64(len(f.Data))
	mean:=sum/n
	variance:=sumSq/n-mean*mean
	if variance<0 { variance=0 }
	f.Stats=&stats.Basic{Min: min, Max: max, Mean: float32(mean), StdDev: float32(math.Sqrt(variance))}
	return nil
}

// Writes the frame to 16-bit grayscale TIFF, scaling [min,max] to the full
// range with the given gamma
func (f *Frame) WriteMonoTIFF16ToFile(fileName string, min, max, gamma float32) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoTIFF16(writer, min, max, gamma)
}

// Writes the frame to 16-bit grayscale TIFF, scaling [min,max] to the full
// range with the given gamma
func (f *Frame) WriteMonoTIFF16(w io.Writer, min, max, gamma float32) error {
	width, height:=int(f.Width), int(f.Height)
	img:=image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale:=1/(max-min)
	gammaInv:=float64(1.0/gamma)
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			gray:=f.Data[yoffset+x]
			gray=(gray-min)*scale
			// replace NaNs with zeros for export, else TIFF output breaks
			if math.IsNaN(float64(gray)) || gray<0 { gray=0 }
			if gray>1 { gray=1 }
			if gammaInv!=1.0 {
				gray=float32(math.Pow(float64(gray), gammaInv))
			}
			img.SetGray16(x, y, color.Gray16{uint16(gray*65535)})
		}
	}

	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
