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
	"image/png"
	"io"
	"math"
	"os"
	"github.com/lucasb-eyer/go-colorful"
)

// False color gradient keypoints for heat map rendering, blended in Luv space
var heatGradient=[]struct {
	col colorful.Color
	pos float64
}{
	{colorful.Color{R: 0.00, G: 0.00, B: 0.30}, 0.00},
	{colorful.Color{R: 0.00, G: 0.25, B: 0.85}, 0.25},
	{colorful.Color{R: 0.00, G: 0.80, B: 0.30}, 0.50},
	{colorful.Color{R: 0.95, G: 0.90, B: 0.10}, 0.75},
	{colorful.Color{R: 0.90, G: 0.05, B: 0.05}, 1.00},
}

func heatColor(t float64) colorful.Color {
	if t<=0 { return heatGradient[0].col }
	for i:=0; i<len(heatGradient)-1; i++ {
		c1, c2:=heatGradient[i], heatGradient[i+1]
		if c1.pos<=t && t<=c2.pos {
			frac:=(t-c1.pos)/(c2.pos-c1.pos)
			return c1.col.BlendLuv(c2.col, frac).Clamped()
		}
	}
	return heatGradient[len(heatGradient)-1].col
}

// Writes the frame to a false color PNG heat map, scaling [min,max] to the
// gradient range. Useful for inspecting modal noise arrays and fitted surfaces
func (f *Frame) WriteHeatPNGToFile(fileName string, min, max float32) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteHeatPNG(writer, min, max)
}

// Writes the frame to a false color PNG heat map, scaling [min,max] to the
// gradient range
func (f *Frame) WriteHeatPNG(w io.Writer, min, max float32) error {
	width, height:=int(f.Width), int(f.Height)
	img:=image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale:=float64(1)
	if max>min { scale=1/float64(max-min) }
	for y:=0; y<height; y++ {
		yoffset:=y*width
		for x:=0; x<width; x++ {
			v:=float64(f.Data[yoffset+x]-min)*scale
			if math.IsNaN(v) || v<0 { v=0 }
			if v>1 { v=1 }
			r, g, b:=heatColor(v).RGB255()
			i:=img.PixOffset(x, y)
			img.Pix[i+0], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]=r, g, b, 255
		}
	}
	return png.Encode(w, img)
}
