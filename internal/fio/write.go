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
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Writes the frame to a FITS file with the given name as 32-bit floating
// point data. Creates or overwrites the file
func (f *Frame) WriteFile(fileName string) error {
	file, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer file.Close()
	return f.Write(file)
}

// Writes the frame to an io.Writer as 32-bit floating point FITS
func (f *Frame) Write(w io.Writer) error {
	// build header in string buffer
	sb:=strings.Builder{}
	writeBool   (&sb, "SIMPLE", true, "    FITS standard 4.0")
	writeInt32  (&sb, "BITPIX", -32, "    32-bit floating point")
	writeInt32  (&sb, "NAXIS",  2, "[1] Number of axis")
	writeInt32  (&sb, "NAXIS1", f.Width,  "[1] Axis size")
	writeInt32  (&sb, "NAXIS2", f.Height, "[1] Axis size")
	writeFloat32(&sb, "BZERO",  0, "[1] Zero offset")
	if f.Exposure>0 {
		writeFloat32(&sb, "EXPOSURE", f.Exposure, "[s] Exposure duration")
	}
	if f.PixelSize>0 {
		writeFloat32(&sb, "XPIXSZ", f.PixelSize, "[um] Pixel size")
	}
	if f.CameraName!="" {
		writeString(&sb, "INSTRUME", f.CameraName, "Camera identifier")
	}
	writeEnd(&sb)

	// pad current header block with spaces if necessary
	if rem:=sb.Len()%fitsBlockSize; rem>0 {
		for i:=rem; i<fitsBlockSize; i++ { sb.WriteRune(' ') }
	}
	if _, err:=w.Write([]byte(sb.String())); err!=nil { return err }

	// write payload data, replacing NaNs with zeros for compatibility
	return writeFloat32Array(w, f.Data, true)
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	v:="F"
	if value { v="T" }
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float32 value
func writeFloat32(w io.Writer, key string, value float32, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	fmt.Fprintf(w, "%-8s= %20g / %-47s", key, value, comment)
}

// Writes a FITS header string value. Long values are truncated, continuation
// cards are not emitted
func writeString(w io.Writer, key, value, comment string) {
	if len(key)>8 { key=key[0:8] }
	if len(comment)>47 { comment=comment[0:47] }
	value=strings.ReplaceAll(value, "'", "''")
	if len(value)>18 { value=value[0:18] }
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, "'"+value+"'", comment)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "%-80s", "END")
}

// Writes binary big-endian float32 array data
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf:=make([]byte, bufLen)

	for block:=0; block<len(data); block+=bufLen/4 {
		size:=len(data)-block
		if size>bufLen/4 { size=bufLen/4 }

		for offset:=0; offset<size; offset++ {
			d:=data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) { d=0 }
			val:=math.Float32bits(d)
			buf[(offset<<2)+0]=byte(val>>24)
			buf[(offset<<2)+1]=byte(val>>16)
			buf[(offset<<2)+2]=byte(val>>8)
			buf[(offset<<2)+3]=byte(val)
		}
		if _, err:=w.Write(buf[:size*4]); err!=nil { return err }
	}

	// pad the final data block with zeros
	written:=len(data)*4
	if rem:=written%fitsBlockSize; rem>0 {
		pad:=make([]byte, fitsBlockSize-rem)
		if _, err:=w.Write(pad); err!=nil { return err }
	}
	return nil
}
