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
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
	"github.com/fiberlab/fiberface/internal/stats"
)

const fitsBlockSize  int = 2880 // Block size of FITS header and data units
const headerLineSize int = 80   // Line size of a FITS header

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int32),
		Floats:  make(map[string]float32),
		Strings: make(map[string]string),
	}
}

// Reads a frame from the file with the given name. Dispatches on the file
// extension: .tif/.tiff decode as TIFF, .fit/.fits(.gz) as FITS with
// transparent gzip decompression
func NewFrameFromFile(fileName string, id int, logWriter io.Writer) (*Frame, error) {
	f:=NewFrame()
	f.ID=id
	return f, f.ReadFile(fileName, logWriter)
}

func (f *Frame) ReadFile(fileName string, logWriter io.Writer) error {
	file, err:=os.Open(fileName)
	if err!=nil { return err }
	defer file.Close()

	f.FileName=fileName
	var r io.Reader=file
	switch lExt:=strings.ToLower(path.Ext(fileName)); lExt {
	case ".tif", ".tiff":
		return f.ReadTIFF(r)
	case ".gz", ".gzip":
		if r, err=gzip.NewReader(file); err!=nil { return err }
	}
	return f.Read(r, logWriter)
}

func (f *Frame) popHeaderInt32(key string) (res int32, err error) {
	if val,ok:=f.Header.Ints[key]; ok {
		delete(f.Header.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
}

func (f *Frame) popHeaderInt32OrFloat(key string) (res float32, err error) {
	if val,ok:=f.Header.Ints[key]; ok {
		delete(f.Header.Ints, key)
		return float32(val), nil
	} else if val,ok:=f.Header.Floats[key]; ok {
		delete(f.Header.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
}

// Reads FITS data from the reader: the header, the mandatory fields, the
// analysis metadata and the 2D data unit
func (f *Frame) Read(r io.Reader, logWriter io.Writer) (err error) {
	if err=f.Header.read(r, f.ID, logWriter); err!=nil { return err }

	// mandatory fields as per standard
	if !f.Header.Bools["SIMPLE"] {
		return fmt.Errorf("%d: not a valid FITS file; SIMPLE=T missing in header", f.ID)
	}
	delete(f.Header.Bools, "SIMPLE")

	if f.Bitpix, err=f.popHeaderInt32("BITPIX"); err!=nil { return err }
	var naxis int32
	if naxis, err=f.popHeaderInt32("NAXIS"); err!=nil { return err }
	if naxis!=2 {
		return fmt.Errorf("%d: fiber frames must be 2D, got NAXIS=%d", f.ID, naxis)
	}
	if f.Width,  err=f.popHeaderInt32("NAXIS1"); err!=nil { return err }
	if f.Height, err=f.popHeaderInt32("NAXIS2"); err!=nil { return err }
	if f.Width<=0 || f.Height<=0 {
		return fmt.Errorf("%d: invalid dimensions %dx%d", f.ID, f.Width, f.Height)
	}

	// optional fields relevant for the analysis
	if f.Bzero,  err=f.popHeaderInt32OrFloat("BZERO");  err!=nil { f.Bzero=0 }
	if f.Bscale, err=f.popHeaderInt32OrFloat("BSCALE"); err!=nil { f.Bscale=1 }
	if f.Exposure, err=f.popHeaderInt32OrFloat("EXPOSURE"); err!=nil {
		if f.Exposure, err=f.popHeaderInt32OrFloat("EXPTIME"); err!=nil { f.Exposure=0 }
	}
	if f.PixelSize, err=f.popHeaderInt32OrFloat("XPIXSZ"); err!=nil {
		if f.PixelSize, err=f.popHeaderInt32OrFloat("PIXSIZE1"); err!=nil { f.PixelSize=0 }
	}
	f.CameraName=strings.TrimSpace(f.Header.Strings["INSTRUME"])

	return f.readData(r, logWriter)
}

// Reads the data unit, converting to float32 and applying Bzero and Bscale
func (f *Frame) readData(r io.Reader, logWriter io.Writer) error {
	switch f.Bitpix {
	case 8:
		return f.readValues(r, 1, func(buf []byte) float32 {
			return float32(buf[0])
		})
	case 16:
		return f.readValues(r, 2, func(buf []byte) float32 {
			return float32(int16((uint16(buf[0])<<8)|uint16(buf[1])))
		})
	case 32:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int32 to float32 values\n", f.ID)
		return f.readValues(r, 4, func(buf []byte) float32 {
			return float32(int32((uint32(buf[0])<<24)|(uint32(buf[1])<<16)|(uint32(buf[2])<<8)|uint32(buf[3])))
		})
	case 64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int64 to float32 values\n", f.ID)
		return f.readValues(r, 8, func(buf []byte) float32 {
			return float32(int64(beUint64(buf)))
		})
	case -32:
		return f.readValues(r, 4, func(buf []byte) float32 {
			return math.Float32frombits((uint32(buf[0])<<24)|(uint32(buf[1])<<16)|(uint32(buf[2])<<8)|uint32(buf[3]))
		})
	case -64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting float64 to float32 values\n", f.ID)
		return f.readValues(r, 8, func(buf []byte) float32 {
			return float32(math.Float64frombits(beUint64(buf)))
		})
	}
	return fmt.Errorf("%d: unknown BITPIX value %d", f.ID, f.Bitpix)
}

func beUint64(buf []byte) uint64 {
	return (uint64(buf[0])<<56)|(uint64(buf[1])<<48)|(uint64(buf[2])<<40)|(uint64(buf[3])<<32)|
	       (uint64(buf[4])<<24)|(uint64(buf[5])<<16)|(uint64(buf[6])<<8)|uint64(buf[7])
}

const bufLen int = 16*1024 // input buffer length for reading from file

// Batched read of fixed width big-endian values, decoding with the given
// function and adjusting for Bzero and Bscale. Keeps running statistics
func (f *Frame) readValues(r io.Reader, bytesPerValue int, decode func(buf []byte) float32) error {
	min, max, sum, sumSq:=float32(math.MaxFloat32), float32(-math.MaxFloat32), 0.0, 0.0
	f.Data=make([]float32, int(f.Width)*int(f.Height))
	buf:=make([]byte, bufLen)

	dataIndex, leftoverBytes:=0, 0
	for dataIndex<len(f.Data) {
		bytesToRead:=(len(f.Data)-dataIndex)*bytesPerValue-leftoverBytes
		if bytesToRead>bufLen-leftoverBytes { bytesToRead=bufLen-leftoverBytes }
		bytesRead, err:=r.Read(buf[leftoverBytes:leftoverBytes+bytesToRead])
		if err!=nil { return fmt.Errorf("%d: %s", f.ID, err.Error()) }

		availableBytes:=leftoverBytes+bytesRead
		wholeValues:=availableBytes/bytesPerValue
		for i:=0; i<wholeValues; i++ {
			v:=decode(buf[i*bytesPerValue:])*f.Bscale+f.Bzero
			if v<min { min=v }
			if v>max { max=v }
			sum  +=float64(v)
			sumSq+=float64(v)*float64(v)
			f.Data[dataIndex+i]=v
		}
		dataIndex+=wholeValues
		leftoverBytes=availableBytes-wholeValues*bytesPerValue
		copy(buf, buf[availableBytes-leftoverBytes:availableBytes])
	}
	f.Bzero, f.Bscale=0, 1 // data values incorporate these now

	n:=float64(len(f.Data))
	mean:=sum/n
	variance:=sumSq/n-mean*mean
	if variance<0 { variance=0 }
	f.Stats=&stats.Basic{Min: min, Max: max, Mean: float32(mean), StdDev: float32(math.Sqrt(variance))}
	return nil
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf:=make([]byte, fitsBlockSize)

	for h.Length=0; !h.End; {
		// read next header unit
		bytesRead, err:=io.ReadFull(r, buf)
		if err!=nil || bytesRead!=fitsBlockSize {
			return fmt.Errorf("%d: %s", id, err.Error())
		}
		h.Length+=int32(bytesRead)

		// parse all lines in this header unit
		for lineNo:=0; lineNo<fitsBlockSize/headerLineSize && !h.End; lineNo++ {
			line:=buf[lineNo*headerLineSize : (lineNo+1)*headerLineSize]
			subValues:=reParser.FindSubmatch(line)
			if subValues==nil {
				fmt.Fprintf(logWriter, "%d: Warning: cannot parse '%s', ignoring\n", id, string(line))
			} else {
				h.readLine(reParser.SubexpNames(), subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key:=""
	// ignore index 0 which is the whole line
	for i:=1; i<len(subNames); i++ {
		if subValues[i]==nil || len(subNames[i])!=1 { continue }
		switch c:=subNames[i][0]; c {
		case byte('E'): // end line
			h.End=true
		case byte('H'): // history line
			h.History=append(h.History, string(subValues[i]))
		case byte('C'): // comment line
			h.Comments=append(h.Comments, string(subValues[i]))
		case byte('k'): // key
			key=string(subValues[i])
		case byte('b'): // boolean
			if len(subValues[i])>0 {
				v:=subValues[i][0]
				h.Bools[key]= v==byte('t') || v==byte('T')
			}
		case byte('i'): // int
			if val, err:=strconv.ParseInt(string(subValues[i]), 10, 64); err==nil {
				h.Ints[key]=int32(val)
			}
		case byte('f'): // float
			if val, err:=strconv.ParseFloat(string(subValues[i]), 64); err==nil {
				h.Floats[key]=float32(val)
			}
		case byte('s'), byte('d'): // string or date
			h.Strings[key]=string(subValues[i])
		case byte('c'): // ignore value comments
		default:
			fmt.Fprintf(logWriter, "%d:%d:Warning:Unknown token '%s'\n", id, lineNo, string(c))
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white   :="\\s+"
	whiteOpt:="\\s*"

	rest    :=".*"
	histLine:="HISTORY"+white+"(?P<H>"+rest+")"
	commLine:="COMMENT"+white+"(?P<C>"+rest+")"
	endLine :="(?P<E>END)"+whiteOpt

	key   :="(?P<k>[A-Z0-9_-]+)"
	boo   :="(?P<b>[TF])"
	inte  :="(?P<i>[+-]?[0-9]+)"
	floa  :="(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri  :="'(?P<s>[^']*)'"
	date  :="(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val   :="(?:"+boo+"|"+inte+"|"+floa+"|"+stri+"|"+date+")"

	commOpt:="(?:/(?P<c>.*))?"
	keyLine:=key+whiteOpt+"="+whiteOpt+val+whiteOpt+commOpt

	lineRe:="^(?:"+white+"|"+histLine+"|"+commLine+"|"+keyLine+"|"+endLine+")$"
	return regexp.MustCompile(lineRe)
}
