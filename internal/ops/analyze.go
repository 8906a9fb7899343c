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


package ops

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"github.com/fiberlab/fiberface/internal/center"
	"github.com/fiberlab/fiberface/internal/fiberimg"
	"github.com/fiberlab/fiberface/internal/fio"
	"github.com/fiberlab/fiberface/internal/noise"
)

// Builds the analysis image container for a frame, applying the calibration
// and filtering overrides from the context. When a load pattern is set,
// restores previously saved analysis data so cached geometries skip the search
func makeImage(f *fio.Frame, c *Context) (*fiberimg.Image, error) {
	img, err:=f.ToImage(c.Calibration)
	if err!=nil { return nil, err }
	if c.Threshold!=0  { img.Threshold=c.Threshold }
	if c.KernelSize>0  { img.KernelSize=c.KernelSize }
	if c.LoadDataPattern!="" {
		fileName:=c.LoadDataPattern
		if strings.Contains(fileName, "%d") { fileName=fmt.Sprintf(c.LoadDataPattern, f.ID) }
		if !IsPathAllowed(fileName) { return nil, fmt.Errorf("%d: data filename outside current directory tree", f.ID) }
		if err:=img.LoadDataFile(fileName); err!=nil { return nil, err }
		fmt.Fprintf(c.Log, "%d: Restored analysis data from %s\n", f.ID, fileName)
	}
	return img, nil
}

// Locates the fiber center and radius on each frame and records the result.
// Takes n inputs, produces n outputs (the materialized but unchanged inputs)
type OpLocate struct {
	OpUnaryBase
	Method      string  `json:"method"`      // edge, circle, radius or gaussian
	Tol         float32 `json:"tol"`         // golden-section convergence tolerance in pixels
	TestRange   float32 `json:"testRange"`   // search range around the edge estimate, 0 for full image
	Units       string  `json:"units"`       // pixels or microns
	Centroid    bool    `json:"centroid"`    // also compute the intensity centroid
	DataPattern string  `json:"dataPattern"` // save analysis data JSON, with %d expansion
}

func init() { SetOperatorFactory(func() Operator { return NewOpLocateDefault() }) } // register the operator for JSON decoding

func NewOpLocateDefault() *OpLocate { return NewOpLocate("edge", 1, 0, "pixels", false, "") }

func NewOpLocate(method string, tol, testRange float32, units string, centroid bool, dataPattern string) *OpLocate {
	op:=OpLocate{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "locate", Active: true}},
		Method:      method,
		Tol:         tol,
		TestRange:   testRange,
		Units:       units,
		Centroid:    centroid,
		DataPattern: dataPattern,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshals the operator from JSON with default values for missing entries
func (op *OpLocate) UnmarshalJSON(data []byte) error {
	type defaults OpLocate
	def:=defaults(*NewOpLocateDefault())
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	*op=OpLocate(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpLocate) Apply(f *fio.Frame, c *Context) (fOut *fio.Frame, err error) {
	if !op.Active { return f, nil }

	method, err:=center.ParseMethod(op.Method)
	if err!=nil { return nil, fmt.Errorf("%d: %s", f.ID, err.Error()) }
	units, err:=fiberimg.ParseUnits(op.Units)
	if err!=nil { return nil, fmt.Errorf("%d: %s", f.ID, err.Error()) }

	img, err:=makeImage(f, c)
	if err!=nil { return nil, err }

	g, err:=img.FiberGeometry(method, op.Tol, op.TestRange)
	if err!=nil { return nil, fmt.Errorf("%d: locating fiber with %s method: %s", f.ID, method, err.Error()) }
	diameter, err:=img.FiberDiameter(method, op.Tol, op.TestRange, units)
	if err!=nil { return nil, err }

	fmt.Fprintf(c.Log, "%d: Fiber center (%.2f, %.2f) px radius %.2f px by %s method; diameter %.2f %s\n",
		f.ID, g.CenterX, g.CenterY, g.Radius, method, diameter, units)

	res:=Result{
		ID:       f.ID,
		FileName: f.FileName,
		Method:   method.String(),
		Units:    units.String(),
		Geometry: &g,
		Diameter: diameter,
	}
	if op.Centroid {
		cx, cy, err:=img.FiberCentroid(0)
		if err!=nil { return nil, fmt.Errorf("%d: centroid: %s", f.ID, err.Error()) }
		fmt.Fprintf(c.Log, "%d: Fiber centroid (%.2f, %.2f) px\n", f.ID, cx, cy)
		res.CentroidX, res.CentroidY=cx, cy
	}
	c.AddResult(res)

	if op.DataPattern!="" {
		fileName:=op.DataPattern
		if strings.Contains(fileName, "%d") { fileName=fmt.Sprintf(op.DataPattern, f.ID) }
		if !IsPathAllowed(fileName) { return nil, fmt.Errorf("%d: data filename outside current directory tree", f.ID) }
		if err:=img.SaveDataFile(fileName); err!=nil { return nil, err }
		fmt.Fprintf(c.Log, "%d: Wrote analysis data to %s\n", f.ID, fileName)
	}
	return f, nil
}

// Scores the modal noise of each frame with one or more methods and records
// the results. Takes n inputs, produces n outputs (unchanged)
type OpNoise struct {
	OpUnaryBase
	Methods      []string `json:"methods"`      // tophat, fft, polynomial, gaussian, gradient, contrast, gini, entropy
	RadiusFactor float32  `json:"radiusFactor"` // isolation radius as a fraction of the fiber radius, 0 for defaults
	Degree       int      `json:"degree"`       // polynomial fit degree, 0 for default
	Spectrum     bool     `json:"spectrum"`     // also compute the fft power spectrum
	ArrayPattern string   `json:"arrayPattern"` // save diagnostic arrays as heat PNGs, with %d expansion
}

func init() { SetOperatorFactory(func() Operator { return NewOpNoiseDefault() }) } // register the operator for JSON decoding

func NewOpNoiseDefault() *OpNoise { return NewOpNoise(nil, 0, 0, false, "") }

func NewOpNoise(methods []string, radiusFactor float32, degree int, spectrum bool, arrayPattern string) *OpNoise {
	op:=OpNoise{
		OpUnaryBase:  OpUnaryBase{OpBase: OpBase{Type: "noise", Active: len(methods)>0}},
		Methods:      methods,
		RadiusFactor: radiusFactor,
		Degree:       degree,
		Spectrum:     spectrum,
		ArrayPattern: arrayPattern,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshals the operator from JSON with default values for missing entries.
// The operator activates itself when methods are present
func (op *OpNoise) UnmarshalJSON(data []byte) error {
	type defaults OpNoise
	def:=defaults(*NewOpNoiseDefault())
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	*op=OpNoise(def)
	if len(op.Methods)>0 { op.Active=true }
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpNoise) Apply(f *fio.Frame, c *Context) (fOut *fio.Frame, err error) {
	if !op.Active { return f, nil }

	img, err:=makeImage(f, c)
	if err!=nil { return nil, err }
	opts:=noise.Options{RadiusFactor: op.RadiusFactor, Degree: op.Degree}

	res:=Result{
		ID:       f.ID,
		FileName: f.FileName,
		Noise:    make(map[string]float64, len(op.Methods)),
	}
	for _,name:=range op.Methods {
		method, err:=noise.ParseMethod(name)
		if err!=nil { return nil, fmt.Errorf("%d: %s", f.ID, err.Error()) }

		v, err:=img.ModalNoise(method, opts)
		if err!=nil { return nil, fmt.Errorf("%d: modal noise %s method: %s", f.ID, method, err.Error()) }
		fmt.Fprintf(c.Log, "%d: Modal noise %-10s %.6f\n", f.ID, method, v)
		res.Noise[method.String()]=v

		if op.ArrayPattern!="" {
			if err:=op.saveArray(img, f, method, opts, c); err!=nil { return nil, err }
		}
	}
	if op.Spectrum {
		spectrum, err:=img.PowerSpectrum(opts)
		if err!=nil { return nil, fmt.Errorf("%d: power spectrum: %s", f.ID, err.Error()) }
		fmt.Fprintf(c.Log, "%d: Power spectrum with %d frequency bins\n", f.ID, len(spectrum.Freqs))
		res.Spectrum=&spectrum
	}
	c.AddResult(res)
	return f, nil
}

// Writes the diagnostic array of the given method with the method name
// inserted before the file extension: FITS extensions keep the raw values,
// everything else renders as a false color heat map
func (op *OpNoise) saveArray(img *fiberimg.Image, f *fio.Frame, method noise.Method, opts noise.Options, c *Context) error {
	data, width, err:=img.ModalNoiseArray(method, opts)
	if err!=nil { return fmt.Errorf("%d: modal noise %s array: %s", f.ID, method, err.Error()) }

	fileName:=op.ArrayPattern
	if strings.Contains(fileName, "%d") { fileName=fmt.Sprintf(op.ArrayPattern, f.ID) }
	ext:=path.Ext(fileName)
	fileName=strings.TrimSuffix(fileName, ext)+"_"+method.String()+ext
	if !IsPathAllowed(fileName) { return fmt.Errorf("%d: array filename outside current directory tree", f.ID) }

	frame:=fio.NewFrameFromData(data, width)
	fmt.Fprintf(c.Log, "%d: Writing %s modal noise array to %s\n", f.ID, method, fileName)
	switch strings.ToLower(ext) {
	case ".fits", ".fit", ".fts":
		return frame.WriteFile(fileName)
	}
	return frame.WriteHeatPNGToFile(fileName, frame.Stats.Min, frame.Stats.Max)
}
