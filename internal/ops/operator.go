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


// Package ops provides composable analysis operators over fiber frames:
// loading, calibration, fiber location, modal noise scoring and saving,
// with JSON serialization for pipeline definitions
package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/fiberlab/fiberface/internal/center"
	"github.com/fiberlab/fiberface/internal/fiberimg"
	"github.com/fiberlab/fiberface/internal/fio"
	"github.com/fiberlab/fiberface/internal/noise"
)

// Analysis results of a single frame, collected across operators
type Result struct {
	ID        int                `json:"id"`
	FileName  string             `json:"fileName,omitempty"`
	Method    string             `json:"method,omitempty"`
	Units     string             `json:"units,omitempty"`
	Geometry  *center.Geometry   `json:"geometry,omitempty"`
	Diameter  float32            `json:"diameter,omitempty"`
	CentroidX float32            `json:"centroidX,omitempty"`
	CentroidY float32            `json:"centroidY,omitempty"`
	Noise     map[string]float64 `json:"noise,omitempty"`
	Spectrum  *noise.Spectrum    `json:"spectrum,omitempty"`
}

// An execution context for operators
type Context struct {
	Log         io.Writer
	MemoryMB    int                  // memory.TotalMemory()/1024/1024
	MaxThreads  int                  `json:"maxThreads"`
	Calibration fiberimg.Calibration // calibration overrides for all frames
	Threshold   float32              // edge threshold override, 0 = automatic
	KernelSize  int32                // median filter kernel, 0 = default
	LoadDataPattern string           // restore saved analysis data JSON per frame, with %d expansion
	DarkFrame    *fio.Frame
	AmbientFrame *fio.Frame
	FlatFrame    *fio.Frame

	mu      sync.Mutex
	results []Result
}

func NewContext(log io.Writer) *Context {
	maxThreads:=cpuid.CPU.LogicalCores
	if maxThreads<=0 { maxThreads=runtime.GOMAXPROCS(0) }
	return &Context{
		Log:        log,
		MemoryMB:   int(memory.TotalMemory()/1024/1024),
		MaxThreads: maxThreads,
	}
}

// Appends an analysis result, safe for concurrent use from promises
func (c *Context) AddResult(r Result) {
	c.mu.Lock()
	c.results=append(c.results, r)
	c.mu.Unlock()
}

// All results collected so far, ordered by frame ID
func (c *Context) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs:=append([]Result(nil), c.results...)
	for i:=1; i<len(rs); i++ {
		for j:=i; j>0 && rs[j-1].ID>rs[j].ID; j-- {
			rs[j-1], rs[j]=rs[j], rs[j-1]
		}
	}
	return rs
}

// A promise for a fiber frame. Returns a materialized frame, or an error
type Promise func() (f *fio.Frame, err error)

// Materializes all promises with given concurrency limit
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*fio.Frame, err error) {
	if len(ins)==0 { return nil, nil }
	if !forget {
		outs=make([]*fio.Frame, len(ins))
	}
	limiter:=make(chan bool, maxThreads)
	errs   :=make(chan error, len(ins))
	for i, in:=range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			f, err:=theIn() // materialize the promise
			if err!=nil {
				errs <- err
				return
			}
			if !forget {
				outs[i]=f
			}
			errs <- nil
		}(i, in)
	}
	for i:=0; i<cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	for i:=0; i<len(ins); i++ { // collect errors
		if e:=<-errs; e!=nil {
			if err==nil {
				err=e
			} else {
				err=fmt.Errorf("%s; %s", err.Error(), e.Error())
			}
		}
	}
	return removeNils(outs), err
}

// Remove nils from an array of frames, editing the underlying array in place
func removeNils(frames []*fio.Frame) []*fio.Frame {
	o:=0
	for i:=0; i<len(frames); i++ {
		if frames[i]!=nil {
			frames[o]=frames[i]
			o++
		}
	}
	for i:=o; i<len(frames); i++ {
		frames[i]=nil
	}
	return frames[:o]
}

// A general frame processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators, for JSON serializing/deserializing
type OperatorFactory func() Operator

var operatorFactories=map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op:=f()
	t:=op.GetType()
	if GetOperatorFactory(t)!=nil { panic(fmt.Sprintf("error: re-registering operator key %s\n", t)) }
	operatorFactories[t]=f
}

// A unary frame processing operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(f *fio.Frame, c *Context) (fOut *fio.Frame, err error)
}

// Abstract base type for unary operators
type OpUnaryBase struct {
	OpBase
	Apply func(f *fio.Frame, c *Context) (fOut *fio.Frame, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("unary operator with %d inputs", len(ins)) }
	outs=make([]Promise, len(ins))
	for i,in:=range ins {
		outs[i]=op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (f *fio.Frame, err error) {
		if f, err=in();           err!=nil { return nil, err } // materialize input promise
		if f, err=op.Apply(f, c); err!=nil { return nil, err } // apply unary operator
		return f, nil                                          // wrap output in promise
	}
}

// Load a single frame from a single filename. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase:   OpBase{Type: "load", Active: true},
		ID:       id,
		FileName: fileName,
	}
}

// Load frame from a file. Ignores any f argument provided
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	if !IsPathAllowed(op.FileName) { return nil, errors.New("filename outside current directory tree, aborting") }

	out:=func() (f *fio.Frame, err error) {
		return op.Apply(nil, c)
	}
	return []Promise{out}, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func IsPathAllowed(p string) bool {
	if filepath.IsAbs(p) { return false }         // relative paths only
	if strings.Contains(p, "..") { return false } // no going outside the tree
	return true
}

func (op *OpLoad) Apply(f *fio.Frame, c *Context) (result *fio.Frame, err error) {
	f, err=fio.NewFrameFromFile(op.FileName, op.ID, c.Log)
	if err!=nil { return nil, err }

	warning:=""
	if f.Stats.Max-f.Stats.Min<1e-8 {
		warning="; WARNING low dynamic range"
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s frame with %v from %s%s\n",
		f.ID, f.DimensionsToString(), f.Stats, f.FileName, warning)
	return f, nil
}

// Load many frames from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault() }) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase:       OpBase{Type: "loadMany", Active: true},
		FilePatterns: filePatterns,
	}
}

// Turn filename wildcards into list of file load operators
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	for _,pattern:=range op.FilePatterns {
		matches, err:=filepath.Glob(pattern)
		if err!=nil { return nil, err }
		for _,match:=range matches {
			if !IsPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			opLoad:=NewOpLoad(len(outs), match)
			promises, err:=opLoad.MakePromises(nil, c)
			if err!=nil { return nil, err }
			if len(promises)!=1 { return nil, fmt.Errorf("%s operator did not return exactly one promise", opLoad.Type) }
			outs=append(outs, promises[0])
		}
	}
	if len(outs)==0 {
		return nil, fmt.Errorf("%s operator with no files to load from pattern %v", op.Type, op.FilePatterns)
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}

// Saves given promise under a given filename, with pattern expansion for %d based on the frame id.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string `json:"filePattern"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op:=OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filenamePattern!=""}},
		FilePattern: filenamePattern,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshals the operator from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def:=defaults(*NewOpSaveDefault())
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	*op=OpSave(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpSave) Apply(f *fio.Frame, c *Context) (result *fio.Frame, err error) {
	if !op.Active || op.FilePattern=="" { return f, nil }
	fileName:=op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName=fmt.Sprintf(op.FilePattern, f.ID)
	}
	fnLower:=strings.ToLower(fileName)

	switch {
	case strings.HasSuffix(fnLower, ".fits") || strings.HasSuffix(fnLower, ".fit") || strings.HasSuffix(fnLower, ".fts"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel FITS to %s\n", f.ID, f.DimensionsToString(), fileName)
		err=f.WriteFile(fileName)
	case strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel mono TIFF to %s\n", f.ID, f.DimensionsToString(), fileName)
		err=f.WriteMonoTIFF16ToFile(fileName, f.Stats.Min, f.Stats.Max, 1.0)
	case strings.HasSuffix(fnLower, ".png"):
		fmt.Fprintf(c.Log, "%d: Writing %s pixel heat map PNG to %s\n", f.ID, f.DimensionsToString(), fileName)
		err=f.WriteHeatPNGToFile(fileName, f.Stats.Min, f.Stats.Max)
	default:
		err=errors.New("unknown suffix")
	}
	if err!=nil { return nil, fmt.Errorf("%d: error writing to file %s: %s", f.ID, fileName, err.Error()) }
	return f, nil
}

// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps)>0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON via temporary op.StepsRaw
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err:=json.Unmarshal(b, (*alias)(op)); err!=nil { return err }

	for _,raw:=range op.StepsRaw {
		var step OpBase
		if err:=json.Unmarshal(raw, &step); err!=nil { return err }

		factory:=GetOperatorFactory(step.Type)
		if factory==nil {
			return fmt.Errorf("unknown operator type '%s' in raw JSON message '%s'", step.Type, string(raw))
		}
		i:=factory()
		if err:=json.Unmarshal(raw, i); err!=nil { return err }
		op.Steps=append(op.Steps, i)
	}
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps=append(op.Steps, steps...)
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf:=bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err:=json.Marshal(op.Type)
	if err!=nil { return nil, err }
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	inner, err=json.Marshal(op.Steps)
	if err!=nil { return nil, err }
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps)==0 { return ins, nil }
	ins, err=steps[0].MakePromises(ins, c)
	if err!=nil { return nil, err }
	return op.applyRecursive(steps[1:], ins, c)
}
