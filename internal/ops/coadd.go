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
	"github.com/fiberlab/fiberface/internal/fio"
	"github.com/fiberlab/fiberface/internal/stats"
)

// Co-adds a series of exposures of the same fiber face into their pixelwise
// mean, beating down shot noise before analysis. Takes n inputs, produces
// one output
type OpCoadd struct {
	OpBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpCoaddDefault() }) } // register the operator for JSON decoding

func NewOpCoaddDefault() *OpCoadd { return NewOpCoadd() }

func NewOpCoadd() *OpCoadd {
	return &OpCoadd{OpBase: OpBase{Type: "coadd", Active: true}}
}

// Unmarshals the operator from JSON with default values for missing entries
func (op *OpCoadd) UnmarshalJSON(data []byte) error {
	type defaults OpCoadd
	def:=defaults(*NewOpCoaddDefault())
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	*op=OpCoadd(def)
	return nil
}

func (op *OpCoadd) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("%s operator needs inputs", op.Type) }
	if !op.Active  { return ins, nil }

	out:=func() (f *fio.Frame, err error) {
		fs, err:=MaterializeAll(ins, c.MaxThreads, false) // materialize all input promises
		if err!=nil { return nil, err }
		return op.Apply(fs, c)
	}
	return []Promise{out}, nil
}

// Averages the materialized frames in place into the first one. All frames
// must share dimensions; the exposure of the result is the mean exposure
func (op *OpCoadd) Apply(fs []*fio.Frame, c *Context) (result *fio.Frame, err error) {
	result=fs[0]
	if len(fs)==1 { return result, nil }

	for _,f:=range fs[1:] {
		if !f.SameDimensionsAs(result) {
			return nil, fmt.Errorf("%d: cannot co-add %s frame onto %s frame", f.ID, f.DimensionsToString(), result.DimensionsToString())
		}
	}

	factor:=1/float32(len(fs))
	exposure:=float32(0)
	for i:=range result.Data {
		sum:=float32(0)
		for _,f:=range fs { sum+=f.Data[i] }
		result.Data[i]=sum*factor
	}
	for _,f:=range fs { exposure+=f.Exposure }
	result.Exposure=exposure*factor

	result.Stats=stats.CalcBasic(result.Data)
	fmt.Fprintf(c.Log, "%d: Co-added %d frames into their pixelwise mean with %v\n", result.ID, len(fs), result.Stats)
	return result, nil
}
