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
	"sync"
	"github.com/fiberlab/fiberface/internal/fio"
	"github.com/fiberlab/fiberface/internal/median"
	"github.com/fiberlab/fiberface/internal/stats"
)

// Calibrates light frames with master dark, ambient and flat frames, and
// optionally repairs defective pixels. Takes n inputs, produces n outputs
type OpCalibrate struct {
	OpUnaryBase
	Dark          string  `json:"dark"`
	Ambient       string  `json:"ambient"`
	Flat          string  `json:"flat"`
	BadPixelSigma float32 `json:"badPixelSigma"` // repair pixels deviating more than this many sigmas from their local median, 0 = off

	once sync.Once
	err  error
}

func init() { SetOperatorFactory(func() Operator { return NewOpCalibrateDefault() }) } // register the operator for JSON decoding

func NewOpCalibrateDefault() *OpCalibrate { return NewOpCalibrate("", "", "", 0) }

func NewOpCalibrate(dark, ambient, flat string, badPixelSigma float32) *OpCalibrate {
	op:=OpCalibrate{
		OpUnaryBase:   OpUnaryBase{OpBase: OpBase{Type: "calibrate", Active: dark!="" || ambient!="" || flat!="" || badPixelSigma>0}},
		Dark:          dark,
		Ambient:       ambient,
		Flat:          flat,
		BadPixelSigma: badPixelSigma,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshals the operator from JSON in place, the once guard must not be
// copied. Restores the Apply binding afterwards
func (op *OpCalibrate) UnmarshalJSON(data []byte) error {
	type defaults OpCalibrate
	if err:=json.Unmarshal(data, (*defaults)(op)); err!=nil { return err }
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

// Loads the master frames into the context exactly once, then subtracts the
// dark, subtracts the ambient light frame, divides by the flat and repairs
// defective pixels. By convention the dark frame has ID -1, the flat frame
// -2 and the ambient frame -3
func (op *OpCalibrate) Apply(f *fio.Frame, c *Context) (fOut *fio.Frame, err error) {
	if !op.Active { return f, nil }

	op.once.Do(func() {
		if op.Dark!="" {
			c.DarkFrame, op.err=fio.NewFrameFromFile(op.Dark, -1, c.Log)
			if op.err!=nil { return }
			fmt.Fprintf(c.Log, "%d: Loaded master dark %s from %s\n", c.DarkFrame.ID, c.DarkFrame.DimensionsToString(), op.Dark)
		}
		if op.Flat!="" {
			c.FlatFrame, op.err=fio.NewFrameFromFile(op.Flat, -2, c.Log)
			if op.err!=nil { return }
			fmt.Fprintf(c.Log, "%d: Loaded master flat %s from %s\n", c.FlatFrame.ID, c.FlatFrame.DimensionsToString(), op.Flat)
		}
		if op.Ambient!="" {
			c.AmbientFrame, op.err=fio.NewFrameFromFile(op.Ambient, -3, c.Log)
			if op.err!=nil { return }
			fmt.Fprintf(c.Log, "%d: Loaded ambient light frame %s from %s\n", c.AmbientFrame.ID, c.AmbientFrame.DimensionsToString(), op.Ambient)
		}
	})
	if op.err!=nil { return nil, op.err }

	if c.DarkFrame!=nil {
		if err=f.SubtractDark(c.DarkFrame); err!=nil { return nil, err }
		fmt.Fprintf(c.Log, "%d: Subtracted master dark, new stats %v\n", f.ID, f.Stats)
	}
	if c.AmbientFrame!=nil {
		// ambient background scales with exposure like the dark current does
		if err=f.SubtractDark(c.AmbientFrame); err!=nil { return nil, err }
		fmt.Fprintf(c.Log, "%d: Subtracted ambient light, new stats %v\n", f.ID, f.Stats)
	}
	if c.FlatFrame!=nil {
		if err=f.DivideFlat(c.FlatFrame); err!=nil { return nil, err }
		fmt.Fprintf(c.Log, "%d: Divided by master flat, new stats %v\n", f.ID, f.Stats)
	}
	if op.BadPixelSigma>0 {
		bpm:=median.BadPixelMap(f.Data, f.Width, op.BadPixelSigma, op.BadPixelSigma)
		median.FilterSparse(f.Data, bpm, median.NeighborMask(f.Width))
		f.Stats=stats.CalcBasic(f.Data)
		fmt.Fprintf(c.Log, "%d: Repaired %d bad pixels beyond %.1f sigma, new stats %v\n", f.ID, len(bpm), op.BadPixelSigma, f.Stats)
	}
	return f, nil
}
