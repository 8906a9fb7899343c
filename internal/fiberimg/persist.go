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


package fiberimg

import (
	"encoding/json"
	"io"
	"os"
	"github.com/fiberlab/fiberface/internal/center"
)

// Serialized analysis results of an image: the calibration context plus all
// memoized geometry and centroid values, so repeated runs skip the search
type analysisData struct {
	FileName    string                     `json:"fileName,omitempty"`
	Width       int32                      `json:"width"`
	Height      int32                      `json:"height"`
	Calibration Calibration                `json:"calibration"`
	Threshold   float32                    `json:"threshold,omitempty"`
	KernelSize  int32                      `json:"kernelSize"`
	Geometries  map[string]center.Geometry `json:"geometries"`
	CentroidX   *float32                   `json:"centroidX,omitempty"`
	CentroidY   *float32                   `json:"centroidY,omitempty"`
}

// Writes the memoized analysis results as JSON
func (f *Image) SaveData(w io.Writer) error {
	f.mu.Lock()
	d:=analysisData{
		FileName:    f.FileName,
		Width:       f.Width,
		Height:      f.Height,
		Calibration: f.Calibration,
		Threshold:   f.threshold,
		KernelSize:  f.KernelSize,
		Geometries:  make(map[string]center.Geometry, len(f.geometries)),
	}
	for m,g:=range f.geometries {
		d.Geometries[m.String()]=g
	}
	if f.hasCentroid {
		cx, cy:=f.centroidX, f.centroidY
		d.CentroidX, d.CentroidY=&cx, &cy
	}
	f.mu.Unlock()

	enc:=json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Writes the memoized analysis results to a JSON file
func (f *Image) SaveDataFile(fileName string) error {
	file, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer file.Close()
	return f.SaveData(file)
}

// Restores memoized analysis results from JSON. Geometries for unknown
// methods are ignored, dimensions must match the image
func (f *Image) LoadData(r io.Reader) error {
	var d analysisData
	if err:=json.NewDecoder(r).Decode(&d); err!=nil { return err }

	f.mu.Lock()
	defer f.mu.Unlock()
	if d.Width==f.Width && d.Height==f.Height {
		for name,g:=range d.Geometries {
			if m, err:=center.ParseMethod(name); err==nil {
				f.geometries[m]=g
			}
		}
		if d.CentroidX!=nil && d.CentroidY!=nil {
			f.centroidX, f.centroidY, f.hasCentroid=*d.CentroidX, *d.CentroidY, true
		}
		if d.Threshold!=0 { f.threshold=d.Threshold }
	}
	if f.Calibration.PixelSize==0     { f.Calibration.PixelSize=d.Calibration.PixelSize }
	if f.Calibration.Magnification==0 { f.Calibration.Magnification=d.Calibration.Magnification }
	if f.Calibration.Camera==CameraUnknown { f.Calibration.Camera=d.Calibration.Camera }
	return nil
}

// Restores memoized analysis results from a JSON file
func (f *Image) LoadDataFile(fileName string) error {
	file, err:=os.Open(fileName)
	if err!=nil { return err }
	defer file.Close()
	return f.LoadData(file)
}
