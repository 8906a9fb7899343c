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


// Package fiberimg holds the fiber face image container: a corrected 2D
// intensity array plus calibration metadata, with per-method memoization of
// the center estimates and modal noise scores computed on it
package fiberimg

import (
	"errors"
	"fmt"
	"sync"
	"github.com/fiberlab/fiberface/internal/center"
	"github.com/fiberlab/fiberface/internal/geom"
	"github.com/fiberlab/fiberface/internal/median"
	"github.com/fiberlab/fiberface/internal/noise"
	"github.com/fiberlab/fiberface/internal/stats"
)

// Required calibration metadata unresolved at time of use
var ErrConfiguration = errors.New("calibration metadata unresolved")

// Unknown unit name requested
var ErrInvalidUnits = errors.New("invalid units")

// Default median filter kernel for the analysis image
const DefaultKernelSize = 5

// Sigmas above the sampled background location for the automatic edge
// detection threshold
const autoThresholdSigma = 5

// Pixel sample count for the automatic threshold estimate
const autoThresholdSamples = 65536

// Fiber centroid isolation extends this factor beyond the fiber radius
const DefaultCentroidFactor = 1.05

// Camera identifies which bench camera captured the frame
type Camera int

const (
	CameraUnknown  Camera = iota
	CameraNearField       // fiber output near field, 10x magnification
	CameraFarField        // fiber output far field, unit magnification
	CameraInput           // fiber input face, 10x magnification
)

var cameraNames=map[Camera]string{
	CameraNearField: "nf",
	CameraFarField:  "ff",
	CameraInput:     "in",
}

func (c Camera) String() string {
	if s,ok:=cameraNames[c]; ok { return s }
	return "unknown"
}

// Parses a camera identifier. The empty string yields CameraUnknown
func ParseCamera(s string) (Camera, error) {
	if s=="" { return CameraUnknown, nil }
	for c,name:=range cameraNames {
		if s==name { return c, nil }
	}
	return CameraUnknown, fmt.Errorf("%w: unknown camera %q", ErrConfiguration, s)
}

func (c Camera) MarshalJSON() ([]byte, error) {
	return []byte(`"`+c.String()+`"`), nil
}

func (c *Camera) UnmarshalJSON(b []byte) error {
	s:=string(b)
	if len(s)>=2 && s[0]=='"' { s=s[1:len(s)-1] }
	if s=="unknown" { *c=CameraUnknown; return nil }
	parsed, err:=ParseCamera(s)
	if err!=nil { return err }
	*c=parsed
	return nil
}

// Calibration context of a frame. PixelSize and Magnification must be
// resolved, either supplied or derived from the camera identifier, before
// any unit conversion
type Calibration struct {
	PixelSize     float32 `json:"pixelSize"`     // microns per pixel on the CCD
	Magnification float32 `json:"magnification"` // optical magnification
	Camera        Camera  `json:"camera"`
}

// Fills the magnification from the camera identifier if absent: the near
// field and input cameras image through a 10x objective, the far field
// camera is unmagnified
func (c *Calibration) ResolveMagnification() {
	if c.Magnification!=0 { return }
	switch c.Camera {
	case CameraNearField, CameraInput: c.Magnification=10
	case CameraFarField:               c.Magnification=1
	}
}

// Checks that unit conversions are possible
func (c *Calibration) Validate() error {
	if c.PixelSize<=0     { return fmt.Errorf("%w: pixel size", ErrConfiguration) }
	if c.Magnification<=0 { return fmt.Errorf("%w: magnification", ErrConfiguration) }
	return nil
}

// Measurement units for positions and diameters
type Units int

const (
	UnitsPixels Units = iota
	UnitsMicrons
)

func (u Units) String() string {
	if u==UnitsMicrons { return "microns" }
	return "pixels"
}

// Parses a unit name
func ParseUnits(s string) (Units, error) {
	switch s {
	case "", "pixels": return UnitsPixels, nil
	case "microns":    return UnitsMicrons, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidUnits, s)
}

type noiseKey struct {
	method noise.Method
	opts   noise.Options
}

// A corrected fiber face image with calibration metadata. Center estimates
// and modal noise parameters are computed on first request and memoized for
// the lifetime of the image; the cache is append-only and guarded by a mutex
// so a batch pipeline can share the container
type Image struct {
	ID          int         // sequential number for log output
	FileName    string      // originating file, if any, for log output
	Data        []float32   // corrected intensities, row major
	Width       int32
	Height      int32
	Calibration Calibration
	KernelSize  int32       // median filter kernel for the analysis image
	Threshold   float32     // edge detection threshold, 0 = estimate from background

	mu          sync.Mutex
	filtered    []float32
	threshold   float32     // resolved threshold
	geometries  map[center.Method]center.Geometry
	gaussian    []float32   // fitted surface from the gaussian center method
	centroidX   float32
	centroidY   float32
	hasCentroid bool
	noiseCache  map[noiseKey]float64
}

// Creates an image container over the given corrected intensity array.
// The data is not copied
func New(data []float32, width int32, calib Calibration) (*Image, error) {
	if width<=0 || len(data)==0 || int32(len(data))%width!=0 {
		return nil, fmt.Errorf("invalid image dimensions: %d values, width %d", len(data), width)
	}
	calib.ResolveMagnification()
	return &Image{
		Data:        data,
		Width:       width,
		Height:      int32(len(data))/width,
		Calibration: calib,
		KernelSize:  DefaultKernelSize,
		geometries:  make(map[center.Method]center.Geometry),
		noiseCache:  make(map[noiseKey]float64),
	}, nil
}

// The median filtered analysis image, computed on first use
func (f *Image) Filtered() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filteredLocked()
}

func (f *Image) filteredLocked() []float32 {
	if f.filtered==nil {
		f.filtered=make([]float32, len(f.Data))
		median.FilterNxN(f.filtered, f.Data, f.Width, f.KernelSize)
	}
	return f.filtered
}

// The resolved edge detection threshold. If none was supplied, estimates the
// background location and scale from a random pixel sample and places the
// threshold autoThresholdSigma scales above the location
func (f *Image) EdgeThreshold() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thresholdLocked()
}

func (f *Image) thresholdLocked() float32 {
	if f.threshold==0 {
		if f.Threshold!=0 {
			f.threshold=f.Threshold
		} else {
			location, scale:=stats.EstimateLocationScale(f.filteredLocked(), autoThresholdSamples)
			f.threshold=location+autoThresholdSigma*scale
		}
	}
	return f.threshold
}

func (f *Image) estimatorLocked() *center.Estimator {
	return &center.Estimator{
		Data:      f.Data,
		Filtered:  f.filteredLocked(),
		Width:     f.Width,
		Height:    f.Height,
		Threshold: f.thresholdLocked(),
	}
}

// Locates the fiber with the given method, computing on first request and
// returning the cached geometry afterwards. tol and testRange only apply to
// the golden-section methods; testRange<=0 searches the full image
func (f *Image) FiberGeometry(method center.Method, tol, testRange float32) (center.Geometry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.geometryLocked(method, tol, testRange)
}

func (f *Image) geometryLocked(method center.Method, tol, testRange float32) (center.Geometry, error) {
	if g,ok:=f.geometries[method]; ok { return g, nil }

	e:=f.estimatorLocked()
	var g   center.Geometry
	var err error
	switch method {
	case center.MethodEdge:
		g, err=e.Edge()
	case center.MethodCircle:
		// the circle method needs a radius; take the best available
		radius, rerr:=f.bestRadiusLocked(tol, testRange)
		if rerr!=nil { return center.Geometry{}, rerr }
		g, _, err=e.Circle(radius, tol, testRange)
	case center.MethodRadius:
		g, err=e.Radius(tol, testRange)
	case center.MethodGaussian:
		seed, serr:=f.bestCenterLocked(tol, testRange)
		if serr!=nil { return center.Geometry{}, serr }
		var surface []float32
		g, surface, _, err=e.Gaussian(seed)
		if err==nil { f.gaussian=surface }
	default:
		return center.Geometry{}, fmt.Errorf("%w: %d", center.ErrInvalidMethod, int(method))
	}
	if err!=nil { return center.Geometry{}, err }
	f.geometries[method]=g
	return g, nil
}

// The fiber center by the highest priority method already computed,
// radius > gaussian > circle > edge, computing the edge method if none is
func (f *Image) FiberCenter(tol, testRange float32) (center.Geometry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bestCenterLocked(tol, testRange)
}

func (f *Image) bestCenterLocked(tol, testRange float32) (center.Geometry, error) {
	for _,m:=range []center.Method{center.MethodRadius, center.MethodGaussian, center.MethodCircle, center.MethodEdge} {
		if g,ok:=f.geometries[m]; ok { return g, nil }
	}
	return f.geometryLocked(center.MethodEdge, tol, testRange)
}

// The fiber radius in pixels by the highest priority method already
// computed, radius > gaussian > edge, computing the edge method if none is.
// The circle method is excluded, its radius is an input, not an estimate
func (f *Image) bestRadiusLocked(tol, testRange float32) (float32, error) {
	for _,m:=range []center.Method{center.MethodRadius, center.MethodGaussian, center.MethodEdge} {
		if g,ok:=f.geometries[m]; ok { return g.Radius, nil }
	}
	g, err:=f.geometryLocked(center.MethodEdge, tol, testRange)
	if err!=nil { return 0, err }
	return g.Radius, nil
}

// The fiber diameter with the given method (or the best available for
// method<0), converted to the requested units
func (f *Image) FiberDiameter(method center.Method, tol, testRange float32, units Units) (float32, error) {
	f.mu.Lock()
	var g   center.Geometry
	var err error
	if method<0 {
		var radius float32
		radius, err=f.bestRadiusLocked(tol, testRange)
		g=center.Geometry{Radius: radius}
	} else {
		g, err=f.geometryLocked(method, tol, testRange)
	}
	f.mu.Unlock()
	if err!=nil { return 0, err }
	return f.ConvertPixelsToUnits(g.Diameter(), units)
}

// The centroid of the fiber face: the intensity-weighted mean position
// within radiusFactor fiber radii of the edge method center. Cached
func (f *Image) FiberCentroid(radiusFactor float32) (centroidX, centroidY float32, err error) {
	if radiusFactor<=0 { radiusFactor=DefaultCentroidFactor }
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasCentroid { return f.centroidX, f.centroidY, nil }

	g, err:=f.geometryLocked(center.MethodEdge, 1, 0)
	if err!=nil { return 0, 0, err }

	iso:=geom.IsolateCircle(f.Data, f.Width, g.CenterX, g.CenterY, g.Radius*radiusFactor, 1)
	xs, ys:=geom.MeshGrid(f.Width, f.Height)
	sum, sumX, sumY:=0.0, 0.0, 0.0
	for i,v:=range iso {
		sum +=float64(v)
		sumX+=float64(v)*float64(xs[i])
		sumY+=float64(v)*float64(ys[i])
	}
	if sum==0 { return 0, 0, fmt.Errorf("%w: zero intensity in centroid region", geom.ErrEmptyRegion) }
	f.centroidX=float32(sumX/sum)
	f.centroidY=float32(sumY/sum)
	f.hasCentroid=true
	return f.centroidX, f.centroidY, nil
}

// The scalar modal noise parameter of this image with the given method,
// memoized per method and options. The noise engine consumes the edge
// method center with the best available radius
func (f *Image) ModalNoise(method noise.Method, opts noise.Options) (float64, error) {
	key:=noiseKey{method: method, opts: opts}
	f.mu.Lock()
	if v,ok:=f.noiseCache[key]; ok {
		f.mu.Unlock()
		return v, nil
	}
	engine, err:=f.noiseEngineLocked()
	f.mu.Unlock()
	if err!=nil { return 0, err }

	v, err:=engine.Parameter(method, opts)
	if err!=nil { return 0, err }
	f.mu.Lock()
	f.noiseCache[key]=v
	f.mu.Unlock()
	return v, nil
}

// The diagnostic 2D array of the given modal noise method. Not cached
func (f *Image) ModalNoiseArray(method noise.Method, opts noise.Options) ([]float32, int32, error) {
	f.mu.Lock()
	engine, err:=f.noiseEngineLocked()
	f.mu.Unlock()
	if err!=nil { return nil, 0, err }
	return engine.Array(method, opts)
}

// The azimuthally averaged power spectrum of the fiber face. Not cached
func (f *Image) PowerSpectrum(opts noise.Options) (noise.Spectrum, error) {
	if err:=f.Calibration.Validate(); err!=nil { return noise.Spectrum{}, err }
	f.mu.Lock()
	engine, err:=f.noiseEngineLocked()
	f.mu.Unlock()
	if err!=nil { return noise.Spectrum{}, err }
	return engine.PowerSpectrum(opts)
}

func (f *Image) noiseEngineLocked() (*noise.Engine, error) {
	g, err:=f.geometryLocked(center.MethodEdge, 1, 10)
	if err!=nil { return nil, err }
	radius, err:=f.bestRadiusLocked(1, 10)
	if err!=nil { return nil, err }
	return &noise.Engine{
		Data:          f.Data,
		Width:         f.Width,
		Height:        f.Height,
		Geometry:      center.Geometry{CenterX: g.CenterX, CenterY: g.CenterY, Radius: radius},
		PixelSize:     f.Calibration.PixelSize,
		Magnification: f.Calibration.Magnification,
	}, nil
}

// Converts a pixel quantity to the requested units
func (f *Image) ConvertPixelsToUnits(value float32, units Units) (float32, error) {
	switch units {
	case UnitsPixels:
		return value, nil
	case UnitsMicrons:
		if err:=f.Calibration.Validate(); err!=nil { return 0, err }
		return value*f.Calibration.PixelSize/f.Calibration.Magnification, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidUnits, int(units))
}

// Converts a micron quantity to the requested units
func (f *Image) ConvertMicronsToUnits(value float32, units Units) (float32, error) {
	switch units {
	case UnitsMicrons:
		return value, nil
	case UnitsPixels:
		if err:=f.Calibration.Validate(); err!=nil { return 0, err }
		return value*f.Calibration.Magnification/f.Calibration.PixelSize, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidUnits, int(units))
}

// Pretty prints image dimensions for log output
func (f *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}
