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


package noise

import (
	"errors"
	"math"
	"testing"
	"github.com/valyala/fastrand"
	"github.com/fiberlab/fiberface/internal/center"
	"github.com/fiberlab/fiberface/internal/geom"
)

// synthetic fiber face: uniform disk of the given intensity on zero background
func makeEngine(width, height int32, cx, cy, r, intensity float32) *Engine {
	data:=make([]float32, width*height)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			dx, dy:=float32(x)-cx, float32(y)-cy
			if dx*dx+dy*dy<=r*r {
				data[y*width+x]=intensity
			}
		}
	}
	return &Engine{
		Data:          data,
		Width:         width,
		Height:        height,
		Geometry:      center.Geometry{CenterX: cx, CenterY: cy, Radius: r},
		PixelSize:     3.45,
		Magnification: 10,
	}
}

// adds multiplicative speckle to the disk pixels
func addSpeckle(e *Engine, seed uint32) {
	rng:=fastrand.RNG{}
	rng.Seed(seed)
	for i,v:=range e.Data {
		if v>0 {
			e.Data[i]=v*(0.5+float32(rng.Uint32n(1000))/1000)
		}
	}
}

func TestParseMethod(t *testing.T) {
	for _,name:=range []string{"tophat", "fft", "polynomial", "gaussian", "gradient", "contrast", "gini", "entropy"} {
		m, err:=ParseMethod(name)
		if err!=nil { t.Errorf("%s: unexpected error %s", name, err.Error()) }
		if m.String()!=name { t.Errorf("round trip %s: got %s", name, m.String()) }
	}
	for _,name:=range []string{"", "Tophat", "top", "fourier"} {
		if _, err:=ParseMethod(name); !errors.Is(err, ErrInvalidMethod) {
			t.Errorf("%q: got %v, want ErrInvalidMethod", name, err)
		}
	}
}

func TestTophatUniformDisk(t *testing.T) {
	e:=makeEngine(120, 120, 60, 60, 40, 100)
	v, err:=e.Parameter(MethodTophat, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	// an ideal tophat has zero variance inside the fiber face
	if v>1e-6 {
		t.Errorf("tophat parameter %g for uniform disk, want 0", v)
	}
}

func TestTophatSpeckleScoresHigher(t *testing.T) {
	uniform:=makeEngine(120, 120, 60, 60, 40, 100)
	speckled:=makeEngine(120, 120, 60, 60, 40, 100)
	addSpeckle(speckled, 42)

	vu, err:=uniform.Parameter(MethodTophat, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	vs, err:=speckled.Parameter(MethodTophat, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if vs<=vu {
		t.Errorf("speckled tophat %g not above uniform %g", vs, vu)
	}
}

func TestTophatZeroMean(t *testing.T) {
	e:=makeEngine(120, 120, 60, 60, 40, 0)
	if _, err:=e.Parameter(MethodTophat, Options{}); !errors.Is(err, ErrZeroDenominator) {
		t.Errorf("got %v, want ErrZeroDenominator for zero image", err)
	}
}

func TestContrastUniformDisk(t *testing.T) {
	e:=makeEngine(120, 120, 60, 60, 40, 100)
	v, err:=e.Parameter(MethodContrast, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if v>1e-6 {
		t.Errorf("contrast %g for uniform disk, want 0", v)
	}
}

func TestGradientUniformDisk(t *testing.T) {
	e:=makeEngine(120, 120, 60, 60, 40, 100)
	v, err:=e.Parameter(MethodGradient, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	// gradient is zero strictly inside the disk, the 0.95 isolation keeps the
	// measured region clear of the edge except for boundary discretization
	if v>0.2 {
		t.Errorf("gradient parameter %g for uniform disk, want near 0", v)
	}
}

func TestEntropyUniformDisk(t *testing.T) {
	e:=makeEngine(120, 120, 60, 60, 40, 100)
	v, err:=e.Parameter(MethodEntropy, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	// n equal probabilities yield the maximal entropy log10(n)
	values, err:=geom.IntensityValues(e.Data, e.Width, 60, 60, 40*0.95)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	want:=math.Log10(float64(len(values)))
	if diff:=math.Abs(v-want); diff>1e-6 {
		t.Errorf("entropy %g, want %g", v, want)
	}
}

func TestGiniCoefficient(t *testing.T) {
	// constant array has no inequality
	v, err:=GiniCoefficient([]float32{5, 5, 5, 5})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if math.Abs(v)>1e-9 {
		t.Errorf("gini %g for constant array, want 0", v)
	}

	// all mass in one element approaches (n-1)/n
	values:=make([]float32, 10)
	values[9]=1
	v, err=GiniCoefficient(values)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if diff:=math.Abs(v-0.9); diff>1e-9 {
		t.Errorf("gini %g for concentrated array, want 0.9", v)
	}

	// hand-computed reference
	v, err=GiniCoefficient([]float32{1, 2, 3, 4})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if diff:=math.Abs(v-0.25); diff>1e-9 {
		t.Errorf("gini %g for 1..4, want 0.25", v)
	}

	if _, err=GiniCoefficient(nil); !errors.Is(err, geom.ErrEmptyRegion) {
		t.Errorf("got %v, want ErrEmptyRegion for empty array", err)
	}
	if _, err=GiniCoefficient([]float32{0, 0}); !errors.Is(err, ErrZeroDenominator) {
		t.Errorf("got %v, want ErrZeroDenominator for zero array", err)
	}
}

func TestGiniSortInvariance(t *testing.T) {
	v1, err:=GiniCoefficient([]float32{4, 1, 3, 2})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	v2, err:=GiniCoefficient([]float32{1, 2, 3, 4})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if v1!=v2 {
		t.Errorf("gini depends on input order: %g vs %g", v1, v2)
	}
}

func TestPolynomialUniformDisk(t *testing.T) {
	e:=makeEngine(120, 120, 60, 60, 40, 100)
	v, err:=e.Parameter(MethodPolynomial, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	// a constant region is fit exactly by any polynomial
	if v>1e-3 {
		t.Errorf("polynomial parameter %g for uniform disk, want near 0", v)
	}
}

func TestFFTSpeckleLowersGini(t *testing.T) {
	uniform:=makeEngine(100, 100, 50, 50, 30, 100)
	speckled:=makeEngine(100, 100, 50, 50, 30, 100)
	addSpeckle(speckled, 7)

	vu, err:=uniform.Parameter(MethodFFT, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	vs, err:=speckled.Parameter(MethodFFT, Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	if vu<=0 || vu>=1 { t.Errorf("uniform fft gini %g outside (0,1)", vu) }
	if vs<=0 || vs>=1 { t.Errorf("speckled fft gini %g outside (0,1)", vs) }
	// speckle spreads spectral power, lowering its concentration
	if vs>=vu {
		t.Errorf("speckled spectrum gini %g not below uniform %g", vs, vu)
	}
}

func TestPowerSpectrum(t *testing.T) {
	e:=makeEngine(100, 100, 50, 50, 30, 100)
	spectrum, err:=e.PowerSpectrum(Options{})
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if len(spectrum.Freqs)!=len(spectrum.Power) {
		t.Fatalf("frequency and power lengths differ: %d vs %d", len(spectrum.Freqs), len(spectrum.Power))
	}
	if len(spectrum.Freqs)<2 {
		t.Fatalf("spectrum has %d bins", len(spectrum.Freqs))
	}

	sum:=0.0
	for _,p:=range spectrum.Power {
		if p<0 { t.Errorf("negative power %g", p) }
		sum+=float64(p)
	}
	if diff:=math.Abs(sum-1); diff>1e-4 {
		t.Errorf("power sums to %g, want 1", sum)
	}

	// frequencies ascend from DC
	if spectrum.Freqs[0]!=0 {
		t.Errorf("first frequency %g, want 0", spectrum.Freqs[0])
	}
	for i:=1; i<len(spectrum.Freqs); i++ {
		if spectrum.Freqs[i]<=spectrum.Freqs[i-1] {
			t.Errorf("frequencies not ascending at %d: %g after %g", i, spectrum.Freqs[i], spectrum.Freqs[i-1])
			break
		}
	}
}

func TestPowerSpectrumNeedsCalibration(t *testing.T) {
	e:=makeEngine(100, 100, 50, 50, 30, 100)
	e.PixelSize=0
	if _, err:=e.PowerSpectrum(Options{}); !errors.Is(err, ErrZeroDenominator) {
		t.Errorf("got %v, want ErrZeroDenominator without pixel size", err)
	}
}

func TestArrayDimensions(t *testing.T) {
	e:=makeEngine(120, 120, 60, 60, 40, 100)
	for _,m:=range []Method{MethodTophat, MethodPolynomial, MethodGradient, MethodContrast, MethodGini, MethodEntropy} {
		data, width, err:=e.Array(m, Options{})
		if err!=nil { t.Fatalf("%s: unexpected error %s", m, err.Error()) }
		if width<=0 || len(data)==0 || int32(len(data))%width!=0 {
			t.Errorf("%s: invalid array %d values, width %d", m, len(data), width)
		}
	}
}

func TestFitResidualRegion(t *testing.T) {
	// uniform 41x41 region with a surface deviating only outside the
	// inscribed circle, in the corners of the fitted square
	w:=int32(41)
	half:=float32(20)
	cropped:=make([]float32, w*w)
	surface:=make([]float32, w*w)
	for i:=range cropped { cropped[i]=100; surface[i]=100 }
	for y:=int32(0); y<w; y++ {
		for x:=int32(0); x<w; x++ {
			dx, dy:=float32(x)-half, float32(y)-half
			if dx*dx+dy*dy>half*half { surface[y*w+x]=110 }
		}
	}
	e:=&Engine{}
	g:=center.Geometry{CenterX: half, CenterY: half, Radius: half}

	// the gaussian metric scores inside the fitted circle only
	vIn, err:=e.residualParameter(cropped, surface, w, g, g.Radius)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if vIn>1e-6 {
		t.Errorf("residual %g inside the fitted circle, want 0", vIn)
	}

	// the polynomial metric scores the circumscribed circle and sees the corners
	vOut, err:=e.residualParameter(cropped, surface, w, g, g.Radius*float32(math.Sqrt2))
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if vOut<1e-3 {
		t.Errorf("residual %g over the circumscribed circle, want the corner deviations counted", vOut)
	}
}
