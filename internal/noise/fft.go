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
	"fmt"
	"math"
	"math/cmplx"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"github.com/fiberlab/fiberface/internal/geom"
)

// The azimuthally averaged power spectrum of the fiber face, with spatial
// frequencies in 1/micron
type Spectrum struct {
	Freqs []float32 `json:"freqs"`
	Power []float32 `json:"power"`
}

// Gini coefficient of the 2D power spectrum magnitudes within the Nyquist
// disk. A uniform disk concentrates its power near DC and scores close to 1;
// speckle spreads power across spatial frequencies and lowers the score
func (e *Engine) fftParameter(opts Options) (float64, error) {
	_, _, mags, err:=e.powerQuadrant(opts)
	if err!=nil { return 0, err }
	return GiniCoefficient(mags)
}

// Computes the azimuthally averaged 1D power spectrum: the folded quadrant is
// binned into radial bins of width 1 pixel by iterating the upper triangular
// octant and doubling contributions, empty bins are dropped, the binned
// spectrum is normalized to sum 1, and bin indices convert to spatial
// frequency via 1/(fftLength*pixelSize/magnification)
func (e *Engine) PowerSpectrum(opts Options) (Spectrum, error) {
	quad, maxFreq, _, err:=e.powerQuadrant(opts)
	if err!=nil { return Spectrum{}, err }
	if e.PixelSize<=0 || e.Magnification<=0 {
		return Spectrum{}, fmt.Errorf("%w: pixel size and magnification required for frequency axis", ErrZeroDenominator)
	}
	fftLength:=2*maxFreq

	binSums   :=make([]float64, maxFreq+1)
	binWeights:=make([]float64, maxFreq+1)
	for i:=int32(0); i<maxFreq; i++ {
		for j:=int32(0); j<=i; j++ {
			freq:=math.Sqrt(float64(i)*float64(i)+float64(j)*float64(j))
			if freq<=float64(maxFreq) {
				bin:=int32(freq)
				binSums[bin]   +=quad[j*maxFreq+i]+quad[i*maxFreq+j]
				binWeights[bin]+=2
			}
		}
	}

	// drop empty bins and average
	spectrum:=Spectrum{
		Freqs: make([]float32, 0, maxFreq+1),
		Power: make([]float32, 0, maxFreq+1),
	}
	total:=0.0
	freqPerBin:=1.0/(float64(fftLength)*float64(e.PixelSize)/float64(e.Magnification))
	for bin,weight:=range binWeights {
		if weight>0 {
			avg:=binSums[bin]/weight
			spectrum.Freqs=append(spectrum.Freqs, float32(float64(bin)*freqPerBin))
			spectrum.Power=append(spectrum.Power, float32(avg))
			total+=avg
		}
	}
	if total<=0 { return Spectrum{}, fmt.Errorf("%w: zero spectral power", ErrZeroDenominator) }
	for i:=range spectrum.Power {
		spectrum.Power[i]=float32(float64(spectrum.Power[i])/total)
	}
	return spectrum, nil
}

// Computes the folded quadrant of the 2D magnitude power spectrum. The image
// is cropped and masked to a disk of radius*factor, windowed with a separable
// Hann window against edge ringing, zero padded to 8*min(height,width), and
// transformed with real row FFTs plus complex column FFTs. The four
// quadrants fold around DC by averaging mirror-symmetric magnitudes. Returns
// the maxFreq x maxFreq quadrant (DC at index 0,0), maxFreq, and the flat
// magnitude list within the Nyquist disk for the Gini parameter
func (e *Engine) powerQuadrant(opts Options) (quad []float64, maxFreq int32, mags []float32, err error) {
	g:=e.Geometry
	radius:=g.Radius*opts.radiusFactor(1.05)
	cropped, w, cx, cy:=geom.Crop(e.Data, e.Width, g.CenterX, g.CenterY, radius)
	h:=int32(len(cropped))/w
	iso:=geom.IsolateCircle(cropped, w, cx, cy, radius, 1)

	// separable 2D Hann window
	wx:=hannCoefficients(int(w))
	wy:=hannCoefficients(int(h))
	for y:=int32(0); y<h; y++ {
		for x:=int32(0); x<w; x++ {
			iso[y*w+x]*=float32(wy[y]*wx[x])
		}
	}

	// transform length scales with the crop
	fftLength:=8*w
	if h<w { fftLength=8*h }
	maxFreq=fftLength/2

	// real FFT per row; rows beyond the crop are zero padding and stay absent
	rowFFT:=fourier.NewFFT(int(fftLength))
	halfWidth:=fftLength/2+1
	rows:=make([]complex128, h*halfWidth)
	rowIn:=make([]float64, fftLength)
	for y:=int32(0); y<h; y++ {
		for x:=int32(0); x<w; x++ { rowIn[x]=float64(iso[y*w+x]) }
		for x:=w; x<fftLength; x++ { rowIn[x]=0 }
		rowFFT.Coefficients(rows[y*halfWidth:(y+1)*halfWidth], rowIn)
	}

	// complex FFT per column, folding quadrants while magnitudes are at hand.
	// For real input |F[j,i]| equals |F[-j,-i]|, so averaging |F[j,i]| with
	// |F[fftLength-j,i]| folds all four quadrants
	colFFT:=fourier.NewCmplxFFT(int(fftLength))
	quad=make([]float64, maxFreq*maxFreq)
	mags=make([]float32, 0, int(maxFreq)*int(maxFreq))
	colIn :=make([]complex128, fftLength)
	colOut:=make([]complex128, fftLength)
	norm:=1.0/float64(fftLength) // ortho normalization of the 2D transform
	maxFreqSq:=float64(maxFreq)*float64(maxFreq)
	for i:=int32(0); i<maxFreq; i++ {
		for y:=int32(0); y<h; y++ { colIn[y]=rows[y*halfWidth+i] }
		for y:=h; y<fftLength; y++ { colIn[y]=0 }
		colFFT.Coefficients(colOut, colIn)

		for j:=int32(0); j<maxFreq; j++ {
			m1:=cmplx.Abs(colOut[j])*norm
			m2:=cmplx.Abs(colOut[(fftLength-j)%fftLength])*norm
			quad[j*maxFreq+i]=0.5*(m1+m2)
			if float64(i)*float64(i)+float64(j)*float64(j)<=maxFreqSq {
				mags=append(mags, float32(m1), float32(m2))
			}
		}
	}
	return quad, maxFreq, mags, nil
}

// Hann window coefficients of the given length
func hannCoefficients(n int) []float64 {
	seq:=make([]float64, n)
	for i:=range seq { seq[i]=1 }
	return window.Hann(seq)
}
