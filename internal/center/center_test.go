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


package center

import (
	"errors"
	"math"
	"testing"
	"github.com/fiberlab/fiberface/internal/fit"
)

// synthetic fiber face: uniform disk of the given intensity on zero background
func makeDisk(width, height int32, cx, cy, r, intensity float32) *Estimator {
	data:=make([]float32, width*height)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			dx, dy:=float32(x)-cx, float32(y)-cy
			if dx*dx+dy*dy<=r*r {
				data[y*width+x]=intensity
			}
		}
	}
	return &Estimator{Data: data, Filtered: data, Width: width, Height: height, Threshold: intensity/5}
}

func TestParseMethod(t *testing.T) {
	for _,name:=range []string{"edge", "circle", "radius", "gaussian"} {
		m, err:=ParseMethod(name)
		if err!=nil { t.Errorf("%s: unexpected error %s", name, err.Error()) }
		if m.String()!=name { t.Errorf("round trip %s: got %s", name, m.String()) }
	}
	for _,name:=range []string{"", "Edge", "edg", "edges", "radial"} {
		if _, err:=ParseMethod(name); !errors.Is(err, ErrInvalidMethod) {
			t.Errorf("%q: got %v, want ErrInvalidMethod", name, err)
		}
	}
}

func TestEdge(t *testing.T) {
	e:=makeDisk(200, 200, 100, 90, 40, 100)
	g, err:=e.Edge()
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	// pixel centers from 60 to 140 lie inside the disk in x, 50 to 130 in y
	if g.CenterX!=100 || g.CenterY!=90 {
		t.Errorf("center (%f,%f), want (100,90)", g.CenterX, g.CenterY)
	}
	if g.Radius!=40 {
		t.Errorf("radius %f, want 40", g.Radius)
	}
	if g.Diameter()!=80 {
		t.Errorf("diameter %f, want 80", g.Diameter())
	}
}

func TestEdgeNoEdge(t *testing.T) {
	e:=&Estimator{
		Data:      make([]float32, 100*100),
		Filtered:  make([]float32, 100*100),
		Width:     100,
		Height:    100,
		Threshold: 10,
	}
	if _, err:=e.Edge(); !errors.Is(err, ErrNoEdge) {
		t.Errorf("got %v, want ErrNoEdge", err)
	}
}

func TestCircleConvergence(t *testing.T) {
	e:=makeDisk(200, 200, 100, 90, 40, 100)
	for _,tol:=range []float32{0.5, 1, 2} {
		g, _, err:=e.Circle(40, tol, 0)
		if err!=nil { t.Fatalf("tol %f: unexpected error %s", tol, err.Error()) }
		if diff:=math.Abs(float64(g.CenterX-100)); diff>float64(tol)+0.5 {
			t.Errorf("tol %f: center x %f, want 100 within %f", tol, g.CenterX, tol+0.5)
		}
		if diff:=math.Abs(float64(g.CenterY-90)); diff>float64(tol)+0.5 {
			t.Errorf("tol %f: center y %f, want 90 within %f", tol, g.CenterY, tol+0.5)
		}
		if g.Radius!=40 {
			t.Errorf("tol %f: radius %f, want the fixed input 40", tol, g.Radius)
		}
	}
}

func TestCircleSeeded(t *testing.T) {
	e:=makeDisk(200, 200, 100, 90, 40, 100)
	g, _, err:=e.Circle(40, 1, 30)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if diff:=math.Abs(float64(g.CenterX-100)); diff>1.5 {
		t.Errorf("seeded center x %f, want 100 within 1.5", g.CenterX)
	}
	if diff:=math.Abs(float64(g.CenterY-90)); diff>1.5 {
		t.Errorf("seeded center y %f, want 90 within 1.5", g.CenterY)
	}
}

func TestCircleDeterministic(t *testing.T) {
	e:=makeDisk(150, 150, 70, 80, 30, 100)
	g1, s1, err:=e.Circle(30, 1, 0)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	g2, s2, err:=e.Circle(30, 1, 0)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if g1!=g2 || s1!=s2 {
		t.Errorf("same search gave %v/%f and %v/%f", g1, s1, g2, s2)
	}
}

func TestRadiusConvergence(t *testing.T) {
	e:=makeDisk(120, 120, 60, 60, 30, 100)
	g, err:=e.Radius(1, 0)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if diff:=math.Abs(float64(g.Radius-30)); diff>1.5 {
		t.Errorf("radius %f, want 30 within 1.5", g.Radius)
	}
	if diff:=math.Abs(float64(g.CenterX-60)); diff>1.5 {
		t.Errorf("center x %f, want 60 within 1.5", g.CenterX)
	}
	if diff:=math.Abs(float64(g.CenterY-60)); diff>1.5 {
		t.Errorf("center y %f, want 60 within 1.5", g.CenterY)
	}
}

func TestGaussian(t *testing.T) {
	width, height:=int32(64), int32(64)
	truth:=fit.GaussianParams{CenterX: 30.5, CenterY: 33, Sigma: 8, Amplitude: 200, Offset: 2}
	data:=fit.EvalGaussian(truth, width, height)
	e:=&Estimator{Data: data, Filtered: data, Width: width, Height: height, Threshold: 40}

	seed:=Geometry{CenterX: 32, CenterY: 32, Radius: 10}
	g, surface, params, err:=e.Gaussian(seed)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if len(surface)!=len(data) {
		t.Fatalf("surface size %d, want %d", len(surface), len(data))
	}
	if diff:=math.Abs(float64(g.CenterX-truth.CenterX)); diff>0.5 {
		t.Errorf("center x %f, want %f within 0.5", g.CenterX, truth.CenterX)
	}
	if diff:=math.Abs(float64(g.CenterY-truth.CenterY)); diff>0.5 {
		t.Errorf("center y %f, want %f within 0.5", g.CenterY, truth.CenterY)
	}
	// reported radius is two sigma
	if rel:=math.Abs(float64(g.Radius-2*truth.Sigma))/float64(2*truth.Sigma); rel>0.05 {
		t.Errorf("radius %f, want %f within 5%%", g.Radius, 2*truth.Sigma)
	}
	if rel:=math.Abs(float64(params.Sigma-truth.Sigma))/float64(truth.Sigma); rel>0.05 {
		t.Errorf("sigma %f, want %f within 5%%", params.Sigma, truth.Sigma)
	}
}
