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
	"errors"
	"io"
	"math"
	"os"
	"testing"
	"github.com/fiberlab/fiberface/internal/fio"
)

// synthetic fiber face frame: uniform disk of intensity 100 on zero background
func makeDiskFrame(id int, width, height int32, cx, cy, r float32) *fio.Frame {
	data:=make([]float32, width*height)
	for y:=int32(0); y<height; y++ {
		for x:=int32(0); x<width; x++ {
			dx, dy:=float32(x)-cx, float32(y)-cy
			if dx*dx+dy*dy<=r*r {
				data[y*width+x]=100
			}
		}
	}
	f:=fio.NewFrameFromData(data, width)
	f.ID=id
	return f
}

func promiseFor(f *fio.Frame) Promise {
	return func() (*fio.Frame, error) { return f, nil }
}

func TestIsPathAllowed(t *testing.T) {
	for _,p:=range []string{"out.fits", "results/frame%d.png", "a/b/c.tif"} {
		if !IsPathAllowed(p) { t.Errorf("%q rejected", p) }
	}
	for _,p:=range []string{"/etc/passwd", "../up.fits", "a/../../b.fits"} {
		if IsPathAllowed(p) { t.Errorf("%q allowed", p) }
	}
}

func TestResultsOrdering(t *testing.T) {
	c:=NewContext(io.Discard)
	for _,id:=range []int{3, 1, 2, 0} {
		c.AddResult(Result{ID: id})
	}
	rs:=c.Results()
	if len(rs)!=4 { t.Fatalf("got %d results, want 4", len(rs)) }
	for i,r:=range rs {
		if r.ID!=i { t.Errorf("result %d has ID %d", i, r.ID) }
	}
}

func TestMaterializeAll(t *testing.T) {
	frames:=[]*fio.Frame{
		makeDiskFrame(0, 8, 8, 4, 4, 2),
		makeDiskFrame(1, 8, 8, 4, 4, 2),
		makeDiskFrame(2, 8, 8, 4, 4, 2),
	}
	ins:=[]Promise{promiseFor(frames[0]), promiseFor(frames[1]), promiseFor(frames[2])}

	outs, err:=MaterializeAll(ins, 2, false)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if len(outs)!=3 { t.Fatalf("got %d frames, want 3", len(outs)) }

	// forget mode materializes but retains nothing
	outs, err=MaterializeAll(ins, 2, true)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if len(outs)!=0 { t.Errorf("forget mode returned %d frames", len(outs)) }
}

func TestMaterializeAllCollectsErrors(t *testing.T) {
	boom:=errors.New("boom")
	ins:=[]Promise{
		promiseFor(makeDiskFrame(0, 8, 8, 4, 4, 2)),
		func() (*fio.Frame, error) { return nil, boom },
	}
	outs, err:=MaterializeAll(ins, 2, false)
	if err==nil { t.Fatal("promise error swallowed") }
	if len(outs)!=1 { t.Errorf("got %d frames, want the 1 successful one", len(outs)) }
}

func TestOpLoadRejectsUnsafePath(t *testing.T) {
	c:=NewContext(io.Discard)
	op:=NewOpLoad(0, "../secret.fits")
	if _, err:=op.MakePromises(nil, c); err==nil {
		t.Error("path outside the tree accepted")
	}
}

func TestOpLocate(t *testing.T) {
	c:=NewContext(io.Discard)
	c.Threshold=20
	f:=makeDiskFrame(7, 160, 160, 80, 75, 40)

	op:=NewOpLocate("edge", 1, 0, "pixels", true, "")
	if _, err:=op.Apply(f, c); err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	rs:=c.Results()
	if len(rs)!=1 { t.Fatalf("got %d results, want 1", len(rs)) }
	r:=rs[0]
	if r.ID!=7 || r.Method!="edge" || r.Units!="pixels" {
		t.Errorf("result %+v, want ID 7 by edge method in pixels", r)
	}
	if r.Geometry==nil { t.Fatal("result carries no geometry") }
	if diff:=math.Abs(float64(r.Geometry.CenterX-80)); diff>1 {
		t.Errorf("center x %f, want 80 within 1", r.Geometry.CenterX)
	}
	if diff:=math.Abs(float64(r.Geometry.CenterY-75)); diff>1 {
		t.Errorf("center y %f, want 75 within 1", r.Geometry.CenterY)
	}
	if diff:=math.Abs(float64(r.Diameter-80)); diff>4 {
		t.Errorf("diameter %f, want 80 within 4", r.Diameter)
	}
	if diff:=math.Abs(float64(r.CentroidX-80)); diff>0.5 {
		t.Errorf("centroid x %f, want 80 within 0.5", r.CentroidX)
	}
}

func TestOpLocateLoadsSavedData(t *testing.T) {
	cwd, err:=os.Getwd()
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	defer os.Chdir(cwd)
	if err:=os.Chdir(t.TempDir()); err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	// saved analysis data with a doctored geometry; restoring it must win
	// over recomputing the edge search
	saved:=`{"width":160, "height":160,
	         "geometries":{"edge":{"centerX":70, "centerY":66, "radius":33}},
	         "centroidX":70.5, "centroidY":66.5}`
	if err:=os.WriteFile("data7.json", []byte(saved), 0644); err!=nil {
		t.Fatalf("unexpected error %s", err.Error())
	}

	c:=NewContext(io.Discard)
	c.Threshold=20
	c.LoadDataPattern="data%d.json"
	f:=makeDiskFrame(7, 160, 160, 80, 75, 40)

	op:=NewOpLocate("edge", 1, 0, "pixels", true, "")
	if _, err:=op.Apply(f, c); err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	rs:=c.Results()
	if len(rs)!=1 { t.Fatalf("got %d results, want 1", len(rs)) }
	r:=rs[0]
	if r.Geometry==nil { t.Fatal("result carries no geometry") }
	if r.Geometry.CenterX!=70 || r.Geometry.CenterY!=66 || r.Geometry.Radius!=33 {
		t.Errorf("geometry %+v, want the restored center (70, 66) radius 33", r.Geometry)
	}
	if r.CentroidX!=70.5 || r.CentroidY!=66.5 {
		t.Errorf("centroid (%f, %f), want the restored (70.5, 66.5)", r.CentroidX, r.CentroidY)
	}
}

func TestOpLocateRejectsBadMethod(t *testing.T) {
	c:=NewContext(io.Discard)
	f:=makeDiskFrame(0, 40, 40, 20, 20, 10)
	op:=NewOpLocate("sideways", 1, 0, "pixels", false, "")
	if _, err:=op.Apply(f, c); err==nil {
		t.Error("unknown method accepted")
	}
}

func TestOpNoise(t *testing.T) {
	c:=NewContext(io.Discard)
	c.Threshold=20
	f:=makeDiskFrame(3, 160, 160, 80, 75, 40)

	op:=NewOpNoise([]string{"tophat", "contrast"}, 0, 0, false, "")
	if _, err:=op.Apply(f, c); err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	rs:=c.Results()
	if len(rs)!=1 { t.Fatalf("got %d results, want 1", len(rs)) }
	r:=rs[0]
	if len(r.Noise)!=2 {
		t.Fatalf("got %d noise values, want 2", len(r.Noise))
	}
	// a uniform disk carries no modal noise
	for method,v:=range r.Noise {
		if v>1e-6 { t.Errorf("%s parameter %g for uniform disk, want 0", method, v) }
	}
}

func TestOpNoiseInactiveWithoutMethods(t *testing.T) {
	c:=NewContext(io.Discard)
	f:=makeDiskFrame(0, 40, 40, 20, 20, 10)
	op:=NewOpNoiseDefault()
	if _, err:=op.Apply(f, c); err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if len(c.Results())!=0 {
		t.Errorf("inactive noise operator recorded %d results", len(c.Results()))
	}
}

func TestOpCalibrateRepairsBadPixels(t *testing.T) {
	c:=NewContext(io.Discard)
	f:=makeDiskFrame(0, 16, 12, 8, 6, 3)
	hot:=2*16+12 // outside the disk
	f.Data[hot]=10000

	op:=NewOpCalibrate("", "", "", 5)
	if !op.Active { t.Fatal("bad pixel repair alone leaves the operator inactive") }
	if _, err:=op.Apply(f, c); err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	if f.Data[hot]!=0 {
		t.Errorf("hot pixel repaired to %f, want the background 0", f.Data[hot])
	}
	if f.Stats.Max>200 {
		t.Errorf("stats max %f not refreshed after repair", f.Stats.Max)
	}
}

func TestOpCoadd(t *testing.T) {
	c:=NewContext(io.Discard)
	f1:=makeDiskFrame(0, 8, 8, 4, 4, 2)
	f2:=makeDiskFrame(1, 8, 8, 4, 4, 2)
	for i:=range f2.Data { f2.Data[i]*=3 }
	f1.Exposure, f2.Exposure=1, 3

	op:=NewOpCoadd()
	outs, err:=op.MakePromises([]Promise{promiseFor(f1), promiseFor(f2)}, c)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if len(outs)!=1 { t.Fatalf("got %d promises, want 1", len(outs)) }

	f, err:=outs[0]()
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	// mean of intensities 100 and 300 inside the disk
	if v:=f.Data[4*8+4]; v!=200 {
		t.Errorf("co-added center pixel %f, want 200", v)
	}
	if f.Exposure!=2 { t.Errorf("co-added exposure %f, want the mean 2", f.Exposure) }
}

func TestOpCoaddDimensionMismatch(t *testing.T) {
	c:=NewContext(io.Discard)
	ins:=[]Promise{
		promiseFor(makeDiskFrame(0, 8, 8, 4, 4, 2)),
		promiseFor(makeDiskFrame(1, 10, 10, 5, 5, 2)),
	}
	outs, err:=NewOpCoadd().MakePromises(ins, c)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if _, err=outs[0](); err==nil {
		t.Error("mismatched frame dimensions accepted")
	}
}

func TestOpSequenceJSONRoundTrip(t *testing.T) {
	seq:=NewOpSequence(
		NewOpCalibrate("dark.fits", "ambient.fits", "flat.fits", 5),
		NewOpLocate("radius", 0.5, 20, "microns", true, "data%d.json"),
		NewOpNoise([]string{"tophat", "fft"}, 1.0, 6, true, ""),
	)
	b, err:=json.Marshal(seq)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }

	back:=NewOpSequenceDefault()
	if err=json.Unmarshal(b, back); err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if len(back.Steps)!=3 { t.Fatalf("got %d steps, want 3", len(back.Steps)) }

	cal, ok:=back.Steps[0].(*OpCalibrate)
	if !ok { t.Fatalf("step 0 is %T, want *OpCalibrate", back.Steps[0]) }
	if cal.Dark!="dark.fits" || cal.Ambient!="ambient.fits" || cal.Flat!="flat.fits" || cal.BadPixelSigma!=5 {
		t.Errorf("calibrate step %+v lost settings", cal)
	}

	loc, ok:=back.Steps[1].(*OpLocate)
	if !ok { t.Fatalf("step 1 is %T, want *OpLocate", back.Steps[1]) }
	if loc.Method!="radius" || loc.Tol!=0.5 || loc.TestRange!=20 || loc.Units!="microns" ||
	   !loc.Centroid || loc.DataPattern!="data%d.json" {
		t.Errorf("locate step %+v lost settings", loc)
	}
	if loc.OpUnaryBase.Apply==nil { t.Error("locate step has no Apply after decoding") }

	noi, ok:=back.Steps[2].(*OpNoise)
	if !ok { t.Fatalf("step 2 is %T, want *OpNoise", back.Steps[2]) }
	if len(noi.Methods)!=2 || noi.Methods[0]!="tophat" || noi.RadiusFactor!=1.0 ||
	   noi.Degree!=6 || !noi.Spectrum {
		t.Errorf("noise step %+v lost settings", noi)
	}
}

func TestOpSequenceRejectsUnknownType(t *testing.T) {
	raw:=`{"type":"seq", "active":true, "steps":[{"type":"blur"}]}`
	seq:=NewOpSequenceDefault()
	if err:=json.Unmarshal([]byte(raw), seq); err==nil {
		t.Error("unknown operator type accepted")
	}
}

func TestOpSequenceChains(t *testing.T) {
	c:=NewContext(io.Discard)
	c.Threshold=20
	f:=makeDiskFrame(0, 160, 160, 80, 75, 40)

	seq:=NewOpSequence(
		NewOpLocate("edge", 1, 0, "pixels", false, ""),
		NewOpNoise([]string{"tophat"}, 0, 0, false, ""),
	)
	outs, err:=seq.MakePromises([]Promise{promiseFor(f)}, c)
	if err!=nil { t.Fatalf("unexpected error %s", err.Error()) }
	if _, err=MaterializeAll(outs, c.MaxThreads, true); err!=nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	// one result per operator, merged downstream by frame ID
	if len(c.Results())!=2 {
		t.Errorf("got %d results, want 2", len(c.Results()))
	}
}
