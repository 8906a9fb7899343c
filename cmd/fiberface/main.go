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

package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"
	"github.com/fiberlab/fiberface/internal/fiberimg"
	"github.com/fiberlab/fiberface/internal/ops"
	"github.com/fiberlab/fiberface/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "", "save result CSV to `file`, e.g. results.csv")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var dark     = flag.String("dark", "", "apply master dark frame from `file`")
var ambient  = flag.String("ambient", "", "subtract ambient light frame from `file`")
var flat     = flag.String("flat", "", "apply master flat frame from `file`")
var badPixel = flag.Float64("badPixel", 0, "repair pixels deviating more than `sigma` from their local median, 0: off")
var coadd    = flag.Bool("coadd", false, "co-add all input frames into their pixelwise mean before analysis")

var camera    = flag.String("camera", "", "camera that captured the frames, one of nf, ff, in; sets the magnification")
var pixelSize = flag.Float64("pixelSize", 0, "pixel size on the CCD in microns, 0: take from FITS header")
var magnification = flag.Float64("magnification", 0, "optical magnification, 0: derive from camera")

var method    = flag.String("method", "edge", "fiber location method, one of edge, circle, radius, gaussian")
var tol       = flag.Float64("tol", 1, "golden-section convergence tolerance in pixels")
var testRange = flag.Float64("testRange", 0, "restrict the center search to this range around the edge estimate, 0: full image")
var units     = flag.String("units", "pixels", "measurement units for positions and diameters, one of pixels, microns")
var centroid  = flag.Bool("centroid", false, "also compute the intensity-weighted fiber centroid")
var data      = flag.String("data", "", "save analysis data JSON with given filename pattern, e.g. `data%04d.json`")
var loadData  = flag.String("loadData", "", "restore analysis data JSON saved with -data, with given filename `pattern`")

var noiseMethods = flag.String("noise", "tophat", "comma separated modal noise methods: tophat, fft, polynomial, gaussian, gradient, contrast, gini, entropy")
var radiusFactor = flag.Float64("radiusFactor", 0, "modal noise isolation radius as a fraction of the fiber radius, 0: method default")
var deg          = flag.Int("deg", 0, "polynomial fit degree for the polynomial noise method, 0: default of 4")
var spectrum     = flag.Bool("spectrum", false, "also compute the azimuthally averaged fft power spectrum")
var arrays       = flag.String("arrays", "", "save modal noise diagnostic arrays with given filename pattern, e.g. `noise%04d.png`; .fits keeps raw values, other suffixes render heat maps")

var threshold = flag.Float64("threshold", 0, "edge detection threshold, 0: estimate from background")
var kernel    = flag.Int("kernel", 0, "median filter kernel size for the analysis image, 0: default of 5")

var chroot = flag.String("chroot", "", "change filesystem root to `dir` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "switch to given numerical user `id` before serving, -1: off")

func main() {
	var logWriter io.Writer=os.Stdout
	start:=time.Now()
	flag.Usage=func() {
		fmt.Fprintf(logWriter, `Fiberface Copyright (c) 2025 The fiberface authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (locate|centroid|noise|analyze|batch|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  locate   Estimate fiber center and radius of input frames
  centroid Locate the fiber and compute the intensity-weighted centroid
  noise    Score modal noise of input frames
  analyze  Locate the fiber and score modal noise in one pass
  batch    Analyze a frame sequence and report stability statistics
  serve    Serve the analysis pipeline via HTTP REST
  legal    Show license and attribution information
  version  Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log=="%auto" {
		if *out!="" {
			*log=strings.TrimSuffix(*out, filepath.Ext(*out))+".log"
		} else {
			*log=""
		}
	}
	if *log!="" {
		logFile, err:=os.OpenFile(*log, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err!=nil {
			fmt.Fprintf(os.Stderr, "Unable to open logfile '%s'\n", *log)
			os.Exit(-1)
		}
		defer logFile.Close()
		logWriter=io.MultiWriter(os.Stdout, logFile)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile!="" {
		f, err:=os.Create(*cpuprofile)
		if err!=nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err:=pprof.StartCPUProfile(f); err!=nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	c:=ops.NewContext(logWriter)
	c.Threshold =float32(*threshold)
	c.KernelSize=int32(*kernel)
	c.LoadDataPattern=*loadData
	c.Calibration=fiberimg.Calibration{
		PixelSize:     float32(*pixelSize),
		Magnification: float32(*magnification),
	}
	if *camera!="" {
		cam, err:=fiberimg.ParseCamera(*camera)
		if err!=nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			os.Exit(-1)
		}
		c.Calibration.Camera=cam
	}

	opLocate:=ops.NewOpLocate(*method, float32(*tol), float32(*testRange), *units, *centroid, *data)
	opNoise :=ops.NewOpNoise(strings.Split(*noiseMethods, ","), float32(*radiusFactor), *deg, *spectrum, *arrays)

	var err error
	switch args[0] {
	case "serve":
		rest.MakeSandbox(logWriter, *chroot, *setuid)
		rest.Serve()

	case "locate":
		err=run(args[1:], c, opLocate)

	case "centroid":
		opLocate.Centroid=true
		err=run(args[1:], c, opLocate)

	case "noise":
		err=run(args[1:], c, opNoise)

	case "analyze", "batch":
		err=run(args[1:], c, ops.NewOpSequence(opLocate, opNoise))
		if err==nil && args[0]=="batch" {
			err=reportStability(c.Results(), logWriter)
		}

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()
		return

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		os.Exit(-1)
	}

	if *out!="" && args[0]!="serve" {
		if err:=writeCSV(c.Results(), *out); err!=nil {
			fmt.Fprintf(logWriter, "error writing %s: %s\n", *out, err.Error())
			os.Exit(-1)
		}
		fmt.Fprintf(logWriter, "Wrote results for %d frames to %s\n", len(c.Results()), *out)
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Now().Sub(start))

	// Store memory profile if flagged
	if *memprofile!="" {
		f, err:=os.Create(*memprofile)
		if err!=nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err:=pprof.WriteHeapProfile(f); err!=nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}
}

// Runs the given operator over the file arguments with dark and flat
// calibration, limiting concurrency to the available CPUs
func run(fileArgs []string, c *ops.Context, operator ops.Operator) error {
	seq:=ops.NewOpSequence(ops.NewOpLoadMany(fileArgs))
	if *dark!="" || *ambient!="" || *flat!="" || *badPixel>0 {
		seq.Append(ops.NewOpCalibrate(*dark, *ambient, *flat, float32(*badPixel)))
	}
	if *coadd {
		seq.Append(ops.NewOpCoadd())
	}
	seq.Append(operator)

	m, err:=json.MarshalIndent(seq, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(c.Log, "\nProcessing with these settings:\n%s\n", string(m))

	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

// Merges locate and noise results of the same frame into one row per frame
func mergeResults(results []ops.Result) []ops.Result {
	merged:=make([]ops.Result, 0, len(results))
	index :=make(map[int]int, len(results))
	for _,r:=range results {
		i, ok:=index[r.ID]
		if !ok {
			index[r.ID]=len(merged)
			merged=append(merged, r)
			continue
		}
		m:=&merged[i]
		if m.Geometry==nil  { m.Geometry, m.Method, m.Units, m.Diameter=r.Geometry, r.Method, r.Units, r.Diameter }
		if m.CentroidX==0 && m.CentroidY==0 { m.CentroidX, m.CentroidY=r.CentroidX, r.CentroidY }
		if m.Spectrum==nil  { m.Spectrum=r.Spectrum }
		if r.Noise!=nil {
			if m.Noise==nil { m.Noise=make(map[string]float64, len(r.Noise)) }
			for k,v:=range r.Noise { m.Noise[k]=v }
		}
	}
	return merged
}

// Writes one CSV row per frame with geometry, centroid and noise scores
func writeCSV(results []ops.Result, fileName string) error {
	results=mergeResults(results)

	noiseCols:=[]string{}
	seen:=map[string]bool{}
	for _,r:=range results {
		for k:=range r.Noise {
			if !seen[k] { seen[k]=true; noiseCols=append(noiseCols, k) }
		}
	}

	file, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer file.Close()

	w:=csv.NewWriter(file)
	defer w.Flush()

	header:=append([]string{"id", "file", "method", "units", "centerX", "centerY", "radius", "diameter", "centroidX", "centroidY"}, noiseCols...)
	if err:=w.Write(header); err!=nil { return err }

	for _,r:=range results {
		row:=[]string{fmt.Sprintf("%d", r.ID), r.FileName, r.Method, r.Units}
		if r.Geometry!=nil {
			row=append(row, fmt.Sprintf("%.4f", r.Geometry.CenterX), fmt.Sprintf("%.4f", r.Geometry.CenterY),
				fmt.Sprintf("%.4f", r.Geometry.Radius), fmt.Sprintf("%.4f", r.Diameter))
		} else {
			row=append(row, "", "", "", "")
		}
		row=append(row, fmt.Sprintf("%.4f", r.CentroidX), fmt.Sprintf("%.4f", r.CentroidY))
		for _,k:=range noiseCols {
			if v,ok:=r.Noise[k]; ok {
				row=append(row, fmt.Sprintf("%.6f", v))
			} else {
				row=append(row, "")
			}
		}
		if err:=w.Write(row); err!=nil { return err }
	}
	return nil
}

// Reports stability of the fiber position and diameter across a frame
// sequence: mean and standard deviation of center and diameter drift
func reportStability(results []ops.Result, logWriter io.Writer) error {
	results=mergeResults(results)
	xs, ys, ds:=[]float64{}, []float64{}, []float64{}
	for _,r:=range results {
		if r.Geometry==nil { continue }
		xs=append(xs, float64(r.Geometry.CenterX))
		ys=append(ys, float64(r.Geometry.CenterY))
		ds=append(ds, float64(r.Diameter))
	}
	if len(xs)<2 {
		return fmt.Errorf("stability analysis needs at least 2 located frames, have %d", len(xs))
	}

	mx, sx:=meanStdDev(xs)
	my, sy:=meanStdDev(ys)
	md, sd:=meanStdDev(ds)
	drift:=math.Sqrt(sx*sx+sy*sy)
	fmt.Fprintf(logWriter, "\nStability over %d frames:\n", len(xs))
	fmt.Fprintf(logWriter, "Center   (%.3f, %.3f) px, drift sigma (%.4f, %.4f) px, radial %.4f px\n", mx, my, sx, sy, drift)
	fmt.Fprintf(logWriter, "Diameter %.3f mean, sigma %.4f\n", md, sd)
	return nil
}

func meanStdDev(vs []float64) (mean, stdDev float64) {
	sum:=0.0
	for _,v:=range vs { sum+=v }
	mean=sum/float64(len(vs))
	sumSqDiff:=0.0
	for _,v:=range vs {
		diff:=v-mean
		sumSqDiff+=diff*diff
	}
	return mean, math.Sqrt(sumSqDiff/float64(len(vs)))
}
