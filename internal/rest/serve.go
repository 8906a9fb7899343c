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


// Package rest serves the fiber analysis pipeline over HTTP. Responses
// stream the text log of the run, followed by the collected results as JSON
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"github.com/gin-gonic/gin"
	"github.com/fiberlab/fiberface/internal/fiberimg"
	"github.com/fiberlab/fiberface/internal/ops"
)

func Serve() {
	r:=gin.Default()
	api:=r.Group("/api")
	{
		v1:=api.Group("/v1")
		{
			v1.GET ("/ping",     getPing)
			v1.POST("/locate",   postLocate)
			v1.POST("/noise",    postNoise)
			v1.POST("/analyze",  postAnalyze)
			v1.POST("/pipeline", postPipeline)
		}
	}
	r.Run() // listen and serve on 0.0.0.0:8080
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Frame selection and calibration arguments shared by all analysis endpoints
type frameArgs struct {
	FilePatterns  []string             `json:"filePatterns"`
	Dark          string               `json:"dark"`
	Ambient       string               `json:"ambient"`
	Flat          string               `json:"flat"`
	BadPixelSigma float32              `json:"badPixelSigma"`
	Coadd         bool                 `json:"coadd"`
	Calibration   fiberimg.Calibration `json:"calibration"`
	Threshold     float32              `json:"threshold"`
	KernelSize    int32                `json:"kernelSize"`
	LoadData      string               `json:"loadData"`
}

// Runs the given operator over the globbed frames, streaming the log to the
// response and appending the collected results as JSON
func runPipeline(g *gin.Context, args *frameArgs, operator ops.Operator) {
	logWriter:=g.Writer
	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	c:=ops.NewContext(logWriter)
	c.Calibration=args.Calibration
	c.Threshold  =args.Threshold
	c.KernelSize =args.KernelSize
	c.LoadDataPattern=args.LoadData

	seq:=ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns))
	if args.Dark!="" || args.Ambient!="" || args.Flat!="" || args.BadPixelSigma>0 {
		seq.Append(ops.NewOpCalibrate(args.Dark, args.Ambient, args.Flat, args.BadPixelSigma))
	}
	if args.Coadd {
		seq.Append(ops.NewOpCoadd())
	}
	seq.Append(operator)

	promises, err:=seq.MakePromises(nil, c)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		logWriter.(http.Flusher).Flush()
		return
	}
	if _, err=ops.MaterializeAll(promises, c.MaxThreads, true); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	if err:=printArgs(logWriter, "Results:\n", "\n", c.Results()); err!=nil {
		fmt.Fprintf(logWriter, "Error printing results: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}

type postLocateArgs struct {
	frameArgs
	Locate *ops.OpLocate `json:"locate"`
}

func postLocate(g *gin.Context) {
	var args postLocateArgs
	if err:=g.ShouldBind(&args); err!=nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Locate==nil { args.Locate=ops.NewOpLocateDefault() }
	if err:=printArgs(g.Writer, "Arguments:\n", "\n", args); err!=nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runPipeline(g, &args.frameArgs, args.Locate)
}

type postNoiseArgs struct {
	frameArgs
	Noise *ops.OpNoise `json:"noise"`
}

func postNoise(g *gin.Context) {
	var args postNoiseArgs
	if err:=g.ShouldBind(&args); err!=nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Noise==nil || len(args.Noise.Methods)==0 {
		g.JSON(http.StatusBadRequest, gin.H{"error": "noise operator with methods required"})
		return
	}
	if err:=printArgs(g.Writer, "Arguments:\n", "\n", args); err!=nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runPipeline(g, &args.frameArgs, args.Noise)
}

type postAnalyzeArgs struct {
	frameArgs
	Locate *ops.OpLocate `json:"locate"`
	Noise  *ops.OpNoise  `json:"noise"`
}

func postAnalyze(g *gin.Context) {
	var args postAnalyzeArgs
	if err:=g.ShouldBind(&args); err!=nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Locate==nil { args.Locate=ops.NewOpLocateDefault() }
	if args.Noise==nil  { args.Noise=ops.NewOpNoise([]string{"tophat"}, 0, 0, false, "") }
	if err:=printArgs(g.Writer, "Arguments:\n", "\n", args); err!=nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runPipeline(g, &args.frameArgs, ops.NewOpSequence(args.Locate, args.Noise))
}

// Runs a raw operator sequence straight from JSON
func postPipeline(g *gin.Context) {
	var seq ops.OpSequence
	if err:=g.ShouldBind(&seq); err!=nil {
		g.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logWriter:=g.Writer
	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	c:=ops.NewContext(logWriter)
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		logWriter.(http.Flusher).Flush()
		return
	}
	if _, err=ops.MaterializeAll(promises, c.MaxThreads, true); err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	if err:=printArgs(logWriter, "Results:\n", "\n", c.Results()); err!=nil {
		fmt.Fprintf(logWriter, "Error printing results: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}
