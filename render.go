package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"radartiler/internal/geo"
	"radartiler/internal/mosaic"
	"radartiler/internal/upstream"
)

// RenderTask composes a single mosaic offline and writes it to File.
type RenderTask struct {
	ID      string
	File    string
	Request mosaic.Request
	Workers int
	Total   int
	Missing int64
	Bar     *pb.ProgressBar

	fetcher upstream.Fetcher
	output  io.Writer
}

// NewRenderTask prepares a render of size×size pixels around lat/lon at
// the client zoom; the compositor applies its own zoom shift.
func NewRenderTask(f upstream.Fetcher, file string, clientZoom int, lat, lon float64, size int) *RenderTask {
	id, _ := shortid.Generate()
	workers := mosaic.DefaultWorkers
	if conf != nil && conf.Upstream.Workers > 0 {
		workers = conf.Upstream.Workers
	}
	return &RenderTask{
		ID:      id,
		File:    file,
		Request: mosaic.ForClient(clientZoom, lat, lon, size, size),
		Workers: workers,
		fetcher: f,
	}
}

// Run fetches every tile with a progress bar, then saves the PNG. A
// cancelled ctx aborts the render without writing the file.
func (task *RenderTask) Run(ctx context.Context) error {
	start := time.Now()

	plan, err := mosaic.NewPlan(task.Request)
	if err != nil {
		return err
	}
	task.Total = len(plan.Tiles())
	log.Infof("Task %s: zoom %d, %d tiles, %dx%d px", task.ID, task.Request.Zoom, task.Total,
		task.Request.Width, task.Request.Height)

	task.Bar = pb.New(task.Total).Prefix(fmt.Sprintf("Zoom %d : ", task.Request.Zoom)).Postfix("\n")
	if task.output != nil {
		task.Bar.Output = task.output
	}
	task.Bar.SetRefreshRate(time.Second)
	task.Bar.Start()

	compositor := mosaic.New(task.fetcher, log,
		mosaic.WithWorkers(task.Workers),
		mosaic.WithObserver(task.observe),
	)
	img, err := compositor.Render(ctx, task.Request)
	if err != nil {
		task.Bar.Finish()
		if ctx.Err() != nil {
			log.Infof("Task %s got canceled.", task.ID)
		}
		return fmt.Errorf("task %s: %w", task.ID, err)
	}
	if err := saveToFile(task.File, img); err != nil {
		task.Bar.Finish()
		return fmt.Errorf("task %s: save %s: %w", task.ID, task.File, err)
	}

	task.Bar.Finish()
	log.Infof("Task %s finished: %s, %d/%d tiles missing, %.3fs", task.ID, task.File,
		atomic.LoadInt64(&task.Missing), task.Total, time.Since(start).Seconds())
	return nil
}

func (task *RenderTask) observe(idx geo.TileIndex, present bool) {
	if !present {
		atomic.AddInt64(&task.Missing, 1)
		log.Debugf("tile %s absent", idx)
	}
	task.Bar.Increment()
}
