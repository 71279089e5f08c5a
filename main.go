package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-spatial/geom"
	"github.com/iancoleman/strcase"
	"github.com/muesli/reflow/truncate"
	"github.com/urfave/cli/v2"

	"github.com/pdok/tegel/config"
	"github.com/pdok/tegel/executor"
	"github.com/pdok/tegel/graph"
	"github.com/pdok/tegel/job"
	"github.com/pdok/tegel/process"
	"github.com/pdok/tegel/store"
	"github.com/pdok/tegel/zoom"
)

const CONFIG string = `config`
const BOUNDS string = `bounds`
const POINT string = `point`
const TILE string = `tile`
const ZOOMLEVELS string = `zoomlevels`
const OVERWRITE string = `overwrite`
const WORKERS string = `workers`
const INPUTFILE string = `inputFile`

const logWidth = 120

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "tegel"
	app.Usage = "A Golang tile processing application"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     CONFIG,
			Aliases:  []string{"c"},
			Usage:    "Process configuration (YAML)",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(CONFIG)},
		},
		&cli.StringFlag{
			Name:     BOUNDS,
			Aliases:  []string{"b"},
			Usage:    `Only process tiles intersecting these bounds, in grid coordinates. JSON array of four floats: [minx,miny,maxx,maxy]`,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(BOUNDS)},
		},
		&cli.StringFlag{
			Name:     POINT,
			Aliases:  []string{"p"},
			Usage:    `Only process tiles containing this point, in grid coordinates. JSON array of two floats: [x,y]`,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(POINT)},
		},
		&cli.StringFlag{
			Name:     TILE,
			Aliases:  []string{"t"},
			Usage:    `Only process this tile and nothing else. E.g.: 5/11/13 (zoom/row/col)`,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(TILE)},
		},
		&cli.StringFlag{
			Name:     ZOOMLEVELS,
			Aliases:  []string{"z"},
			Usage:    `Zoom levels to process, a subset of the configured zoom levels. JSON array of integers. E.g.: [4,5,6,7,8]`,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(ZOOMLEVELS)},
		},
		&cli.BoolFlag{
			Name:     OVERWRITE,
			Aliases:  []string{"o"},
			Usage:    "Reprocess tiles whose output already exists",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
		},
		&cli.IntFlag{
			Name:     WORKERS,
			Aliases:  []string{"w"},
			Usage:    "How many tiles are processed in parallel. 1 processes sequentially, 0 uses all CPUs",
			Value:    0,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(WORKERS)},
		},
		&cli.StringFlag{
			Name:     INPUTFILE,
			Aliases:  []string{"i"},
			Usage:    "Replace every configured input with this file",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(INPUTFILE)},
		},
	}

	app.Action = func(c *cli.Context) error {
		cfg, err := config.LoadFile(c.String(CONFIG))
		if err != nil {
			return err
		}

		zooms, err := zoomLevels(cfg, c.String(ZOOMLEVELS))
		if err != nil {
			return err
		}
		area, err := areaOfInterest(cfg, c.String(BOUNDS), c.String(POINT), c.String(TILE))
		if err != nil {
			return err
		}

		var baselevels *zoom.Range
		if cfg.Baselevels != nil {
			baselevels = &cfg.Baselevels.Range
		}
		g, err := graph.Build(cfg.Pyramid, area, zooms, baselevels, cfg.Order == "descending")
		if err != nil {
			return err
		}

		tileStore, err := store.ForOutput(cfg.Output)
		if err != nil {
			return err
		}
		if closer, ok := tileStore.(io.Closer); ok {
			defer closer.Close()
		}
		driver := store.NewDriver()
		defer driver.Close()

		override := ""
		if c.String(INPUTFILE) != "" {
			override = c.String(INPUTFILE)
		}

		run, err := job.New(job.Options{
			Config:    cfg,
			Graph:     g,
			Store:     tileStore,
			Executor:  pickExecutor(c.Int(WORKERS)),
			Driver:    driver,
			Override:  override,
			Overwrite: c.Bool(OVERWRITE),
			Observer: func(result process.Result) {
				if result.Status == process.StatusFailed {
					log.Printf("  %s", truncate.StringWithTail(result.String(), logWidth, "…"))
				}
			},
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf("=== start processing %d tiles in %d batches ===", g.TileCount(), len(g.Batches))
		summary, err := run.Run(ctx)
		if err != nil {
			return err
		}
		log.Printf("=== %s ===", summary)

		if summary.Failed > 0 {
			return fmt.Errorf("%d tiles failed", summary.Failed)
		}
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// zoomLevels narrows the configured zoom levels to the requested ones.
func zoomLevels(cfg *config.Config, flag string) (zoom.Range, error) {
	if flag == "" {
		return cfg.ZoomLevels, nil
	}
	var levels []int
	if err := json.Unmarshal([]byte(flag), &levels); err != nil {
		return zoom.Range{}, fmt.Errorf("could not parse zoom levels %q: %w", flag, err)
	}
	requested, err := zoom.FromList(levels)
	if err != nil {
		return zoom.Range{}, err
	}
	if !requested.Intersects(cfg.ZoomLevels) {
		return zoom.Range{}, fmt.Errorf("zoom levels %s are outside the configured %s", requested, cfg.ZoomLevels)
	}
	return requested.Intersection(cfg.ZoomLevels)
}

// areaOfInterest turns the bounds, point or tile flag into an area selector.
func areaOfInterest(cfg *config.Config, boundsFlag, pointFlag, tileFlag string) (graph.Area, error) {
	var area graph.Area
	if boundsFlag != "" {
		var coords [4]float64
		if err := json.Unmarshal([]byte(boundsFlag), &coords); err != nil {
			return graph.Area{}, fmt.Errorf("could not parse bounds %q: %w", boundsFlag, err)
		}
		ext := geom.Extent(coords)
		area.Bounds = &ext
	}
	if pointFlag != "" {
		var coords [2]float64
		if err := json.Unmarshal([]byte(pointFlag), &coords); err != nil {
			return graph.Area{}, fmt.Errorf("could not parse point %q: %w", pointFlag, err)
		}
		pt := geom.Point(coords)
		area.Point = &pt
	}
	if tileFlag != "" {
		var zoomLevel, row, col int
		if _, err := fmt.Sscanf(tileFlag, "%d/%d/%d", &zoomLevel, &row, &col); err != nil {
			return graph.Area{}, fmt.Errorf("could not parse tile %q, expected zoom/row/col: %w", tileFlag, err)
		}
		tile, err := cfg.Pyramid.NewTile(zoomLevel, row, col)
		if err != nil {
			return graph.Area{}, err
		}
		area.Tile = &tile
	}
	return area, nil
}

func pickExecutor(workers int) executor.Executor[process.Result] {
	if workers == 1 {
		return executor.Sequential[process.Result]{}
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return executor.Pool[process.Result]{Workers: workers}
}
