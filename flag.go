package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	hf         bool
	configPath string
	logLevel   string

	renderPath string
	renderLat  float64
	renderLon  float64
	renderZoom int
	renderSize int
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", defaultConfigPath, "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")

	flag.StringVar(&renderPath, "render", "", "render one mosaic to `file` instead of serving")
	flag.Float64Var(&renderLat, "lat", 0, "render: centre latitude")
	flag.Float64Var(&renderLon, "lon", 0, "render: centre longitude")
	flag.IntVar(&renderZoom, "zoom", 5, "render: client zoom level")
	flag.IntVar(&renderSize, "size", 512, "render: image width and height in pixels")

	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `radartiler version: radartiler/v0.1.0
Usage: radartiler [-h] [-c filename] [-l logLevel]
       radartiler -render out.png -lat 51.5 -lon -0.1 [-zoom 5] [-size 512]
`)
	flag.PrintDefaults()
}
