package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string

var (
	flagConfig   string
	flagFrames   int
	flagOutput   string
	flagRealtime bool
	flagSpeed    float64
	flagServe    string
	flagLog      string
	flagHelp     bool
	flagVersion  bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML file of cameras")
	flag.IntVarP(&flagFrames, "frames", "n", 0, "Frame sets to capture per camera (0: until exhausted)")
	flag.StringVarP(&flagOutput, "output", "o", "", "Directory for PNG output")
	flag.BoolVarP(&flagRealtime, "realtime", "", false, "Replay recordings at their recorded rate")
	flag.Float64VarP(&flagSpeed, "speed", "", 1, "Playback speed factor for --realtime")
	flag.StringVarP(&flagServe, "serve", "", "", "Serve websocket previews on this address")
	flag.StringVarP(&flagLog, "log", "", "", "Log level directives, e.g. \"info,vtime=debug\"")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Synchronized capture from live and recorded cameras

Usage: halcap [OPTION]... URI...

Cameras:
  -c, --config=FILE      YAML file listing cameras and their properties
  URI                    driver:[key=value,...]//resource, for example
                           filereader:[Channels=[left.*pgm,right.*pgm]]//data
                           v4l2:[Width=640,Height=480]///dev/video0

Capture:
  -n, --frames=NUM       Frame sets to capture per camera (default: until exhausted)
  -o, --output=DIR       Write every channel of every set as PNG under DIR
      --realtime         Replay recordings at their recorded rate
      --speed=NUM        Playback speed factor for --realtime (default: 1)
      --serve=ADDR       Serve websocket previews at ADDR/<camera>/ws

Miscellaneous:
      --log=DIRECTIVES   Log levels, e.g. "debug" or "info,vtime=trace"
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//  _             _
	// | |__    __ _ | |  ___  __ _  _ __
	// | '_ \  / _` || | / __|/ _` || '_ \
	// | | | || (_| || || (__| (_| || |_) |
	// |_| |_| \__,_||_| \___|\__,_|| .__/
	//                              |_|

	// Line 1
	r.Printf(" _      ")
	y.Printf("       ")
	b.Printf(" _ ")
	y.Println("")

	// Line 2
	r.Printf("| |__   ")
	y.Printf(" __ _ ")
	b.Printf("| | ")
	r.Printf(" ___ ")
	y.Printf(" __ _ ")
	b.Println(" _ __  ")

	// Line 3
	r.Printf("| '_ \\  ")
	y.Printf("/ _` |")
	b.Printf("| | ")
	r.Printf("/ __|")
	y.Printf("/ _` |")
	b.Println("| '_ \\ ")

	// Line 4
	r.Printf("| | | | ")
	y.Printf("| (_| |")
	b.Printf("| |")
	r.Printf("| (__")
	y.Printf("| (_| |")
	b.Println("| |_) |")

	// Line 5
	r.Printf("|_| |_| ")
	y.Printf("\\__,_|")
	b.Printf("|_| ")
	r.Printf("\\___|")
	y.Printf("\\__,_|")
	b.Println("| .__/ ")

	// Line 6
	r.Printf("        ")
	y.Printf("      ")
	b.Printf("    ")
	r.Printf("     ")
	y.Printf("      ")
	b.Println("|_|    ")

	fmt.Println(helpString)
}

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("halcap", GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}
