package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lanikai/camhal/internal/camera"
	_ "github.com/lanikai/camhal/internal/driver/filereader"
	_ "github.com/lanikai/camhal/internal/driver/v4l2"
	"github.com/lanikai/camhal/internal/logging"
	"github.com/lanikai/camhal/internal/preview"
	"github.com/lanikai/camhal/internal/vtime"
)

var log = logging.DefaultLogger.WithTag("halcap")

// A session is one open camera and what happens to its sets.
type session struct {
	name    string
	cam     camera.Driver
	preview *preview.Server

	captured int
}

type options struct {
	frames int
	output string
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	if flagLog != "" {
		if err := logging.Configure(flagLog); err != nil {
			log.Fatalf("invalid --log: %v", err)
		}
	}

	cameras := make([]CameraConfig, 0, flag.NArg())
	syncOpts := vtime.Options{Realtime: flagRealtime, Speed: flagSpeed}
	if flagConfig != "" {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			log.Fatal(err)
		}
		cameras = append(cameras, cfg.Cameras...)
		if cfg.Realtime != nil && !flag.CommandLine.Changed("realtime") {
			syncOpts.Realtime = *cfg.Realtime
		}
		if cfg.Speed > 0 && !flag.CommandLine.Changed("speed") {
			syncOpts.Speed = cfg.Speed
		}
	}
	for _, arg := range flag.Args() {
		cameras = append(cameras, CameraConfig{URI: arg})
	}
	if len(cameras) == 0 {
		fmt.Fprintln(os.Stderr, "halcap: no cameras given (try --help)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := vtime.New(syncOpts)
	defer clock.Close()

	sessions, err := open(cameras, clock)
	if err != nil {
		log.Fatal(err)
	}

	if flagServe != "" {
		server := serve(flagServe, sessions)
		defer server.Shutdown(context.Background())
	}

	start := time.Now()
	err = run(ctx, sessions, options{frames: flagFrames, output: flagOutput})
	report(sessions, time.Since(start))
	if err != nil {
		log.Fatal(err)
	}
}

// open opens every camera against the shared clock. On error the cameras
// already opened are closed.
func open(cameras []CameraConfig, clock *vtime.Synchronizer) ([]*session, error) {
	var sessions []*session
	for _, c := range cameras {
		u, name, err := c.resolve()
		if err == nil {
			var cam camera.Driver
			cam, err = camera.OpenURI(u, camera.WithSynchronizer(clock))
			if err == nil {
				sessions = append(sessions, &session{name: name, cam: cam})
				continue
			}
		}
		for _, s := range sessions {
			s.cam.Close()
		}
		return nil, errors.WithMessage(err, c.URI)
	}
	return sessions, nil
}

// serve starts the preview server in the background.
func serve(addr string, sessions []*session) *http.Server {
	mux := http.NewServeMux()
	for _, s := range sessions {
		s.preview = preview.New(s.cam)
		prefix := "/" + s.name
		mux.Handle(prefix+"/", http.StripPrefix(prefix, s.preview.Handler()))
		log.Info("Preview of %s at ws://%s%s/ws", s.name, addr, prefix)
	}

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("preview server: %v", err)
		}
	}()
	return server
}

// run captures from every session concurrently until each is exhausted or has
// delivered opts.frames sets, or ctx is cancelled.
func run(ctx context.Context, sessions []*session, opts options) error {
	g, ctx := errgroup.WithContext(ctx)

	// Closing a camera is the only way to interrupt a blocked Capture.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for _, s := range sessions {
				s.cam.Close()
			}
		case <-done:
		}
	}()
	defer close(done)

	for _, s := range sessions {
		s := s
		g.Go(func() error {
			// A camera that stops consuming must leave the clock, or the
			// others would keep waiting for its timestamps.
			defer s.cam.Close()
			if s.preview != nil {
				defer s.preview.Close()
			}
			return s.capture(ctx, opts)
		})
	}
	return g.Wait()
}

func (s *session) capture(ctx context.Context, opts options) error {
	dir := ""
	if opts.output != "" {
		dir = filepath.Join(opts.output, s.name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, s.name)
		}
	}

	for opts.frames <= 0 || s.captured < opts.frames {
		if ctx.Err() != nil {
			return nil
		}
		set, ok := s.cam.Capture()
		if !ok {
			break
		}
		s.captured++
		log.Debug("%s: set %d (t=%.6f)", s.name, set.Seq, set.DeviceTime)

		if s.preview != nil {
			s.preview.Publish(set)
		}
		if dir == "" {
			continue
		}
		for ch := range set.Images {
			data, err := preview.Encode(set, ch)
			if err != nil {
				return errors.Wrap(err, s.name)
			}
			path := filepath.Join(dir, fmt.Sprintf("%06d_ch%d.png", s.captured-1, ch))
			if err := os.WriteFile(path, data, 0644); err != nil {
				return errors.Wrap(err, s.name)
			}
		}
	}

	if pb, ok := s.cam.Playback(); ok && pb.Err() != nil {
		return errors.WithMessage(pb.Err(), s.name)
	}
	if dev, ok := s.cam.Device(); ok && dev.Err() != nil {
		return errors.WithMessage(dev.Err(), s.name)
	}
	return nil
}

// report prints a summary line per camera.
func report(sessions []*session, elapsed time.Duration) {
	bold := color.New(color.Bold)
	for _, s := range sessions {
		bold.Printf("%s", s.name)
		fmt.Printf(": %d set(s) in %v", s.captured, elapsed.Round(time.Millisecond))
		if dev, ok := s.cam.Device(); ok {
			fmt.Printf(", %d dropped", dev.Dropped())
		}
		if pb, ok := s.cam.Playback(); ok {
			fmt.Printf(", %d frame(s) recorded", pb.NumFrames())
		}
		fmt.Println()
	}
}
