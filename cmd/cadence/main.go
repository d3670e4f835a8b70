package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/config"
	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/history"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/media/ffmpeg"
	"github.com/zsiec/cadence/internal/media/synthetic"
	"github.com/zsiec/cadence/internal/output/headless"
	"github.com/zsiec/cadence/internal/output/oto"
	"github.com/zsiec/cadence/internal/output/sdl"
	"github.com/zsiec/cadence/internal/output/terminal"
	"github.com/zsiec/cadence/internal/player"
	"github.com/zsiec/cadence/internal/present"
	"github.com/zsiec/cadence/internal/server"
	"github.com/zsiec/cadence/pkg/version"
)

// The window and its event queue belong to the main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cadence: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <media-url>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		return nil
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return apperrors.NewUsageError("expected exactly one media url")
	}
	url := flag.Arg(0)

	cfg, err := config.Load(configPath)
	if err != nil {
		return apperrors.WrapConfigError(err)
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		return apperrors.WrapConfigError(err)
	}
	log := logger.Root(base)
	log.WithFields(logger.Fields{
		"version": version.GetInfo().Short(),
		"media":   url,
	}).Info("Starting cadence")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go startMetricsServer(ctx, cfg.Metrics, log)
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Connect(ctx, cfg.History, log)
		if err != nil {
			log.WithError(err).Warn("Resume history unavailable")
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					log.WithError(err).Error("Failed to close history store")
				}
			}()
		}
	}

	display, term, err := openDisplay(cfg, log)
	if err != nil {
		return apperrors.NewDisplayError(err)
	}
	defer func() {
		if err := display.Close(); err != nil {
			log.WithError(err).Warn("Failed to close display")
		}
	}()

	opts := player.Options{
		Config:  cfg,
		Opener:  newOpener(log),
		Display: display,
		Audio:   audioOpener(cfg, log),
		Logger:  log,
	}
	// A nil *Store inside the interface would not read as "no history".
	if store != nil {
		opts.History = store
	}
	p, err := player.New(opts)
	if err != nil {
		return err
	}
	if term != nil {
		term.SetStatus(p.Status)
		term.Start()
	}

	if err := p.Open(url); err != nil {
		return err
	}

	var wg sync.WaitGroup
	apiCtx, cancelAPI := context.WithCancel(ctx)
	if cfg.API.Enabled {
		srv := server.New(cfg.API, p, store, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(apiCtx); err != nil {
				log.WithError(err).Error("Control API stopped")
			}
		}()
	}

	err = p.Play(ctx)
	cancelAPI()
	wg.Wait()

	if err != nil {
		log.WithError(err).Error("Playback failed")
		return err
	}
	log.Info("Playback finished")
	return nil
}

// openDisplay returns the terminal display separately when it is selected so
// it can be bound to the player's status.
func openDisplay(cfg *config.Config, log logger.Logger) (present.Display, *terminal.Display, error) {
	switch cfg.Display.Backend {
	case "terminal":
		d := terminal.New(terminal.OptionsFromConfig(cfg, log))
		return d, d, nil
	case "headless":
		return headless.NewDisplay(), nil, nil
	default:
		d, err := sdl.New(sdl.OptionsFromConfig(cfg, log))
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	}
}

func audioOpener(cfg *config.Config, log logger.Logger) audio.DeviceOpener {
	switch cfg.Audio.Backend {
	case "none":
		return nil
	case "headless":
		return headless.NewOpener(cfg.Audio.Period)
	default:
		return oto.NewOpener(cfg.Audio.DeviceBuffer, log)
	}
}

func newOpener(log logger.Logger) media.Opener {
	libav := ffmpeg.NewOpener(log, nil)
	generated := synthetic.Opener()
	return media.OpenerFunc(func(url string) (media.Container, error) {
		if synthetic.IsURL(url) {
			return generated.Open(url)
		}
		return libav.Open(url)
	})
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.WithField("addr", srv.Addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server error")
	}
}
