package main

import (
	"context"
	"errors"
	"os"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/modules/framescanner"
	"github.com/e7canasta/orion-scan/modules/handoff"
	"github.com/e7canasta/orion-scan/modules/scancontrol"
)

func runScan(ctx context.Context, opts Options, cfg *config.Config) error {
	logger := log.WithComponent("scan")

	dev, err := buildDevice(cfg.Camera)
	if err != nil {
		return err
	}

	var saver *SnapshotSaver
	if opts.SnapshotDir != "" {
		if saver, err = NewSnapshotSaver(opts.SnapshotDir); err != nil {
			return err
		}
		logger.Info().Str("dir", opts.SnapshotDir).Msg("snapshot saving enabled")
	}

	sched := framescanner.NewRefreshScheduler(cfg.Scanner.RefreshHz)
	defer sched.Close()

	var p *pipeline
	rescan := make(chan struct{}, 1)
	observer := func(st scancontrol.State) {
		if st.Lifecycle == scancontrol.Idle && errors.Is(st.LastError, scancontrol.ErrInvalidPayload) {
			select {
			case rescan <- struct{}{}:
			default:
			}
		}
		if st.Lifecycle == scancontrol.Detected && saver != nil {
			img := p.canvas.Snapshot()
			go func() {
				path, err := saver.Save(img, st.SessionID)
				if err != nil {
					logger.Error().Err(err).Msg("snapshot not saved")
					return
				}
				logger.Info().Str("path", path).Msg("snapshot saved")
			}()
		}
	}

	p, err = newPipeline(cfg, dev, sched, observer)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.startSubscribers(ctx, cfg, os.Stdout); err != nil {
		return err
	}

	latest, err := p.bus.SubscribeLatest("scan-loop")
	if err != nil {
		return err
	}
	handoffs := forwardLatest(ctx, latest)

	if opts.ConfigPath != "" {
		go watchConfig(ctx, opts, p.ctrl)
	}
	if opts.StatsInterval > 0 {
		go reportStats(ctx, opts.StatsInterval, p, saver, log.WithComponent("stats"))
	}

	for {
		if err := p.ctrl.Start(ctx); err != nil {
			logger.Error().Msg(scancontrol.UserMessage(err))
			return err
		}
		logger.Info().Msg("point the camera at a product QR code")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rescan:
			logger.Warn().Msg(scancontrol.UserMessage(scancontrol.ErrInvalidPayload))
		case d, ok := <-handoffs:
			if !ok {
				return nil
			}
			logger.Info().
				Str(log.FieldIdentifier, d.Reference.Identifier).
				Str(log.FieldMethod, d.Reference.Method.String()).
				Msg("product handed off")
			if !opts.Continuous {
				return nil
			}
		}
	}
}

// forwardLatest turns l into a channel the scan loop can select on. The
// channel closes when l is closed or ctx ends.
func forwardLatest(ctx context.Context, l *handoff.Latest) <-chan handoff.Delivery {
	out := make(chan handoff.Delivery)
	go func() {
		defer close(out)
		for {
			d, ok := l.Receive()
			if !ok {
				return
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
