package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/emitter"
	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/camera/synthetic"
	"github.com/e7canasta/orion-scan/modules/camera/v4l2"
	"github.com/e7canasta/orion-scan/modules/decoder"
	"github.com/e7canasta/orion-scan/modules/framescanner"
	"github.com/e7canasta/orion-scan/modules/handoff"
	"github.com/e7canasta/orion-scan/modules/overlay"
	"github.com/e7canasta/orion-scan/modules/resolver"
	"github.com/e7canasta/orion-scan/modules/scancontrol"
	"github.com/e7canasta/orion-scan/modules/upload"
)

// pipeline is the composed scan stack: device → controller → hand-off bus.
type pipeline struct {
	canvas  *overlay.Canvas
	bus     *handoff.Bus
	ctrl    *scancontrol.Controller
	emitter *emitter.MQTT
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func newPipeline(cfg *config.Config, dev camera.Device, sched framescanner.Scheduler, observer scancontrol.Observer) (*pipeline, error) {
	p := &pipeline{
		canvas: overlay.NewCanvas(),
		bus:    handoff.New(),
	}

	dec := decoder.New(decoder.WithTryHarder(cfg.Scanner.TryHarder))
	ctrl, err := scancontrol.New(scancontrol.Options{
		Session:           camera.NewSession(dev, log.WithComponent("camera")),
		Scheduler:         sched,
		Surface:           p.canvas,
		Decoder:           dec,
		Resolver:          resolver.New(cfg.Resolver.PathKeyword),
		Renderer:          overlay.NewRenderer(overlay.DefaultStyle()),
		Uploads:           upload.New(dec, cfg.Upload.ReferenceWidth, log.WithComponent("upload")),
		Navigator:         scancontrol.NavigatorFunc(p.navigate),
		Observer:          observer,
		PreferEnvironment: cfg.Camera.PreferEnvironment,
		ConfirmationDelay: cfg.Scanner.ConfirmationDelay(),
		Logger:            log.WithComponent("scancontrol"),
	})
	if err != nil {
		return nil, err
	}
	p.ctrl = ctrl
	return p, nil
}

// navigate is the controller's Navigator: every hand-off goes on the bus.
func (p *pipeline) navigate(ref resolver.ProductReference) {
	p.bus.Publish(handoff.Delivery{
		SessionID:   p.ctrl.State().SessionID,
		Reference:   ref,
		DeliveredAt: time.Now(),
	})
}

// startSubscribers attaches the stdout printer and, when configured, the
// MQTT emitter.
func (p *pipeline) startSubscribers(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ctx, p.stop = context.WithCancel(ctx)

	printCh := make(chan handoff.Delivery, 16)
	if err := p.bus.Subscribe("printer", printCh); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		printDeliveries(ctx, out, printCh, log.WithComponent("printer"))
	}()

	if cfg.MQTT.Broker == "" {
		return nil
	}

	p.emitter = emitter.NewMQTT(cfg.MQTT, log.WithComponent("emitter"))
	if err := p.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	mqttCh := make(chan handoff.Delivery, 16)
	if err := p.bus.Subscribe("mqtt", mqttCh); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.emitter.Run(ctx, mqttCh)
	}()
	return nil
}

// close shuts the controller down and waits for subscribers to flush what
// they already received.
func (p *pipeline) close() {
	p.ctrl.Close()
	p.bus.Close()
	if p.stop != nil {
		p.stop()
	}
	p.wg.Wait()
	if p.emitter != nil {
		p.emitter.Disconnect()
	}
}

// printDeliveries writes one JSON envelope per line.
func printDeliveries(ctx context.Context, out io.Writer, ch <-chan handoff.Delivery, logger zerolog.Logger) {
	write := func(d handoff.Delivery) {
		data, err := emitter.Encode(emitter.NewEnvelope(d), config.EncodingJSON)
		if err != nil {
			logger.Error().Err(err).Msg("encode hand-off")
			return
		}
		fmt.Fprintln(out, string(data))
	}

	for {
		select {
		case d := <-ch:
			write(d)
		case <-ctx.Done():
			for {
				select {
				case d := <-ch:
					write(d)
				default:
					return
				}
			}
		}
	}
}

func buildDevice(cfg config.CameraConfig) (camera.Device, error) {
	if cfg.SyntheticDir != "" {
		return synthetic.FromDir(cfg.SyntheticDir)
	}
	return v4l2.New(v4l2.Config{
		EnvironmentDevice: cfg.EnvironmentDevice,
		UserDevice:        cfg.UserDevice,
		DefaultDevice:     cfg.DefaultDevice,
		Width:             cfg.Width,
		Height:            cfg.Height,
	}, log.WithComponent("v4l2")), nil
}

// watchConfig hot-reloads the tunables that are safe to change mid-session.
func watchConfig(ctx context.Context, opts Options, ctrl *scancontrol.Controller) {
	logger := log.WithComponent("config")
	err := config.Watch(ctx, opts.ConfigPath, logger, func(c *config.Config) {
		applyReload(c, opts, ctrl)
		logger.Info().
			Int("confirmation_delay_ms", c.Scanner.ConfirmationDelayMS).
			Int("reference_width", c.Upload.ReferenceWidth).
			Str("level", c.Log.Level).
			Msg("tunables applied")
	})
	if err != nil {
		logger.Error().Err(err).Msg("config watcher unavailable")
	}
}

// applyReload pushes a reloaded file into the running pipeline. Flag
// overrides still win over the file.
func applyReload(c *config.Config, opts Options, ctrl *scancontrol.Controller) {
	applyOverrides(c, opts)
	ctrl.SetConfirmationDelay(c.Scanner.ConfirmationDelay())
	ctrl.SetReferenceWidth(c.Upload.ReferenceWidth)
	log.Reconfigure(log.Config{Level: c.Log.Level, Service: "orion-scan"})
}
