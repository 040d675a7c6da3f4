package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/log"
)

// reportStats periodically logs the state of every pipeline component.
func reportStats(ctx context.Context, interval time.Duration, p *pipeline, saver *SnapshotSaver, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logStats(time.Since(start), p, saver, logger)
		}
	}
}

func logStats(uptime time.Duration, p *pipeline, saver *SnapshotSaver, logger zerolog.Logger) {
	st := p.ctrl.State()
	ev := logger.Info().
		Dur("uptime", uptime.Round(time.Second)).
		Str(log.FieldSessionID, st.SessionID).
		Uint64(log.FieldGeneration, st.Generation).
		Str("lifecycle", st.Lifecycle.String()).
		Str("permission", st.Permission.String())

	if st.LastResult != nil {
		ev = ev.Str("last_identifier", st.LastResult.Identifier)
	}
	if st.LastError != nil {
		ev = ev.AnErr("last_error", st.LastError)
	}

	bus := p.bus.Stats()
	ev = ev.Uint64("handoffs_published", bus.TotalPublished)
	for id, s := range bus.Subscribers {
		ev = ev.Uint64("handoffs_dropped_"+id, s.Dropped)
	}

	if saver != nil {
		saved, dropped := saver.Stats()
		ev = ev.Uint64("snapshots_saved", saved).Uint64("snapshots_dropped", dropped)
	}
	if p.emitter != nil {
		es := p.emitter.Stats()
		ev = ev.Bool("mqtt_connected", es.Connected).
			Uint64("mqtt_published", es.Published).
			Uint64("mqtt_errors", es.Errors)
	}

	ev.Msg("pipeline statistics")
}
