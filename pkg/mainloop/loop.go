// Package mainloop drives the fixed-rate tick sequence that ties every
// other subsystem together (§4.F): UDP ingest, WebSocket control, skeleton
// solving, and OSC publishing, once per tick, on a single goroutine.
package mainloop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Calbabreaker/micap/internal/config"
	serialport "github.com/Calbabreaker/micap/internal/serial"
	"github.com/Calbabreaker/micap/pkg/oscpub"
	"github.com/Calbabreaker/micap/pkg/registry"
	"github.com/Calbabreaker/micap/pkg/skeleton"
	"github.com/Calbabreaker/micap/pkg/udptrack"
	"github.com/Calbabreaker/micap/pkg/wsctl"
)

// TickRate is the target tick frequency (§6: "approximately 60Hz").
const TickRate = 60

// Period is the target duration of a single tick.
const Period = time.Second / TickRate

// Loop owns every subsystem handle and runs the per-tick sequence.
type Loop struct {
	log zerolog.Logger

	registry *registry.Registry
	udp      *udptrack.Server
	ws       *wsctl.Server
	solver   *skeleton.Solver
	vmc      *oscpub.VMCPublisher
	vrchat   *oscpub.VRChatPublisher
	serial   *serialport.Port // nil when no companion port is attached

	cfg *config.GlobalConfig

	lastConnID uuid.UUID

	rateTicks   int
	rateSamples int
	rateTotal   time.Duration
}

// New assembles a Loop from already-constructed subsystems. serial may be
// nil: the companion serial port is optional (§4.I SerialSend is simply
// unavailable until one is attached).
func New(
	log zerolog.Logger,
	reg *registry.Registry,
	udp *udptrack.Server,
	ws *wsctl.Server,
	solver *skeleton.Solver,
	vmc *oscpub.VMCPublisher,
	vrchat *oscpub.VRChatPublisher,
	serial *serialport.Port,
	cfg *config.GlobalConfig,
) *Loop {
	return &Loop{
		log:      log.With().Str("component", "mainloop").Logger(),
		registry: reg,
		udp:      udp,
		ws:       ws,
		solver:   solver,
		vmc:      vmc,
		vrchat:   vrchat,
		serial:   serial,
		cfg:      cfg,
	}
}

// Run ticks at Period until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	rateLimit := config.PrintLoopRateTicks()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			start := time.Now()
			if err := l.tick(now); err != nil {
				l.log.Error().Err(err).Msg("tick failed")
				l.ws.QueueError(err.Error())
			}
			if err := l.ws.Flush(); err != nil {
				l.log.Warn().Err(err).Msg("failed to flush control plane burst")
			}
			l.recordRate(rateLimit, time.Since(start))
		}
	}
}

// tick runs one full pass of the sequence described in §4.F.
func (l *Loop) tick(now time.Time) error {
	if err := l.udp.Update(now); err != nil {
		return fmt.Errorf("udp tick: %w", err)
	}

	l.drainCommands()
	l.sendInitialStateOnNewConnection()

	trackers := l.registry.Iter()
	l.solver.AssignTrackers(trackers)
	l.solver.Solve()
	bones := l.solver.Bones()

	if err := l.vmc.Tick(bones); err != nil {
		l.log.Warn().Err(err).Msg("vmc publish failed")
	}
	if err := l.vrchat.Tick(bones); err != nil {
		l.log.Warn().Err(err).Msg("vrchat publish failed")
	}

	l.ws.QueueTrackerUpdates(trackers)
	l.ws.QueueSkeletonUpdate(snapshotBones(bones))

	l.sweepRemovals(trackers)

	return nil
}

// drainCommands applies every inbound WebSocket command queued since the
// last tick without blocking (§4.F "tick the websocket").
func (l *Loop) drainCommands() {
	for {
		select {
		case cmd := <-l.ws.Commands():
			l.applyCommand(cmd)
		default:
			return
		}
	}
}

// sendInitialStateOnNewConnection detects a freshly accepted WebSocket
// connection (by its connection id changing) and sends it the InitialState
// message (§4.I "On connect"). Detecting this from the tick loop rather
// than the HTTP accept handler keeps every read of l.cfg and the registry
// on the single main-loop goroutine.
func (l *Loop) sendInitialStateOnNewConnection() {
	id := l.ws.ConnID()
	if id == l.lastConnID {
		return
	}
	l.lastConnID = id
	if id == uuid.Nil {
		return
	}
	l.ws.SendInitialState(l.cfg, config.Default(), l.serialPortName(), l.registry.Iter())
}

func (l *Loop) serialPortName() string {
	if l.serial == nil {
		return ""
	}
	return l.serial.Name()
}

func (l *Loop) applyCommand(cmd wsctl.Command) {
	switch cmd.Kind {
	case "SerialSend":
		if l.serial == nil {
			l.log.Warn().Msg("SerialSend received with no companion port attached")
			return
		}
		if err := l.serial.Send(cmd.SerialSendData); err != nil {
			l.log.Warn().Err(err).Msg("failed to write to serial port")
		}
	case "RemoveTracker":
		if t := l.registry.Get(cmd.RemoveTrackerID); t != nil {
			t.MarkToBeRemoved()
		}
	case "UpdateConfig":
		if cmd.UpdateConfig == nil {
			return
		}
		l.applyConfig(cmd.UpdateConfig)
	}
}

// applyConfig pushes a changed config out to every subsystem that caches a
// copy of it, then persists it (§4.F: config is only saved on change, never
// every tick).
func (l *Loop) applyConfig(cfg *config.GlobalConfig) {
	l.cfg = cfg

	l.solver.ApplySkeletonConfig(cfg.Skeleton)

	if err := l.vmc.ApplyConfig(cfg.VMC.SendPort, cfg.VMC.Enabled); err != nil {
		l.log.Warn().Err(err).Msg("failed to apply VMC config")
	}
	if err := l.vrchat.ApplyConfig(cfg.VRChat.SendPort, cfg.VRChat.Enabled, cfg.VRChat.BonesToSend); err != nil {
		l.log.Warn().Err(err).Msg("failed to apply VRChat config")
	}

	for _, t := range l.registry.Iter() {
		if tc, ok := cfg.Trackers[t.ID]; ok {
			t.Name = tc.Name
			t.Location = tc.Location
		}
	}

	if err := config.Save(cfg); err != nil {
		l.log.Warn().Err(err).Msg("failed to persist config")
	}
	l.ws.QueueConfigUpdate(cfg)
}

// sweepRemovals clears the was_updated flag on every tracker (the WebSocket
// has already read it this tick) and deletes any flagged for removal,
// persisting the config whenever a removal actually happened (§4.F step 8).
func (l *Loop) sweepRemovals(trackers []*registry.Tracker) {
	removed := false
	for _, t := range trackers {
		t.ClearUpdated()
		if t.ToBeRemoved() {
			l.registry.Remove(t.ID)
			delete(l.cfg.Trackers, t.ID)
			removed = true
		}
	}
	if removed {
		if err := config.Save(l.cfg); err != nil {
			l.log.Warn().Err(err).Msg("failed to persist config")
		}
	}
}

func snapshotBones(bones [skeleton.NumBones]skeleton.Bone) []wsctl.BoneSnapshot {
	out := make([]wsctl.BoneSnapshot, 0, skeleton.NumBones)
	for _, b := range bones {
		out = append(out, wsctl.BoneSnapshot{
			Name:        b.ID.String(),
			WorldPos:    [3]float64{b.WorldHeadPos[0], b.WorldHeadPos[1], b.WorldHeadPos[2]},
			WorldOrient: [4]float64{b.WorldOrientation.V[0], b.WorldOrientation.V[1], b.WorldOrientation.V[2], b.WorldOrientation.W},
		})
	}
	return out
}

// recordRate implements the supplemented PRINT_LOOP_RATE diagnostic: every
// rateLimit ticks, log the rolling average tick duration. A zero rateLimit
// disables it entirely.
func (l *Loop) recordRate(rateLimit int, elapsed time.Duration) {
	if rateLimit <= 0 {
		return
	}
	l.rateTotal += elapsed
	l.rateSamples++
	l.rateTicks++
	if l.rateTicks < rateLimit {
		return
	}
	avg := l.rateTotal / time.Duration(l.rateSamples)
	l.log.Info().Dur("avg_tick", avg).Int("ticks", l.rateSamples).Msg("loop rate")
	l.rateTicks = 0
	l.rateSamples = 0
	l.rateTotal = 0
}
