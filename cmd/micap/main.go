// Command micap runs the motion capture server: UDP tracker ingest,
// skeleton solving, and OSC/WebSocket publishing, on a single fixed-rate
// loop (§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Calbabreaker/micap/internal/config"
	serialport "github.com/Calbabreaker/micap/internal/serial"
	"github.com/Calbabreaker/micap/pkg/mainloop"
	"github.com/Calbabreaker/micap/pkg/oscpub"
	"github.com/Calbabreaker/micap/pkg/registry"
	"github.com/Calbabreaker/micap/pkg/skeleton"
	"github.com/Calbabreaker/micap/pkg/udptrack"
	"github.com/Calbabreaker/micap/pkg/wsctl"
)

var version = "0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serialPortFlag := flag.String("serial", "", "Companion serial port device path (optional)")
	verbose := flag.Bool("verbose", false, "Enable debug-level logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "micap - desktop motion capture server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("micap version %s\n", version)
		os.Exit(0)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(log, *serialPortFlag); err != nil {
		log.Error().Err(err).Msg("fatal error")
		os.Exit(1)
	}
}

func run(log zerolog.Logger, serialPortName string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	reg := registry.New()
	for id, tc := range cfg.Trackers {
		t := reg.Add(id)
		t.Name = tc.Name
		t.Location = tc.Location
	}

	udp, err := udptrack.Listen(reg, log)
	if err != nil {
		return fmt.Errorf("starting udp server: %w", err)
	}
	defer udp.Close()

	ws, err := wsctl.New(log, wsctl.ListenAddr)
	if err != nil {
		return fmt.Errorf("starting control plane: %w", err)
	}
	defer ws.Close()

	solver := skeleton.New(cfg.Skeleton)

	vmc, err := oscpub.NewVMCPublisher(cfg.VMC.SendPort, cfg.VMC.Enabled)
	if err != nil {
		return fmt.Errorf("starting VMC publisher: %w", err)
	}
	defer vmc.Close()

	vrchat, err := oscpub.NewVRChatPublisher(cfg.VRChat.SendPort, cfg.VRChat.Enabled, cfg.VRChat.BonesToSend)
	if err != nil {
		return fmt.Errorf("starting VRChat publisher: %w", err)
	}
	defer vrchat.Close()

	var serial *serialport.Port
	if serialPortName != "" {
		serial, err = serialport.Open(serialPortName)
		if err != nil {
			log.Warn().Err(err).Str("port", serialPortName).Msg("failed to open companion serial port, continuing without it")
		} else {
			defer serial.Close()
			ws.QueueSerialPortChanged(serial.Name())
			go forwardSerialLines(serial, ws, log)
		}
	}

	loop := mainloop.New(log, reg, udp, ws, solver, vmc, vrchat, serial, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- ws.Serve(ctx) }()

	log.Info().Int("tick_rate", mainloop.TickRate).Msg("micap started")

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	case err := <-loopErr:
		cancel()
		return err
	}

	<-loopErr
	return <-serveErr
}

// forwardSerialLines relays companion serial output to the control plane as
// SerialLog events until the port closes.
func forwardSerialLines(p *serialport.Port, ws *wsctl.Server, log zerolog.Logger) {
	scan := p.Lines()
	for scan.Scan() {
		ws.QueueSerialLog(scan.Text())
	}
	if err := scan.Err(); err != nil {
		log.Warn().Err(err).Msg("serial port read loop ended")
	}
}
