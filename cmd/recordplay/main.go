// Command recordplay runs the recording-and-replay core as a standalone
// process, driving its control-message dispatcher from newline-delimited
// JSON on stdin and writing wire responses to stdout. A real deployment
// wires the dispatcher to a WebRTC host's transport instead; this binary
// exists to exercise the core end to end without one.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ethan/mjr-recordplay/pkg/config"
	"github.com/ethan/mjr-recordplay/pkg/dispatcher"
	"github.com/ethan/mjr-recordplay/pkg/logger"
	"github.com/ethan/mjr-recordplay/pkg/registry"
	"github.com/ethan/mjr-recordplay/pkg/session"
)

// discardTransport is a placeholder Transport for a session whose peer
// connection is not actually wired up in this binary: RTP/RTCP sends are
// dropped, and Close is a no-op.
type discardTransport struct {
	logger *logger.Logger
}

func (t discardTransport) SendRTP(pkt *rtp.Packet) error {
	t.logger.Debug("dropping outbound RTP (no transport wired)", "seq", pkt.SequenceNumber)
	return nil
}

func (t discardTransport) SendRTCP(pkts []rtcp.Packet) error {
	t.logger.Debug("dropping outbound RTCP (no transport wired)", "count", len(pkts))
	return nil
}

func (t discardTransport) Close() error { return nil }

func main() {
	fs := flag.NewFlagSet("recordplay", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	cfgPath := fs.String("config", "recordplay.env", "path to the config file (path=, events=)")
	role := fs.String("role", "recorder", "session role for incoming stdin requests: recorder or player")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "WebRTC recording-and-replay core, driven by JSON control messages on stdin\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		log.Error("failed to create recordings directory", "path", cfg.Path, "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "path", cfg.Path, "events", cfg.Events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := registry.New(log.Logger)
	sessions := session.NewTable(log.Logger)
	d := dispatcher.New(reg, sessions, cfg.Path, log.Logger)
	d.Start()
	defer d.Stop()

	var sessRole session.Role
	switch *role {
	case "player":
		sessRole = session.RolePlayer
	default:
		sessRole = session.RoleRecorder
	}

	sess := session.New(sessRole, discardTransport{logger: log}, log.Logger)
	sessions.Insert(sess)
	log.Info("session ready", "session_id", sess.ID, "role", sess.Role().String())

	encoder := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				log.Info("stdin closed, shutting down")
				return
			}
			if line == "" {
				continue
			}
			resp := d.Submit(sess, []byte(line))
			if err := encoder.Encode(resp); err != nil {
				log.Error("failed to encode response", "error", err)
			}
		}
	}
}
