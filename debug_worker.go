package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/rohan-js/agrimon/sensor"
	"github.com/rohan-js/agrimon/threshold"
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// debugState holds the console's view of the running pipeline.
type debugState struct {
	rl       *readline.Instance
	cancel   context.CancelFunc
	pipe     *Pipeline
	pub      *Publisher
	sim      *sensor.Simulated // nil when reading real hardware
	bands    threshold.Set
	latest   *CycleSnapshot
	watching bool
}

// print outputs a line without tearing the prompt.
func (s *debugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// printSnapshot renders one cycle as a metric table.
func (s *debugState) printSnapshot(snap CycleSnapshot) {
	metrics := make([]string, 0, len(snap.Record.Data))
	for m := range snap.Record.Data {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	s.print("%s", snap.Record.Timestamp.Format(time.TimeOnly))
	for _, m := range metrics {
		s.print("  %-14s %6.1f%-3s %s", m, snap.Record.Data[m], sensor.Metric(m).Unit(), snap.Severities[m])
	}
}

func (s *debugState) printStatus() {
	m := s.pub.Metrics()
	s.print("state: %s  connected: %v  uptime: %s",
		s.pipe.State(), s.pub.Connected(), s.pipe.Uptime().Round(time.Second))
	s.print("published: %d  errors: %d  success: %.1f%%  alert failures: %d",
		m.PublishCount, m.ErrorCount, m.SuccessRate, s.pipe.AlertFailures())
}

func (s *debugState) printMetrics() {
	m := s.pub.Metrics()
	s.print("published: %d  errors: %d  success: %.1f%%", m.PublishCount, m.ErrorCount, m.SuccessRate)
	if m.LastPublish.IsZero() {
		s.print("last publish: never")
	} else {
		s.print("last publish: %s (%s ago)",
			m.LastPublish.Format(time.TimeOnly), time.Since(m.LastPublish).Round(time.Second))
	}
	s.print("alert failures: %d", s.pipe.AlertFailures())
}

// forceAlert arms the simulated source so the next cycle trips an alert.
func (s *debugState) forceAlert(args []string) {
	if s.sim == nil {
		log.Println("alert only works in simulation mode")
		return
	}
	if len(args) == 0 {
		log.Println("Usage: alert <metric> [value]")
		return
	}

	metric := sensor.Metric(args[0])
	value := forcedCriticalValue(s.bands, string(metric))
	if len(args) > 1 {
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			log.Printf("Bad value %q: %v", args[1], err)
			return
		}
		value = v
	}

	s.sim.ForceExtreme(metric, value)
	log.Printf("Next %s reading forced to %.1f", metric, value)
}

// handleDebugCommand processes one console command
func handleDebugCommand(cmd string, state *debugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "status":
		state.printStatus()

	case "last":
		if state.latest == nil {
			log.Println("No cycle data yet")
			return
		}
		state.printSnapshot(*state.latest)

	case "watch":
		state.watching = true
		log.Println("Watching cycles ('unwatch' to stop)")

	case "unwatch":
		state.watching = false
		log.Println("Stopped watching")

	case "alert":
		state.forceAlert(parts[1:])

	case "metrics":
		state.printMetrics()

	case "exit":
		log.Println("Shutting down")
		state.cancel()

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  status                 - Pipeline state and delivery counters")
		fmt.Println("  last                   - Show the most recent cycle")
		fmt.Println("  watch                  - Print each cycle as it completes")
		fmt.Println("  unwatch                - Stop printing cycles")
		fmt.Println("  alert <metric> [value] - Force a critical reading (simulation only)")
		fmt.Println("  metrics                - Publisher delivery metrics")
		fmt.Println("  exit                   - Stop the pipeline and quit")
		fmt.Println("  help                   - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for the console history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	agrimonCache := filepath.Join(cacheDir, "agrimon")
	_ = os.MkdirAll(agrimonCache, 0750)
	return filepath.Join(agrimonCache, "debug_history")
}

// debugWorker provides interactive introspection of the running pipeline
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	pipe *Pipeline,
	pub *Publisher,
	sim *sensor.Simulated,
	bands threshold.Set,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug console: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil // Clear readline reference on exit
	}()

	// Redirect log output through the readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug console started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := &debugState{rl: rl, cancel: cancel, pipe: pipe, pub: pub, sim: sim, bands: bands}

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case snap := <-pipe.Snapshots():
			state.latest = &snap
			if state.watching {
				state.printSnapshot(snap)
			}
		case <-ctx.Done():
			log.Println("Debug console stopped")
			return
		}
	}
}
