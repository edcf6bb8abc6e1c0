package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/timeworked/timeworked/internal/client"
	"github.com/timeworked/timeworked/internal/config"
	apperrors "github.com/timeworked/timeworked/internal/errors"
	"github.com/timeworked/timeworked/internal/monitor"
	"github.com/timeworked/timeworked/internal/timer"
)

const helpText = `commands:
  start    start a new session, or resume a paused one
  pause    pause the running timer
  resume   resume a paused timer
  stop     stop and record the session (run again to retry a failed stop)
  status   show timer and connectivity state
  ping     check connectivity now
  quit     exit (an unconfirmed session stays open on the server)`

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the interactive timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runInteractive(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("interval", 0, "Connectivity probe interval in seconds (env TIMEWORKED_PING_INTERVAL_SECONDS)")

	return cmd
}

func runInteractive(ctx context.Context, cfg *config.ClientConfig, in io.Reader, out io.Writer) error {
	api := client.New(cfg.ServerURL, cfg.Timeout())
	sh := newShell(out)

	ctrl := timer.NewController(api, cfg.SubjectID, timer.WithListener(sh.render))
	defer ctrl.Close()
	sh.ctrl = ctrl
	sh.mon = monitor.New(api)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.PingIntervalSeconds > 0 {
		go sh.mon.Run(ctx, cfg.PingInterval(), sh.setStatus)
	}

	sh.printf("timeworked %s as %q against %s\n%s\n", Version, cfg.SubjectID, cfg.ServerURL, helpText)
	return sh.loop(ctx, in)
}

// shell reads commands line by line and drives the controller. Output from
// the display tick and from commands share one lock.
type shell struct {
	ctrl *timer.Controller
	mon  *monitor.Monitor

	mu       sync.Mutex
	out      io.Writer
	status   *monitor.Status
	lastLine string
}

func newShell(out io.Writer) *shell {
	return &shell{out: out}
}

func (s *shell) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if quit := s.exec(ctx, scanner.Text()); quit {
			return nil
		}
	}
	return scanner.Err()
}

// exec runs a single command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "start":
		s.report("started", s.ctrl.Start(ctx))
	case "resume":
		if s.ctrl.Snapshot().Phase != timer.PhasePaused {
			s.printf("nothing to resume\n")
			break
		}
		s.report("resumed", s.ctrl.Start(ctx))
	case "pause":
		s.report("paused", s.ctrl.Pause())
	case "stop":
		if err := s.ctrl.Stop(ctx); err != nil {
			s.report("", err)
			break
		}
		snap := s.ctrl.Snapshot()
		s.printf("stopped after %s\n", timer.FormatElapsed(snap.LastElapsed))
	case "status":
		s.printStatus()
	case "ping":
		s.setStatus(s.mon.Ping(ctx))
		s.printStatus()
	case "help", "?":
		s.printf("%s\n", helpText)
	case "quit", "exit", "q":
		if snap := s.ctrl.Snapshot(); snap.SessionID != "" {
			s.printf("session %s is still open on the server\n", snap.SessionID)
		}
		return true
	default:
		s.printf("unknown command %q, type help\n", line)
	}
	return false
}

func (s *shell) report(done string, err error) {
	switch {
	case err == nil:
		s.printf("%s\n", done)
	case errors.Is(err, timer.ErrRequestInFlight):
		s.printf("waiting for the server, try again shortly\n")
	case errors.Is(err, timer.ErrStopPending):
		s.printf("the last stop was not recorded, run stop to retry\n")
	case errors.Is(err, timer.ErrStartPending):
		s.printf("the server has not confirmed the start yet\n")
	case errors.Is(err, timer.ErrNotRunning), errors.Is(err, timer.ErrNotStarted):
		s.printf("timer is %s\n", s.ctrl.Snapshot().Phase)
	case apperrors.HasCode(err, apperrors.ErrCodeNetworkFailure):
		s.printf("server unreachable: %v\n", err)
	default:
		s.printf("error: %v\n", err)
	}
}

func (s *shell) render(snap timer.Snapshot) {
	line := fmt.Sprintf("%s %s", snap.Display, snap.Phase)
	if snap.Phase == timer.PhaseRunning && !snap.Confirmed {
		line += " (unconfirmed)"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if line == s.lastLine {
		return
	}
	s.lastLine = line
	fmt.Fprintf(s.out, "\r%s", line)
}

func (s *shell) setStatus(status monitor.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &status
}

func (s *shell) printStatus() {
	snap := s.ctrl.Snapshot()

	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	conn := "connectivity unknown"
	if status != nil {
		conn = formatStatus(*status)
	}

	session := "no session"
	if snap.SessionID != "" {
		session = "session " + snap.SessionID
	}

	s.printf("%s %s, %s, %s\n", snap.Display, snap.Phase, session, conn)
	if snap.LastError != nil {
		s.printf("last error: %v\n", snap.LastError)
	}
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastLine != "" {
		fmt.Fprintln(s.out)
		s.lastLine = ""
	}
	fmt.Fprintf(s.out, format, args...)
}
