package debugcli

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// DefaultSocketPath is where the daemon listens for debug connections.
const DefaultSocketPath = "/run/thermal-governor/debug.sock"

// Server accepts unix-socket connections and answers a small text protocol
// over each one: "snapshot" (all profiles), "help".
type Server struct {
	Path     string
	Recorder *Recorder
	Log      *govlog.Logger

	listener net.Listener
}

// ListenAndServe removes any stale socket file, listens, and serves
// connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.Path)

	ln, err := net.Listen("unix", s.Path)
	if err != nil {
		return fmt.Errorf("debugcli: listen on %s: %w", s.Path, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.Log.Printf("debugcli: accept error: %v", err)
				return err
			}
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "snapshot":
			s.writeSnapshot(conn)
		case "help", "":
			fmt.Fprintln(conn, "commands: snapshot, help, quit")
		case "quit":
			return
		default:
			fmt.Fprintf(conn, "unknown command: %s\n", line)
		}
	}
}

func (s *Server) writeSnapshot(conn net.Conn) {
	snaps := s.Recorder.Snapshots()
	for _, p := range thermal.Profiles {
		snap, ok := snaps[p]
		if !ok {
			fmt.Fprintf(conn, "%-12s (no data yet)\n", p)
			continue
		}
		fmt.Fprintf(conn, "%-12s temp=%dC fan=%drpm cap=%.2fGHz updated=%s last_tune=%q\n",
			p, snap.TempC, snap.FanRPM, float64(snap.CapKHz)/1_000_000,
			snap.UpdatedAt.Format("15:04:05"), snap.LastTune)
	}
}
