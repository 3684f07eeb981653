package debugcli

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "thermal-governor")
	_ = os.MkdirAll(dir, 0o750)
	return filepath.Join(dir, "debug_history")
}

// RunClient connects to a running daemon's debug socket and runs an
// interactive readline REPL that forwards each line as a command and
// prints the response, until EOF or Ctrl+C.
func RunClient(socketPath string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("debugcli: connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "thermal-governor> ",
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		return fmt.Errorf("debugcli: readline init: %w", err)
	}
	defer rl.Close()

	reader := bufio.NewReader(conn)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if _, err := fmt.Fprintln(conn, line); err != nil {
			return fmt.Errorf("debugcli: write command: %w", err)
		}
		if line == "quit" {
			return nil
		}

		if err := drainResponse(reader, line); err != nil {
			return err
		}
	}
}

// drainResponse reads exactly one reply: a multi-line snapshot dump ends
// naturally at the next readable deadline, so for "snapshot" we read the
// known number of profile lines; everything else is a single line.
func drainResponse(reader *bufio.Reader, command string) error {
	lines := 1
	if command == "snapshot" {
		lines = 3
	}
	for i := 0; i < lines; i++ {
		text, err := reader.ReadString('\n')
		if text != "" {
			fmt.Print(text)
		}
		if err != nil {
			return fmt.Errorf("debugcli: read response: %w", err)
		}
	}
	return nil
}
