// Package main is the hook-side event forwarder. EmulationStation's event
// scripts call it with the event name and arguments; it writes one line to
// the daemon's unix socket and exits.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func main() {
	home, _ := os.UserHomeDir()
	socketPath := flag.String("socket", filepath.Join(home, ".config", "retroha", "retroha.sock"),
		"Path to the daemon's event socket")
	timeout := flag.Duration("timeout", 3*time.Second, "Connect and reply timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: retrohactl [flags] <event|ping> [args...]")
		os.Exit(2)
	}

	if err := send(*socketPath, *timeout, args); err != nil {
		fmt.Fprintf(os.Stderr, "retrohactl: %v\n", err)
		os.Exit(1)
	}
}

func send(socketPath string, timeout time.Duration, args []string) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", socketPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	// Fields are tab-separated so rom paths may contain spaces.
	line := strings.Join(args, "\t")
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "ERR") {
		return fmt.Errorf("daemon rejected event: %s", strings.TrimPrefix(reply, "ERR "))
	}
	return nil
}
