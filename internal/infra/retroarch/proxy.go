// Package retroarch provides a client for RetroArch's UDP network command
// interface. The transport is a single-datagram request/response exchange
// with no ordering or delivery guarantees, so every wait is bounded and
// retries are left to the caller.
package retroarch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Failure classes surfaced to command handlers. They are reported on the
// command's response topic, never fatal to the process.
var (
	// ErrTimeout means no reply arrived within the wait bound.
	ErrTimeout = errors.New("retroarch: reply timeout")

	// ErrUnreachable means the transport reported a send or receive
	// failure (e.g. ICMP port unreachable on the loopback).
	ErrUnreachable = errors.New("retroarch: endpoint unreachable")

	// ErrDisabled means network_cmd_enable is off in retroarch.cfg, so no
	// I/O can succeed.
	ErrDisabled = errors.New("retroarch: network commands disabled")

	// ErrMalformedReply means a reply arrived but did not parse.
	ErrMalformedReply = errors.New("retroarch: malformed reply")
)

// Proxy sends commands to the RetroArch network control port.
type Proxy struct {
	mu      sync.RWMutex
	addr    string
	timeout time.Duration
	enabled bool
}

// NewProxy creates a proxy for the given control endpoint. The enabled flag
// comes from retroarch.cfg; when false every call fails fast with
// ErrDisabled.
func NewProxy(host string, port int, timeout time.Duration, enabled bool) *Proxy {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Proxy{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: timeout,
		enabled: enabled,
	}
}

// SetEnabled flips the interface gate, e.g. after retroarch.cfg is re-read.
func (p *Proxy) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Enabled reports whether the control interface is usable.
func (p *Proxy) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Send transmits one command datagram and waits up to the configured
// timeout for a reply. There is no automatic retry; the dispatcher decides
// whether to retry once.
func (p *Proxy) Send(ctx context.Context, command string) (string, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	buf := make([]byte, 64<<10)
	n, err := conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return strings.TrimRight(string(buf[:n]), "\n"), nil
}

// Notify transmits one command datagram without waiting for a reply. Most
// RetroArch commands (PAUSE_TOGGLE, SHOW_MSG, ...) never answer.
func (p *Proxy) Notify(ctx context.Context, command string) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Version probes the endpoint with the VERSION command. It doubles as the
// reachability check after a game starts.
func (p *Proxy) Version(ctx context.Context) (string, error) {
	reply, err := p.Send(ctx, "VERSION")
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", ErrMalformedReply
	}
	return reply, nil
}

// Status queries GET_STATUS and parses the reply into a Status.
func (p *Proxy) Status(ctx context.Context) (Status, error) {
	reply, err := p.Send(ctx, "GET_STATUS")
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(reply)
}

func (p *Proxy) dial(ctx context.Context) (net.Conn, error) {
	if !p.Enabled() {
		return nil, ErrDisabled
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", p.addr)
	if err != nil {
		log.Debug().Err(err).Str("addr", p.addr).Msg("UDP dial failed")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return conn, nil
}

// EnabledFromConfig reads the network command gate and port from
// retroarch.cfg. Only the flat `key = "value"` lines this needs are parsed;
// a missing file means the interface is treated as disabled.
func EnabledFromConfig(path string, defaultPort int) (enabled bool, port int, err error) {
	port = defaultPort

	data, err := os.ReadFile(path)
	if err != nil {
		return false, port, fmt.Errorf("read retroarch.cfg: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := splitCfgLine(line)
		if !ok {
			continue
		}
		switch key {
		case "network_cmd_enable":
			enabled = value == "true"
		case "network_cmd_port":
			var p int
			if _, perr := fmt.Sscanf(value, "%d", &p); perr == nil && p > 0 && p <= 65535 {
				port = p
			}
		}
	}
	return enabled, port, nil
}

// splitCfgLine parses one `key = "value"` retroarch.cfg line.
func splitCfgLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	eq := strings.Index(line, "=")
	if eq < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:eq])
	value = strings.TrimSpace(line[eq+1:])
	value = strings.Trim(value, `"`)
	return key, value, key != ""
}
