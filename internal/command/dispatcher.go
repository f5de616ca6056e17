// Package command routes inbound bus commands to the emulator proxy, the
// library scanner, the UI-mode store and the speech announcer.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/retropie-ha/retroha/internal/domain/library"
	"github.com/retropie-ha/retroha/internal/infra/mqtt"
	"github.com/retropie-ha/retroha/internal/infra/retroarch"
)

// Bus is the message-bus surface the dispatcher needs.
type Bus interface {
	Publish(topic string, payload []byte, retained bool)
	Subscribe(topic string, handler mqtt.MessageHandler)
	Topic(parts ...string) string
}

// EmulatorProxy is the remote control surface of the emulator core.
type EmulatorProxy interface {
	Send(ctx context.Context, command string) (string, error)
	Notify(ctx context.Context, command string) error
	Status(ctx context.Context) (retroarch.Status, error)
}

// Scanner triggers an immediate library rescan.
type Scanner interface {
	Scan() library.Stats
}

// Settings persists the front-end UI mode.
type Settings interface {
	SetUIMode(mode string) error
	ScheduleRestart()
}

// Registry republishes discovery registrations on demand.
type Registry interface {
	Reset()
}

// Announcer speaks a text announcement.
type Announcer interface {
	Announce(text string) error
}

// Dispatcher subscribes to the command topics and validates and routes
// their payloads. Validation failures produce an error response on the
// command's /response topic instead of a silent drop.
type Dispatcher struct {
	bus       Bus
	proxy     EmulatorProxy
	scanner   Scanner
	settings  Settings
	registry  Registry
	announcer Announcer

	// register republishes discovery configs; wired by main so the
	// dispatcher does not depend on the bus client type.
	register func()
}

// NewDispatcher creates the dispatcher. register is invoked by the explicit
// re-register command after the registry is reset.
func NewDispatcher(bus Bus, proxy EmulatorProxy, scanner Scanner, settings Settings, registry Registry, announcer Announcer, register func()) *Dispatcher {
	return &Dispatcher{
		bus:       bus,
		proxy:     proxy,
		scanner:   scanner,
		settings:  settings,
		registry:  registry,
		announcer: announcer,
		register:  register,
	}
}

// Register subscribes all command topics. Subscriptions survive reconnects
// via the bus client's replay.
func (d *Dispatcher) Register() {
	d.subscribe("tts", d.handleTTS)
	d.subscribe("emulator/message", d.handleEmulatorMessage)
	d.subscribe("emulator", d.handleEmulatorCommand)
	d.subscribe("emulator/status", d.handleEmulatorStatus)
	d.subscribe("ui_mode", d.handleUIMode)
	d.subscribe("scan_games", d.handleScan)
	d.subscribe("register", d.handleRegister)
}

// handler processes one decoded payload and returns the response document
// or an error.
type handler func(payload []byte) (map[string]any, error)

func (d *Dispatcher) subscribe(name string, h handler) {
	topic := d.bus.Topic("command", name)
	d.bus.Subscribe(topic, func(msgTopic string, payload []byte) {
		result, err := h(payload)
		if err != nil {
			log.Warn().Err(err).Str("command", name).Msg("Command failed")
			d.respond(topic, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		if result == nil {
			result = map[string]any{}
		}
		result["success"] = true
		d.respond(topic, result)
	})
}

func (d *Dispatcher) respond(topic string, doc map[string]any) {
	data, err := json.Marshal(doc)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to encode command response")
		return
	}
	d.bus.Publish(topic+"/response", data, false)
}

func (d *Dispatcher) handleTTS(payload []byte) (map[string]any, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, errors.New("tts payload requires a non-empty \"text\" field")
	}
	if err := d.announcer.Announce(req.Text); err != nil {
		return nil, fmt.Errorf("announcement failed: %w", err)
	}
	return nil, nil
}

func (d *Dispatcher) handleEmulatorMessage(payload []byte) (map[string]any, error) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Message == "" {
		return nil, errors.New("message payload requires a non-empty \"message\" field")
	}
	return nil, d.notifyWithRetry("SHOW_MSG " + req.Message)
}

func (d *Dispatcher) handleEmulatorCommand(payload []byte) (map[string]any, error) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, errors.New("command payload requires a non-empty \"command\" field")
	}
	return nil, d.notifyWithRetry(req.Command)
}

func (d *Dispatcher) handleEmulatorStatus(payload []byte) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := d.proxy.Status(ctx)
	if errors.Is(err, retroarch.ErrTimeout) || errors.Is(err, retroarch.ErrUnreachable) {
		// One caller-side retry; the datagram transport itself never
		// retries.
		status, err = d.proxy.Status(ctx)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": status}, nil
}

func (d *Dispatcher) handleUIMode(payload []byte) (map[string]any, error) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := d.settings.SetUIMode(req.Mode); err != nil {
		return nil, err
	}
	d.settings.ScheduleRestart()
	return map[string]any{"mode": req.Mode}, nil
}

// handleScan runs the scan directly, bypassing the debounce: this is an
// explicit user request, not a burst of file events.
func (d *Dispatcher) handleScan(payload []byte) (map[string]any, error) {
	stats := d.scanner.Scan()
	return map[string]any{"stats": stats}, nil
}

func (d *Dispatcher) handleRegister(payload []byte) (map[string]any, error) {
	d.registry.Reset()
	if d.register != nil {
		d.register()
	}
	return nil, nil
}

func (d *Dispatcher) notifyWithRetry(cmd string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.proxy.Notify(ctx, cmd)
	if errors.Is(err, retroarch.ErrUnreachable) {
		err = d.proxy.Notify(ctx, cmd)
	}
	return err
}

// decode rejects syntactically invalid JSON; an empty payload decodes as an
// empty document so parameterless commands work with bare publishes.
func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("malformed command payload: %w", err)
	}
	return nil
}
