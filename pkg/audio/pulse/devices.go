// Package pulse connects parley to a PulseAudio (or PipeWire-pulse) server.
//
// [Microphone] implements [capture.Microphone] with a 16 kHz mono float32
// record stream cut into fixed-size blocks. [Output] drives a
// [playout.Timeline] from a 24 kHz mono playback stream.
package pulse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/MrWong99/parley/pkg/capture"
)

const appName = "parley"

// Device describes one input source.
type Device struct {
	ID          string
	Description string
	Available   bool
	Muted       bool
	Default     bool
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, classify(fmt.Errorf("pulse: connect: %w", err))
	}
	return client, nil
}

// ListSources returns the input sources known to the server.
func ListSources() ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return listSources(client)
}

func listSources(client *pulse.Client) ([]Device, error) {
	def, err := client.DefaultSource()
	if err != nil {
		return nil, classify(fmt.Errorf("pulse: default source: %w", err))
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, classify(fmt.Errorf("pulse: list sources: %w", err))
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			Available:   portAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == def.ID(),
		})
	}
	return devices, nil
}

// pickSource chooses a capture source. input and fallback are matched
// case-insensitively against id and description; "" and "default" select the
// server default. With echo set, an echo-cancel source is preferred when one
// exists. The returned bool reports whether the echo-cancel source was used.
func pickSource(devices []Device, input, fallback string, echo bool) (Device, bool, error) {
	if len(devices) == 0 {
		return Device{}, false, fmt.Errorf("%w: no input sources", capture.ErrDeviceUnavailable)
	}

	if echo {
		for _, d := range devices {
			if d.Available && !d.Muted && matches(d, "echo-cancel") {
				return d, true, nil
			}
		}
	}

	find := func(term string) (Device, bool) {
		term = strings.ToLower(strings.TrimSpace(term))
		for _, d := range devices {
			if term == "" || term == "default" {
				if d.Default {
					return d, true
				}
				continue
			}
			if matches(d, term) {
				return d, true
			}
		}
		return Device{}, false
	}

	usable := func(d Device) bool { return d.Available && !d.Muted }

	primary, ok := find(input)
	if ok && usable(primary) {
		return primary, false, nil
	}
	alt, altOK := find(fallback)
	if altOK && usable(alt) {
		return alt, false, nil
	}
	if !ok {
		return Device{}, false, fmt.Errorf("%w: input %q not found", capture.ErrDeviceUnavailable, input)
	}
	return Device{}, false, fmt.Errorf("%w: input %q is muted or unavailable", capture.ErrDeviceUnavailable, primary.ID)
}

func matches(d Device, term string) bool {
	return strings.Contains(strings.ToLower(d.ID), term) ||
		strings.Contains(strings.ToLower(d.Description), term)
}

// portAvailable reports whether the active port of a source is usable.
// PulseAudio availability values: unknown=0, no=1, yes=2.
func portAvailable(info *pulseproto.GetSourceInfoReply) bool {
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			return port.Available != 1
		}
	}
	return true
}

// classify maps server errors onto the capture taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, capture.ErrPermissionDenied) || errors.Is(err, capture.ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission denied") {
		return fmt.Errorf("%w: %w", capture.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", capture.ErrDeviceUnavailable, err)
}
