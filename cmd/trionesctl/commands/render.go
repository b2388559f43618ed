package commands

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/chaz8081/trionesctl/internal/ble"
	"github.com/chaz8081/trionesctl/internal/color"
	"github.com/chaz8081/trionesctl/internal/emotion"
	"github.com/chaz8081/trionesctl/internal/events"
	"github.com/chaz8081/trionesctl/internal/mode"
)

// swatch renders c as a colored block followed by its rgb() form.
func swatch(c color.Color) string {
	return pterm.NewRGB(c.R, c.G, c.B).Sprint("██") + " " + c.String()
}

// printEvent renders bus events for the shell. Colors from the random
// and sound modes change too fast to print.
func printEvent(e events.Event) {
	switch e.Type {
	case events.SessionStateChanged:
		var sc ble.StateChange
		if e.Decode(&sc) != nil {
			return
		}
		switch sc.State {
		case ble.Connecting:
			pterm.Info.Println("Connecting...")
		case ble.Connected:
			pterm.Success.Printfln("Connected to %s (%s)", deviceName(sc.Device), sc.Device.Address)
		case ble.Disconnected:
			if sc.Reason != "" {
				pterm.Warning.Printfln("Disconnected: %s", sc.Reason)
			} else {
				pterm.Info.Println("Disconnected")
			}
		}

	case events.ModeChanged:
		var mc mode.ModeChange
		if e.Decode(&mc) != nil {
			return
		}
		if mc.Reason != "" {
			pterm.Info.Printfln("Mode: %s (%s)", mc.Mode, mc.Reason)
		} else {
			pterm.Info.Printfln("Mode: %s", mc.Mode)
		}

	case events.ColorChanged:
		var cc mode.ColorChange
		if e.Decode(&cc) != nil {
			return
		}
		if cc.Source == "random" || cc.Source == "sound" {
			return
		}
		pterm.Println(swatch(cc.Color))

	case events.PowerChanged:
		var pc mode.PowerChange
		if e.Decode(&pc) != nil {
			return
		}
		if pc.On {
			pterm.Info.Println("Power on")
		} else {
			pterm.Info.Println("Power off")
		}

	case events.Notice:
		var n mode.Notice
		if e.Decode(&n) != nil {
			return
		}
		if n.Error != "" {
			pterm.Warning.Printfln("%s (%s)", n.Message, n.Error)
		} else {
			pterm.Warning.Println(n.Message)
		}
	}
}

func deviceName(d ble.Device) string {
	if d.Name == "" {
		return "bulb"
	}
	return d.Name
}

// termOverlay shows the detected expression in the terminal, printing
// only when it changes.
type termOverlay struct {
	mu   sync.Mutex
	last emotion.Label
}

func (o *termOverlay) Draw(d emotion.Detection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d.Label == o.last {
		return
	}
	o.last = d.Label
	pterm.Println(fmt.Sprintf("%s %s", d.Label.Emoji(), d.Label))
}

func (o *termOverlay) Clear() {
	o.mu.Lock()
	o.last = ""
	o.mu.Unlock()
}

// current returns the label on display.
func (o *termOverlay) current() emotion.Label {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func renderStatus(s mode.Status, state ble.State, dev ble.Device) {
	power := "off"
	if s.PowerOn {
		power = "on"
	}
	conn := state.String()
	if state == ble.Connected {
		conn = fmt.Sprintf("%s %s (%s)", conn, deviceName(dev), dev.Address)
	}
	rows := pterm.TableData{
		{"Bulb", conn},
		{"Mode", s.Mode.String()},
		{"Color", swatch(s.Color)},
		{"Power", power},
	}
	if s.Emotion != "" {
		rows = append(rows, []string{"Emotion", fmt.Sprintf("%s %s", s.Emotion.Emoji(), s.Emotion)})
	}
	_ = pterm.DefaultTable.WithData(rows).Render()
}
