package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/chaz8081/trionesctl/internal/color"
	"github.com/chaz8081/trionesctl/internal/emotion"
	"github.com/chaz8081/trionesctl/internal/hotkey"
	"github.com/chaz8081/trionesctl/internal/mode"
)

var errUnknownCommand = errors.New("unknown command (try \"help\")")

const shellHelp = `Commands:
  connect                 pair with the bulb
  disconnect              drop the connection
  color <r> <g> <b>       set a color by channel values
  color #rrggbb           set a color by hex
  color <name>            set a named color
  colors                  list named colors
  power on|off|toggle     switch the bulb
  random                  cycle random colors
  speech                  listen for one color name, then "say <name>"
  emotion                 follow facial expression, then "feel <label>|none"
  sound                   follow loudness
  stop                    return to idle
  status                  show bulb and mode state
  quit                    exit`

// exec runs one shell line. It reports true when the shell should exit.
func (a *app) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		pterm.Println(shellHelp)
	case "connect":
		return false, a.session.Connect(ctx)
	case "disconnect":
		return false, a.session.Disconnect()
	case "color":
		c, err := parseColor(args, a.colors)
		if err != nil {
			return false, err
		}
		return false, a.ctrl.ChangeColor(ctx, c)
	case "colors":
		pterm.Println(strings.Join(a.colors.Names(), ", "))
	case "power":
		return false, a.power(ctx, args)
	case "random":
		return false, a.ctrl.StartRandom(ctx)
	case "speech":
		return false, a.ctrl.StartSpeech(ctx)
	case "say":
		if !a.speech.Say(strings.Join(args, " ")) {
			return false, errors.New("not listening (start with \"speech\")")
		}
	case "emotion":
		return false, a.ctrl.StartEmotion(ctx)
	case "feel":
		return false, a.feel(args)
	case "sound":
		return false, a.ctrl.StartSound(ctx)
	case "stop":
		a.ctrl.Stop()
	case "status":
		dev, _ := a.session.Device()
		renderStatus(a.ctrl.Snapshot(), a.session.State(), dev)
	default:
		return false, fmt.Errorf("%q: %w", name, errUnknownCommand)
	}
	return false, nil
}

func (a *app) power(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: power on|off|toggle")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return a.ctrl.SetPower(ctx, true)
	case "off":
		return a.ctrl.SetPower(ctx, false)
	case "toggle":
		_, err := a.ctrl.TogglePower(ctx)
		return err
	default:
		return fmt.Errorf("power: unknown state %q", args[0])
	}
}

func (a *app) feel(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: feel <label>|none")
	}
	if strings.EqualFold(args[0], "none") {
		a.detector.Set("")
		return nil
	}
	l, err := emotion.Parse(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	a.detector.Set(l)
	return nil
}

// parseColor accepts "r g b", "#rrggbb" or a table name.
func parseColor(args []string, table *color.Table) (color.Color, error) {
	switch {
	case len(args) == 0:
		return color.Color{}, errors.New("usage: color <r> <g> <b> | #rrggbb | <name>")
	case len(args) == 3:
		var ch [3]uint8
		numeric := true
		for i, s := range args {
			v, err := strconv.ParseUint(s, 10, 8)
			if err != nil {
				numeric = false
				break
			}
			ch[i] = uint8(v)
		}
		if numeric {
			return color.RGB(ch[0], ch[1], ch[2]), nil
		}
	case len(args) == 1 && strings.HasPrefix(args[0], "#"):
		v, err := strconv.ParseUint(args[0][1:], 16, 32)
		if err != nil || len(args[0]) != 7 {
			return color.Color{}, fmt.Errorf("bad hex color %q", args[0])
		}
		return color.RGB(uint8(v>>16), uint8(v>>8), uint8(v)), nil
	}
	return table.Lookup(strings.Join(args, " "))
}

// action runs a hotkey. Pressing the active mode's key stops it; any
// other mode key switches to that mode.
func (a *app) action(ctx context.Context, act hotkey.Action) error {
	target := map[hotkey.Action]mode.Mode{
		hotkey.ActionRandom:  mode.RandomColor,
		hotkey.ActionSpeech:  mode.SpeechListening,
		hotkey.ActionEmotion: mode.EmotionWatching,
		hotkey.ActionSound:   mode.SoundVisualizing,
	}
	switch act {
	case hotkey.ActionStop:
		a.ctrl.Stop()
		return nil
	case hotkey.ActionPower:
		_, err := a.ctrl.TogglePower(ctx)
		return err
	}
	m, ok := target[act]
	if !ok {
		return fmt.Errorf("hotkey: unknown action %q", act)
	}
	if a.ctrl.Mode() == m {
		a.ctrl.Stop()
		return nil
	}
	return a.ctrl.Switch(ctx, m)
}

// shell reads commands from in until quit, EOF or ctx ends.
func (a *app) shell(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		pterm.Print("trionesctl> ")
		select {
		case <-ctx.Done():
			pterm.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				pterm.Println()
				return nil
			}
			quit, err := a.exec(ctx, line)
			if err != nil {
				pterm.Error.Println(err)
			}
			if quit {
				return nil
			}
		}
	}
}
