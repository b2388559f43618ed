package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/chaz8081/trionesctl/internal/ble"
	"github.com/chaz8081/trionesctl/internal/config"
	"github.com/chaz8081/trionesctl/internal/hotkey"
)

func newRunCommand() *cobra.Command {
	var (
		choose    bool
		noConnect bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the bulb and open the interactive shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromCmd(cmd)

			var sel ble.Selector
			if choose {
				sel = chooseDevice
			}
			a, err := newApp(cfg, deps{Selector: sel})
			if err != nil {
				return err
			}
			defer a.close()

			unsub := a.bus.Subscribe(printEvent)
			defer unsub()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			printBanner(cfg)

			if !noConnect {
				if err := a.session.Connect(ctx); err != nil {
					pterm.Error.Println(err)
					pterm.Info.Println("Use \"connect\" to retry.")
				}
			}

			if cfg.Hotkeys.Enabled {
				startHotkeys(ctx, a, cfg.Hotkeys.Bindings)
			}

			return a.shell(ctx, os.Stdin)
		},
	}
	cmd.Flags().BoolVar(&choose, "choose", false, "pick the bulb from a list when several are found")
	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "start the shell without connecting")
	return cmd
}

// chooseDevice asks the user to pick one of several bulbs.
func chooseDevice(devices []ble.Device) (ble.Device, bool) {
	if len(devices) == 1 {
		return devices[0], true
	}
	options := make([]string, len(devices))
	for i, d := range devices {
		options[i] = fmt.Sprintf("%s (%s, %d dBm)", deviceName(d), d.Address, d.RSSI)
	}
	choice, err := pterm.DefaultInteractiveSelect.WithOptions(options).Show("Select a bulb")
	if err != nil {
		return ble.Device{}, false
	}
	for i, o := range options {
		if o == choice {
			return devices[i], true
		}
	}
	return ble.Device{}, false
}

// startHotkeys forwards global hotkeys to the controller until ctx ends.
func startHotkeys(ctx context.Context, a *app, bindings map[string][]string) {
	listener := hotkey.NewListener(bindings)
	go listener.Start()
	go func() {
		<-ctx.Done()
		listener.Stop()
	}()
	go func() {
		for ev := range listener.Events() {
			if err := a.action(ctx, ev.Action); err != nil {
				slog.Warn("Hotkey action failed", "action", ev.Action, "error", err)
			}
		}
	}()
	for _, b := range listener.Bindings() {
		slog.Debug("Hotkey ready", "action", b.Action, "keys", b.String())
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	target := cfg.Device.Address
	if target == "" {
		target = "scan for " + cfg.Device.NamePrefix + "*"
	}
	sound := "microphone"
	if cfg.Audio.WavFile != "" {
		sound = cfg.Audio.WavFile
	}
	hotkeys := "off"
	if cfg.Hotkeys.Enabled {
		var parts []string
		for _, action := range config.Actions {
			if keys, ok := cfg.Hotkeys.Bindings[action]; ok {
				parts = append(parts, action+"="+strings.Join(keys, "+"))
			}
		}
		hotkeys = strings.Join(parts, " ")
	}

	pterm.DefaultHeader.Println("trionesctl")
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Bulb", target},
		{"Random", cfg.Modes.RandomInterval.String()},
		{"Emotion", cfg.Modes.EmotionInterval.String()},
		{"Sound", sound},
		{"Hotkeys", hotkeys},
	}).Render()
	pterm.Info.Println("Type \"help\" for commands.")
}
