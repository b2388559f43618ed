package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/chaz8081/trionesctl/internal/ble"
)

func newScanCommand() *cobra.Command {
	var (
		timeout time.Duration
		prefix  string
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby bulbs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromCmd(cmd)
			if timeout <= 0 {
				timeout = cfg.Device.ScanTimeout
			}
			if prefix == "" {
				prefix = cfg.Device.NamePrefix
			}
			if all {
				prefix = ""
			}

			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Scanning for %s...", timeout))
			devices, err := ble.Scan(cmd.Context(), ble.NewTinygoAdapter(), prefix, timeout)
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success(fmt.Sprintf("Found %d device(s)", len(devices)))
			renderDevices(devices)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "scan duration (default from config)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "advertised name prefix (default from config)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every device regardless of name")
	return cmd
}

func renderDevices(devices []ble.Device) {
	if len(devices) == 0 {
		pterm.Info.Println("No bulbs found")
		return
	}
	table := pterm.TableData{{"Name", "Address", "RSSI"}}
	for _, d := range devices {
		table = append(table, []string{d.Name, d.Address, strconv.Itoa(d.RSSI)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()
}
