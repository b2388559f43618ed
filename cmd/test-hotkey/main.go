// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press any configured combo to see which action fires.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/trionesctl/internal/config"
	"github.com/chaz8081/trionesctl/internal/hotkey"
)

func main() {
	path := flag.String("config", "", "path to config file (default: built-in bindings)")
	flag.Parse()

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	listener := hotkey.NewListener(cfg.Hotkeys.Bindings)
	for _, b := range listener.Bindings() {
		fmt.Printf("  %-8s %s\n", b.Action, b)
	}
	fmt.Println("Press Ctrl+C to exit.")

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			fmt.Printf(">>> %s\n", ev.Action)
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
