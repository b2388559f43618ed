package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinygoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS, WinRT on Windows). Addresses are whatever the platform prints
// for bluetooth.Address: a MAC on Linux and Windows, a UUID on macOS.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects connections and seen.
	mu          sync.Mutex
	connections map[string]*tinygoConnection
	seen        map[string]bluetooth.Address
}

// NewTinygoAdapter creates an adapter backed by the default HCI device.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinygoConnection),
		seen:        make(map[string]bluetooth.Address),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral goes away (out of range, powered off).
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		if ok {
			delete(a.connections, id)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinygoAdapter) Scan(ctx context.Context, filter ScanFilter) ([]Device, error) {
	var svc bluetooth.UUID
	if filter.ServiceUUID != "" {
		var err error
		if svc, err = bluetooth.ParseUUID(filter.ServiceUUID); err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !matchName(result.LocalName(), filter.NamePrefix) {
			return
		}
		if filter.ServiceUUID != "" && !result.HasServiceUUID(svc) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})

		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()

		if filter.Limit > 0 && len(devices) >= filter.Limit {
			adapter.StopScan()
		}
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// resolve finds the bluetooth.Address for a printed address, scanning for
// it if it has not been seen yet.
func (a *TinygoAdapter) resolve(ctx context.Context, address string) (bluetooth.Address, error) {
	a.mu.Lock()
	addr, ok := a.seen[address]
	a.mu.Unlock()
	if ok {
		return addr, nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var found bool
	go func() {
		<-scanCtx.Done()
		a.adapter.StopScan()
	}()
	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.Address.String() == address {
			addr, found = result.Address, true
			adapter.StopScan()
		}
	})
	if err != nil && ctx.Err() == nil {
		return addr, fmt.Errorf("ble: scan for %s: %w", address, err)
	}
	if !found {
		return addr, fmt.Errorf("ble: %s: %w", address, ErrDeviceNotFound)
	}

	a.mu.Lock()
	a.seen[address] = addr
	a.mu.Unlock()
	return addr, nil
}

func (a *TinygoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	addr, err := a.resolve(ctx, address)
	if err != nil {
		return nil, err
	}

	// tinygo/bluetooth's Connect blocks with its own timeout. We wrap it so
	// ctx cancellation returns promptly.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// A late success is disconnected so the bulb is not left held.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinygoConnection{device: result.device}

		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinygoCharacteristic{char: chars[0]}, nil
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

// Write uses write-without-response; Triones firmware does not ack color
// writes.
func (c *tinygoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
