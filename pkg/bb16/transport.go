package bb16

import (
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"
)

// GATT characteristic UUIDs of the BB16 common service.
const (
	UUIDCommonService = "0000fda0-0000-1000-8000-00805f9b34fb"
	UUIDCommonGet     = "0000fda1-0000-1000-8000-00805f9b34fb"
	UUIDCommonPost    = "0000fda2-0000-1000-8000-00805f9b34fb"
	UUIDCommonPush    = "0000fda3-0000-1000-8000-00805f9b34fb"
)

// OTA service UUIDs, reserved for firmware update. Never touched here.
const (
	UUIDOtaService = "0000fd00-0000-1000-8000-00805f9b34fb"
	UUIDOtaNotify  = "0000fd09-0000-1000-8000-00805f9b34fb"
	UUIDOtaWrite   = "0000fd0a-0000-1000-8000-00805f9b34fb"
)

// ConnectTimeout bounds the initial BLE connection attempt.
const ConnectTimeout = 20 * time.Second

// Transport delivers opaque packets on named GATT characteristics. The
// protocol core talks only to this interface; tests drive it with an
// in-memory fake.
type Transport interface {
	WriteCharacteristic(uuid string, data []byte) error
	StartNotify(uuid string, fn func([]byte)) error
	StopNotify(uuid string) error
	Disconnect() error
}

// BLETransport implements Transport on top of tinygo.org/x/bluetooth.
type BLETransport struct {
	device bluetooth.Device
	chars  map[string]bluetooth.DeviceCharacteristic
}

// Dial connects to the device at the given MAC address and resolves the
// three common-service characteristics.
func Dial(address string) (*BLETransport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", address, err)
	}

	device, err := adapter.Connect(
		bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}},
		bluetooth.ConnectionParams{ConnectionTimeout: bluetooth.NewDuration(ConnectTimeout)},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	t := &BLETransport{device: device}
	if err := t.discover(); err != nil {
		device.Disconnect()
		return nil, err
	}
	return t, nil
}

func (t *BLETransport) discover() error {
	svcUUID, err := bluetooth.ParseUUID(UUIDCommonService)
	if err != nil {
		return fmt.Errorf("bad service uuid: %w", err)
	}
	services, err := t.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return fmt.Errorf("failed to discover common service: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("device does not expose service %s", UUIDCommonService)
	}

	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return fmt.Errorf("failed to discover characteristics: %w", err)
	}

	t.chars = make(map[string]bluetooth.DeviceCharacteristic, len(chars))
	for _, c := range chars {
		t.chars[c.UUID().String()] = c
	}
	for _, uuid := range []string{UUIDCommonGet, UUIDCommonPost, UUIDCommonPush} {
		if _, ok := t.chars[uuid]; !ok {
			return fmt.Errorf("device is missing characteristic %s", uuid)
		}
	}
	return nil
}

func (t *BLETransport) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	c, ok := t.chars[uuid]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("unknown characteristic %s", uuid)
	}
	return c, nil
}

// WriteCharacteristic writes one packet without response.
func (t *BLETransport) WriteCharacteristic(uuid string, data []byte) error {
	c, err := t.characteristic(uuid)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("failed to write %d bytes to %s: %w", len(data), uuid, err)
	}
	return nil
}

// StartNotify subscribes fn to notifications on the characteristic.
func (t *BLETransport) StartNotify(uuid string, fn func([]byte)) error {
	c, err := t.characteristic(uuid)
	if err != nil {
		return err
	}
	return c.EnableNotifications(fn)
}

// StopNotify releases the notification subscription.
func (t *BLETransport) StopNotify(uuid string) error {
	c, err := t.characteristic(uuid)
	if err != nil {
		return err
	}
	return c.EnableNotifications(nil)
}

// Disconnect tears the BLE connection down.
func (t *BLETransport) Disconnect() error {
	return t.device.Disconnect()
}
