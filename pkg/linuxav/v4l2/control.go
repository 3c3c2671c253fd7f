//go:build linux

package v4l2

import (
	"fmt"
	"unsafe"
)

// QueryControl describes control id.
func (d *Device) QueryControl(id uint32) (ControlInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := v4l2Queryctrl{id: id}
	if err := ioctl(d.fd, vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
		return ControlInfo{}, fmt.Errorf("failed to query control 0x%08x: %w", id, err)
	}
	return ControlInfo{
		ID:       q.id,
		Name:     cstr(q.name[:]),
		Minimum:  q.minimum,
		Maximum:  q.maximum,
		Step:     q.step,
		Default:  q.defaultValue,
		Disabled: q.flags&v4l2CtrlFlagDisabled != 0,
	}, nil
}

// Control reads the current value of control id.
func (d *Device) Control(id uint32) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := v4l2Control{id: id}
	if err := ioctl(d.fd, vidiocGCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, fmt.Errorf("failed to get control 0x%08x: %w", id, err)
	}
	return c.value, nil
}

// SetControl writes control id. Drivers may clamp the value; read it back
// with Control when the realized value matters.
func (d *Device) SetControl(id uint32, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := v4l2Control{id: id, value: value}
	if err := ioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&c)); err != nil {
		return fmt.Errorf("failed to set control 0x%08x: %w", id, err)
	}
	return nil
}

// ReadRegister reads a 32-bit register on the bridge chip.
func (d *Device) ReadRegister(addr uint64) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := v4l2DbgRegister{matchType: v4l2ChipMatchBridge, size: 4, reg: addr}
	if err := ioctl(d.fd, vidiocDbgGRegister, unsafe.Pointer(&r)); err != nil {
		return 0, fmt.Errorf("failed to read register 0x%04x: %w", addr, err)
	}
	return uint32(r.val), nil
}

// WriteRegister writes a 32-bit register on the bridge chip.
func (d *Device) WriteRegister(addr uint64, value uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := v4l2DbgRegister{matchType: v4l2ChipMatchBridge, size: 4, reg: addr, val: uint64(value)}
	if err := ioctl(d.fd, vidiocDbgSRegister, unsafe.Pointer(&r)); err != nil {
		return fmt.Errorf("failed to write register 0x%04x: %w", addr, err)
	}
	return nil
}
