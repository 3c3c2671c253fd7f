//go:build linux

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/smazurov/hdrnode/pkg/linuxav/hotplug"
	"github.com/smazurov/hdrnode/pkg/linuxav/v4l2"
)

func listDevices() ([]DeviceInfo, error) {
	found, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceInfo, 0, len(found))
	for _, d := range found {
		devices = append(devices, DeviceInfo{
			Path:      d.DevicePath,
			Name:      d.DeviceName,
			ID:        d.DeviceID,
			Driver:    d.Driver,
			Streaming: d.Streaming(),
		})
	}
	return devices, nil
}

func watchDevices(ctx context.Context, w io.Writer) error {
	mon, err := hotplug.NewMonitor(hotplug.SubsystemVideo4Linux)
	if err != nil {
		return fmt.Errorf("hotplug monitor: %w", err)
	}
	defer mon.Close()

	for {
		ev, err := mon.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch ev.Action {
		case hotplug.ActionAdd:
			fmt.Fprintf(w, "+ %s\n", ev.Node())
			// The node may not answer QUERYCAP yet; enumerate what is there now
			if devices, err := listDevices(); err == nil {
				printDevices(w, devices)
			}
		case hotplug.ActionRemove:
			fmt.Fprintf(w, "- %s\n", ev.Node())
		}
	}
}
