//go:build linux

package v4l2cam

import (
	"context"
	"log/slog"

	"github.com/smazurov/hdrnode/pkg/linuxav/hotplug"
	"github.com/smazurov/hdrnode/pkg/linuxav/v4l2"
)

// WatchPresence logs when the device node disappears or comes back until
// ctx is done. It does not reopen the device.
func WatchPresence(ctx context.Context, device string, logger *slog.Logger) error {
	path, err := v4l2.ResolveDevice(device)
	if err != nil {
		return err
	}
	mon, err := hotplug.NewMonitor()
	if err != nil {
		return err
	}
	defer mon.Close()

	return mon.WatchNode(ctx, path, func(ev hotplug.Event) {
		switch ev.Action {
		case hotplug.ActionRemove:
			logger.Error("Camera device removed", "device", path)
		case hotplug.ActionAdd:
			logger.Warn("Camera device reappeared, restart the node to reopen it", "device", path)
		}
	})
}
