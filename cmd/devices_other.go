//go:build !linux

package cmd

import (
	"context"
	"errors"
	"io"
)

var errNoV4L2 = errors.New("V4L2 devices are only available on Linux")

func listDevices() ([]DeviceInfo, error) {
	return nil, errNoV4L2
}

func watchDevices(_ context.Context, _ io.Writer) error {
	return errNoV4L2
}
