//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for capture devices that are driven frame by frame.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Streaming
//
// Open a device, negotiate a format and map a buffer ring:
//
//	dev, _ := v4l2.Open("/dev/video0")
//	defer dev.Close()
//	format, _ := dev.SetFormat(1280, 1024, v4l2.PixelFormatGrey)
//	_ = dev.RequestBuffers(4)
//	_ = dev.StreamOn()
//	if ready, _ := dev.Wait(1000); ready {
//	    frame, _ := dev.Dequeue()
//	    // frame.Data aliases the mapping until the buffer is queued again
//	    _ = dev.Queue(frame.Index)
//	}
//
// # Controls and Registers
//
// Exposure is driven through the standard camera-class controls. Raw
// sensor registers are reached with the debug register ioctls, which
// require a kernel built with CONFIG_VIDEO_ADV_DEBUG and CAP_SYS_ADMIN.
package v4l2
