// Package nats publishes camera node telemetry over NATS and carries mode
// requests back to the node.
//
// # Architecture
//
//   - Server: optional embedded broker for a standalone node (hdrnode serve)
//   - CameraClient: per-camera publisher attached to the event bus, plus the
//     mode request subscription
//   - ControlPublisher: sends mode requests (hdrnode modes)
//   - Bridge: subscribes to camera subjects and republishes on a local event
//     bus (hdrnode watch)
//
// # Subject Hierarchy
//
//	hdrnode.cameras.{camera_id}.captures   # completed acquisitions (node → monitor)
//	hdrnode.cameras.{camera_id}.exposure   # AEC evaluations (node → monitor)
//	hdrnode.cameras.{camera_id}.failures   # aborted cycles (node → monitor)
//	hdrnode.control.{camera_id}.modes      # mode requests (operator → node)
//
// Messaging is fire-and-forget core NATS. Messages never carry pixel data;
// frames go to the sinks. A node whose broker is unreachable keeps running
// and drops telemetry.
//
// # Debugging with nats CLI
//
// Follow one camera:
//
//	nats sub "hdrnode.cameras.cam0.>"
//
// Switch a camera to HDR with auto-exposure:
//
//	nats pub "hdrnode.control.cam0.modes" '{"camera_id":"cam0","hdr":true,"aec":true}'
//
// # Message Formats
//
// CaptureMessage (hdrnode.cameras.{id}.captures):
//
//	{
//	  "camera_id": "cam0",
//	  "timestamp": "2026-01-01T12:00:00Z",
//	  "cycle": 42,
//	  "kind": "hdr",
//	  "frames": 2,
//	  "shutters": [100, 300]
//	}
//
// ExposureMessage (hdrnode.cameras.{id}.exposure):
//
//	{
//	  "camera_id": "cam0",
//	  "timestamp": "2026-01-01T12:00:00Z",
//	  "cycle": 43,
//	  "direction": "under",
//	  "previous": 0.00014,
//	  "time": 0.00002,
//	  "code": 0,
//	  "proportion": 1,
//	  "applied": true
//	}
package nats
