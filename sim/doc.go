// Package sim provides in-memory collaborators for driving a call session
// without a media environment.
//
// # Overview
//
// Each type mirrors a production collaborator of package call but keeps its
// state in memory and records every interaction for later verification:
//
//   - Transport implements call.Transport. Tests script join results, add and
//     remove remote participants, and emit volume-indicator ticks.
//   - Devices implements media.Devices. Tests script busy or denied devices
//     and can hold requests open to exercise teardown races.
//   - Scheduler implements media.Scheduler. It returns immediately and
//     records the requested delays.
//   - Capturer implements recording.Capturer and hands out Streams that tests
//     feed with chunks or end from the outside.
//   - Presence implements call.Presence.
//
// # Usage
//
//	transport := sim.NewTransport("uid-1")
//	devices := sim.NewDevices()
//	session, err := call.Open(ctx, call.Config{
//	    ChannelID: "demo",
//	    Transport: transport,
//	    Devices:   devices,
//	    Capturer:  sim.NewCapturer(),
//	    Saver:     &recording.MemorySaver{},
//	    Scheduler: sim.NewScheduler(),
//	})
//
//	transport.AddRemote("alice")
//	transport.EmitVolume(speaker.VolumeSample{ID: "alice", Level: 60})
//
// # Thread Safety
//
// Every type is safe for concurrent use. Callbacks into the session are made
// synchronously from the emitting goroutine.
package sim
