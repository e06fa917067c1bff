// Package audiocore holds the shared pieces of the real-time audio chain:
// atomic control cells, stream constants and sentinel errors.
//
// # Architecture Overview
//
// The chain runs inside a fixed-deadline audio callback. Its stages live in
// subpackages:
//
//   - ringbuffer: lock-free single-producer single-consumer frame ring
//   - feeder: non-real-time producer side, stages PCM bytes into a ring
//   - stretch: pitch and tempo transformation of the main track
//   - mixer: per-track gains, mutes and envelope meters
//   - metronome: click injection aligned to a time signature map
//   - engine: owns the stages and renders one callback block
//   - output: playback backends that call the engine render function
//
// Loudness analysis runs off the callback in the loudness package, fed by a
// scope ring the engine writes after the metronome.
//
// # Concurrency and Thread Safety
//
// Each stage splits its state in two halves:
//
//   - Control state: written by any goroutine through atomic cells or an
//     atomically swapped immutable snapshot. Configure style calls are
//     serialized with a mutex on the control side only.
//   - Callback state: filter memories, voice arenas and scheduling cursors,
//     owned by the goroutine that calls Process and never shared.
//
// Process methods never block, never allocate and never log directly. Degraded
// paths log through rate limited samplers.
//
// # Error Handling
//
// Errors are built with the internal errors package and tagged with a
// component and a category:
//
//	if err := stage.SetQuality(true); errors.IsCategory(err, errors.CategoryState) {
//	    // session is running, retry after Stop
//	}
package audiocore
