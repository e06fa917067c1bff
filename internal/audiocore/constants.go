package audiocore

// Stream layout shared by every stage after the ring buffers
const (
	// Channels is the interleaved channel count of the chain. Only stereo is supported.
	Channels = 2

	// DefaultSampleRate is used when no rate is configured
	DefaultSampleRate = 48000

	// DefaultBlockLength is the callback block size in frames
	DefaultBlockLength = 128

	// MaxBlockLength bounds a single render call; larger requests are split
	MaxBlockLength = 8192
)
