package domain

// AudioLevel is the voice activity classification of a local audio source.
type AudioLevel string

const (
	AudioLevelSilent AudioLevel = "silent"
	AudioLevelLow    AudioLevel = "low"
	AudioLevelHigh   AudioLevel = "high"
)
