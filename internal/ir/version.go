package ir

// Version constants for the scenario format and the tool.
const (
	// FormatVersion is the scenario format version.
	FormatVersion = "1"

	// Version is the lockstep release version.
	Version = "0.1.0"
)
