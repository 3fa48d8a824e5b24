package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugContainer  bool
	DebugIndexer    bool
	DebugSession    bool
	DebugDispatcher bool
	DebugPlayout    bool
	DebugFeedback   bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugContainer, "debug-container", false,
		"Enable MJR container codec debugging (record framing, info header)")
	fs.BoolVar(&f.DebugIndexer, "debug-indexer", false,
		"Enable frame-indexer debugging (reset detection, ordered-list insertion)")
	fs.BoolVar(&f.DebugSession, "debug-session", false,
		"Enable session-lifecycle debugging (state transitions, hangup)")
	fs.BoolVar(&f.DebugDispatcher, "debug-dispatcher", false,
		"Enable control-message dispatcher debugging")
	fs.BoolVar(&f.DebugPlayout, "debug-playout", false,
		"Enable playout-scheduler pacing debugging")
	fs.BoolVar(&f.DebugFeedback, "debug-feedback", false,
		"Enable REMB/PLI feedback-governor debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		if f.DebugContainer {
			cfg.EnableCategory(DebugContainer)
			cfg.Level = LevelDebug
		}
		if f.DebugIndexer {
			cfg.EnableCategory(DebugIndexer)
			cfg.Level = LevelDebug
		}
		if f.DebugSession {
			cfg.EnableCategory(DebugSession)
			cfg.Level = LevelDebug
		}
		if f.DebugDispatcher {
			cfg.EnableCategory(DebugDispatcher)
			cfg.Level = LevelDebug
		}
		if f.DebugPlayout {
			cfg.EnableCategory(DebugPlayout)
			cfg.Level = LevelDebug
		}
		if f.DebugFeedback {
			cfg.EnableCategory(DebugFeedback)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./recordplay --config recordplay.env

  Enable DEBUG level:
    ./recordplay --config recordplay.env --log-level debug
    ./recordplay --config recordplay.env -l debug

  Log to file:
    ./recordplay --config recordplay.env --log-file recordplay.log
    ./recordplay --config recordplay.env -o recordplay.log

  JSON format for structured logging:
    ./recordplay --config recordplay.env --log-format json -o recordplay.json

  Debug the frame indexer only:
    ./recordplay --config recordplay.env --debug-indexer

  Debug multiple categories:
    ./recordplay --config recordplay.env --debug-session --debug-dispatcher

  Debug everything:
    ./recordplay --config recordplay.env --debug-all -o debug.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugContainer {
			debugCategories = append(debugCategories, "container")
		}
		if f.DebugIndexer {
			debugCategories = append(debugCategories, "indexer")
		}
		if f.DebugSession {
			debugCategories = append(debugCategories, "session")
		}
		if f.DebugDispatcher {
			debugCategories = append(debugCategories, "dispatcher")
		}
		if f.DebugPlayout {
			debugCategories = append(debugCategories, "playout")
		}
		if f.DebugFeedback {
			debugCategories = append(debugCategories, "feedback")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
