package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/mjr-recordplay/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	// Create logger with default config
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Basic logging
	log.Info("recording registry initialized", "path", "/var/lib/recordings")
	log.Warn("recording has no video track", "id", 42)
	log.Error("failed to open writer", "error", "permission denied")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugIndexer)
	cfg.EnableCategory(logger.DebugSession)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Indexer debugging (only logged if DebugIndexer enabled)
	log.DebugFrame(12345, 90000, 512, 1200)

	// Generic category logging
	log.DebugIndexer("timestamp reset detected", "reset_value", 3000000000)
	log.DebugSession("hangup starting", "session_id", "abc123")
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/ethan/mjr-recordplay/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("recordplay", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/recordplay/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json") // Cleanup

	log.Info("viewer attached",
		"recording_id", "12345",
		"session_id", "abc123",
		"duration_ms", 250)

	// Output will be in JSON format:
	// {"time":"...","level":"INFO","msg":"viewer attached","recording_id":"12345","session_id":"abc123","duration_ms":250}
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugPlayout)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Category methods automatically check if enabled
	// No manual check needed - zero cost if disabled
	log.DebugPlayout("packet due", "track", "video", "delay_ms", 0)
}

func computeExpensiveStats() string {
	return "expensive computation result"
}
