package sbd

import (
	"time"

	"gopkg.in/ini.v1"
)

// Config carries the recognized options of §3. It is populated at Open and
// is immutable for the life of the driver.
type Config struct {
	// Port is the serial device path, e.g. "/dev/ttyUSB0".
	Port string
	// Baudrate is the serial speed. Defaults to 19200.
	Baudrate int
	// FlowControl holds the flowControl option as loaded. Nothing in this
	// module reads it: transport/serial opens the line without configuring
	// hardware flow control either way.
	FlowControl bool

	// Debug republishes the driver's line-level debug log lines (commands
	// sent, lines received) as debug events. Lines logged at other levels
	// are not republished.
	Debug bool

	// DefaultTimeout bounds ordinary command/response dialogs (AT+SBDIXA,
	// AT+SBDWT, ...). Defaults to 40s.
	DefaultTimeout time.Duration
	// SimpleTimeout bounds short commands (ATE0, AT+CIER=0,0,0, ...).
	// Defaults to 2s.
	SimpleTimeout time.Duration
	// MaxWait bounds waitForNetwork. Zero means block until a signal bar
	// appears (the timeoutForever sentinel of §3, represented here by the
	// absence of a positive duration rather than a magic -1).
	MaxWait time.Duration

	// MaxAttempts bounds the number of SBDIX attempts mailboxSend will make
	// before giving up. Defaults to 5.
	MaxAttempts int
}

// DefaultConfig returns a Config with every default from §3 applied; callers
// fill in at least Port before calling Open.
func DefaultConfig() *Config {
	return &Config{
		Baudrate:       19200,
		DefaultTimeout: 40 * time.Second,
		SimpleTimeout:  2 * time.Second,
		MaxAttempts:    5,
	}
}

// timeoutForever reports whether d should disable a command's timer
// entirely, matching the §3 timeoutForever sentinel.
func timeoutForever(d time.Duration) bool {
	return d <= 0
}

// LoadConfig reads a Config from an INI file with a single [modem] section,
// the same gopkg.in/ini.v1 library the teacher package uses to parse EDS
// device-description files, repurposed here for the modem's own flat config
// surface. Keys not present fall back to DefaultConfig's values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	sec := file.Section("modem")
	cfg.Port = sec.Key("port").MustString(cfg.Port)
	cfg.Baudrate = sec.Key("baudrate").MustInt(cfg.Baudrate)
	cfg.FlowControl = sec.Key("flowControl").MustBool(cfg.FlowControl)
	cfg.Debug = sec.Key("debug").MustBool(cfg.Debug)
	cfg.MaxAttempts = sec.Key("maxAttempts").MustInt(cfg.MaxAttempts)

	defaultTimeoutMs := sec.Key("defaultTimeout").MustInt(int(cfg.DefaultTimeout / time.Millisecond))
	cfg.DefaultTimeout = time.Duration(defaultTimeoutMs) * time.Millisecond

	simpleTimeoutMs := sec.Key("simpleTimeout").MustInt(int(cfg.SimpleTimeout / time.Millisecond))
	cfg.SimpleTimeout = time.Duration(simpleTimeoutMs) * time.Millisecond

	if sec.HasKey("timeoutForever") && sec.Key("timeoutForever").MustBool(false) {
		cfg.DefaultTimeout = 0
	}

	maxWaitMs := sec.Key("maxWait").MustInt(int(cfg.MaxWait / time.Millisecond))
	cfg.MaxWait = time.Duration(maxWaitMs) * time.Millisecond

	return cfg, nil
}
