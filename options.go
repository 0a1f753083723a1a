package transsip

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/opd-ai/transsip/av/audio"
	"github.com/opd-ai/transsip/av/jitter"
	"github.com/opd-ai/transsip/engine"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// DefaultPort is the UDP port transsip listens on unless configured
// otherwise.
const DefaultPort = 30111

// settingsDir and settingsFile locate the per-user settings file.
const (
	settingsDir  = ".transsip"
	settingsFile = "settings"
)

// Options contains the configuration of a Phone.
type Options struct {
	ListenAddress string
	Port          uint16 // 0 binds an ephemeral port
	STUNServer    string
	STUNTimeout   time.Duration

	DialAttempts int
	DialInterval time.Duration
	RingInterval time.Duration
	PollInterval time.Duration

	AudioDevice  string
	EchoCancel   bool
	EchoTail     int
	CaptureGain  float64
	ToneFrames   int
	JitterMargin int

	// UserName is placed in outgoing ring records.
	UserName string

	// MetricsAddress enables the Prometheus endpoint when not empty.
	MetricsAddress string

	Logging LoggingOptions
}

// NewOptions creates a new Options with the default settings.
func NewOptions() *Options {
	return &Options{
		ListenAddress: "",
		Port:          DefaultPort,
		STUNServer:    "stun.l.google.com:19302",
		STUNTimeout:   time.Second,
		DialAttempts:  100,
		DialInterval:  1500 * time.Millisecond,
		RingInterval:  1500 * time.Millisecond,
		PollInterval:  250 * time.Millisecond,
		AudioDevice:   "default",
		EchoCancel:    true,
		EchoTail:      audio.DefaultEchoTail,
		CaptureGain:   1.0,
		ToneFrames:    40,
		JitterMargin:  jitter.DefaultMargin,
		UserName:      defaultUserName(),
		Logging:       DefaultLoggingOptions(),
	}
}

func defaultUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "anon"
}

// DefaultSettingsPath returns ~/.transsip/settings.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, settingsDir, settingsFile), nil
}

// LoadOptions reads an INI settings file on top of the defaults. A missing
// file yields the defaults; a value that does not parse is an error.
func LoadOptions(path string) (*Options, error) {
	opts := NewOptions()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "LoadOptions",
			"path":     path,
		}).Debug("No settings file, using defaults")
		return opts, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	if err := opts.apply(cfg); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadOptions",
		"path":     path,
	}).Info("Settings loaded")
	return opts, nil
}

// settingsReader collects the first conversion error while reading keys so
// apply can stay a flat list of assignments.
type settingsReader struct {
	cfg *ini.File
	err error
}

func (r *settingsReader) fail(section, key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("[%s] %s: %w", section, key, err)
	}
}

func (r *settingsReader) str(section, key string, dst *string) {
	sec := r.cfg.Section(section)
	if sec.HasKey(key) {
		*dst = sec.Key(key).String()
	}
}

func (r *settingsReader) integer(section, key string, dst *int) {
	sec := r.cfg.Section(section)
	if !sec.HasKey(key) {
		return
	}
	v, err := sec.Key(key).Int()
	if err != nil {
		r.fail(section, key, err)
		return
	}
	*dst = v
}

func (r *settingsReader) boolean(section, key string, dst *bool) {
	sec := r.cfg.Section(section)
	if !sec.HasKey(key) {
		return
	}
	v, err := sec.Key(key).Bool()
	if err != nil {
		r.fail(section, key, err)
		return
	}
	*dst = v
}

func (r *settingsReader) float(section, key string, dst *float64) {
	sec := r.cfg.Section(section)
	if !sec.HasKey(key) {
		return
	}
	v, err := sec.Key(key).Float64()
	if err != nil {
		r.fail(section, key, err)
		return
	}
	*dst = v
}

// millis reads a duration given in milliseconds.
func (r *settingsReader) millis(section, key string, dst *time.Duration) {
	ms := -1
	r.integer(section, key, &ms)
	if ms < 0 {
		return
	}
	*dst = time.Duration(ms) * time.Millisecond
}

func (o *Options) apply(cfg *ini.File) error {
	r := &settingsReader{cfg: cfg}

	port := int(o.Port)
	r.integer("network", "port", &port)
	if port < 0 || port > 0xffff {
		r.fail("network", "port", fmt.Errorf("%d out of range", port))
	} else {
		o.Port = uint16(port)
	}
	r.str("network", "listen_address", &o.ListenAddress)
	r.str("network", "stun_server", &o.STUNServer)
	r.millis("network", "stun_timeout_ms", &o.STUNTimeout)

	r.integer("engine", "dial_attempts", &o.DialAttempts)
	r.millis("engine", "dial_interval_ms", &o.DialInterval)
	r.millis("engine", "ring_interval_ms", &o.RingInterval)
	r.millis("engine", "poll_interval_ms", &o.PollInterval)

	r.str("audio", "device", &o.AudioDevice)
	r.boolean("audio", "echo_cancel", &o.EchoCancel)
	r.integer("audio", "echo_tail", &o.EchoTail)
	r.float("audio", "capture_gain", &o.CaptureGain)
	r.integer("audio", "tone_frames", &o.ToneFrames)
	r.integer("audio", "jitter_margin", &o.JitterMargin)

	r.str("logging", "level", &o.Logging.Level)
	r.str("logging", "file", &o.Logging.File)
	r.integer("logging", "max_size_mb", &o.Logging.MaxSizeMB)
	r.integer("logging", "max_backups", &o.Logging.MaxBackups)

	r.str("metrics", "address", &o.MetricsAddress)
	r.str("user", "name", &o.UserName)

	if r.err != nil {
		return r.err
	}
	return o.Validate()
}

// Validate checks the options that the engine configuration does not
// cover.
func (o *Options) Validate() error {
	if _, err := logrus.ParseLevel(o.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	return o.EngineConfig().Validate()
}

// EngineConfig converts the options into the engine's configuration.
func (o *Options) EngineConfig() engine.Config {
	return engine.Config{
		ListenAddress: net.JoinHostPort(o.ListenAddress, strconv.Itoa(int(o.Port))),
		STUNServer:    o.STUNServer,
		STUNTimeout:   o.STUNTimeout,
		DialAttempts:  o.DialAttempts,
		DialInterval:  o.DialInterval,
		RingInterval:  o.RingInterval,
		PollInterval:  o.PollInterval,
		AudioDevice:   o.AudioDevice,
		EchoCancel:    o.EchoCancel,
		EchoTail:      o.EchoTail,
		CaptureGain:   o.CaptureGain,
		ToneFrames:    o.ToneFrames,
		JitterMargin:  o.JitterMargin,
	}
}
