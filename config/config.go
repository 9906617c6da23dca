package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort                = "8123"
	DefaultICEGatheringTimeout = 2 * time.Second
	defaultRoomCodecs          = "audio:audio/opus/48000/100,video:video/vp8/90000/123"
)

// ErrConflictingPolicies is returned when more than one offer scheduling policy is selected.
var ErrConflictingPolicies = errors.New("send-offer-delay and chrome-workaround are mutually exclusive")

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	AdminPassword  string
	LogLevel       string
	LogFormat      string
	Redis          RedisConfig
	RTC            RTCConfig
	Negotiation    NegotiationConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether presence should be mirrored to Redis
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// RTCConfig holds the media engine settings
type RTCConfig struct {
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
	IPv4        bool
	IPv6        bool
	STUNURLs    []string
	Codecs      []Codec
}

// Codec is one entry of the room's codec list
type Codec struct {
	Kind        string
	MimeType    string
	ClockRate   uint32
	PayloadType uint8
}

func (c Codec) String() string {
	return fmt.Sprintf("%s/%d/%d", c.MimeType, c.ClockRate, c.PayloadType)
}

// NegotiationConfig selects how offers are scheduled
type NegotiationConfig struct {
	SendOfferDelay      time.Duration
	ChromeWorkaround    bool
	ICEGatheringTimeout time.Duration
}

// Load reads the environment and then applies command line overrides
func Load(args []string) (*Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (*Config, error) {
	getEnv := func(key, defaultValue string) string {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
		return defaultValue
	}

	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		AdminPassword:  getEnv("ADMIN_PASSWORD", ""),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		RTC: RTCConfig{
			AnnouncedIP: getEnv("RTC_ANNOUNCED_IP", ""),
			STUNURLs:    splitList(getEnv("RTC_STUN_URLS", "")),
		},
	}

	var err error
	minPort, err := parseUint16("RTC_MIN_PORT", getEnv("RTC_MIN_PORT", "40000"))
	if err != nil {
		return nil, err
	}
	maxPort, err := parseUint16("RTC_MAX_PORT", getEnv("RTC_MAX_PORT", "49999"))
	if err != nil {
		return nil, err
	}
	cfg.RTC.IPv4, err = parseBool("RTC_IPV4", getEnv("RTC_IPV4", "true"))
	if err != nil {
		return nil, err
	}
	cfg.RTC.IPv6, err = parseBool("RTC_IPV6", getEnv("RTC_IPV6", "false"))
	if err != nil {
		return nil, err
	}
	delayMs, err := strconv.Atoi(getEnv("SEND_OFFER_DELAY", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_OFFER_DELAY: %w", err)
	}
	chromeWorkaround, err := parseBool("CHROME_WORKAROUND", getEnv("CHROME_WORKAROUND", "false"))
	if err != nil {
		return nil, err
	}
	gatherTimeout, err := time.ParseDuration(getEnv("ICE_GATHERING_TIMEOUT", DefaultICEGatheringTimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid ICE_GATHERING_TIMEOUT: %w", err)
	}
	codecs := getEnv("ROOM_CODECS", defaultRoomCodecs)

	fs := flag.NewFlagSet("signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	minPortFlag := uint(minPort)
	maxPortFlag := uint(maxPort)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Signaling listen port (env PORT)")
	fs.StringVar(&cfg.RTC.AnnouncedIP, "ip", cfg.RTC.AnnouncedIP, "Announced IPv4 address for ICE candidates (env RTC_ANNOUNCED_IP)")
	fs.UintVar(&minPortFlag, "rtc-min-port", minPortFlag, "Min UDP port for media (env RTC_MIN_PORT)")
	fs.UintVar(&maxPortFlag, "rtc-max-port", maxPortFlag, "Max UDP port for media (env RTC_MAX_PORT)")
	fs.IntVar(&delayMs, "send-offer-delay", delayMs, "Delay in milliseconds before every offer is sent (env SEND_OFFER_DELAY)")
	fs.BoolVar(&chromeWorkaround, "chrome-workaround", chromeWorkaround, "Schedule offers by room size and join order (env CHROME_WORKAROUND)")
	fs.DurationVar(&gatherTimeout, "ice-gathering-timeout", gatherTimeout, "Max wait for ICE gathering before an offer is abandoned")
	fs.StringVar(&codecs, "room-codecs", codecs, "Room codecs as kind:mime/clockRate/payloadType,... (env ROOM_CODECS)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if minPortFlag > 65535 || maxPortFlag > 65535 {
		return nil, fmt.Errorf("rtc port range %d-%d out of bounds", minPortFlag, maxPortFlag)
	}
	cfg.RTC.MinPort = uint16(minPortFlag)
	cfg.RTC.MaxPort = uint16(maxPortFlag)
	if delayMs < 0 {
		return nil, fmt.Errorf("send-offer-delay must not be negative, got %d", delayMs)
	}
	cfg.Negotiation = NegotiationConfig{
		SendOfferDelay:      time.Duration(delayMs) * time.Millisecond,
		ChromeWorkaround:    chromeWorkaround,
		ICEGatheringTimeout: gatherTimeout,
	}
	if cfg.RTC.Codecs, err = ParseCodecs(codecs); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for settings that cannot be combined
func (c *Config) Validate() error {
	if c.Negotiation.SendOfferDelay > 0 && c.Negotiation.ChromeWorkaround {
		return ErrConflictingPolicies
	}
	if c.Negotiation.ICEGatheringTimeout <= 0 {
		return fmt.Errorf("ice gathering timeout must be positive, got %s", c.Negotiation.ICEGatheringTimeout)
	}
	if c.RTC.MinPort > c.RTC.MaxPort {
		return fmt.Errorf("rtc port range %d-%d is inverted", c.RTC.MinPort, c.RTC.MaxPort)
	}
	if !c.RTC.IPv4 && !c.RTC.IPv6 {
		return errors.New("at least one of RTC_IPV4 and RTC_IPV6 must be enabled")
	}
	if c.RTC.AnnouncedIP != "" {
		ip := net.ParseIP(c.RTC.AnnouncedIP)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("announced ip %q is not an IPv4 address", c.RTC.AnnouncedIP)
		}
	}
	return nil
}

// ParseCodecs parses "kind:mime/clockRate/payloadType" entries separated by commas
func ParseCodecs(raw string) ([]Codec, error) {
	var codecs []Codec
	for _, entry := range splitList(raw) {
		kind, rest, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid codec %q: missing kind", entry)
		}
		kind = strings.ToLower(kind)
		if kind != "audio" && kind != "video" {
			return nil, fmt.Errorf("invalid codec %q: kind must be audio or video", entry)
		}
		parts := strings.Split(rest, "/")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid codec %q: want kind:type/name/clockRate/payloadType", entry)
		}
		clockRate, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid codec %q clock rate: %w", entry, err)
		}
		payloadType, err := strconv.ParseUint(parts[3], 10, 7)
		if err != nil {
			return nil, fmt.Errorf("invalid codec %q payload type: %w", entry, err)
		}
		codecs = append(codecs, Codec{
			Kind:        kind,
			MimeType:    parts[0] + "/" + parts[1],
			ClockRate:   uint32(clockRate),
			PayloadType: uint8(payloadType),
		})
	}
	if len(codecs) == 0 {
		return nil, errors.New("at least one room codec is required")
	}
	return codecs, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseUint16(key, raw string) (uint16, error) {
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return uint16(v), nil
}

func parseBool(key, raw string) (bool, error) {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
