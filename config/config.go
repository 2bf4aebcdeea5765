// mediatranscoder/config/config.go
package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Fallbacks used when the garbage collector settings cannot be parsed.
const (
	DefaultGCInterval = 3600 * time.Second
	DefaultDirBudget  = int64(1_000_000_000)
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	FFBin            string        `mapstructure:"FF_BIN"`
	FFTimeout        time.Duration `mapstructure:"FF_TIMEOUT"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthToken        string        `mapstructure:"AUTH_TOKEN"`
	AuthSecret       string        `mapstructure:"AUTH_SECRET"`

	SourceDir     string `mapstructure:"PATH_TO_FILE"`
	TranscodedDir string `mapstructure:"PATH_TO_TRANSCODED_FILE"`
	// Kept as raw strings and parsed on use so a bad value falls back
	// instead of failing startup.
	SourceSizeThreshold     string `mapstructure:"FILE_SIZE_THRESHOLD"`
	TranscodedSizeThreshold string `mapstructure:"TRANSCODED_FILE_SIZE_THRESHOLD"`
	GCIntervalRaw           string `mapstructure:"GARBAGE_COLLECTOR_INTERVAL"`

	PortalURL        string        `mapstructure:"PORTAL_URL"`
	PortalEncryptURL string        `mapstructure:"PORTAL_ENCRYPT_URL"`
	PortalAuthToken  string        `mapstructure:"PORTAL_AUTH_TOKEN"`
	IPFSGateway      string        `mapstructure:"IPFS_GATEWAY"`
	IPFSAPIURL       string        `mapstructure:"IPFS_API_URL"`
	HTTPTimeout      time.Duration `mapstructure:"HTTP_TIMEOUT"`

	MediaFormatsFile string `mapstructure:"MEDIA_FORMATS_FILE"`
	LockFile         string `mapstructure:"LOCK_FILE"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`
	LogFormat        string `mapstructure:"LOG_FORMAT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8000")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FF_TIMEOUT", "2h")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "1GB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_TOKEN", "")
	vp.SetDefault("AUTH_SECRET", "")

	vp.SetDefault("PATH_TO_FILE", "./data/source/")
	vp.SetDefault("PATH_TO_TRANSCODED_FILE", "./data/transcoded/")
	vp.SetDefault("FILE_SIZE_THRESHOLD", "1000000000")
	vp.SetDefault("TRANSCODED_FILE_SIZE_THRESHOLD", "1000000000")
	vp.SetDefault("GARBAGE_COLLECTOR_INTERVAL", "3600")

	vp.SetDefault("PORTAL_URL", "https://s5.vup.cx")
	vp.SetDefault("PORTAL_ENCRYPT_URL", "https://s5.vup.cx")
	vp.SetDefault("PORTAL_AUTH_TOKEN", "")
	vp.SetDefault("IPFS_GATEWAY", "https://ipfs.io")
	vp.SetDefault("IPFS_API_URL", "http://127.0.0.1:5001")
	vp.SetDefault("HTTP_TIMEOUT", "30m")

	vp.SetDefault("MEDIA_FORMATS_FILE", "media_formats.json")
	vp.SetDefault("LOCK_FILE", "./data/transcoder.lock")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "auto")

	vp.SetConfigName("transcoder_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/transcoder/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("TRANSCODER")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GCInterval returns the sweep interval. Plain integers are seconds; Go
// duration strings are accepted too. ok is false when the fallback was used.
func (c *Config) GCInterval() (d time.Duration, ok bool) {
	raw := strings.TrimSpace(c.GCIntervalRaw)
	if secs, err := strconv.ParseUint(raw, 10, 64); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d, true
	}
	return DefaultGCInterval, false
}

// SourceBudget is the size budget of the source cache directory.
func (c *Config) SourceBudget() (int64, bool) {
	return parseBudget(c.SourceSizeThreshold)
}

// TranscodedBudget is the size budget of the transcoded cache directory.
func (c *Config) TranscodedBudget() (int64, bool) {
	return parseBudget(c.TranscodedSizeThreshold)
}

func parseBudget(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return DefaultDirBudget, false
		}
		return n, true
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(raw)); err == nil {
		return int64(size.Bytes()), true
	}
	return DefaultDirBudget, false
}
