package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Download struct {
		StagingDir    string
		OutputDir     string
		MaxConcurrent int
		MaxAttempts   int
		RetryBase     time.Duration
		MinFreeDisk   uint64
	}
	Media struct {
		FFmpegBin  string
		FFprobeBin string
		SpeedLimit string
		Proxy      string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("CLIPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/clipsync.db")
	v.SetDefault("download.stagingdir", "data/staging")
	v.SetDefault("download.outputdir", "data/downloads")
	v.SetDefault("download.maxconcurrent", 2)
	v.SetDefault("download.maxattempts", 3)
	v.SetDefault("download.retrybase", "2s")
	v.SetDefault("download.minfreedisk", 500*1024*1024)
	v.SetDefault("media.ffmpegbin", "ffmpeg")
	v.SetDefault("media.ffprobebin", "ffprobe")
	v.SetDefault("media.speedlimit", "")
	v.SetDefault("media.proxy", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Download.MaxConcurrent < 1 {
		return Config{}, fmt.Errorf("download.maxconcurrent must be at least 1, got %d", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("download.maxattempts must be at least 1, got %d", cfg.Download.MaxAttempts)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
