package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Chrome   ChromeConfig   `yaml:"chrome"`
	Recorder RecorderConfig `yaml:"recorder"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port         string `yaml:"port"`
	Host         string `yaml:"host"`
	Mode         string `yaml:"mode"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver is "mysql" or "sqlite".
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	Charset    string `yaml:"charset"`
	SQLitePath string `yaml:"sqlite_path"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireTime int    `yaml:"expire_time"`
	// PasswordHash is the bcrypt hash API clients log in against. Empty
	// disables authentication.
	PasswordHash string `yaml:"password_hash"`
}

type ChromeConfig struct {
	HeadlessMode bool   `yaml:"headless"`
	ExecPath     string `yaml:"exec_path"`
	StartURL     string `yaml:"start_url"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
}

type RecorderConfig struct {
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	InjectRetries int           `yaml:"inject_retries"`
	InjectBackoff time.Duration `yaml:"inject_backoff"`
	ReadyDelay    time.Duration `yaml:"ready_delay"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	// LivenessSpec is the cron spec for the periodic observer sweep. Empty
	// disables the sweep.
	LivenessSpec string `yaml:"liveness_spec"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "0.0.0.0",
			Mode:         "debug",
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			Host:       "127.0.0.1",
			Port:       "3306",
			Username:   "root",
			Password:   "root",
			Database:   "actionrecorder",
			Charset:    "utf8mb4",
			SQLitePath: "actionrecorder.db",
		},
		JWT: JWTConfig{
			Secret:     "action-recorder-secret-key",
			ExpireTime: 24 * 3600,
		},
		Chrome: ChromeConfig{
			StartURL: "about:blank",
			Width:    1366,
			Height:   768,
		},
		Recorder: RecorderConfig{
			ProbeTimeout:  time.Second,
			InjectRetries: 2,
			InjectBackoff: 100 * time.Millisecond,
			ReadyDelay:    100 * time.Millisecond,
			DedupWindow:   500 * time.Millisecond,
			PollInterval:  100 * time.Millisecond,
			LivenessSpec:  "@every 30s",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by CONFIG_FILE (if any), then environment variables.
func LoadConfig() (*Config, error) {
	config := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Mode = getEnv("SERVER_MODE", c.Server.Mode)
	c.Server.ReadTimeout = getEnvAsInt("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsInt("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.Username = getEnv("DB_USERNAME", c.Database.Username)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.Charset = getEnv("DB_CHARSET", c.Database.Charset)
	c.Database.SQLitePath = getEnv("DB_SQLITE_PATH", c.Database.SQLitePath)

	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)
	c.JWT.ExpireTime = getEnvAsInt("JWT_EXPIRE_TIME", c.JWT.ExpireTime)
	c.JWT.PasswordHash = getEnv("API_PASSWORD_HASH", c.JWT.PasswordHash)

	c.Chrome.HeadlessMode = getEnvAsBool("CHROME_HEADLESS", c.Chrome.HeadlessMode)
	c.Chrome.ExecPath = getEnv("CHROME_EXEC_PATH", c.Chrome.ExecPath)
	c.Chrome.StartURL = getEnv("CHROME_START_URL", c.Chrome.StartURL)
	c.Chrome.Width = getEnvAsInt("CHROME_WIDTH", c.Chrome.Width)
	c.Chrome.Height = getEnvAsInt("CHROME_HEIGHT", c.Chrome.Height)

	c.Recorder.ProbeTimeout = getEnvAsDuration("RECORDER_PROBE_TIMEOUT", c.Recorder.ProbeTimeout)
	c.Recorder.InjectRetries = getEnvAsInt("RECORDER_INJECT_RETRIES", c.Recorder.InjectRetries)
	c.Recorder.InjectBackoff = getEnvAsDuration("RECORDER_INJECT_BACKOFF", c.Recorder.InjectBackoff)
	c.Recorder.ReadyDelay = getEnvAsDuration("RECORDER_READY_DELAY", c.Recorder.ReadyDelay)
	c.Recorder.DedupWindow = getEnvAsDuration("RECORDER_DEDUP_WINDOW", c.Recorder.DedupWindow)
	c.Recorder.PollInterval = getEnvAsDuration("RECORDER_POLL_INTERVAL", c.Recorder.PollInterval)
	c.Recorder.LivenessSpec = getEnv("RECORDER_LIVENESS_SPEC", c.Recorder.LivenessSpec)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = getEnv("LOG_ENCODING", c.Log.Encoding)
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Recorder.ProbeTimeout <= 0 {
		return fmt.Errorf("recorder probe timeout must be positive, got %s", c.Recorder.ProbeTimeout)
	}
	if c.Recorder.InjectRetries < 0 {
		return fmt.Errorf("recorder inject retries must not be negative, got %d", c.Recorder.InjectRetries)
	}
	if c.Recorder.PollInterval <= 0 {
		return fmt.Errorf("recorder poll interval must be positive, got %s", c.Recorder.PollInterval)
	}
	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
