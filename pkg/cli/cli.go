package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/config"
)

// DefaultEnvFile is loaded when no --env-file is given and the file exists.
const DefaultEnvFile = ".env"

// Config holds the process-level settings shared by all commands.
type Config struct {
	Debug      bool
	ConfigPath string
	EnvFile    string
}

// DefaultConfig seeds the flag defaults from the environment.
func DefaultConfig() Config {
	return Config{
		Debug:      getEnvBool("RELAY_DEBUG", false),
		ConfigPath: getEnvString("RELAY_CONFIG_PATH", config.DefaultConfigPath),
		EnvFile:    getEnvString("RELAY_ENV_FILE", ""),
	}
}

// LoadEnvFile exports the variables of c.EnvFile into the process environment
// without overriding ones already set. A missing default .env is not an error;
// a missing explicitly named file is.
func (c *Config) LoadEnvFile() error {
	path := c.EnvFile
	if path == "" {
		path = DefaultEnvFile
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"config_path", c.ConfigPath,
		"env_file", c.EnvFile,
	)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
