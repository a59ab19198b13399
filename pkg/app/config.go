package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/carthingy/carthingy/pkg/log"
)

const (
	configFlagName  = "config"
	envFileFlagName = "env-file"

	defaultEnvFile = ".env"
)

// addConfigFlag registers --config on fs.
func addConfigFlag(name string, fs *pflag.FlagSet) *string {
	var cfgFile string
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile,
		fmt.Sprintf("Read configuration from this file (default $HOME/.%s.yaml when present).", name))
	return &cfgFile
}

// addEnvFileFlag registers --env-file on fs.
func addEnvFileFlag(fs *pflag.FlagSet) *string {
	var envFile string
	fs.StringVar(&envFile, envFileFlagName, envFile,
		"Load environment variables from this file (default ./"+defaultEnvFile+" when present).")
	return &envFile
}

// loadEnvFile sets variables from a dotenv file without overriding the real environment.
// A missing default file is not an error.
func loadEnvFile(envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	log.Debug("Loaded environment file", "file", envFile)
	return nil
}

// loadConfig merges the config file, environment and flags into opts.
// Flags set on the command line win over the environment, which wins over the file.
func loadConfig(v *viper.Viper, name, cfgFile string, fs *pflag.FlagSet, opts any) error {
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("." + name)
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if opts == nil {
		return nil
	}
	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

// watchConfig logs every change of the loaded config file and calls onChange, if set.
func watchConfig(v *viper.Viper, onChange func(fsnotify.Event)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed", "file", filepath.Base(e.Name), "op", e.Op.String())
		if onChange != nil {
			onChange(e)
		}
	})
	v.WatchConfig()
}
