package state

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDatabaseURL is used when database.type is sqlite and no url is set.
const DefaultDatabaseURL = "file:wacrm.db?_foreign_keys=on"

type Config struct {
	Path         string `yaml:"-"`
	TimeZone     string `yaml:"time_zone"`
	DebugMode    bool   `yaml:"debug_mode"`
	SilentDbLogs bool   `yaml:"silent_db_logs"`

	API struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address"`
	} `yaml:"api"`

	WhatsApp struct {
		Enabled       bool `yaml:"enabled"`
		LoginDatabase struct {
			Type string `yaml:"type"`
			URL  string `yaml:"url"`
		} `yaml:"login_database"`
		QrCodePath      string   `yaml:"qr_code_path"`
		IgnoreChats     []string `yaml:"ignore_chats"`
		SkipGroups      bool     `yaml:"skip_groups"`
		SkipHistorySync bool     `yaml:"skip_history_sync"`
	} `yaml:"whatsapp"`

	// type, url, and for postgres/mysql optionally host, port, user, password, dbname, sslmode
	Database map[string]string `yaml:"database"`
}

func (cfg *Config) LoadConfig() error {
	configFilePath := cfg.Path

	if _, err := os.Stat(configFilePath); err != nil {
		return fmt.Errorf("error with config file path : %s", err)
	}

	configFile, err := os.Open(configFilePath)
	if err != nil {
		return fmt.Errorf("could not open config file : %s", err)
	}
	defer configFile.Close()

	configBody, err := io.ReadAll(configFile)
	if err != nil {
		return fmt.Errorf("could not read config file : %s", err)
	}

	err = yaml.Unmarshal(configBody, cfg)
	if err != nil {
		return fmt.Errorf("could not parse config file : %s", err)
	}

	deprecatedOptions := GetDeprecatedConfigOptions(cfg)
	if deprecatedOptions != nil {
		fmt.Println("The following options have been deprecated/removed:")
		for num, opt := range deprecatedOptions {
			fmt.Printf("%d. %s: %s\n", num+1, opt.Name, opt.Description)
		}
	}

	return nil
}

func (cfg *Config) SaveConfig() error {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("could not marshal config : %s", err)
	}

	if err = os.WriteFile(cfg.Path, body, 0o600); err != nil {
		return fmt.Errorf("could not write config file : %s", err)
	}
	return nil
}

func (cfg *Config) SetDefaults() {
	cfg.Path = "config.yaml"
	cfg.TimeZone = "UTC"
	cfg.SilentDbLogs = true

	cfg.API.Enabled = true
	cfg.API.ListenAddress = ":8080"

	cfg.WhatsApp.LoginDatabase.Type = "sqlite3"
	cfg.WhatsApp.LoginDatabase.URL = "file:wacrm_session.db?_foreign_keys=on"

	// url stays unset so it cannot shadow the discrete postgres/mysql fields.
	cfg.Database = map[string]string{
		"type": "sqlite",
	}
}

// ApplyEnvOverrides loads a .env file when one exists and lets WACRM_* variables
// override the values read from the YAML file.
func (cfg *Config) ApplyEnvOverrides(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not load env file : %s", err)
	}

	if cfg.Database == nil {
		cfg.Database = map[string]string{}
	}
	if v := os.Getenv("WACRM_DATABASE_TYPE"); v != "" {
		cfg.Database["type"] = v
	}
	if v := os.Getenv("WACRM_DATABASE_URL"); v != "" {
		cfg.Database["url"] = v
	}
	if v := os.Getenv("WACRM_LISTEN_ADDRESS"); v != "" {
		cfg.API.ListenAddress = v
	}
	if v := os.Getenv("WACRM_TIME_ZONE"); v != "" {
		cfg.TimeZone = v
	}
	return nil
}

func (cfg *Config) Location() (*time.Location, error) {
	if cfg.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(cfg.TimeZone)
}
