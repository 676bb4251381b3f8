package state

type DeprecatedOption struct {
	Name        string
	Description string
}

// GetDeprecatedConfigOptions reports removed options and carries their values
// over to their replacements.
func GetDeprecatedConfigOptions(cfg *Config) []DeprecatedOption {
	returnValue := []DeprecatedOption{}

	if path, found := cfg.Database["path"]; found {
		returnValue = append(returnValue, DeprecatedOption{
			Name:        "[database.path]",
			Description: "It has been replaced with [database.url]",
		})

		if cfg.Database["url"] == "" {
			cfg.Database["url"] = "file:" + path + "?_foreign_keys=on"
		}
		delete(cfg.Database, "path")
	}

	if cfg.Database["type"] == "sqlite3" {
		returnValue = append(returnValue, DeprecatedOption{
			Name:        "[database.type] = sqlite3",
			Description: "Use \"sqlite\" instead",
		})
		cfg.Database["type"] = "sqlite"
	}

	if len(returnValue) > 0 {
		return returnValue
	} else {
		return nil
	}
}
