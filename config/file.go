package config

// file.go - config file discovery and parsing.
//
// Discovery order in the working directory:
//   1. an explicit path (--config, or LT2_CONFIG)
//   2. lt2.config.yaml, lt2.config.yml, lt2.config.json, lt2.config.jsonc
//   3. the "lt2" object of package.json
//
// YAML files are parsed with yaml.v3.  JSON files may carry comments
// and trailing commas; they are cleaned with jsonc before decoding.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// PackageJSONSource names the package.json fallback in [Source].
const PackageJSONSource = "package.json#lt2"

// configFileNames are tried in order when no path is given.
var configFileNames = []string{
	"lt2.config.yaml",
	"lt2.config.yml",
	"lt2.config.json",
	"lt2.config.jsonc",
}

// LoadFile finds and applies a config file onto cfg.  explicit, when
// non-empty, must exist.  It returns the source that was applied, or ""
// when no config file was found.
func LoadFile(dir, explicit string, cfg *Config) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "_CONFIG")
	}

	path, err := findConfigFile(dir, explicit)
	if err != nil {
		return "", err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read config %s: %w", path, err)
		}
		raw, err := decode(path, data)
		if err != nil {
			return "", fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := apply(raw, cfg); err != nil {
			return "", fmt.Errorf("config %s: %w", path, err)
		}
		return path, nil
	}

	raw, ok := readPackageJSON(dir)
	if !ok {
		return "", nil
	}
	if err := apply(raw, cfg); err != nil {
		return "", fmt.Errorf("%s: %w", PackageJSONSource, err)
	}
	return PackageJSONSource, nil
}

func findConfigFile(dir, explicit string) (string, error) {
	if explicit != "" {
		p := explicit
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("config file not found at: %s", p)
			}
			return "", err
		}
		return p, nil
	}
	for _, name := range configFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// decode parses a file into a generic map based on its extension.
func decode(path string, data []byte) (map[string]interface{}, error) {
	raw := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// readPackageJSON returns the "lt2" object of dir/package.json.  A
// missing or unreadable package.json is not an error.
func readPackageJSON(dir string) (map[string]interface{}, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, false
	}
	var pkg struct {
		LT2 map[string]interface{} `json:"lt2"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &pkg); err != nil || pkg.LT2 == nil {
		return nil, false
	}
	return pkg.LT2, true
}

// apply normalises the keys of raw and decodes the result onto cfg.
// Keys absent from raw leave cfg untouched.
func apply(raw map[string]interface{}, cfg *Config) error {
	norm := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		norm[normalizeKey(k)] = v
	}
	// Round-tripping through YAML reuses its decoding of durations
	// ("1500ms") and numeric conversions.
	out, err := yaml.Marshal(norm)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(out, cfg)
}

// normalizeKey maps remoteHost, remote-host and remote_host to
// remote_host.  Runs of capitals are treated as one word.
func normalizeKey(k string) string {
	var b strings.Builder
	prevUpper := false
	for i, r := range k {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
			prevUpper = false
		case unicode.IsUpper(r):
			if i > 0 && !prevUpper {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevUpper = true
		default:
			b.WriteRune(r)
			prevUpper = false
		}
	}
	return b.String()
}
