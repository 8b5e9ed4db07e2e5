package save

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	ConfigPathEnv = "PDR_CONFIG_PATH"

	xdgConfigFile = "rewardplay/config.yaml"
)

var ErrConfigNotFound = errors.New("config file not found")

const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

type Config struct {
	TwitchClientID     string   `yaml:"twitch_client_id" validate:"required"`
	TwitchClientSecret string   `yaml:"twitch_client_secret" validate:"required"`
	BroadcasterLogin   string   `yaml:"broadcaster_login" validate:"required"`
	RedirectURI        string   `yaml:"redirect_uri" validate:"required,url"`
	Port               int      `yaml:"port" validate:"gt=0,lte=65535"`
	Scopes             []string `yaml:"scopes" validate:"min=1,dive,required"`

	TokensFile string `yaml:"tokens_file" validate:"required"`
	TokenStore string `yaml:"token_store" validate:"oneof=file keyring"`

	OBSAddress         string `yaml:"obs_address" validate:"required"`
	OBSPassword        string `yaml:"obs_password"`
	OBSMediaSourceName string `yaml:"obs_media_source_name" validate:"required"`

	ClipsDir    string   `yaml:"clips_dir" validate:"required"`
	TitlePrefix string   `yaml:"title_prefix" validate:"required"`
	Extensions  []string `yaml:"extensions" validate:"min=1,dive,startswith=."`
	CooldownMs  int      `yaml:"cooldown_ms" validate:"gte=0"`
	DryRun      bool     `yaml:"dry_run"`

	// Path is the file the config was read from.
	Path string `yaml:"-"`
}

func BuildDefaultConfig() Config {
	return Config{
		RedirectURI:        "http://localhost:3000/callback",
		Port:               3000,
		Scopes:             []string{"channel:read:redemptions"},
		TokensFile:         "./tokens.json",
		TokenStore:         TokenStoreFile,
		OBSAddress:         "ws://127.0.0.1:4455",
		OBSMediaSourceName: "RewardClip",
		ClipsDir:           "./clips",
		TitlePrefix:        "Play:",
		Extensions:         []string{".mp4", ".webm", ".mov", ".mkv"},
		CooldownMs:         1500,
	}
}

func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return err
	}

	return nil
}

// CandidateConfigPaths lists where LoadConfig looks for a config file, in order.
func CandidateConfigPaths(explicitPath string) []string {
	if explicitPath != "" {
		if abs, err := filepath.Abs(explicitPath); err == nil {
			return []string{abs}
		}
		return []string{explicitPath}
	}

	var candidates []string
	for _, rel := range []string{"config/runtime.config.yaml", "config/runtime.config.json"} {
		if abs, err := filepath.Abs(rel); err == nil {
			candidates = append(candidates, abs)
		}
	}

	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates,
			filepath.Join(filepath.Dir(exe), "runtime.config.yaml"),
			filepath.Join(filepath.Dir(exe), "runtime.config.json"),
		)
	}

	if p, err := xdg.SearchConfigFile(xdgConfigFile); err == nil {
		candidates = append(candidates, p)
	}

	return candidates
}

// LoadConfig reads the first existing candidate file, layers it over the defaults,
// applies environment overrides and validates the result.
func LoadConfig(fs afero.Fs, explicitPath string, lookupEnv func(string) (string, bool)) (Config, error) {
	candidates := CandidateConfigPaths(explicitPath)

	var path string
	for _, c := range candidates {
		if ok, _ := afero.Exists(fs, c); ok {
			path = c
			break
		}
	}

	if path == "" {
		return Config{}, fmt.Errorf("%w: set %s or place runtime.config.yaml next to the executable, tried: %s",
			ErrConfigNotFound, ConfigPathEnv, strings.Join(candidates, ", "))
	}

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, err
	}

	cfg := BuildDefaultConfig()
	if err := decodeConfig(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if lookupEnv != nil {
		if err := applyEnv(&cfg, lookupEnv); err != nil {
			return Config{}, err
		}
	}

	if cfg.TokensFile, err = filepath.Abs(cfg.TokensFile); err != nil {
		return Config{}, err
	}

	if cfg.ClipsDir, err = filepath.Abs(cfg.ClipsDir); err != nil {
		return Config{}, err
	}

	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// camelCaseKeys maps the keys of runtime.config.json files to their config keys.
var camelCaseKeys = map[string]string{
	"twitchClientId":     "twitch_client_id",
	"twitchClientSecret": "twitch_client_secret",
	"broadcasterLogin":   "broadcaster_login",
	"redirectUri":        "redirect_uri",
	"port":               "port",
	"scopes":             "scopes",
	"tokensFile":         "tokens_file",
	"tokenStore":         "token_store",
	"obsAddress":         "obs_address",
	"obsPassword":        "obs_password",
	"obsMediaSourceName": "obs_media_source_name",
	"clipsDir":           "clips_dir",
	"titlePrefix":        "title_prefix",
	"extensions":         "extensions",
	"cooldownMs":         "cooldown_ms",
	"dryRun":             "dry_run",
}

// decodeConfig decodes a YAML or JSON document over cfg. camelCase keys are
// accepted as aliases, unknown keys are an error.
func decodeConfig(b []byte, cfg *Config) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}

	if len(doc.Content) == 0 {
		return nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return errors.New("config must be a mapping of keys to values")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if name, ok := camelCaseKeys[root.Content[i].Value]; ok {
			root.Content[i].Value = name
		}
	}

	normalized, err := yaml.Marshal(root)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(normalized))
	dec.KnownFields(true)

	return dec.Decode(cfg)
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	list := func(key string, dst *[]string) {
		v, ok := lookupEnv(key)
		if !ok || v == "" {
			return
		}

		var parts []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}

		if len(parts) > 0 {
			*dst = parts
		}
	}

	num := func(key string, dst *int) error {
		v, ok := lookupEnv(key)
		if !ok || v == "" {
			return nil
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}

		*dst = n
		return nil
	}

	str("TWITCH_CLIENT_ID", &cfg.TwitchClientID)
	str("TWITCH_CLIENT_SECRET", &cfg.TwitchClientSecret)
	str("BROADCASTER_LOGIN", &cfg.BroadcasterLogin)
	str("REDIRECT_URI", &cfg.RedirectURI)
	list("SCOPES", &cfg.Scopes)
	str("TOKENS_FILE", &cfg.TokensFile)
	str("TOKEN_STORE", &cfg.TokenStore)
	str("OBS_ADDRESS", &cfg.OBSAddress)
	str("OBS_PASSWORD", &cfg.OBSPassword)
	str("OBS_MEDIA_SOURCE_NAME", &cfg.OBSMediaSourceName)
	str("CLIPS_DIR", &cfg.ClipsDir)
	str("TITLE_PREFIX", &cfg.TitlePrefix)
	list("EXTENSIONS", &cfg.Extensions)

	if err := num("PORT", &cfg.Port); err != nil {
		return err
	}

	if err := num("COOLDOWN_MS", &cfg.CooldownMs); err != nil {
		return err
	}

	if v, ok := lookupEnv("DRY_RUN"); ok && v != "" {
		cfg.DryRun = v == "1" || strings.EqualFold(v, "true")
	}

	return nil
}
