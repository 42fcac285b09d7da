// Package config resolves server and client settings. Every value is taken
// from, in order: an explicit option (usually a CLI flag), an environment
// variable, then a built-in default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"huddle/internal/peer"
)

// Defaults.
const (
	DefaultAddr      = ":8080"
	DefaultDB        = "huddle.db"
	DefaultPublicDir = "public"
	DefaultServerURL = "http://localhost:8080"
	DefaultName      = "guest"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
)

// ServerOptions are explicit overrides, typically from flags. Empty strings and
// nil bools mean "not set".
type ServerOptions struct {
	Addr         string
	DBPath       string
	PublicDir    string
	WTAddr       string
	AIURL        string
	AIModel      string
	AIOffline    *bool
	LinkPreviews *bool
}

// ServerConfig is the resolved server configuration.
type ServerConfig struct {
	Addr         string
	DBPath       string
	PublicDir    string
	WTAddr       string // empty disables WebTransport
	AIURL        string
	AIModel      string
	AIKey        string
	AIOffline    bool
	LinkPreviews bool
}

// LoadServer resolves the server configuration.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	aiOffline, err := pickBool(opts.AIOffline, "HUDDLE_AI_OFFLINE", false)
	if err != nil {
		return nil, err
	}
	linkPreviews, err := pickBool(opts.LinkPreviews, "HUDDLE_LINK_PREVIEWS", true)
	if err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		Addr:         pick(opts.Addr, "HUDDLE_ADDR", DefaultAddr),
		DBPath:       pick(opts.DBPath, "HUDDLE_DB", DefaultDB),
		PublicDir:    pick(opts.PublicDir, "HUDDLE_PUBLIC", DefaultPublicDir),
		WTAddr:       pick(opts.WTAddr, "HUDDLE_WT_ADDR", ""),
		AIURL:        pick(opts.AIURL, "HUDDLE_AI_URL", ""),
		AIModel:      pick(opts.AIModel, "HUDDLE_AI_MODEL", ""),
		AIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		AIOffline:    aiOffline,
		LinkPreviews: linkPreviews,
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	return cfg, nil
}

// ClientOptions are explicit client overrides.
type ClientOptions struct {
	ServerURL  string
	Name       string
	STUN       string
	TURN       string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// ClientConfig is the resolved client configuration.
type ClientConfig struct {
	ServerURL  string
	Name       string
	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// LoadClient resolves the client configuration.
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL:  pick(opts.ServerURL, "HUDDLE_SERVER", DefaultServerURL),
		Name:       pick(opts.Name, "HUDDLE_NAME", DefaultName),
		STUN:       splitList(pick(opts.STUN, "STUN_SERVER", DefaultSTUN)),
		TURN:       splitList(pick(opts.TURN, "TURN_SERVER", "")),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay,
	}
	if len(cfg.TURN) > 0 && (cfg.TURNUser == "" || cfg.TURNPass == "") {
		return nil, fmt.Errorf("TURN server %s needs a username and password", cfg.TURN[0])
	}
	if cfg.ForceRelay && len(cfg.TURN) == 0 {
		return nil, fmt.Errorf("force relay requires a TURN server")
	}
	return cfg, nil
}

// ICE returns the ICE server settings for the peer manager.
func (c *ClientConfig) ICE() peer.ICEConfig {
	return peer.ICEConfig{
		STUN:       c.STUN,
		TURN:       c.TURN,
		TURNUser:   c.TURNUser,
		TURNPass:   c.TURNPass,
		ForceRelay: c.ForceRelay,
	}
}

func pick(flagValue, envKey, def string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	return def
}

func pickBool(flagValue *bool, envKey string, def bool) (bool, error) {
	if flagValue != nil {
		return *flagValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", envKey, err)
	}
	return v, nil
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
