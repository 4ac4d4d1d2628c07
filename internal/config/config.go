package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatsync/internal/state"
)

const (
	userIdClaim   = "user-id"
	usernameClaim = "username"

	defaultRoom         = "general"
	defaultTypingWindow = time.Second
	wsPath              = "/ws"
)

var ErrMissingIdentity = errors.New("token carries no user id")

// Values are the settings that may come from the config file or from
// flags. Zero fields are unset.
type Values struct {
	Server       string        `toml:"server"`
	Token        string        `toml:"token"`
	Username     string        `toml:"username"`
	DefaultRoom  string        `toml:"default_room"`
	TypingWindow time.Duration `toml:"typing_window"`
	DebugAddr    string        `toml:"debug_addr"`
}

// Override returns v with every set field of o applied on top.
func (v Values) Override(o Values) Values {
	if o.Server != "" {
		v.Server = o.Server
	}
	if o.Token != "" {
		v.Token = o.Token
	}
	if o.Username != "" {
		v.Username = o.Username
	}
	if o.DefaultRoom != "" {
		v.DefaultRoom = o.DefaultRoom
	}
	if o.TypingWindow != 0 {
		v.TypingWindow = o.TypingWindow
	}
	if o.DebugAddr != "" {
		v.DebugAddr = o.DebugAddr
	}
	return v
}

// LoadFile reads a TOML config file. An empty path yields empty Values.
func LoadFile(path string) (Values, error) {
	var v Values
	if path == "" {
		return v, nil
	}

	md, err := toml.DecodeFile(path, &v)
	if err != nil {
		return Values{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Values{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}

	return v, nil
}

type Config struct {
	BaseURL      string
	WSURL        string
	Token        string
	Self         state.Identity
	DefaultRoom  string
	TypingWindow time.Duration
	DebugAddr    string
}

// NewConfig validates the server address and session token. The username
// is used only when the token does not carry one.
func NewConfig(serverURL, token, username string) (*Config, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	if token == "" {
		return nil, fmt.Errorf("session token cannot be empty")
	}

	base, ws, err := endpoints(serverURL)
	if err != nil {
		return nil, err
	}

	self, err := identityFromToken(token)
	if err != nil {
		return nil, fmt.Errorf("read session token: %w", err)
	}
	if self.Username == "" {
		self.Username = username
	}
	if self.Username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	return &Config{
		BaseURL:      base,
		WSURL:        ws,
		Token:        token,
		Self:         self,
		DefaultRoom:  defaultRoom,
		TypingWindow: defaultTypingWindow,
	}, nil
}

// FromValues builds a Config from merged file and flag values.
func FromValues(v Values) (*Config, error) {
	cfg, err := NewConfig(v.Server, v.Token, v.Username)
	if err != nil {
		return nil, err
	}

	if v.DefaultRoom != "" {
		cfg.DefaultRoom = v.DefaultRoom
	}
	if v.TypingWindow < 0 {
		return nil, fmt.Errorf("typing window cannot be negative")
	}
	if v.TypingWindow > 0 {
		cfg.TypingWindow = v.TypingWindow
	}
	cfg.DebugAddr = v.DebugAddr

	return cfg, nil
}

func endpoints(serverURL string) (string, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", "", fmt.Errorf("parse server URL: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("server URL %q has no host", serverURL)
	}

	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	ws.Path = strings.TrimRight(u.Path, "/") + wsPath
	ws.RawQuery = ""
	ws.Fragment = ""

	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), ws.String(), nil
}

// identityFromToken reads the local user from the session JWT. The
// signature belongs to the server and is not checked here.
func identityFromToken(token string) (state.Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return state.Identity{}, fmt.Errorf("parse token: %w", err)
	}

	id, ok := claims[userIdClaim].(float64)
	if !ok || id <= 0 {
		return state.Identity{}, ErrMissingIdentity
	}
	username, _ := claims[usernameClaim].(string)

	return state.Identity{Id: int(id), Username: username}, nil
}
