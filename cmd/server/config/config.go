package config

import (
	"fmt"
	"time"

	"github.com/goliatone/go-errors"
)

// BaseConfig is the root configuration loaded by go-config from files and
// the environment.
type BaseConfig struct {
	Server      Server      `json:"server" yaml:"server"`
	Auth        Auth        `json:"auth" yaml:"auth"`
	Persistence Persistence `json:"persistence" yaml:"persistence"`
	Mail        Mail        `json:"mail" yaml:"mail"`
}

func (a *BaseConfig) Validate() error {
	if a.Auth.SigningKey == "" {
		return errors.New("auth.signing_key is required", errors.CategoryValidation)
	}
	if a.Persistence.DSN == "" {
		return errors.New("persistence.dsn is required", errors.CategoryValidation)
	}
	return nil
}

func (a *BaseConfig) GetServer() *Server           { return &a.Server }
func (a *BaseConfig) GetAuth() *Auth               { return &a.Auth }
func (a *BaseConfig) GetPersistence() *Persistence { return &a.Persistence }
func (a *BaseConfig) GetMail() *Mail               { return &a.Mail }

type Server struct {
	Address string `json:"address" yaml:"address"`
}

func (s Server) GetAddress() string {
	if s.Address == "" {
		return ":8572"
	}
	return s.Address
}

// Auth carries token and secret settings. It satisfies the auth package
// Config interface.
type Auth struct {
	SigningKey               string   `json:"signing_key" yaml:"signing_key"`
	SigningMethod            string   `json:"signing_method" yaml:"signing_method"`
	ContextKey               string   `json:"context_key" yaml:"context_key"`
	TokenExpiration          int      `json:"token_expiration" yaml:"token_expiration"`
	ExtendedTokenDuration    int      `json:"extended_token_duration" yaml:"extended_token_duration"`
	AuthScheme               string   `json:"auth_scheme" yaml:"auth_scheme"`
	Issuer                   string   `json:"issuer" yaml:"issuer"`
	Audience                 []string `json:"audience" yaml:"audience"`
	SecretValidityExpression string   `json:"secret_validity" yaml:"secret_validity"`
	VerifiedRedirect         string   `json:"verified_redirect" yaml:"verified_redirect"`
}

func (a *Auth) GetSigningKey() string { return a.SigningKey }

func (a *Auth) GetSigningMethod() string {
	if a.SigningMethod == "" {
		return "HS256"
	}
	return a.SigningMethod
}

func (a *Auth) GetContextKey() string {
	if a.ContextKey == "" {
		return "user"
	}
	return a.ContextKey
}

func (a *Auth) GetTokenExpiration() int { return a.TokenExpiration }

func (a *Auth) GetExtendedTokenDuration() int { return a.ExtendedTokenDuration }

func (a *Auth) GetAuthScheme() string {
	if a.AuthScheme == "" {
		return "Bearer"
	}
	return a.AuthScheme
}

func (a *Auth) GetIssuer() string { return a.Issuer }

func (a *Auth) GetAudience() []string { return a.Audience }

func (a *Auth) GetSecretValidityWindow() time.Duration {
	if a.SecretValidityExpression == "" {
		return 5 * time.Minute
	}
	dur, err := time.ParseDuration(a.SecretValidityExpression)
	if err != nil {
		panic(
			fmt.Sprintf("unable to parse time: expr %s", a.SecretValidityExpression),
		)
	}
	return dur
}

func (a *Auth) GetVerifiedRedirect() string {
	if a.VerifiedRedirect == "" {
		return "/"
	}
	return a.VerifiedRedirect
}

type Persistence struct {
	Debug                 bool   `json:"debug" yaml:"debug"`
	Driver                string `json:"driver" yaml:"driver"`
	DSN                   string `json:"dsn" yaml:"dsn"`
	PingTimeoutExpression string `json:"ping_timeout" yaml:"ping_timeout"`
}

func (p *Persistence) GetDebug() bool { return p.Debug }

func (p *Persistence) GetDriver() string {
	if p.Driver == "" {
		return "sqlite"
	}
	return p.Driver
}

func (p *Persistence) GetDSN() string { return p.DSN }

func (p *Persistence) GetServer() string { return p.DSN }

func (p *Persistence) GetOtelIdentifier() string { return "" }

func (p *Persistence) GetPingTimeout() time.Duration {
	if p.PingTimeoutExpression == "" {
		return 5 * time.Second
	}
	dur, err := time.ParseDuration(p.PingTimeoutExpression)
	if err != nil {
		panic(
			fmt.Sprintf("unable to parse time: expr %s", p.PingTimeoutExpression),
		)
	}
	return dur
}

type Mail struct {
	TemplatesDir string `json:"templates_dir" yaml:"templates_dir"`
}

func (m Mail) GetTemplatesDir() string {
	if m.TemplatesDir == "" {
		return "data/templates/mail"
	}
	return m.TemplatesDir
}
