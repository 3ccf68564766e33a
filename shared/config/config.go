package config

import (
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	HTTPAddr       string   `yaml:"http_addr"`
	LogLevel       string   `yaml:"log_level"`
	LogJSON        bool     `yaml:"log_json"`
	SecureCookies  bool     `yaml:"secure_cookies"` // set Secure on cookies and HSTS when served over HTTPS
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string `yaml:"trusted_proxies" validate:"dive,cidr|ip"`

	Session      Session      `yaml:"session"`
	Csrf         Csrf         `yaml:"csrf"`
	RateLimit    RateLimit    `yaml:"rate_limit"`
	Lockout      Lockout      `yaml:"lockout"`
	Verification Verification `yaml:"verification"`
	Assignment   Assignment   `yaml:"assignment"`

	BlacklistRefreshInterval time.Duration `yaml:"blacklist_refresh_interval"`
}

type Session struct {
	CookieName       string        `yaml:"cookie_name"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	RotationGrace    time.Duration `yaml:"rotation_grace"` // how long a rotated id still resolves to its successor
	Store            string        `yaml:"store" validate:"omitempty,oneof=memory redis"`
}

type Csrf struct {
	MaxAge        time.Duration `yaml:"max_age"`
	OneTimeScopes []string      `yaml:"one_time_scopes"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type Window struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type RateLimit struct {
	Backend   string `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	General   Window `yaml:"general"`
	Login     Window `yaml:"login"`
	Sensitive Window `yaml:"sensitive"`
}

type Lockout struct {
	MaxFailures   int           `yaml:"max_failures"`
	Window        time.Duration `yaml:"window"`
	LockDuration  time.Duration `yaml:"lock_duration"`
	IPThreshold   int           `yaml:"ip_threshold"`
	IPBanDuration time.Duration `yaml:"ip_ban_duration"`
	Retention     time.Duration `yaml:"retention"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type Verification struct {
	SLA                time.Duration     `yaml:"sla"`
	EscalationInterval time.Duration     `yaml:"escalation_interval"`
	CredentialLength   int               `yaml:"credential_length" validate:"omitempty,min=12"`
	Hierarchy          map[string]string `yaml:"hierarchy"` // target role -> verifier role
}

type Assignment struct {
	WorkloadCeiling int `yaml:"workload_ceiling"`
}

type Pg struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Dbname   string `yaml:"dbname" validate:"required"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Email configures outbound SMTP. Notifications are only logged when SMTPServer is empty.
type Email struct {
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port" validate:"required_with=SMTPServer"`
	Username   string `yaml:"username" validate:"required_with=SMTPServer"`
	Password   string `yaml:"password"`
	SenderName string `yaml:"sender_name"`
	Timeout    int    `yaml:"timeout"` // seconds
	// EscalationRecipients maps a role to the mailbox that receives escalation notices for it.
	EscalationRecipients map[string]string `yaml:"escalation_recipients"`
}

type Private struct {
	Pg    Pg    `yaml:"pg" validate:"required"`
	Redis Redis `yaml:"redis"`
	Email Email `yaml:"email"`
}

// ApplyDefaults fills zero fields with production defaults.
func (p *Public) ApplyDefaults() {
	setString(&p.HTTPAddr, ":8080")
	setString(&p.LogLevel, "info")
	setDuration(&p.BlacklistRefreshInterval, time.Minute)

	setString(&p.Session.CookieName, "sid")
	setDuration(&p.Session.IdleTimeout, 30*time.Minute)
	setDuration(&p.Session.RotationInterval, 30*time.Minute)
	setDuration(&p.Session.RotationGrace, 30*time.Second)
	setString(&p.Session.Store, "memory")

	setDuration(&p.Csrf.MaxAge, time.Hour)
	setDuration(&p.Csrf.PurgeInterval, 10*time.Minute)

	setString(&p.RateLimit.Backend, "memory")
	setWindow(&p.RateLimit.General, 60, time.Minute)
	setWindow(&p.RateLimit.Login, 10, time.Minute)
	setWindow(&p.RateLimit.Sensitive, 10, time.Minute)

	setInt(&p.Lockout.MaxFailures, 5)
	setDuration(&p.Lockout.Window, 15*time.Minute)
	setDuration(&p.Lockout.LockDuration, 15*time.Minute)
	setInt(&p.Lockout.IPThreshold, 20)
	setDuration(&p.Lockout.IPBanDuration, 24*time.Hour)
	setDuration(&p.Lockout.Retention, 24*time.Hour)
	setDuration(&p.Lockout.PurgeInterval, 10*time.Minute)

	setDuration(&p.Verification.SLA, 48*time.Hour)
	setDuration(&p.Verification.EscalationInterval, 10*time.Minute)
	setInt(&p.Verification.CredentialLength, 16)

	setInt(&p.Assignment.WorkloadCeiling, 5)
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func setWindow(w *Window, requests int, window time.Duration) {
	setInt(&w.Requests, requests)
	setDuration(&w.Window, window)
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file: " + configPath)
	}

	err = yaml.UnmarshalStrict(configFile, output)
	if err != nil {
		panic("can't unmarshal config file " + configPath + ": " + err.Error())
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)
	public.ApplyDefaults()

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	cfg := &Config{Public: public, Private: private}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		panic("invalid config: " + err.Error())
	}
	return cfg
}
