// Package config loads the service configuration from defaults, an optional
// .env file, environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Database holds PostgreSQL connection settings.
type Database struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// DSN builds a libpq-compatible connection string. An explicit URL wins.
func (c Database) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// MigrateURL is the connection URL in the form golang-migrate's pgx driver
// expects.
func (c Database) MigrateURL() string {
	if c.URL != "" {
		u := c.URL
		for _, prefix := range []string{"postgresql://", "postgres://"} {
			if strings.HasPrefix(u, prefix) {
				return "pgx5://" + strings.TrimPrefix(u, prefix)
			}
		}
		return u
	}
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Stripe holds the Stripe API and webhook signing keys.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
}

// Midtrans holds the Midtrans server key and environment.
type Midtrans struct {
	ServerKey       string
	Production      bool
	VerifySignature bool
}

// Payment selects and configures the payment provider.
type Payment struct {
	Provider   string // "stripe" or "midtrans"
	Currency   string
	Timeout    time.Duration
	SessionTTL time.Duration
	Stripe     Stripe
	Midtrans   Midtrans
}

// Mail configures outgoing email.
type Mail struct {
	Driver      string // "sendgrid" or "log"
	SendGridKey string
	FromEmail   string
	FromName    string
}

// Notify sizes the post-commit notification queue.
type Notify struct {
	QueueSize int
	Workers   int
}

// Config is the full service configuration.
type Config struct {
	Env       string
	Port      string
	LogLevel  string
	LogFormat string

	// Store is "postgres" or "memory".
	Store   string
	Migrate bool

	AppName          string
	BaseURL          string
	AcademicTimezone string
	JWTSecret        string

	// AdPricePerDayCents is what one day of ad visibility costs.
	AdPricePerDayCents int64

	Database Database
	Payment  Payment
	Mail     Mail
	Notify   Notify
}

// Location resolves AcademicTimezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.AcademicTimezone)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store", "postgres")
	v.SetDefault("migrate", true)

	v.SetDefault("app.name", "ESTT Community")
	v.SetDefault("app.base_url", "http://localhost:3000")
	v.SetDefault("academic.timezone", "Africa/Casablanca")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("ads.price_per_day_cents", 500)

	v.SetDefault("database.url", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "estt")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 20)

	v.SetDefault("payment.provider", "stripe")
	v.SetDefault("payment.currency", "mad")
	v.SetDefault("payment.timeout", 10*time.Second)
	v.SetDefault("payment.session_ttl", 30*time.Minute)
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("midtrans.server_key", "")
	v.SetDefault("midtrans.production", false)
	v.SetDefault("midtrans.verify_signature", true)

	v.SetDefault("mail.driver", "log")
	v.SetDefault("sendgrid.api_key", "")
	v.SetDefault("mail.from_email", "noreply@localhost")
	v.SetDefault("mail.from_name", "ESTT Community")

	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 2)
}

// Load reads the configuration. args are the command-line arguments without
// the program name.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "optional dotenv file to load")
	fs.String("port", "", "HTTP listen port")
	fs.String("store", "", "storage backend: postgres or memory")
	fs.Bool("migrate", true, "apply database migrations on startup")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// A missing .env is normal outside local development.
	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", *envFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat %s: %w", *envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"port", "store", "migrate"} {
		if f := fs.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(name, f); err != nil {
				return Config{}, err
			}
		}
	}

	cfg := Config{
		Env:       v.GetString("env"),
		Port:      v.GetString("port"),
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
		Store:     strings.ToLower(v.GetString("store")),
		Migrate:   v.GetBool("migrate"),

		AppName:            v.GetString("app.name"),
		BaseURL:            strings.TrimRight(v.GetString("app.base_url"), "/"),
		AcademicTimezone:   v.GetString("academic.timezone"),
		JWTSecret:          v.GetString("jwt.secret"),
		AdPricePerDayCents: v.GetInt64("ads.price_per_day_cents"),

		Database: Database{
			URL:      v.GetString("database.url"),
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			DBName:   v.GetString("db.name"),
			SSLMode:  v.GetString("db.sslmode"),
			MaxConns: v.GetInt32("db.max_conns"),
		},
		Payment: Payment{
			Provider:   strings.ToLower(v.GetString("payment.provider")),
			Currency:   strings.ToLower(v.GetString("payment.currency")),
			Timeout:    v.GetDuration("payment.timeout"),
			SessionTTL: v.GetDuration("payment.session_ttl"),
			Stripe: Stripe{
				SecretKey:     v.GetString("stripe.secret_key"),
				WebhookSecret: v.GetString("stripe.webhook_secret"),
			},
			Midtrans: Midtrans{
				ServerKey:       v.GetString("midtrans.server_key"),
				Production:      v.GetBool("midtrans.production"),
				VerifySignature: v.GetBool("midtrans.verify_signature"),
			},
		},
		Mail: Mail{
			Driver:      strings.ToLower(v.GetString("mail.driver")),
			SendGridKey: v.GetString("sendgrid.api_key"),
			FromEmail:   v.GetString("mail.from_email"),
			FromName:    v.GetString("mail.from_name"),
		},
		Notify: Notify{
			QueueSize: v.GetInt("notify.queue_size"),
			Workers:   v.GetInt("notify.workers"),
		},
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Payment.Provider {
	case "stripe", "midtrans":
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}
	switch c.Mail.Driver {
	case "log":
	case "sendgrid":
		if c.Mail.SendGridKey == "" {
			return errors.New("SENDGRID_API_KEY is required for the sendgrid mail driver")
		}
	default:
		return fmt.Errorf("unknown mail driver %q", c.Mail.Driver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Payment.Timeout <= 0 {
		return errors.New("PAYMENT_TIMEOUT must be positive")
	}
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 {
		return errors.New("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("ACADEMIC_TIMEZONE: %w", err)
	}
	return nil
}
