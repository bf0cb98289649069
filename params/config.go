package params

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DefaultOracleURL is the BOM observations feed for the configured station.
const DefaultOracleURL = "https://api.weather.bom.gov.au/v1/locations/r3gwbq/observations"

type Exchange struct {
	// InstrumentTick is the length of one instrument; expiries are aligned
	// to multiples of it past the hour in UTC.
	InstrumentTick time.Duration
	TickSize       decimal.Decimal
	MailboxSize    int
	// ClearOnDisconnect removes the resting orders of every sender seen on a
	// connection once that connection closes.
	ClearOnDisconnect bool
}

type Oracle struct {
	URL     string
	Timeout time.Duration
	Retries uint64
	// StaticPrice, when set, replaces the HTTP source (offline runs).
	StaticPrice string
}

type API struct {
	Addr        string
	CORSOrigins []string
	// WSRate is the sustained inbound message rate per connection.
	WSRate  float64
	WSBurst int
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Exchange Exchange
	Oracle   Oracle
	API      API
	Log      Log
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			InstrumentTick:    30 * time.Minute,
			TickSize:          decimal.RequireFromString("0.1"),
			MailboxSize:       4096,
			ClearOnDisconnect: true,
		},
		Oracle: Oracle{
			URL:     DefaultOracleURL,
			Timeout: 10 * time.Second,
			Retries: 3,
		},
		API: API{
			Addr:        ":8081",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			WSRate:      50,
			WSBurst:     100,
		},
		Log: Log{
			File:  "data/exchange.log",
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists), an optional
// config file named by CONFIG_FILE, and environment variables.
// Priority: ENV > .env file > config file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	def := Default()
	v := viper.New()
	v.SetDefault("instrument_tick", def.Exchange.InstrumentTick)
	v.SetDefault("tick_size", def.Exchange.TickSize.String())
	v.SetDefault("mailbox_size", def.Exchange.MailboxSize)
	v.SetDefault("clear_on_disconnect", def.Exchange.ClearOnDisconnect)
	v.SetDefault("oracle_url", def.Oracle.URL)
	v.SetDefault("oracle_timeout", def.Oracle.Timeout)
	v.SetDefault("oracle_retries", def.Oracle.Retries)
	v.SetDefault("oracle_static_price", "")
	v.SetDefault("api_addr", def.API.Addr)
	v.SetDefault("cors_origins", strings.Join(def.API.CORSOrigins, ","))
	v.SetDefault("ws_rate", def.API.WSRate)
	v.SetDefault("ws_burst", def.API.WSBurst)
	v.SetDefault("log_file", def.Log.File)
	v.SetDefault("log_level", def.Log.Level)
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	tickSize, err := decimal.NewFromString(v.GetString("tick_size"))
	if err != nil {
		return Config{}, fmt.Errorf("parse TICK_SIZE: %w", err)
	}

	cfg := Config{
		Exchange: Exchange{
			InstrumentTick:    v.GetDuration("instrument_tick"),
			TickSize:          tickSize,
			MailboxSize:       v.GetInt("mailbox_size"),
			ClearOnDisconnect: v.GetBool("clear_on_disconnect"),
		},
		Oracle: Oracle{
			URL:         v.GetString("oracle_url"),
			Timeout:     v.GetDuration("oracle_timeout"),
			Retries:     v.GetUint64("oracle_retries"),
			StaticPrice: v.GetString("oracle_static_price"),
		},
		API: API{
			Addr:        v.GetString("api_addr"),
			CORSOrigins: splitList(v.GetString("cors_origins")),
			WSRate:      v.GetFloat64("ws_rate"),
			WSBurst:     v.GetInt("ws_burst"),
		},
		Log: Log{
			File:  v.GetString("log_file"),
			Level: v.GetString("log_level"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config sanity
func (c Config) Validate() error {
	if c.Exchange.InstrumentTick <= 0 {
		return fmt.Errorf("instrument tick must be positive")
	}
	if !c.Exchange.TickSize.IsPositive() {
		return fmt.Errorf("tick size must be positive")
	}
	if c.Exchange.MailboxSize <= 0 {
		return fmt.Errorf("mailbox size must be positive")
	}
	if c.Oracle.StaticPrice == "" && c.Oracle.URL == "" {
		return fmt.Errorf("oracle url or static price must be set")
	}
	if c.Oracle.StaticPrice != "" {
		if _, err := decimal.NewFromString(c.Oracle.StaticPrice); err != nil {
			return fmt.Errorf("oracle static price: %w", err)
		}
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle timeout must be positive")
	}
	if c.API.WSRate <= 0 || c.API.WSBurst <= 0 {
		return fmt.Errorf("websocket rate and burst must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
