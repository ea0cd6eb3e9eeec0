package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/flagx"
	"github.com/dmitrijs2005/magiclink/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// Interval fields use timex.Duration, which accepts both strings such as
// "15m" and integer nanoseconds. Values are copied into Config afterwards;
// absent or zero fields leave the current value in place.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	MetricsAddr                 string         `json:"metrics_addr"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	MagicLinkLifetime           timex.Duration `json:"magic_link_lifetime"`
	GraceWindow                 timex.Duration `json:"grace_window"`
	UsedRetention               timex.Duration `json:"used_retention"`
	ReaperInterval              timex.Duration `json:"reaper_interval"`
	ReaperBatchSize             int            `json:"reaper_batch_size"`
	StoreTimeout                timex.Duration `json:"store_timeout"`
	Hasher                      string         `json:"hasher"`
	BcryptCost                  int            `json:"bcrypt_cost"`
	SecretBytes                 int            `json:"secret_bytes"`
	LinkBaseURL                 string         `json:"link_base_url"`
	AllowedEmailDomains         []string       `json:"allowed_email_domains"`
	DeliveryKind                string         `json:"delivery_kind"`
	SMTPAddr                    string         `json:"smtp_addr"`
	SMTPUsername                string         `json:"smtp_username"`
	SMTPPassword                string         `json:"smtp_password"`
	SMTPFrom                    string         `json:"smtp_from"`
	SMTPFromName                string         `json:"smtp_from_name"`
	RequestRateLimit            *int           `json:"request_rate_limit"`
	LogLevel                    string         `json:"log_level"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flag; without
// it nothing is loaded. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.MagicLinkLifetime, c.MagicLinkLifetime)
	setDuration(&config.GraceWindow, c.GraceWindow)
	setDuration(&config.UsedRetention, c.UsedRetention)
	setDuration(&config.ReaperInterval, c.ReaperInterval)
	setInt(&config.ReaperBatchSize, c.ReaperBatchSize)
	setDuration(&config.StoreTimeout, c.StoreTimeout)
	setString(&config.Hasher, c.Hasher)
	setInt(&config.BcryptCost, c.BcryptCost)
	setInt(&config.SecretBytes, c.SecretBytes)
	setString(&config.LinkBaseURL, c.LinkBaseURL)
	if c.AllowedEmailDomains != nil {
		config.AllowedEmailDomains = splitDomains(strings.Join(c.AllowedEmailDomains, ","))
	}
	setString(&config.DeliveryKind, c.DeliveryKind)
	setString(&config.SMTPAddr, c.SMTPAddr)
	setString(&config.SMTPUsername, c.SMTPUsername)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.SMTPFromName, c.SMTPFromName)
	// an explicit 0 turns throttling off
	if c.RequestRateLimit != nil {
		config.RequestRateLimit = *c.RequestRateLimit
	}
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
