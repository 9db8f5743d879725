package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/dropbin/internal/flagx"
	"github.com/dmitrijs2005/dropbin/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. Keys absent from the file leave the corresponding Config field
// untouched.
type JsonConfig struct {
	EndpointAddrHTTP             string          `json:"endpoint_addr_http"`
	EndpointAddrGRPC             string          `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string          `json:"database_dsn"`
	SecretKey                    string          `json:"secret_key"`
	SessionTokenValidityDuration *timex.Duration `json:"session_token_validity_duration"`
	SlotValidityDuration         *timex.Duration `json:"slot_validity_duration"`
	ReadURLValidityDuration      *timex.Duration `json:"read_url_validity_duration"`
	ProvisionalTTL               *timex.Duration `json:"provisional_ttl"`
	JanitorInterval              *timex.Duration `json:"janitor_interval"`
	PowDifficulty                *int            `json:"pow_difficulty"`
	NegotiatePerMinute           int             `json:"negotiate_per_minute"`
	NegotiateBurst               int             `json:"negotiate_burst"`
	FinalizePerMinute            int             `json:"finalize_per_minute"`
	FinalizeBurst                int             `json:"finalize_burst"`
	RateLimitKeys                int             `json:"rate_limit_keys"`
	S3RootUser                   string          `json:"s3_root_user"`
	S3RootPassword               string          `json:"s3_root_password"`
	S3Bucket                     string          `json:"s3_bucket"`
	S3Region                     string          `json:"s3_region"`
	S3BaseEndpoint               string          `json:"s3_base_endpoint"`
	LogLevel                     string          `json:"log_level"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags, or from
// $DROPBIN_CONFIG. If none is set, no JSON file is loaded. If the file
// cannot be read or contains invalid JSON, the function panics.
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

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)

	if c.SessionTokenValidityDuration != nil {
		config.SessionTokenValidityDuration = c.SessionTokenValidityDuration.Duration
	}
	if c.SlotValidityDuration != nil {
		config.SlotValidityDuration = c.SlotValidityDuration.Duration
	}
	if c.ReadURLValidityDuration != nil {
		config.ReadURLValidityDuration = c.ReadURLValidityDuration.Duration
	}
	if c.ProvisionalTTL != nil {
		config.ProvisionalTTL = c.ProvisionalTTL.Duration
	}
	if c.JanitorInterval != nil {
		config.JanitorInterval = c.JanitorInterval.Duration
	}
	if c.PowDifficulty != nil {
		config.PowDifficulty = *c.PowDifficulty
	}

	setInt(&config.NegotiatePerMinute, c.NegotiatePerMinute)
	setInt(&config.NegotiateBurst, c.NegotiateBurst)
	setInt(&config.FinalizePerMinute, c.FinalizePerMinute)
	setInt(&config.FinalizeBurst, c.FinalizeBurst)
	setInt(&config.RateLimitKeys, c.RateLimitKeys)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
