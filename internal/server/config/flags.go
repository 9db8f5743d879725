package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/dropbin/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-grpc string  gRPC health bind address (e.g., ":50051")
//	-d string     PostgreSQL DSN
//	-s string     JWT HMAC secret key
//	-t int        finalize/cancel token validity, minutes
//	-l int        provisional bundle TTL, minutes
//	-i int        janitor interval, seconds
//	-w int        anti-abuse difficulty (leading zero bits, 0 disables)
//	-n int        negotiate requests per minute per client IP
//	-f int        finalize requests per minute per client IP
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-v string     log level: debug, info, warn or error
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are integers and are converted to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-grpc", "-d", "-s", "-t", "-l", "-i", "-w", "-n", "-f", "-u", "-p", "-b", "-g", "-e", "-v",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "grpc", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.SessionTokenValidityDuration.Minutes()), "finalize/cancel token validity (in minutes)")
	provisionalTTL := fs.Int("l", int(config.ProvisionalTTL.Minutes()), "provisional bundle TTL (in minutes)")
	janitorInterval := fs.Int("i", int(config.JanitorInterval.Seconds()), "janitor interval (in seconds)")

	fs.IntVar(&config.PowDifficulty, "w", config.PowDifficulty, "anti-abuse difficulty")
	fs.IntVar(&config.NegotiatePerMinute, "n", config.NegotiatePerMinute, "negotiate requests per minute per client")
	fs.IntVar(&config.FinalizePerMinute, "f", config.FinalizePerMinute, "finalize requests per minute per client")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
	config.ProvisionalTTL = time.Duration(*provisionalTTL) * time.Minute
	config.JanitorInterval = time.Duration(*janitorInterval) * time.Second
}
