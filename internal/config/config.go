package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Required variables are enforced with must();
// operational knobs fall back to sensible defaults so a bare .env can still
// boot the server.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify bearer tokens

	Timezone     string // IANA zone the practice room operates in
	BasicMinutes int    // default length of a real-time session in minutes

	RateLimitEnabled bool          // toggle for the check-in rate limiter
	RateLimitBurst   int           // bucket capacity per user and route
	RateLimitRefill  time.Duration // interval at which one token is restored
}

// Load reads configuration values from environment variables and returns a
// Config.  Missing required values cause the program to exit with a fatal
// log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"), // empty password allowed
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		Timezone:     getenv("ROOM_TIMEZONE", "Asia/Seoul"),
		BasicMinutes: getenvInt("SESSION_BASIC_MINUTES", 60),

		RateLimitEnabled: getenvBool("RATE_LIMIT_ENABLED", true),
		RateLimitBurst:   getenvInt("RATE_LIMIT_BURST", 30),
		RateLimitRefill:  getenvDur("RATE_LIMIT_REFILL_EVERY", time.Second),
	}
}

// Location resolves the configured timezone.  Every wall-clock decision the
// server makes (operating hours, reservation windows, midnight rollover)
// happens in this zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Fatalf("invalid ROOM_TIMEZONE %q: %v", c.Timezone, err)
	}
	return loc
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, v)
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool for %s: %q", key, v)
	}
	return b
}

func getenvDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, v)
	}
	return d
}
