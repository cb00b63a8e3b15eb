package pushsend

import "time"

type Config struct {
	BatchSize       int
	SendConcurrency int64
	GatewayTimeout  time.Duration
}

func LoadConfig() *Config {
	return &Config{
		BatchSize:       100,
		SendConcurrency: 10,
		GatewayTimeout:  10 * time.Second,
	}
}
