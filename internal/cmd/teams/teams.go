// Package teams parses teams command flags and starts the service runtime.
package teams

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/Thomas0321/badminton-app/internal/platform/cmd"
	server "github.com/Thomas0321/badminton-app/internal/services/teams/app"
	"github.com/Thomas0321/badminton-app/internal/services/teams/domain"
)

// Config holds teams command configuration.
type Config struct {
	Port      int    `env:"BADMINTON_TEAMS_PORT" envDefault:"8080"`
	Addr      string `env:"BADMINTON_TEAMS_ADDR"`
	DBPath    string `env:"BADMINTON_TEAMS_DB_PATH"`
	JWTSecret string `env:"BADMINTON_JWT_SECRET"`

	MaxParticipantsCeiling int           `env:"BADMINTON_MAX_PARTICIPANTS"`
	JoinCutoff             time.Duration `env:"BADMINTON_JOIN_CUTOFF"`
	LateCancelWindow       time.Duration `env:"BADMINTON_LATE_CANCEL_WINDOW"`
	BanDuration            time.Duration `env:"BADMINTON_BAN_DURATION"`
	ReapInterval           time.Duration `env:"BADMINTON_REAP_INTERVAL"`

	RateLimitRequests int           `env:"BADMINTON_RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"BADMINTON_RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The teams server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The teams server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the teams SQLite database")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the teams HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTeams, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			Port:      cfg.Port,
			Addr:      cfg.Addr,
			DBPath:    cfg.DBPath,
			JWTSecret: []byte(cfg.JWTSecret),
			Limits: domain.Limits{
				MaxParticipantsCeiling: cfg.MaxParticipantsCeiling,
				JoinCutoff:             cfg.JoinCutoff,
				LateCancelWindow:       cfg.LateCancelWindow,
				BanDuration:            cfg.BanDuration,
			},
			ReapInterval:      cfg.ReapInterval,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		})
	})
}
