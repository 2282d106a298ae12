package service

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/christopherklint97/shiftfill/internal/calendar"
	"github.com/christopherklint97/shiftfill/internal/config"
	"github.com/christopherklint97/shiftfill/internal/msgraph"
	"github.com/christopherklint97/shiftfill/internal/shifts"
)

// NewSource picks the schedule source named by schedule.source. The shifts
// client is returned too when the source is the shifts server, for health
// checks.
func NewSource(cfg config.Config, logger *slog.Logger) (ShiftSource, *shifts.Client, error) {
	switch cfg.Schedule.Source {
	case "", "api":
		client := shifts.NewClient(
			cfg.Service.BaseURL,
			cfg.Service.APIKey,
			time.Duration(cfg.Service.TimeoutSeconds)*time.Second,
			time.Duration(cfg.Service.CacheMinutes)*time.Minute,
			logger,
		)
		return client, client, nil

	case "graph":
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, nil, err
		}
		token, err := msgraph.EnsureValidToken(filepath.Join(dir, "graph_token.json"), cfg.Graph.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("graph source: %w", err)
		}
		return msgraph.NewClient(token, cfg.Graph.TeamID, logger), nil, nil

	default:
		loc, err := cfg.Location()
		if err != nil {
			return nil, nil, err
		}
		return calendar.NewSource(cfg.Schedule.Source, loc), nil, nil
	}
}
