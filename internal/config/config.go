package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	AdminKey                 string
	PublicBaseURL            string
	RoundWinPoints           int
	GiveToNextPenalty        int
	ThumbWarPenalty          int
	CategoryWinnerPoints     int
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
}

func Default() Config {
	return Config{
		PublicBaseURL:            "http://localhost:8080",
		RoundWinPoints:           1,
		GiveToNextPenalty:        1,
		ThumbWarPenalty:          1,
		CategoryWinnerPoints:     5,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("ADMIN_KEY"); raw != "" {
		cfg.AdminKey = raw
	}
	if raw := os.Getenv("PUBLIC_BASE_URL"); raw != "" {
		cfg.PublicBaseURL = raw
	}
	if raw := os.Getenv("ROUND_WIN_POINTS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.RoundWinPoints = value
		}
	}
	if raw := os.Getenv("GIVE_TO_NEXT_PENALTY"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.GiveToNextPenalty = value
		}
	}
	if raw := os.Getenv("THUMB_WAR_PENALTY"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.ThumbWarPenalty = value
		}
	}
	if raw := os.Getenv("CATEGORY_WINNER_POINTS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.CategoryWinnerPoints = value
		}
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	return cfg
}
