package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"buzzmaster/internal/config"
	"buzzmaster/internal/db"
	"buzzmaster/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func serverFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.String("addr", ":8080", "listen address")
	fs.String("database-url", "", "postgres connection string (overrides DATABASE_URL)")
	fs.String("admin-key", "", "shared secret for admin endpoints (overrides ADMIN_KEY)")
	fs.String("public-base-url", "", "base URL used in join links and QR codes")
	return fs
}

func main() {
	root := &cobra.Command{
		Use:   "buzzmaster",
		Short: "Party quiz game server",
		RunE:  runServer,
	}
	root.Flags().AddFlagSet(serverFlags())

	viper.SetEnvPrefix("buzzmaster")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(root.Flags()); err != nil {
		log.Fatal(err)
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	if dsn := viper.GetString("database-url"); dsn != "" {
		os.Setenv("DATABASE_URL", dsn)
	}

	cfg := config.Load()
	if key := viper.GetString("admin-key"); key != "" {
		cfg.AdminKey = key
	}
	if base := viper.GetString("public-base-url"); base != "" {
		cfg.PublicBaseURL = base
	}
	if cfg.AdminKey == "" {
		log.Printf("warning: no admin key configured, admin endpoints are open")
	}

	conn, err := db.Open()
	if err != nil {
		return err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second)

	srv := server.New(conn, cfg)
	addr := viper.GetString("addr")
	log.Printf("buzzmaster server listening on %s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
