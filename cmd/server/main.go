// @title           GLaDOS API
// @version         1.0
// @description     Chat sessions, message windows and streaming replies for the GLaDOS chat client.
// @host            localhost:3000
// @BasePath        /api
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"glados/backend/internal/app"
)

func main() {
	// Values already in the environment win over the .env file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}
	os.Exit(app.Run())
}
