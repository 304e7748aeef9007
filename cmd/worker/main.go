/**
 * OCR Worker - Main Entry Point
 *
 * Go worker that runs optical character recognition jobs on a Tesseract
 * engine.
 *
 * Architecture:
 * - Redis LIST (or asynq) consumer feeding a single-job dispatcher
 * - Lazily initialized engine shared by every job
 * - Language data cache backed by HTTP downloads and Redis
 * - Progress, result and error events published back to the submitter
 * - Optional PostgreSQL job store
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.ocr"); err != nil {
		log.Printf("Warning: .env.ocr not found, using system environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
