package main

import (
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/spf13/cobra"
)

var (
	submitFlags  jobFlags
	submitDetect bool
	submitNoWait bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <image>",
	Short: "Submit a job to a running worker",
	Long: `Enqueue a recognize (or, with --detect, a detect) job and print its result.

With the redis transport the command follows the job's events until it
finishes. With asynq, or with --no-wait, it prints the job id and returns.

Examples:
  ocr-worker submit scan.png --progress
  ocr-worker submit rotated.png --detect -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		action := worker.ActionRecognize
		if submitDetect {
			action = worker.ActionDetect
		}
		job, err := submitFlags.job(action, args[0])
		if err != nil {
			return err
		}
		logger := logging.NewLogger("submit")

		if cfg.Transport == config.TransportAsynq {
			producer, err := queue.NewAsynqProducer(cfg.RedisURL, cfg.QueueName, logger)
			if err != nil {
				return err
			}
			defer producer.Close()
			id, err := producer.Enqueue(ctx, job)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), outputFormat, map[string]string{"jobId": id})
		}

		client, err := queue.Connect(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		producer := queue.NewProducer(client, cfg.QueueName, logger)

		if submitNoWait {
			id, err := producer.Submit(ctx, job)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), outputFormat, map[string]string{"jobId": id})
		}

		ev, err := producer.Run(ctx, job, func(e queue.EventMessage) {
			submitFlags.printProgress(cmd, e.Event)
		})
		if err != nil {
			return err
		}
		return finish(cmd, ev.Event)
	},
}

func init() {
	submitFlags.register(submitCmd)
	submitCmd.Flags().BoolVar(&submitDetect, "detect", false, "submit a detect job")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "print the job id without waiting")
}
