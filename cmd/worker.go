package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/voxrefine/cmd/audio"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/service/processing"
)

// workerCmd runs the background scheduler
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process pending audio units until interrupted",
	Long: `Run the background scheduler. It picks up pending stages, reclaims stages
stuck in processing for longer than worker.stale_after and runs them with a
bounded pool of workers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := audio.NewServiceFactory().Open(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		scheduler := processing.NewScheduler(rt.Pipeline, rt.Units, rt.Config.Worker)
		rt.Pipeline.SetDispatcher(scheduler)

		// In-flight stages finish after a signal; queued ones are released by Stop.
		scheduler.Start(context.WithoutCancel(ctx))
		fmt.Fprintf(cmd.OutOrStdout(), "🚀 Worker started with %d worker(s), press Ctrl+C to stop\n", rt.Config.Worker.Workers)

		<-ctx.Done()
		log.Info().Msg("shutting down worker")
		scheduler.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
