package cmd

import (
	"context"
	stderrors "errors"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dirindex/internal/daemon"
	"github.com/Aman-CERP/dirindex/internal/output"
)

func newStopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running server",
		Long: `Send SIGTERM to the server recorded in the PID file. The server persists
outstanding work before exiting. stop waits for it to exit unless --timeout
is 0.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())

			pid := daemon.NewPIDFile(cfg.PIDPath())
			if !pid.IsRunning() {
				out.Warningf("dirindex is not running")
				if err := pid.Remove(); err != nil && !stderrors.Is(err, daemon.ErrPIDFileNotFound) {
					return err
				}
				return nil
			}
			if err := pid.Signal(syscall.SIGTERM); err != nil {
				return err
			}
			if timeout <= 0 {
				out.Successf("Sent SIGTERM to dirindex")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := pid.WaitExit(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			out.Successf("dirindex stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the server to exit (0 = do not wait)")
	return cmd
}
