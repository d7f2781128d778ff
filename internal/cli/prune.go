package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove stale items from the outer rings",
		Long: "Remove items in rings 3 and 4 with importance below 0.3 that were not accessed within the retention window. " +
			"With --every, keep pruning on that interval until interrupted.",
		Run: runPrune,
	}

	cmd.Flags().Duration("every", 0, "Prune repeatedly on this interval (e.g. 1h)")

	RootCmd.AddCommand(cmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	every, _ := cmd.Flags().GetDuration("every")

	a := openApp(cmd.Context())
	defer a.Close()

	n, err := a.mgr.Prune(cmd.Context())
	if err != nil {
		exitErr("prune", err)
	}
	fmt.Printf(`{"ok":true,"pruned":%d}`+"\n", n)

	if every > 0 {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("pruning periodically", "interval", every)
		a.cache.Start(ctx)
		a.mgr.Run(ctx, every)
	}
}
