// Command modelinspect loads a persisted peripheral model and prints a
// human-readable summary, or just validates that the file parses. It is
// standalone tooling around model.Load (SPEC_FULL.md §2B); it does not
// run an emulator.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/p2im-re/modelengine/interrupt"
	"github.com/p2im-re/modelengine/model"
	"github.com/p2im-re/modelengine/peripheral"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var validateOnly bool

	root := &cobra.Command{
		Use:   "modelinspect <peripheral_model.json>",
		Short: "Inspect a persisted P2IM-style peripheral model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			data, err := os.ReadFile(args[0])
			if err != nil {
				logger.Error("read model file", "path", args[0], "err", err)
				return err
			}

			store, intr, sr, aup, err := model.Load(data)
			if err != nil {
				logger.Error("parse model file", "path", args[0], "err", err)
				return err
			}
			if validateOnly {
				logger.Info("model file is valid", "path", args[0])
				return nil
			}

			printModelSummary(cmd, store, intr, sr, aup)
			return nil
		},
	}

	root.Flags().BoolVar(&validateOnly, "validate", false, "only validate the file parses, print no summary")
	return root
}

func printModelSummary(
	cmd *cobra.Command,
	store *peripheral.Store,
	intr *interrupt.Table,
	sr *model.StageOneRecord,
	aup *model.AccessToUnmodeledPeripheral,
) {
	out := cmd.OutOrStdout()

	for _, p := range store.All() {
		fmt.Fprintf(out, "peripheral %#x  reg_size=%d  dr_bytes=%d  events=%d\n",
			p.BaseAddr, p.RegSize, p.DRBytesNum, p.EventCount())
		for i := 0; i <= p.MaxRegIdx && i < len(p.Regs); i++ {
			reg := p.Regs[i]
			fmt.Fprintf(out, "  reg[%2d] %-6s read=%v write=%v locked=%v\n",
				i, reg.Category, reg.Read, reg.Write, reg.SRLocked)
		}
	}

	if intr != nil && len(intr.All()) > 0 {
		fmt.Fprintln(out, "interrupts:")
		for _, e := range intr.All() {
			fmt.Fprintf(out, "  excp=%d enabled=%v\n", e.ExcpNum, e.Enabled)
		}
	}

	if sr != nil {
		fmt.Fprintf(out, "sr_read: peripheral=%#x reg_idx=%d cr_val=%q bbl_cnt=%d\n",
			sr.PeriBaseAddr, sr.RegIdx, sr.CRVal, sr.BBLCnt)
	}
	if aup != nil {
		fmt.Fprintf(out, "access_to_unmodeled_peri: peripheral=%#x reason=%s func=%q replay_bbl_cnt=%d\n",
			aup.PeriBaseAddr, aup.Reason, aup.Func, aup.ReplayBBLCnt)
	}
}
