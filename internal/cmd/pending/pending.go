// Package pending provides the command that reads back messages saved
// when a client reload interrupted delivery.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/webpair/internal/config"
	"github.com/Iron-Ham/webpair/internal/msgbuf"
	"github.com/Iron-Ham/webpair/internal/store"
)

var (
	sessionID string
	peek      bool
	format    string
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print messages saved before the last client reload",
	Long: `Print the messages that were buffered but not yet delivered when the
client announced a reload.

The saved batch is consumed: a second run prints nothing. Use --peek to
leave it in place.`,
	RunE: runPending,
}

func init() {
	pendingCmd.Flags().StringVar(&sessionID, "session", "", "session ID (default: derived from probe.dir)")
	pendingCmd.Flags().BoolVar(&peek, "peek", false, "print without consuming")
	pendingCmd.Flags().StringVarP(&format, "format", "o", "json", "output format: json or yaml")
}

// Register adds the pending command to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	id := sessionID
	if id == "" {
		id = cfg.SessionIDFor(cfg.Probe.ResolveProbeDir())
	}

	st, err := store.NewFileStore(cfg.SessionStoreDir(id))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	return printPending(cmd.Context(), cmd.OutOrStdout(), st, peek, format)
}

func printPending(ctx context.Context, w io.Writer, st store.Store, peek bool, format string) error {
	encode, err := encoderFor(w, format)
	if err != nil {
		return err
	}

	var batch msgbuf.MessageBatch
	if peek {
		batch, err = msgbuf.PeekPersisted(ctx, st)
	} else {
		batch, err = msgbuf.LoadPersisted(ctx, st)
	}
	if err != nil {
		return err
	}
	if batch == nil {
		batch = msgbuf.MessageBatch{}
	}
	return encode(batch)
}

// encoderFor is resolved before the slot is read so a bad flag never
// consumes the saved batch.
func encoderFor(w io.Writer, format string) (func(msgbuf.MessageBatch) error, error) {
	switch format {
	case "json":
		return func(batch msgbuf.MessageBatch) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(batch)
		}, nil
	case "yaml":
		return func(batch msgbuf.MessageBatch) error {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(batch); err != nil {
				return err
			}
			return enc.Close()
		}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
