package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/reconciler/internal/domain/encounter"
	"github.com/ehr/reconciler/internal/platform/hl7v2"
)

func reconcileCmd() *cobra.Command {
	var (
		input  string
		format string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile a batch of events from a file and print the encounters as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runReconcile(cmd.Context(), in, cmd.OutOrStdout(), format, pretty)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "Input file, or - for stdin")
	cmd.Flags().StringVar(&format, "format", "json", "Input format: json or hl7v2")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func runReconcile(ctx context.Context, in io.Reader, out io.Writer, format string, pretty bool) error {
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var events []encounter.Event
	switch format {
	case "json":
		var req encounter.ProcessRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("decode input: %w", err)
		}
		if events, err = req.Events(); err != nil {
			return err
		}
	case "hl7v2":
		msgs, err := hl7v2.ParseBatch(hl7v2.StripFraming(body))
		if err != nil {
			return err
		}
		if events, err = encounter.EventsFromHL7(msgs); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q, want json or hl7v2", format)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	encs, err := encounter.NewService(zerolog.Nop()).Reconcile(ctx, events)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(encounter.NewProcessResponse(encs))
}
