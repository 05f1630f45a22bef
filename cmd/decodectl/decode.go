package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/obs-decoder-service/internal/decode"
	"github.com/couchcryptid/obs-decoder-service/internal/domain"
	"github.com/couchcryptid/obs-decoder-service/internal/observability"
	"github.com/couchcryptid/obs-decoder-service/internal/pipeline"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// errFaults is returned by decode --strict when any subset faulted.
var errFaults = errors.New("decode produced faults")

func NewDecodeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		rulesPath string
		at        string
		indent    bool
		strict    bool
		verbose   bool
	)
	decodeCommand := &cobra.Command{
		Use:   "decode [FILE]",
		Short: "Decode token streams and print the resulting records and faults",
		Long: `Read one or more JSON token streams from FILE, or stdin when FILE is
omitted or "-", and print one decoded message per stream.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := rules.Load(rulesPath)
			if err != nil {
				return err
			}

			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				domain.SetClock(clockwork.NewFakeClockAt(ts))
				defer domain.SetClock(nil)
			}

			in := stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
			metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
			tfm := pipeline.NewTransformer(decode.New(t, logger), "", metrics, logger)

			faults, err := decodeAll(cmd.Context(), in, stdout, tfm, indent)
			if err != nil {
				return err
			}
			if strict && faults > 0 {
				return fmt.Errorf("%w: %d", errFaults, faults)
			}
			return nil
		},
	}
	flags := decodeCommand.Flags()
	addRulesFlag(flags, &rulesPath)
	flags.StringVar(&at, "at", "", "fixed RFC3339 decode time, for reproducible output")
	flags.BoolVar(&indent, "indent", false, "indent the JSON output")
	flags.BoolVar(&strict, "strict", false, "exit non-zero if any subset faulted")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every fault as it happens")
	return decodeCommand
}

func init() {
	subcommandFns["decode"] = NewDecodeCommand
}

// decodeAll decodes a sequence of concatenated JSON streams and returns the
// number of faults reported.
func decodeAll(ctx context.Context, in io.Reader, out io.Writer, tfm *pipeline.DecodeTransformer, indent bool) (int, error) {
	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)
	if indent {
		enc.SetIndent("", "  ")
	}

	faults := 0
	for n := 0; ; n++ {
		var payload json.RawMessage
		if err := dec.Decode(&payload); err != nil {
			if errors.Is(err, io.EOF) {
				return faults, nil
			}
			return faults, fmt.Errorf("stream %d: %w", n, err)
		}
		msg, err := tfm.Decode(ctx, domain.RawMessage{Value: payload, Key: []byte(fmt.Sprintf("stream-%d", n))})
		if err != nil {
			return faults, fmt.Errorf("stream %d: %w", n, err)
		}
		faults += len(msg.Faults)
		if err := enc.Encode(msg); err != nil {
			return faults, err
		}
	}
}
