package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/spf13/cobra"

	"github.com/shineum/ses-forwarder/internal/app"
	"github.com/shineum/ses-forwarder/internal/forwarder"
)

const (
	formatAuto = "auto"
	formatEML  = "eml"
	formatMbox = "mbox"
)

type rewriteOptions struct {
	to               string
	siteDomain       string
	forwarderAddress string
	subjectPrefix    string
	format           string
	output           string
}

func newRewriteCommand(opts *rootOptions) *cobra.Command {
	ro := &rewriteOptions{}

	cmd := &cobra.Command{
		Use:   "rewrite [FILE]",
		Short: "Rewrite the headers of local messages as the forwarder would",
		Long: "Read a single message (.eml) or an mbox file, apply the size check\n" +
			"and the From/To/Reply-To rewrite, and write the result. An mbox input\n" +
			"produces an mbox output. FILE defaults to stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			return runRewrite(cmd, opts, ro, input)
		},
	}

	cmd.Flags().StringVar(&ro.to, "to", "", "forward address, overrides FORWARD_TO_EMAIL")
	cmd.Flags().StringVar(&ro.siteDomain, "site-domain", "", "site domain shown in From, overrides SITE_DOMAIN")
	cmd.Flags().StringVar(&ro.forwarderAddress, "forwarder-address", "", "From address, overrides FORWARDER_ADDRESS")
	cmd.Flags().StringVar(&ro.subjectPrefix, "subject-prefix", "", "prefix added to the Subject")
	cmd.Flags().StringVar(&ro.format, "format", formatAuto, "input format (auto, eml or mbox)")
	cmd.Flags().StringVarP(&ro.output, "output", "o", "-", "output file, - for stdout")

	return cmd
}

func runRewrite(cmd *cobra.Command, opts *rootOptions, ro *rewriteOptions, input string) error {
	cfg := opts.cfg
	if ro.to != "" {
		cfg.Forward.To = ro.to
	}
	if ro.siteDomain != "" {
		cfg.Forward.SiteDomain = ro.siteDomain
	}
	if ro.forwarderAddress != "" {
		cfg.Forward.ForwarderAddress = ro.forwarderAddress
	}
	if cfg.Forward.To == "" || cfg.Forward.SiteDomain == "" {
		return errors.New("--to and --site-domain are required when FORWARD_TO_EMAIL or SITE_DOMAIN are unset")
	}
	if err := cfg.ValidateForward(); err != nil {
		return err
	}

	in, err := openInput(input, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	format := ro.format
	if format == formatAuto {
		format = detectFormat(data)
	}

	out, err := openOutput(ro.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.Close()

	fwd := forwarder.New(nil, nil, app.ForwarderConfig(cfg))

	switch format {
	case formatEML:
		rewritten, err := fwd.Rewrite(toCRLF(data), cfg.Forward.To, ro.subjectPrefix)
		if err != nil {
			return err
		}
		_, err = out.Write(rewritten)
		return err
	case formatMbox:
		return rewriteMbox(fwd, bytes.NewReader(data), out, cfg.Forward.To, cfg.ForwarderAddress(), ro.subjectPrefix)
	default:
		return fmt.Errorf("unknown format %q", ro.format)
	}
}

// detectFormat treats input starting with an mbox "From " separator as mbox.
func detectFormat(data []byte) string {
	if bytes.HasPrefix(data, []byte("From ")) {
		return formatMbox
	}
	return formatEML
}

// rewriteMbox rewrites every message of an mbox stream into a new mbox.
// Messages that fail are logged and left out; the first failure is returned
// after all messages were processed.
func rewriteMbox(fwd *forwarder.Forwarder, r io.Reader, w io.Writer, forwardTo, sender, subjectPrefix string) error {
	mr := mbox.NewReader(r)
	mw := mbox.NewWriter(w)

	var (
		firstErr  error
		total     int
		rewritten int
	)
	for {
		msg, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read mbox: %w", err)
		}
		total++

		raw, err := io.ReadAll(msg)
		if err != nil {
			return fmt.Errorf("failed to read message %d: %w", total, err)
		}

		out, err := fwd.Rewrite(toCRLF(raw), forwardTo, subjectPrefix)
		if err != nil {
			slog.Warn("failed to rewrite message",
				"index", total,
				"error", err,
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("message %d: %w", total, err)
			}
			continue
		}

		msgWriter, err := mw.CreateMessage(sender, time.Now())
		if err != nil {
			return fmt.Errorf("failed to write mbox: %w", err)
		}
		if _, err := msgWriter.Write(out); err != nil {
			return fmt.Errorf("failed to write mbox: %w", err)
		}
		rewritten++
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish mbox: %w", err)
	}

	slog.Info("mbox rewritten",
		"messages", total,
		"rewritten", rewritten,
	)
	return firstErr
}
