package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehr/rxhl7/internal/config"
	"github.com/ehr/rxhl7/internal/domain/prescription"
	"github.com/ehr/rxhl7/internal/platform/hl7v2"
)

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [document]",
		Short: "Convert a prescription document (JSON or YAML) to an HL7 v2 message",
		Long: "Reads the prescription document from the given file, or stdin when the\n" +
			"argument is omitted or \"-\", and writes the encoded message. Without\n" +
			"--out, a file argument produces <name>.hl7 next to it and stdin input\n" +
			"is written to stdout.",
		Args: cobra.MaximumNArgs(1),
		RunE: runBuild,
	}
	cmd.Flags().StringP("out", "o", "", `Output path ("-" for stdout)`)
	cmd.Flags().String("control-id", "", "Use this MSH-10 instead of a generated one")
	cmd.Flags().String("message-type", "", "RDE^O11 or ORM^O01 (default from HL7_MESSAGE_TYPE)")
	cmd.Flags().Bool("send", false, "Transmit the message to MLLP_ADDR and report the acknowledgment")
	cmd.Flags().String("mllp-addr", "", "Override MLLP_ADDR")
	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("control-id"); v != "" {
		cfg.HL7ControlID = v
	}
	if v, _ := cmd.Flags().GetString("message-type"); v != "" {
		cfg.HL7MessageType = v
	}
	if v, _ := cmd.Flags().GetString("mllp-addr"); v != "" {
		cfg.MLLPAddr = v
	}
	logger := newLogger(cfg.Env, cmd.ErrOrStderr())

	input := "-"
	if len(args) == 1 {
		input = args[0]
	}
	data, err := readInput(cmd, input)
	if err != nil {
		return err
	}
	doc, err := prescription.DecodeDocument(data)
	if err != nil {
		return err
	}
	p, err := doc.ToPrescription()
	if err != nil {
		return err
	}

	svc := newService(cfg, nil, logger)
	out, err := svc.Generate(cmd.Context(), p)
	if err != nil {
		return err
	}

	dest, _ := cmd.Flags().GetString("out")
	if dest == "" {
		dest = defaultOutput(input)
	}
	if err := writeOutput(cmd, dest, out.Wire); err != nil {
		return err
	}
	if dest != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %d segments)\n", dest, out.ControlID, out.Segments)
	}

	send, _ := cmd.Flags().GetBool("send")
	if !send {
		return nil
	}
	resp, err := svc.Send(cmd.Context(), out.Text)
	if err != nil {
		return fmt.Errorf("send %s: %w", out.ControlID, err)
	}
	return reportResponse(cmd.ErrOrStderr(), out.ControlID, resp)
}

func parseResponseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse-response [file]",
		Short: "Classify a received acknowledgment and print it as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := "-"
			if len(args) == 1 {
				input = args[0]
			}
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			charset, _ := cmd.Flags().GetString("charset")
			text, err := hl7v2.DecodeCharset(hl7v2.UnframeOrRaw(data), charset)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(hl7v2.ParseResponse(text))
		},
	}
	cmd.Flags().String("charset", "UTF-8", "Character set of the input (MSH-18 label)")
	return cmd
}

func reportResponse(w io.Writer, controlID string, resp *hl7v2.Response) error {
	code, text := "", ""
	if ack := resp.Acknowledgment; ack != nil {
		code, text = ack.Code, ack.Message
	}
	fmt.Fprintf(w, "%s: %s %s %s\n", controlID, resp.Status, code, text)
	switch resp.Status {
	case hl7v2.AckError, hl7v2.AckRejected:
		return fmt.Errorf("pharmacy %s message %s: %s", resp.Status, controlID, strings.TrimSpace(code+" "+text))
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func defaultOutput(input string) string {
	if input == "-" {
		return "-"
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".hl7"
}

func writeOutput(cmd *cobra.Command, dest string, data []byte) error {
	if dest == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
