package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/teledigest/pkg/repair"
	"github.com/Sumatoshi-tech/teledigest/pkg/telemetry"
)

// stdinArg selects standard input as the repair source.
const stdinArg = "-"

// RepairCommand holds the flags of the repair command.
type RepairCommand struct {
	diff    bool
	fixes   bool
	noColor bool
}

// NewRepairCommand creates the repair command.
func NewRepairCommand() *cobra.Command {
	rc := &RepairCommand{}

	cmd := &cobra.Command{
		Use:   "repair [file|-]",
		Short: "Repair one near-JSON telemetry document",
		Long: `Run the lenient repair parser over one telemetry document and print the
repaired JSON. The command fails when the result still does not parse.

Examples:
  teledigest repair record.json
  echo '{"a":1 "b":2,}' | teledigest repair --diff
  teledigest repair - --fixes < record.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().BoolVar(&rc.diff, "diff", false, "Show the changes instead of the repaired text")
	cmd.Flags().BoolVar(&rc.fixes, "fixes", false, "List every applied fix on stderr")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (rc *RepairCommand) run(cmd *cobra.Command, args []string) error {
	input, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	colored := !rc.noColor && !color.NoColor
	result := repair.Repair(strings.TrimSpace(input))
	out := cmd.OutOrStdout()

	if rc.diff {
		fmt.Fprintln(out, renderDiff(strings.TrimSpace(input), result.Text, colored))
	} else {
		fmt.Fprintln(out, result.Text)
	}

	if rc.fixes && !quiet(cmd) {
		for _, fix := range result.Fixes {
			fmt.Fprintf(cmd.ErrOrStderr(), "fixed: %s\n", fix)
		}
	}

	_, decodeErr := telemetry.Decode(result.Text)
	if decodeErr != nil {
		return fmt.Errorf("repaired text is still not valid JSON: %w", decodeErr)
	}

	if !quiet(cmd) {
		status := paint(color.FgGreen, colored, "valid")
		fmt.Fprintf(cmd.ErrOrStderr(), "%s JSON after %d fix(es)\n", status, len(result.Fixes))
	}

	return nil
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == stdinArg {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}

		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}

	return string(data), nil
}

// renderDiff marks deleted text as [-...-] and inserted text as {+...+},
// colored red and green when colored is set.
func renderDiff(before, after string, colored bool) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))

	var sb strings.Builder

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			sb.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			sb.WriteString(paint(color.FgRed, colored, "[-"+d.Text+"-]"))
		case diffmatchpatch.DiffInsert:
			sb.WriteString(paint(color.FgGreen, colored, "{+"+d.Text+"+}"))
		}
	}

	return sb.String()
}

func paint(attr color.Attribute, colored bool, text string) string {
	c := color.New(attr)
	if colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c.Sprint(text)
}
