// Package output provides structured output handling for the git-export CLI.
//
// Every run ends in one of two shapes: a human-readable report on the
// terminal, or a single JSON document for scripts (--json).
//
// # Printer
//
//	printer := output.NewPrinter(cmd.OutOrStdout(), jsonFlag, output.IsTTY(cmd.OutOrStdout()))
//
//	printer.Success(map[string]any{"message": "Exported 12 files"})
//	printer.Error(err)
//	printer.Table([]string{"COMMIT", "AUTHOR"}, rows)
//
// Human output is styled with lipgloss and the styles collapse to plain
// text when output is piped or --color never is given.
//
// # Exit Codes
//
//	output.ExitSuccess     // 0: Success
//	output.ExitUserError   // 1: User error (bad flags, bad archive name, bad pattern)
//	output.ExitSystemError // 2: System error (repository, diff, filesystem, archive)
//
// In JSON mode errors are written as {"error": "...", "code": N}.
package output
