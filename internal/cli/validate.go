package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/harness"
)

// FileValidation holds the validation result of one scenario file.
type FileValidation struct {
	File   string                    `json:"file"`
	Name   string                    `json:"name,omitempty"`
	Valid  bool                      `json:"valid"`
	Rounds int                       `json:"rounds,omitempty"`
	Errors []harness.ValidationError `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <paths...>",
		Short: "Validate scenarios without running them",
		Long: `Validate scenario files against the scenario schema and check their
structure: unique actor names, known operations, increasing rounds, step
arguments and assertion references. Nothing is spawned.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	files, err := harness.FindScenarioFiles(paths)
	if err != nil {
		return commandError(formatter, ErrCodeNoScenarios, "failed to find scenarios", err)
	}
	formatter.VerboseLog("Found %d scenario file(s)", len(files))

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		formatter.VerboseLog("Validating %s", file)
		fv := validateFile(file)
		result.Files = append(result.Files, fv)
		result.Valid = result.Valid && fv.Valid
	}

	if result.Valid {
		return outputValidateSuccess(formatter, result)
	}
	return outputValidationErrors(formatter, result)
}

// validateFile loads one scenario. Read and syntax errors that are not
// ValidationErrors are reported as a single generic error.
func validateFile(file string) FileValidation {
	fv := FileValidation{File: file}

	s, err := harness.LoadScenario(file)
	if err == nil {
		fv.Valid = true
		fv.Name = s.Name
		fv.Rounds = s.Rounds()
		return fv
	}

	var errs harness.ValidationErrors
	if errors.As(err, &errs) {
		fv.Errors = errs
	} else {
		fv.Errors = harness.ValidationErrors{{
			Field:   "file",
			Message: err.Error(),
			Code:    ErrCodeGeneric,
		}}
	}
	return fv
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	for _, fv := range result.Files {
		fmt.Fprintf(formatter.Writer, "✓ %s (%s, %d rounds)\n", fv.File, fv.Name, fv.Rounds)
	}
	fmt.Fprintf(formatter.Writer, "✓ All %d scenario(s) valid\n", len(result.Files))
	return nil
}

// outputValidationErrors outputs every invalid file with its errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	invalid, count := 0, 0
	for _, fv := range result.Files {
		if !fv.Valid {
			invalid++
			count += len(fv.Errors)
		}
	}
	message := fmt.Sprintf("validation failed with %d error(s) in %d file(s)", count, invalid)

	if formatter.JSON() {
		if err := formatter.Failure(ErrCodeValidation, message, result); err != nil {
			return err
		}
		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, message)
	}

	w := formatter.Writer
	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(w, "✓ %s\n", fv.File)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", fv.File)
		for _, e := range fv.Errors {
			if e.Line > 0 {
				fmt.Fprintf(w, "  line %d\n", e.Line)
			}
			fmt.Fprintf(w, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "✗ %s\n", message)

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, message)
}
