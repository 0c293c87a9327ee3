package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Michdriod/RCA-AI/internal/app"
	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/engine"
	"github.com/Michdriod/RCA-AI/internal/logging"
	"github.com/Michdriod/RCA-AI/internal/report"
)

var runFlags struct {
	report string
}

var runCmd = &cobra.Command{
	Use:   "run <problem statement>",
	Short: "Run an interactive 5 Whys session on stdin/stdout",
	Long: `Starts a session for the problem statement and asks up to five why-questions.
Type one answer per line. After the fifth answer the root cause and its
contributing factors are printed. Pass --report to also print an export.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.report, "report", "", "print a report when done: md, html, yaml or json")
}

func runRun(cmd *cobra.Command, args []string) error {
	var format report.Format
	if runFlags.report != "" {
		f, err := report.ParseFormat(runFlags.report)
		if err != nil {
			return err
		}
		format = f
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, logging.New("engine"))
	if err != nil {
		return err
	}
	defer a.Close()

	return runDialogue(cmd.Context(), a.Engine, strings.Join(args, " "), cmd.InOrStdin(), cmd.OutOrStdout(), format)
}

// dialogue is the part of the engine an interactive session needs.
type dialogue interface {
	Start(ctx context.Context, problem string) (*domain.Session, *domain.Question, error)
	SubmitAnswer(ctx context.Context, id, text string) (*domain.Session, error)
	Next(ctx context.Context, id string) (*domain.Session, engine.Artifact, error)
}

var errInputClosed = errors.New("input closed before the session completed")

func runDialogue(ctx context.Context, eng dialogue, problem string, in io.Reader, out io.Writer, format report.Format) error {
	s, q, err := eng.Start(ctx, problem)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s\n\n", s.ID)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprintf(out, "Why %d/%d: %s\n", q.Index, domain.MaxSteps, q.Text)
		answer, err := readAnswer(scanner, out)
		if err != nil {
			return err
		}
		s, err = eng.SubmitAnswer(ctx, s.ID, answer)
		if err != nil {
			return err
		}
		if a := s.LastAnswer(); a != nil {
			fmt.Fprintf(out, "  (%s)\n\n", strings.ToLower(string(a.Tier)))
		}

		var art engine.Artifact
		s, art, err = eng.Next(ctx, s.ID)
		if err != nil {
			return err
		}
		if art.Kind == engine.ArtifactRootCause {
			printRootCause(out, art.RootCause)
			break
		}
		q = art.Question
	}

	if format == "" {
		return nil
	}
	fmt.Fprintln(out)
	return report.Write(out, s, format)
}

func readAnswer(scanner *bufio.Scanner, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("read answer: %w", err)
			}
			fmt.Fprintln(out)
			return "", errInputClosed
		}
		if answer := strings.TrimSpace(scanner.Text()); answer != "" {
			return answer, nil
		}
		fmt.Fprintln(out, "Please type an answer.")
	}
}

func printRootCause(out io.Writer, rc *domain.RootCause) {
	if rc == nil {
		return
	}
	fmt.Fprintf(out, "Root cause: %s\n", rc.Summary)
	if len(rc.ContributingFactors) == 0 {
		return
	}
	fmt.Fprintln(out, "Contributing factors:")
	for _, f := range rc.ContributingFactors {
		fmt.Fprintf(out, "  - %s\n", f)
	}
}
