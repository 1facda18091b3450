package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/qrform/internal/config"
	"github.com/hpungsan/qrform/internal/errors"
	"github.com/hpungsan/qrform/internal/journal"
	"github.com/hpungsan/qrform/internal/payload"
	"github.com/hpungsan/qrform/internal/questionnaire"
	"github.com/hpungsan/qrform/internal/remote"
	"github.com/hpungsan/qrform/internal/review"
	"github.com/hpungsan/qrform/internal/wizard"
)

// maxInput caps files and stdin read by the CLI.
const maxInput = 4 << 20

// newCLIApp creates the CLI application with all commands.
// db may be nil when the journal is disabled or unavailable.
func newCLIApp(cfg *config.Config, db *sql.DB, logger *slog.Logger) *cli.App {
	app := &cli.App{
		Name:    "qrform",
		Usage:   "Questionnaire answers to encrypted QR payloads",
		Version: Version,
		Commands: []*cli.Command{
			templateCmd(cfg, logger),
			resolveCmd(),
			validateCmd(),
			reviewCmd(),
			encodeCmd(cfg, db, logger),
			decodeCmd(),
			logsCmd(db),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func templateFlag() cli.Flag {
	return &cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "Template JSON file", Required: true}
}

func answersFlag() cli.Flag {
	return &cli.StringFlag{Name: "answers", Aliases: []string{"a"}, Usage: "Answers JSON file (- for stdin)"}
}

// templateCmd creates the template command.
func templateCmd(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "template",
		Usage:     "Fetch and print the template for a department",
		ArgsUsage: "<department>",
		Action: func(c *cli.Context) error {
			department := strings.TrimSpace(c.Args().First())
			if department == "" {
				return outputError(errors.NewInvalidRequest("department is required"))
			}
			tmpl, err := remote.New(cfg, logger).FetchTemplate(c.Context, department)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(tmpl)
		},
	}
}

// resolveCmd creates the resolve command.
func resolveCmd() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Drop answers to hidden questions",
		Flags: []cli.Flag{templateFlag(), answersFlag()},
		Action: func(c *cli.Context) error {
			tmpl, answers, err := loadForm(c)
			if err != nil {
				return outputError(err)
			}
			resolved, err := questionnaire.Resolve(tmpl, answers)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(resolved)
		},
	}
}

// validateCmd creates the validate command.
func validateCmd() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate answers against a template (exit 1 when invalid)",
		Flags: []cli.Flag{templateFlag(), answersFlag()},
		Action: func(c *cli.Context) error {
			tmpl, answers, err := loadForm(c)
			if err != nil {
				return outputError(err)
			}
			report := questionnaire.Validate(tmpl, answers)
			if err := outputJSON(report); err != nil {
				return err
			}
			if !report.Valid {
				return outputError(report.Err())
			}
			return nil
		},
	}
}

// reviewCmd creates the review command.
func reviewCmd() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Print the confirmation summary as markdown",
		Flags: []cli.Flag{
			templateFlag(),
			answersFlag(),
			&cli.BoolFlag{Name: "html", Usage: "Render HTML instead of markdown"},
		},
		Action: func(c *cli.Context) error {
			tmpl, answers, err := loadForm(c)
			if err != nil {
				return outputError(err)
			}
			items, err := review.Build(tmpl, answers)
			if err != nil {
				return outputError(err)
			}
			out := review.Markdown(tmpl, items)
			if c.Bool("html") {
				if out, err = review.HTML(tmpl, items); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}
			_, err = fmt.Fprint(os.Stdout, out)
			return err
		},
	}
}

// encodeCmd creates the encode command. It runs the same wizard a
// respondent goes through, so the log record is emitted exactly as it
// would be from the form.
func encodeCmd(cfg *config.Config, db *sql.DB, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "encode",
		Usage: "Encrypt answers into a QR payload string",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "department", Aliases: []string{"d"}, Usage: "Department id", Required: true},
			&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "Template JSON file (fetched when omitted)"},
			answersFlag(),
			&cli.StringFlag{Name: "public-key", Aliases: []string{"k"}, Usage: "PEM public key file (fetched when omitted)"},
			&cli.BoolFlag{Name: "no-log", Usage: "Journal the log record without sending it"},
		},
		Action: func(c *cli.Context) error {
			client := remote.New(cfg, logger)
			services := wizard.Services{Templates: client, Keys: client}

			if path := c.String("template"); path != "" {
				tmpl, err := readTemplate(path)
				if err != nil {
					return outputError(err)
				}
				services.Templates = staticTemplate{tmpl}
			}
			if path := c.String("public-key"); path != "" {
				key, err := readInput(path)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				services.Keys = payload.StaticKey(key)
			}

			recorder := &journal.Recorder{DB: db, Sender: client, Logger: logger}
			if c.Bool("no-log") {
				recorder.Sender = nil
			}
			services.Logs = recorder

			raw, err := readInput(c.String("answers"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			qr, err := runWizard(c.Context, wizard.NewSession(services, logger), c.String("department"), []byte(raw))
			if err != nil {
				return outputError(err)
			}
			_, err = fmt.Fprintln(os.Stdout, qr)
			return err
		},
	}
}

// decodeCmd creates the decode command.
func decodeCmd() *cli.Command {
	return &cli.Command{
		Name:  "decode",
		Usage: "Decrypt a QR payload read from stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "private-key", Aliases: []string{"k"}, Usage: "PEM private key file", Required: true},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("QR payload must be piped via stdin"))
			}
			pemText, err := readInput(c.String("private-key"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			priv, err := payload.ParsePrivateKey(pemText)
			if err != nil {
				return outputError(err)
			}
			qr, err := readStdin(maxInput)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			text, err := payload.Decode(priv, qr)
			if err != nil {
				return outputError(err)
			}
			fields, err := payload.ParseCSV(text)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			return outputJSON(map[string]any{"csv": text, "fields": fields})
		},
	}
}

// logsCmd creates the logs command.
func logsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "List journaled log records, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: journal.DefaultListLimit, Usage: "Maximum records"},
		},
		Action: func(c *cli.Context) error {
			if db == nil {
				return outputError(errors.NewInvalidRequest("journal is disabled"))
			}
			entries, err := journal.List(c.Context, db, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			undelivered, err := journal.CountUndelivered(c.Context, db)
			if err != nil {
				return outputError(err)
			}
			if entries == nil {
				entries = []journal.Entry{}
			}
			return outputJSON(map[string]any{"entries": entries, "undelivered": undelivered})
		},
	}
}

// runWizard walks a session from the notice to the QR code and returns the
// QR string. Any alert that stops the walk is returned as its error.
func runWizard(ctx context.Context, sess *wizard.Session, department string, rawAnswers []byte) (string, error) {
	sess.Dispatch(ctx, wizard.AcknowledgeNotice{})
	st := sess.Dispatch(ctx, wizard.SelectDepartment{DepartmentID: department})
	if st.Step != wizard.StepForm {
		return "", alertError(st)
	}

	answers, err := questionnaire.ParseAnswers(st.Template, rawAnswers)
	if err != nil {
		return "", err
	}
	if st = fill(ctx, sess, answers); st.Alert != wizard.AlertNone {
		return "", alertError(st)
	}

	if st = sess.Dispatch(ctx, wizard.Proceed{}); st.Step != wizard.StepConfirm {
		return "", alertError(st)
	}
	if st = sess.Dispatch(ctx, wizard.Confirm{}); st.Step != wizard.StepQRCode {
		return "", alertError(st)
	}
	return st.QRData, nil
}

// fill sets every answer. A conditional question only accepts an answer
// once its controlling answer is in place, so passes repeat until nothing
// more sticks.
func fill(ctx context.Context, sess *wizard.Session, answers questionnaire.AnswerSet) wizard.State {
	st := sess.State()
	for pass := 0; pass <= len(answers); pass++ {
		changed := false
		for _, id := range answers.Keys() {
			if questionnaire.Equal(st.Answers[id], answers[id]) {
				continue
			}
			st = sess.Dispatch(ctx, wizard.SetAnswer{QuestionID: id, Answer: answers[id]})
			if st.Alert != wizard.AlertNone {
				return st
			}
			if questionnaire.Equal(st.Answers[id], answers[id]) {
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return st
}

func alertError(st wizard.State) error {
	if st.Err != nil {
		return st.Err
	}
	msg := st.Alert.Message()
	if msg == "" {
		msg = fmt.Sprintf("wizard stopped at %s", st.Step)
	}
	return errors.NewInternal(fmt.Errorf("%s", msg))
}

// staticTemplate serves one template for every department.
type staticTemplate struct {
	tmpl *questionnaire.Template
}

func (s staticTemplate) FetchTemplate(context.Context, string) (*questionnaire.Template, error) {
	return s.tmpl, nil
}

// Helper functions

// loadForm reads the --template and --answers files.
func loadForm(c *cli.Context) (*questionnaire.Template, questionnaire.AnswerSet, error) {
	tmpl, err := readTemplate(c.String("template"))
	if err != nil {
		return nil, nil, err
	}
	raw, err := readInput(c.String("answers"))
	if err != nil {
		return nil, nil, errors.NewInvalidRequest(err.Error())
	}
	answers, err := questionnaire.ParseAnswers(tmpl, []byte(raw))
	if err != nil {
		return nil, nil, err
	}
	return tmpl, answers, nil
}

func readTemplate(path string) (*questionnaire.Template, error) {
	raw, err := readInput(path)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return questionnaire.ParseTemplate([]byte(raw))
}

// readInput reads a file, or stdin for "-". An empty path reads as an empty
// JSON object so answers may be omitted.
func readInput(path string) (string, error) {
	switch path {
	case "":
		return "{}", nil
	case "-":
		return readStdin(maxInput)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return readLimited(f, maxInput)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	qrErr := errors.As(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", qrErr.Code, qrErr.Message), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	return readLimited(os.Stdin, limit)
}

func readLimited(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("input exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
