// Package repl is the line-oriented interactive loop over the query engine.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/query"
)

const (
	prompt       = "> "
	selectPrompt = "select> "
)

// Engine is the query side the REPL drives.
type Engine interface {
	Resolve(ctx context.Context, raw string) query.Turn
	Continue(ctx context.Context, state *query.Disambiguation, input string) query.Turn
	ListNotes() []ledger.Entry
	Stats(ctx context.Context) (query.Stats, error)
}

// REPL reads one input per line and prints each turn. A pending choice is
// the only state kept between lines.
type REPL struct {
	engine  Engine
	in      *bufio.Scanner
	out     io.Writer
	logger  *slog.Logger
	pending *query.Disambiguation
}

// New creates a REPL reading from in and writing to out.
func New(engine Engine, in io.Reader, out io.Writer, logger *slog.Logger) *REPL {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &REPL{engine: engine, in: sc, out: out, logger: logger}
}

// Run loops until quit/exit, end of input or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	r.println(headerStyle.Render("ansuz") + dimStyle.Render(" - ask your notes. Type 'quit' to exit."))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if r.pending != nil {
			r.print(selectPrompt)
		} else {
			r.print(prompt)
		}
		if !r.in.Scan() {
			r.println("")
			return r.in.Err()
		}
		if !r.handle(ctx, r.in.Text()) {
			return nil
		}
	}
}

// Ask resolves a single query. A resulting choice is still answered from
// the input, and Ask returns once nothing is pending.
func (r *REPL) Ask(ctx context.Context, q string) error {
	r.handle(ctx, q)
	for r.pending != nil {
		if err := ctx.Err(); err != nil {
			return nil
		}
		r.print(selectPrompt)
		if !r.in.Scan() {
			r.println("")
			return r.in.Err()
		}
		r.handle(ctx, r.in.Text())
	}
	return nil
}

// handle processes one line and reports whether to keep going.
func (r *REPL) handle(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)

	if r.pending != nil {
		r.render(r.engine.Continue(ctx, r.pending, input))
		return true
	}

	switch strings.ToLower(input) {
	case "":
		return true
	case "quit", "exit":
		return false
	case "list notes", "list":
		r.listNotes()
		return true
	case "stats":
		r.stats(ctx)
		return true
	case "help":
		r.help()
		return true
	}

	r.logger.Debug("repl: query", slog.String("input", input))
	r.render(r.engine.Resolve(ctx, input))
	return true
}

func (r *REPL) render(t query.Turn) {
	r.pending = t.State

	switch t.Kind {
	case query.TurnContent:
		// Date bundles carry their own FILE headers.
		if len(t.Notes) == 1 && t.Intent != query.IntentDateExact.String() && t.Intent != query.IntentDateRange.String() {
			r.println(headerStyle.Render("=== " + t.Notes[0] + " ==="))
		}
		r.println(t.Text)
	case query.TurnAnswer:
		r.println(answerBoxStyle.Render(t.Text))
		if len(t.Notes) > 0 {
			r.println(dimStyle.Render("sources: " + strings.Join(t.Notes, ", ")))
		}
	case query.TurnDisambiguation:
		if t.Text != "" {
			r.println(headerStyle.Render("=== Preview ==="))
			r.println(t.Text)
		}
		r.choices(t.State)
	case query.TurnCancelled:
		r.println(dimStyle.Render("Cancelled."))
	case query.TurnNoMatch:
		r.println("No matching notes found.")
	case query.TurnError:
		r.println(errorStyle.Render(fmt.Sprintf("%s: %s", t.Error, t.Message)))
		if t.State != nil {
			r.println(dimStyle.Render(hint(t.State)))
		}
	}
}

func (r *REPL) choices(state *query.Disambiguation) {
	if state.Kind == query.ChoiceSemantic {
		r.println(fmt.Sprintf("Semantic matches for '%s':", state.Term))
	} else {
		r.println(fmt.Sprintf("Multiple notes match '%s':", state.Term))
	}
	for _, c := range state.Candidates {
		line := numberStyle.Render(fmt.Sprintf("%d.", c.Number)) + " " + c.NoteID
		if !c.Date.IsZero() {
			line += dimStyle.Render(" (" + c.Date.String() + ")")
		}
		if c.Snippet != "" {
			line += " -- " + query.Preview(c.Snippet, query.SnippetChars)
		}
		r.println(line)
	}
	r.println(dimStyle.Render(hint(state)))
}

func hint(state *query.Disambiguation) string {
	if state.Kind == query.ChoiceSubstring {
		return "Enter a number to show, 'p<number>' to preview, 's' for semantic search, or 'c' to cancel."
	}
	return "Enter a number to show, 'p<number>' to preview, or 'c' to cancel."
}

func (r *REPL) listNotes() {
	notes := r.engine.ListNotes()
	if len(notes) == 0 {
		r.println("No notes ingested yet.")
		return
	}
	r.println(headerStyle.Render("Indexed notes:"))
	for _, n := range notes {
		r.println(n.NoteID)
	}
}

func (r *REPL) stats(ctx context.Context) {
	s, err := r.engine.Stats(ctx)
	if err != nil {
		r.println(errorStyle.Render(err.Error()))
		return
	}
	r.println(fmt.Sprintf("Total indexed notes: %d", s.Notes))
	r.println(fmt.Sprintf("Dated notes: %d", s.Dated))
	r.println(fmt.Sprintf("Chunks: %d", s.Chunks))
	if !s.Oldest.IsZero() {
		r.println(fmt.Sprintf("Range: %s .. %s", s.Oldest, s.Newest))
	}
}

func (r *REPL) help() {
	r.println(`Commands:
  list notes                  list ingested notes
  stats                       counts and date range
  quit | exit                 leave
Queries:
  <note id>                   show a note, e.g. 2025-01-02.md
  show note <term>            find notes by file name
  from|on <date>              notes of one day (YYYY-MM-DD, today, yesterday)
  between <date> and <date>   notes in a date range
  last week | last N days     summarise recent notes
  anything else               answer from the most relevant notes`)
}

func (r *REPL) print(s string) {
	_, _ = io.WriteString(r.out, s)
}

func (r *REPL) println(s string) {
	_, _ = io.WriteString(r.out, s+"\n")
}
