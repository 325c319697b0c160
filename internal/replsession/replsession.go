// Package replsession implements the persistent, line-oriented session
// loop: the frontend commands that need mutable state kept alive across
// lines (scanner matches, pointer map, global-reference map, remembered
// scan type), as opposed to the one-shot subcommands in internal/cmd.
// Input is a plain bufio.Scanner over stdin; history, readline editing,
// and coloring are left to the terminal.
package replsession

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dsmmcken/scanflow/internal/addr"
	"github.com/dsmmcken/scanflow/internal/codeanchor"
	"github.com/dsmmcken/scanflow/internal/pointermap"
	"github.com/dsmmcken/scanflow/internal/resolver"
	"github.com/dsmmcken/scanflow/internal/scanerr"
	"github.com/dsmmcken/scanflow/internal/scanner"
	"github.com/dsmmcken/scanflow/internal/sigmaker"
	"github.com/dsmmcken/scanflow/internal/target"
	"github.com/dsmmcken/scanflow/internal/valuecodec"
)

var scanTypes = map[string]bool{
	"str": true, "str_utf16": true,
	"i8": true, "i16": true, "i32": true, "i64": true, "i128": true,
	"u8": true, "u16": true, "u32": true, "u64": true, "u128": true,
	"f32": true, "f64": true,
}

const writeTickInterval = 200 * time.Millisecond
const maxPrintMatches = 16

// Session holds the mutable state a persistent REPL line needs: the live
// memory/module handles plus the scanner, pointer map, and code-anchor
// extractor built against them.
type Session struct {
	Mem        target.Memory
	Enumerator target.ModuleEnumerator
	Log        *logrus.Entry

	scanGap      uint64
	scanParallel bool
	scanWorkers  int

	scan     *scanner.Scanner
	pm       *pointermap.PointerMap
	extract  *codeanchor.Extractor
	typeMemo string
}

// Options configures a new Session's core subsystems.
type Options struct {
	Gap      uint64
	Parallel bool
	Workers  int
	Log      *logrus.Entry
}

// New creates a Session wired to mem/enum with the given scan tuning.
func New(mem target.Memory, enum target.ModuleEnumerator, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Session{
		Mem:          mem,
		Enumerator:   enum,
		Log:          opts.Log,
		scanGap:      opts.Gap,
		scanParallel: opts.Parallel,
		scanWorkers:  opts.Workers,
	}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.scan = scanner.New(scanner.Options{Gap: s.scanGap, Parallel: s.scanParallel, Workers: s.scanWorkers, Log: s.Log})
	s.pm = pointermap.New(pointermap.Options{Gap: s.scanGap, Parallel: s.scanParallel, Workers: s.scanWorkers, Log: s.Log})
	s.extract = codeanchor.New(codeanchor.Options{Log: s.Log})
	s.typeMemo = ""
}

// Run drains lines from in, dispatching each to the session, until `quit`
// is entered or in reaches EOF.
func Run(ctx context.Context, sess *Session, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		fmt.Fprint(out, "> ")
		line, ok := <-lines
		if !ok {
			return nil
		}
		quit, err := sess.Dispatch(ctx, line, out, lines)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
		if quit {
			return nil
		}
	}
}

// Dispatch handles a single input line. lines is the shared stdin-line
// channel; only the continuous `write` command reads from it, to detect
// the stop-on-any-input signal.
func (s *Session) Dispatch(ctx context.Context, line string, out io.Writer, lines <-chan string) (quit bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false, nil
	}
	fields := strings.Fields(trimmed)
	cmd := fields[0]

	switch cmd {
	case "quit", "q":
		return true, nil
	case "reset", "r":
		s.reset()
		return false, nil
	case "print", "p":
		return false, s.print(ctx, out)
	case "pointer_map", "pm":
		return false, s.pm.Build(ctx, s.Mem)
	case "globals", "g":
		return false, s.rebuildGlobals(ctx)
	case "offset_scan", "os":
		return false, s.offsetScan(ctx, fields[1:], out)
	case "sigmaker", "s":
		return false, s.sigmaker(ctx, fields[1:], out)
	case "write", "wr":
		return false, s.write(ctx, fields[1:], out, lines)
	}

	if scanTypes[cmd] {
		value := strings.TrimSpace(strings.TrimPrefix(trimmed, cmd))
		if value == "" && len(fields) < 2 {
			return false, fmt.Errorf("%w: %s requires a value", scanerr.ErrUsage, cmd)
		}
		needle, err := valuecodec.Encode(cmd, value)
		if err != nil {
			return false, err
		}
		s.typeMemo = cmd
		return false, s.scan.Scan(ctx, s.Mem, needle)
	}

	// Bare value: narrow using the remembered type.
	if s.typeMemo == "" {
		return false, fmt.Errorf("%w: no remembered type, use '<type> <value>' first", scanerr.ErrTypeParse)
	}
	needle, err := valuecodec.Encode(s.typeMemo, trimmed)
	if err != nil {
		return false, err
	}
	return false, s.scan.Scan(ctx, s.Mem, needle)
}

func (s *Session) print(ctx context.Context, out io.Writer) error {
	matches := s.scan.Matches()
	if len(matches) > maxPrintMatches {
		matches = matches[:maxPrintMatches]
	}
	size := valuecodec.Size(s.typeMemo)
	for i, a := range matches {
		if size < 0 {
			fmt.Fprintf(out, "%d: %s\n", i, a)
			continue
		}
		buf := make([]byte, size)
		n, err := s.Mem.ReadRange(ctx, a, buf)
		if err != nil || n != size {
			fmt.Fprintf(out, "%d: %s <unreadable>\n", i, a)
			continue
		}
		decoded, err := valuecodec.Decode(s.typeMemo, buf)
		if err != nil {
			fmt.Fprintf(out, "%d: %s <decode error>\n", i, a)
			continue
		}
		fmt.Fprintf(out, "%d: %s = %s\n", i, a, decoded)
	}
	return nil
}

func (s *Session) rebuildGlobals(ctx context.Context) error {
	mods, err := s.Enumerator.Modules(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", scanerr.ErrProviderRead, err)
	}
	s.extract.Reset()
	return s.extract.CollectGlobals(ctx, s.Mem, mods)
}

func (s *Session) offsetScan(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 4 {
		return fmt.Errorf("%w: offset_scan requires y|n lower upper max_depth [filter_hex]", scanerr.ErrUsage)
	}
	useCodeAnchors := args[0] == "y"
	if !useCodeAnchors && args[0] != "n" {
		return fmt.Errorf("%w: first offset_scan argument must be y or n", scanerr.ErrUsage)
	}
	lower, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: lower: %w", scanerr.ErrUsage, err)
	}
	upper, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: upper: %w", scanerr.ErrUsage, err)
	}
	maxDepth, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("%w: max_depth: %w", scanerr.ErrUsage, err)
	}

	var filter addr.Address
	hasFilter := false
	if len(args) >= 5 {
		v, err := strconv.ParseUint(args[4], 16, 64)
		if err != nil {
			return fmt.Errorf("%w: filter_hex: %w", scanerr.ErrUsage, err)
		}
		filter = addr.Address(v)
		hasFilter = true
	}

	var anchors []addr.Address
	if useCodeAnchors {
		for _, ref := range s.extract.Globals() {
			anchors = append(anchors, ref.Target)
		}
		sort.Slice(anchors, func(i, j int) bool { return anchors[i] < anchors[j] })
	} else {
		anchors = s.pm.Keys()
	}

	r := resolver.New(s.pm, anchors, resolver.Options{Lower: lower, Upper: upper, MaxDepth: maxDepth})
	chains := r.Resolve(s.scan.Matches())

	for _, c := range chains {
		if hasFilter && (len(c.Steps) == 0 || c.Steps[0].Node != filter) {
			continue
		}
		printChain(out, c)
	}
	return nil
}

func printChain(out io.Writer, c resolver.Chain) {
	fmt.Fprintf(out, "%s: ", c.Target)
	for i, step := range c.Steps {
		if i > 0 {
			fmt.Fprint(out, " -> ")
		}
		fmt.Fprintf(out, "(%s, %+d)", step.Node, step.Offset)
	}
	fmt.Fprintln(out)
}

func (s *Session) sigmaker(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: sigmaker requires hex_addr", scanerr.ErrUsage)
	}
	v, err := strconv.ParseUint(args[0], 16, 64)
	if err != nil {
		return fmt.Errorf("%w: hex_addr: %w", scanerr.ErrUsage, err)
	}
	ip := addr.Address(v)

	mods, err := s.Enumerator.Modules(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", scanerr.ErrProviderRead, err)
	}

	for _, m := range mods {
		sections, mode, err := codeanchor.ModuleSections(ctx, s.Mem, m)
		if err != nil {
			continue
		}
		for _, sec := range sections {
			if ip < sec.Base || ip >= sec.Base.Add(sec.Size) {
				continue
			}
			pattern, err := sigmaker.Extract(ctx, s.Mem, ip, sec.Base, sec.Size, sigmaker.Options{Mode: mode})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, pattern.String())
			return nil
		}
	}
	return fmt.Errorf("sigmaker: %s is not inside any known executable section", ip)
}

func (s *Session) write(ctx context.Context, args []string, out io.Writer, lines <-chan string) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: write requires (idx|*) (o|c) value", scanerr.ErrUsage)
	}
	if s.typeMemo == "" {
		return fmt.Errorf("%w: no remembered type to encode the write value as", scanerr.ErrTypeParse)
	}

	matches := s.scan.Matches()
	var targets []addr.Address
	if args[0] == "*" {
		targets = matches
	} else {
		idx, err := strconv.Atoi(args[0])
		if err != nil || idx < 0 || idx >= len(matches) {
			return fmt.Errorf("%w: invalid match index %q", scanerr.ErrUsage, args[0])
		}
		targets = matches[idx : idx+1]
	}

	mode := args[1]
	if mode != "o" && mode != "c" {
		return fmt.Errorf("%w: write mode must be o or c", scanerr.ErrUsage)
	}

	value := strings.Join(args[2:], " ")
	data, err := valuecodec.Encode(s.typeMemo, value)
	if err != nil {
		return err
	}

	writeOnce := func() {
		for _, a := range targets {
			if err := s.Mem.WriteRange(ctx, a, data); err != nil {
				s.Log.WithError(err).WithField("addr", a).Warn("replsession: write failed")
			}
		}
	}

	if mode == "o" {
		writeOnce()
		return nil
	}

	// Continuous: rewrite on every tick until any further input line
	// arrives on the shared channel. The stop line itself is consumed
	// here, not forwarded back to the main loop.
	ticker := time.NewTicker(writeTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lines:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			writeOnce()
		}
	}
}
