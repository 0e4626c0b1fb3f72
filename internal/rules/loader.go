package rules

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
)

// ErrMalformedRuleLine marks a rule file line that was skipped during loading.
var ErrMalformedRuleLine = errors.New("malformed rule line")

// LineError describes a single skipped line of a rule file.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("rules: %v: line=%d err=%v", ErrMalformedRuleLine, e.Line, e.Err)
}

// Unwrap allows errors.Is to match ErrMalformedRuleLine as well as the underlying cause.
func (e *LineError) Unwrap() []error {
	return []error{ErrMalformedRuleLine, e.Err}
}

// Load reads a rule file from disk. See Parse for the semantics of the return values.
func Load(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules: error opening rule file: path=%s err=%v", path, err)
	}
	defer file.Close()

	return Parse(file)
}

// maxRuleLineSize bounds the length of a single rule file line.
const maxRuleLineSize = 1 << 20

// Parse reads rules from r, one per line. The first whitespace-separated token of a line is the
// pattern and the remaining tokens are its addresses. Blank lines and lines starting with '#' are
// ignored.
//
// Malformed lines are skipped without aborting the load: the returned table then holds the
// well-formed rules and the returned error combines one *LineError per skipped line (use
// multierr.Errors to enumerate them). Lines longer than 1 MiB are skipped the same way. The table
// is nil only if r itself could not be read.
func Parse(r io.Reader) (*Table, error) {
	var rules []*Rule
	var skipped error

	reader := bufio.NewReader(r)
	lineNo := 0

	for {
		line, tooLong, err := readLine(reader, maxRuleLineSize)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("rules: error reading rules: line=%d err=%v", lineNo+1, err)
		}

		if err == io.EOF && len(line) == 0 && !tooLong {
			break
		}

		lineNo++

		if tooLong {
			skipped = multierr.Append(skipped, &LineError{
				Line: lineNo,
				Err:  fmt.Errorf("line exceeds %d bytes", maxRuleLineSize),
			})
		} else if rule, ruleErr := parseLine(line); ruleErr != nil {
			skipped = multierr.Append(skipped, &LineError{Line: lineNo, Err: ruleErr})
		} else if rule != nil {
			rules = append(rules, rule)
		}

		if err == io.EOF {
			break
		}
	}

	return NewTable(rules...), skipped
}

// parseLine decodes a single rule line. Blank and comment lines yield a nil rule and no error.
func parseLine(line []byte) (*Rule, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return nil, nil
	}

	f := bytes.Fields(line)
	if len(f) < 2 {
		return nil, fmt.Errorf("expected a pattern and at least one address: tokens=%d", len(f))
	}

	targets := make([]string, 0, len(f)-1)
	for _, token := range f[1:] {
		targets = append(targets, string(token))
	}

	return NewRule(string(f[0]), targets...)
}

// readLine reads through the next newline. The line is discarded and tooLong set if it exceeds
// limit bytes; the rest of it is still consumed so that reading resumes on the following line.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong && len(line)+len(chunk) <= limit {
			line = append(line, chunk...)
		} else {
			tooLong = true
			line = nil
		}

		if err != bufio.ErrBufferFull {
			return line, tooLong, err
		}
	}
}
