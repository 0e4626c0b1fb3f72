package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestParse_SkipsCommentsBlanksAndShortLines(t *testing.T) {
	input := strings.Join([]string{
		"# block advertising",
		"",
		`^ads\..*$  0.0.0.0`,
		"lonely-token",
		"   ",
		`\.internal$	10.1.0.1 10.1.0.2`,
	}, "\n")

	table, err := Parse(strings.NewReader(input))
	require.NotNil(t, table)
	assert.Equal(t, 2, table.Len())

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrMalformedRuleLine))

	var lineErr *LineError
	require.True(t, errors.As(errs[0], &lineErr))
	assert.Equal(t, 4, lineErr.Line)

	rule, ok := table.Match("ads.example.com")
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0", rule.Targets()[0].String())

	rule, ok = table.Match("db.internal")
	require.True(t, ok)
	assert.Len(t, rule.Targets(), 2)
}

func TestParse_WellFormedHasNoError(t *testing.T) {
	table, err := Parse(strings.NewReader("a 1.1.1.1\n  # indented comment\nb 2.2.2.2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
}

func TestParse_InvalidPatternAndAddressAreSkipped(t *testing.T) {
	input := "(broken 1.1.1.1\ngood 2.2.2.2\nbad 300.1.1.1\n"

	table, err := Parse(strings.NewReader(input))
	require.NotNil(t, table)
	assert.Equal(t, 1, table.Len())
	assert.Len(t, multierr.Errors(err), 2)
}

func TestParse_PreservesFileOrder(t *testing.T) {
	table, err := Parse(strings.NewReader("example 1.1.1.1\nexample\\.com 2.2.2.2\n"))
	require.NoError(t, err)

	rule, ok := table.Match("example.com")
	require.True(t, ok)
	assert.Equal(t, "1.1.1.1", rule.Targets()[0].String())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte("^ads\\. 0.0.0.0\n"), 0o644))

	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	table, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Nil(t, table)
	assert.Error(t, err)
}

func TestParse_LongLines(t *testing.T) {
	addrs := make([]string, 0, 10000)
	for i := 0; i < cap(addrs); i++ {
		addrs = append(addrs, fmt.Sprintf("10.%d.%d.%d", i>>16&0xff, i>>8&0xff, i&0xff))
	}
	wide := "^wide\\.example$ " + strings.Join(addrs, " ")
	require.Greater(t, len(wide), 64*1024)

	huge := "^huge\\.example$ " + strings.Repeat("10.0.0.1 ", maxRuleLineSize/9+1)

	input := strings.Join([]string{wide, huge, `^after\.example$ 10.9.9.9`}, "\n")

	table, err := Parse(strings.NewReader(input))
	require.NotNil(t, table)
	assert.Equal(t, 2, table.Len())

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)

	var lineErr *LineError
	require.True(t, errors.As(errs[0], &lineErr))
	assert.Equal(t, 2, lineErr.Line)

	rule, ok := table.Match("wide.example")
	require.True(t, ok)
	assert.Len(t, rule.Targets(), 10000)

	_, ok = table.Match("huge.example")
	assert.False(t, ok)

	rule, ok = table.Match("after.example")
	require.True(t, ok)
	assert.Equal(t, "10.9.9.9", rule.Targets()[0].String())
}
