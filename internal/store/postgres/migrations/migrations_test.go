package migrations

import (
	"bufio"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goose splits statements at lines ending in ';' and does not understand
// dollar quoting, so every $$ body must sit inside StatementBegin/End.
func TestDollarQuotedBodiesAreWrapped(t *testing.T) {
	files, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		t.Run(name, func(t *testing.T) {
			b, err := fs.ReadFile(FS, name)
			require.NoError(t, err)

			inBlock := false
			sc := bufio.NewScanner(strings.NewReader(string(b)))
			for n := 1; sc.Scan(); n++ {
				line := strings.TrimSpace(sc.Text())
				switch line {
				case "-- +goose StatementBegin":
					require.False(t, inBlock, "line %d: nested StatementBegin", n)
					inBlock = true
					continue
				case "-- +goose StatementEnd":
					require.True(t, inBlock, "line %d: StatementEnd without StatementBegin", n)
					inBlock = false
					continue
				}
				if strings.Contains(line, "$$") {
					assert.True(t, inBlock, "line %d: dollar-quoted body outside StatementBegin/End", n)
				}
			}
			require.NoError(t, sc.Err())
			assert.False(t, inBlock, "unterminated StatementBegin")
		})
	}
}

func TestInitMigrationHasUpAndDown(t *testing.T) {
	b, err := fs.ReadFile(FS, "00001_init.sql")
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, "-- +goose Up")
	assert.Contains(t, s, "-- +goose Down")
	assert.Less(t, strings.Index(s, "-- +goose Up"), strings.Index(s, "-- +goose Down"))
}
