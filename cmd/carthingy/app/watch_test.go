package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthingy/carthingy/cmd/carthingy/app/options"
	"github.com/carthingy/carthingy/internal/carthingy"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/transport"
)

func TestParseWatchLine(t *testing.T) {
	tests := []struct {
		line    string
		want    model.Query
		quit    bool
		wantErr bool
	}{
		{line: "   "},
		{line: "ABC-123", want: model.Query{Identifier: "ABC-123"}},
		{line: "known abc123", want: model.Query{Identifier: "abc123", Known: true}},
		{line: "text Toyota  Corolla", want: model.Query{Identifier: "Toyota Corolla", FreeText: true}},
		{line: "QUIT", quit: true},
		{line: "exit", quit: true},
		{line: "known", wantErr: true},
		{line: "text", wantErr: true},
		{line: "ABC 123", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			q, quit, err := parseWatchLine(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
			assert.Equal(t, tt.quit, quit)
		})
	}
}

func TestRepl(t *testing.T) {
	transcripts := []string{
		"brand: Toyota\nlicense_plate: ABC123\nDONE\n",
		"ERROR not found\n",
	}
	var dials int
	dialer := transport.DialerFunc(func(ctx context.Context) (transport.Conn, error) {
		tr := transcripts[dials]
		dials++
		return transport.NewReplay(strings.NewReader(tr)).Dial(ctx)
	})

	var out, errOut bytes.Buffer
	r := &repl{
		in:      strings.NewReader("ABC-123\nbogus line here\nknown XYZ789\nquit\nDEF456\n"),
		out:     &out,
		errOut:  &errOut,
		runner:  carthingy.NewRunner(dialer, nil, 0, nil),
		printer: printer{out: &out, format: options.OutputJSON},
	}

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 2, dials, "input after quit is ignored")
	assert.Contains(t, out.String(), `"brand": "Toyota"`)
	assert.Contains(t, errOut.String(), errUsage.Error())
	assert.Contains(t, errOut.String(), "Query failed: The vehicle query failed: not found")
	assert.Nil(t, r.runner.Session().Alert(), "alert is dismissed after it is shown")
}

func TestRepl_EOF(t *testing.T) {
	r := &repl{
		in:      strings.NewReader(""),
		out:     &bytes.Buffer{},
		errOut:  &bytes.Buffer{},
		runner:  carthingy.NewRunner(transport.NewReplay(strings.NewReader("")), nil, 0, nil),
		printer: printer{out: &bytes.Buffer{}, format: options.OutputTable},
	}
	assert.NoError(t, r.Start(context.Background()))
}
