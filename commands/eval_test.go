package commands

import (
	"strings"
	"testing"

	"github.com/josephlewis42/jobsh/core/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

func TestConvertRedirect(t *testing.T) {
	cases := map[string]struct {
		redir   string
		want    proc.Redirection
		wantErr bool
	}{
		"out":           {redir: ">f", want: proc.Redirection{Op: proc.RedirOut, Target: "f"}},
		"explicit out":  {redir: "1>f", want: proc.Redirection{Op: proc.RedirOut, Target: "f"}},
		"clobber":       {redir: ">|f", want: proc.Redirection{Op: proc.RedirOut, Target: "f"}},
		"append":        {redir: ">>f", want: proc.Redirection{Op: proc.RedirAppend, Target: "f"}},
		"in":            {redir: "<f", want: proc.Redirection{Op: proc.RedirIn, Target: "f"}},
		"explicit in":   {redir: "0<f", want: proc.Redirection{Op: proc.RedirIn, Target: "f"}},
		"stderr":        {redir: "2>f", want: proc.Redirection{Op: proc.RedirErr, Target: "f"}},
		"stderr append": {redir: "2>>f", want: proc.Redirection{Op: proc.RedirErrAppend, Target: "f"}},
		"stderr to out": {redir: "2>&1", want: proc.Redirection{Op: proc.RedirErrToOut}},
		"other fd":      {redir: "3>f", wantErr: true},
		"out to stderr": {redir: ">&2", wantErr: true},
		"read write":    {redir: "<>f", wantErr: true},
		"both to file":  {redir: "&>f", wantErr: true},
		"dup other fd":  {redir: "3>&1", wantErr: true},
		"empty target":  {redir: `>""`, wantErr: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := syntax.NewParser().Parse(strings.NewReader("x "+tc.redir), "")
			require.NoError(t, err)
			require.Len(t, f.Stmts, 1)
			require.Len(t, f.Stmts[0].Redirs, 1)

			cfg := &expand.Config{Env: expand.ListEnviron()}
			got, err := convertRedirect(cfg, f.Stmts[0].Redirs[0])
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
