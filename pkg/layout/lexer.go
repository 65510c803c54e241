package layout

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// scriptLexer defines the lexical structure of adapter layout scripts:
// one command per line, shell-style # comments, hex or decimal integers.
var scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},

	// Command keywords.
	{Name: "KwDeviceDesc", Pattern: `\bdevice_desc\b`},
	{Name: "KwSerial", Pattern: `\bserial\b`},
	{Name: "KwChannel", Pattern: `\bchannel\b`},
	{Name: "KwVidPid", Pattern: `\bvid_pid\b`},
	{Name: "KwLayoutInit", Pattern: `\blayout_init\b`},
	{Name: "KwLayoutSignal", Pattern: `\blayout_signal\b`},
	{Name: "KwSampleEdge", Pattern: `\btdo_sample_edge\b`},
	{Name: "KwSwdEn", Pattern: `\bswd_en\b`},
	{Name: "KwResetConfig", Pattern: `\breset_config\b`},

	// layout_signal role flags, optionally inverted with a leading n.
	{Name: "Flag", Pattern: `-n?(data|input|oe|alias)\b`},

	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|[0-9]+`},

	// Signal names and bare words (must come after keywords).
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
})
