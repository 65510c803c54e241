// Package layout parses adapter layout scripts: the named signals, GPIO
// init words, device identifiers and wiring quirks that describe one
// concrete FTDI-based adapter board.
package layout

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/ftdi"
)

// SignalDef is one layout_signal command. Alias, when set, names another
// signal whose masks this one borrows (with flipped polarity for -nalias).
type SignalDef struct {
	Name        string
	DataMask    uint16
	InputMask   uint16
	OEMask      uint16
	InvertData  bool
	InvertInput bool
	InvertOE    bool
	Alias       string
	AliasInvert bool
}

// Layout is a parsed adapter description.
type Layout struct {
	Description   string
	Serial        string
	Channel       uint8
	VIDPIDs       [][2]uint16
	OutputInit    uint16
	DirectionInit uint16
	Signals       []SignalDef
	SampleEdge    ftdi.Edge
	SWDEnable     string
	Reset         ftdi.ResetConfig
}

// Parser is a reusable layout script parser.
type Parser struct {
	parser *participle.Parser[script]
}

// NewParser builds the script grammar.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[script](
		participle.Lexer(scriptLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse reads and lowers one layout script.
func (p *Parser) Parse(r io.Reader) (*Layout, error) {
	tree, err := p.parser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return lower(tree)
}

// ParseString parses a layout script held in a string.
func (p *Parser) ParseString(input string) (*Layout, error) {
	tree, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return lower(tree)
}

// ParseFile parses a layout script from a file path.
func (p *Parser) ParseFile(filename string) (*Layout, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return p.Parse(file)
}

// lower turns the parse tree into a Layout, applying the value checks the
// grammar cannot express.
func lower(tree *script) (*Layout, error) {
	l := &Layout{}
	for _, st := range tree.Statements {
		switch {
		case st.DeviceDesc != nil:
			l.Description = *st.DeviceDesc
		case st.Serial != nil:
			l.Serial = *st.Serial
		case st.Channel != nil:
			if *st.Channel > 3 {
				return nil, fmt.Errorf("%w: channel %d out of range 0-3",
					ftdi.ErrConfiguration, *st.Channel)
			}
			l.Channel = uint8(*st.Channel)
		case st.VidPid != nil:
			if len(st.VidPid.Values)%2 != 0 {
				return nil, fmt.Errorf("%w: vid_pid takes pairs of values",
					ftdi.ErrConfiguration)
			}
			for i := 0; i < len(st.VidPid.Values); i += 2 {
				vid, pid := st.VidPid.Values[i], st.VidPid.Values[i+1]
				if vid > 0xffff || pid > 0xffff {
					return nil, fmt.Errorf("%w: vid_pid value out of 16-bit range",
						ftdi.ErrConfiguration)
				}
				l.VIDPIDs = append(l.VIDPIDs, [2]uint16{uint16(vid), uint16(pid)})
			}
			if len(l.VIDPIDs) > ftdi.MaxVIDPIDs {
				return nil, fmt.Errorf("%w: %d VID/PID pairs, maximum is %d",
					ftdi.ErrConfiguration, len(l.VIDPIDs), ftdi.MaxVIDPIDs)
			}
		case st.Init != nil:
			if st.Init.Output > 0xffff || st.Init.Direction > 0xffff {
				return nil, fmt.Errorf("%w: layout_init words are 16-bit",
					ftdi.ErrConfiguration)
			}
			l.OutputInit = uint16(st.Init.Output)
			l.DirectionInit = uint16(st.Init.Direction)
		case st.Signal != nil:
			def, err := lowerSignal(st.Signal)
			if err != nil {
				return nil, err
			}
			l.Signals = append(l.Signals, def)
		case st.SampleEdge != nil:
			if *st.SampleEdge == "falling" {
				l.SampleEdge = ftdi.FallingEdge
			} else {
				l.SampleEdge = ftdi.RisingEdge
			}
		case st.SwdEn != nil:
			l.SWDEnable = *st.SwdEn
		case st.Reset != nil:
			if err := lowerReset(st.Reset, &l.Reset); err != nil {
				return nil, err
			}
		}
	}
	return l, nil
}

func lowerSignal(st *signalStmt) (SignalDef, error) {
	def := SignalDef{Name: st.Name}
	for _, f := range st.Flags {
		invert := strings.HasPrefix(f.Name, "-n")
		role := strings.TrimPrefix(strings.TrimPrefix(f.Name, "-n"), "-")

		if role == "alias" {
			if f.Target == nil {
				return def, fmt.Errorf("%w: signal %q: %s takes a signal name",
					ftdi.ErrConfiguration, st.Name, f.Name)
			}
			def.Alias = *f.Target
			def.AliasInvert = invert
			continue
		}
		if f.Mask == nil {
			return def, fmt.Errorf("%w: signal %q: %s takes a mask value",
				ftdi.ErrConfiguration, st.Name, f.Name)
		}
		if *f.Mask > 0xffff {
			return def, fmt.Errorf("%w: signal %q: %s mask out of 16-bit range",
				ftdi.ErrConfiguration, st.Name, f.Name)
		}
		mask := uint16(*f.Mask)
		switch role {
		case "data":
			def.DataMask = mask
			def.InvertData = invert
		case "input":
			def.InputMask = mask
			def.InvertInput = invert
		case "oe":
			def.OEMask = mask
			def.InvertOE = invert
		}
	}
	if def.Alias != "" && (def.DataMask != 0 || def.InputMask != 0 || def.OEMask != 0) {
		return def, fmt.Errorf("%w: signal %q: -alias excludes mask flags",
			ftdi.ErrConfiguration, st.Name)
	}
	return def, nil
}

func lowerReset(st *resetStmt, cfg *ftdi.ResetConfig) error {
	for _, mode := range st.Modes {
		switch mode {
		case "trst":
			cfg.HasTRST = true
		case "srst":
			cfg.HasSRST = true
		case "trst_open_drain":
			cfg.HasTRST = true
			cfg.TRSTOpenDrain = true
		case "srst_push_pull":
			cfg.HasSRST = true
			cfg.SRSTPushPull = true
		default:
			return fmt.Errorf("%w: unknown reset_config mode %q",
				ftdi.ErrConfiguration, mode)
		}
	}
	return nil
}
