package layout

import (
	"strconv"
)

// Integer captures hex (0x...) or decimal literals.
type Integer uint32

func (i *Integer) Capture(values []string) error {
	v, err := strconv.ParseUint(values[0], 0, 32)
	if err != nil {
		return err
	}
	*i = Integer(v)
	return nil
}

// script is the parse tree of a layout file: a flat statement list.
type script struct {
	Statements []*statement `@@*`
}

type statement struct {
	DeviceDesc *string     `  KwDeviceDesc @String`
	Serial     *string     `| KwSerial @String`
	Channel    *Integer    `| KwChannel @Number`
	VidPid     *vidPidStmt `| KwVidPid @@`
	Init       *initStmt   `| KwLayoutInit @@`
	Signal     *signalStmt `| KwLayoutSignal @@`
	SampleEdge *string     `| KwSampleEdge @("rising" | "falling")`
	SwdEn      *string     `| KwSwdEn @Ident`
	Reset      *resetStmt  `| KwResetConfig @@`
}

// vidPidStmt holds a flat value list; pairing and the 8-pair limit are
// checked when the tree is lowered into a Layout.
type vidPidStmt struct {
	Values []Integer `@Number+`
}

type initStmt struct {
	Output    Integer `@Number`
	Direction Integer `@Number`
}

type signalStmt struct {
	Name  string        `@Ident`
	Flags []*signalFlag `@@*`
}

// signalFlag is one -data/-oe/-input/-alias style argument. The mask
// variants take a number, the alias variants a signal name.
type signalFlag struct {
	Name   string   `@Flag`
	Mask   *Integer `( @Number`
	Target *string  `| @Ident )`
}

type resetStmt struct {
	Modes []string `@Ident+`
}
