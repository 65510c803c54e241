package layout

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFTDI/pkg/ftdi"
)

// resolve flattens a signal definition, following alias chains through
// the other definitions in the layout.
func (l *Layout) resolve(def SignalDef) (ftdi.Signal, error) {
	return l.resolveSeen(def, map[string]bool{def.Name: true})
}

func (l *Layout) resolveSeen(def SignalDef, seen map[string]bool) (ftdi.Signal, error) {
	if def.Alias == "" {
		return ftdi.Signal{
			Name:        def.Name,
			DataMask:    def.DataMask,
			InputMask:   def.InputMask,
			OEMask:      def.OEMask,
			InvertData:  def.InvertData,
			InvertInput: def.InvertInput,
			InvertOE:    def.InvertOE,
		}, nil
	}
	if seen[def.Alias] {
		return ftdi.Signal{}, fmt.Errorf("%w: signal %q: alias cycle through %q",
			ftdi.ErrConfiguration, def.Name, def.Alias)
	}
	seen[def.Alias] = true
	for _, other := range l.Signals {
		if other.Name != def.Alias {
			continue
		}
		target, err := l.resolveSeen(other, seen)
		if err != nil {
			return ftdi.Signal{}, err
		}
		target.Name = def.Name
		target.InvertData = target.InvertData != def.AliasInvert
		target.InvertInput = target.InvertInput != def.AliasInvert
		return target, nil
	}
	return ftdi.Signal{}, fmt.Errorf("%w: signal %q aliases undefined signal %q",
		ftdi.ErrConfiguration, def.Name, def.Alias)
}

// Apply fills cfg from the layout: identifiers, GPIO init words, sampling
// edge, reset wiring and the flattened signal list. When swd_en names a
// signal other than SWD_EN itself, a copy under that fixed name is added
// so SWD initialization finds it.
func (l *Layout) Apply(cfg *ftdi.Config) error {
	cfg.Description = l.Description
	cfg.Serial = l.Serial
	cfg.Channel = l.Channel
	cfg.VIDPIDs = append(cfg.VIDPIDs, l.VIDPIDs...)
	cfg.OutputInit = l.OutputInit
	cfg.DirectionInit = l.DirectionInit
	cfg.SampleEdge = l.SampleEdge
	cfg.Reset = l.Reset

	for _, def := range l.Signals {
		sig, err := l.resolve(def)
		if err != nil {
			return err
		}
		cfg.Signals = append(cfg.Signals, sig)
	}

	if l.SWDEnable != "" && l.SWDEnable != "SWD_EN" {
		sig, err := l.resolve(SignalDef{Name: "SWD_EN", Alias: l.SWDEnable})
		if err != nil {
			return err
		}
		cfg.Signals = append(cfg.Signals, sig)
	}
	return nil
}

// DefineSignals replays the layout's signal commands against a live
// session, using the registry's own alias handling.
func (l *Layout) DefineSignals(d *ftdi.Driver) error {
	for _, def := range l.Signals {
		if def.Alias != "" {
			if _, err := d.AliasSignal(def.Name, def.Alias, def.AliasInvert); err != nil {
				return err
			}
			continue
		}
		d.DefineSignal(ftdi.Signal{
			Name:        def.Name,
			DataMask:    def.DataMask,
			InputMask:   def.InputMask,
			OEMask:      def.OEMask,
			InvertData:  def.InvertData,
			InvertInput: def.InvertInput,
			InvertOE:    def.InvertOE,
		})
	}
	return nil
}
