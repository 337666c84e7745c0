package main

/*------------------------------------------------------------------
 *
 * Purpose:   	Run a signal processing filter over a CSV capture.
 *
 * Description:	Imports an oscilloscope capture from CSV, runs clock
 *		recovery or an area measurement over the selected
 *		channel, and writes the result back out as CSV.
 *
 * Usage:	periscope [ options ]
 *
 *		Settings can come from a YAML session file, from the
 *		command line, or both; the command line wins.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	periscope "github.com/periscope-project/periscope/src"
)

func main() {
	var configFile = pflag.StringP("config", "c", "", "YAML session file with filter settings.")
	var input = pflag.StringP("input", "i", "", "Input capture CSV file.")
	var output = pflag.StringP("output", "o", "", "Output CSV file.  Default is stdout.")
	var filter = pflag.StringP("filter", "f", "", "Filter to run: clock-recovery or area.")
	var dataChannel = pflag.StringP("data-channel", "d", "", "Input channel name.  Default is the first channel.")
	var gateChannel = pflag.StringP("gate", "g", "", "Gate/squelch channel name for clock recovery.  Default is no gating.")
	var symbolRate = pflag.Float64P("symbol-rate", "b", 0, "Nominal symbol rate in Hz for clock recovery.")
	var threshold = pflag.Float64P("threshold", "t", 0, "Edge detection threshold in volts for analog inputs.")
	var areaMode = pflag.String("area-mode", "", "Area measurement mode: full-record or per-cycle.")
	var areaKind = pflag.String("area-kind", "", "Area kind: true or absolute.")
	var femtoseconds = pflag.BoolP("femtoseconds", "F", false, "Read and write CSV timestamps as integer femtoseconds instead of seconds.")
	var verbose = pflag.BoolP("verbose", "v", false, "Verbose.  Show filter diagnostics.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - oscilloscope capture filter runner.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: periscope [options]\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	var cfg = &periscope.SessionConfig{}
	if *configFile != "" {
		var loaded, err = periscope.LoadSessionConfig(*configFile)
		if err != nil {
			log.Fatal("could not load session file", "err", err)
		}
		cfg = loaded
	}

	// Command line overrides the session file
	if *input != "" {
		cfg.Input = *input
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *filter != "" {
		cfg.Filter = *filter
	}
	if *dataChannel != "" {
		cfg.DataChannel = *dataChannel
	}
	if *gateChannel != "" {
		cfg.GateChannel = *gateChannel
	}
	if *symbolRate != 0 {
		cfg.SymbolRate = *symbolRate
	}
	if *threshold != 0 {
		cfg.Threshold = *threshold
	}
	if *areaMode != "" {
		cfg.AreaMode = *areaMode
	}
	if *areaKind != "" {
		cfg.AreaKind = *areaKind
	}
	if *femtoseconds {
		var f = false
		cfg.TimesInSeconds = &f
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("bad settings", "err", err)
	}

	if cfg.Input == "" {
		fmt.Fprintf(os.Stderr, "No input file.  Use -i or set input in the session file.\n\n")
		pflag.Usage()
		os.Exit(1)
	}
	if cfg.Filter == "" {
		fmt.Fprintf(os.Stderr, "No filter selected.  Use -f clock-recovery or -f area.\n\n")
		pflag.Usage()
		os.Exit(1)
	}

	var importer = periscope.NewCSVImportFilter()
	importer.XIsSeconds = cfg.SecondsTimestamps()
	var capture, err = importer.ImportFile(cfg.Input)
	if err != nil {
		log.Fatal("import failed", "err", err)
	}
	log.Debug("imported capture", "file", cfg.Input, "channels", len(capture.Channels))

	var din = pickChannel(capture, cfg.DataChannel)
	if din == nil {
		log.Fatal("no usable data channel", "name", cfg.DataChannel)
	}

	var channels []periscope.CSVChannel
	switch cfg.Filter {
	case "clock-recovery":
		channels = runClockRecovery(cfg, capture, din, *verbose)
	case "area":
		channels = runArea(cfg, din)
	}

	if cfg.Output == "" {
		err = periscope.ExportCSV(os.Stdout, channels, cfg.SecondsTimestamps())
	} else {
		err = periscope.ExportCSVFile(cfg.Output, channels, cfg.SecondsTimestamps())
	}
	if err != nil {
		log.Fatal("export failed", "err", err)
	}
}

func runClockRecovery(cfg *periscope.SessionConfig, capture *periscope.CSVImportResult, din periscope.Waveform, verbose bool) []periscope.CSVChannel {
	var crf = periscope.NewClockRecoveryFilter()
	if cfg.SymbolRate != 0 {
		crf.SymbolRate = cfg.SymbolRate
	}
	crf.Threshold = float32(cfg.Threshold)
	if verbose {
		crf.Observer = func(t int64, period, dphase, dperiod, drift float64) {
			log.Debug("pll", "t", t, "period", period, "dphase", dphase, "dperiod", dperiod, "drift", drift)
		}
	}

	var gate periscope.DigitalWaveform
	if cfg.GateChannel != "" {
		var wfm = pickChannel(capture, cfg.GateChannel)
		var dig, ok = wfm.(periscope.DigitalWaveform)
		if !ok {
			log.Fatal("gate channel is not digital", "name", cfg.GateChannel)
		}
		gate = dig
	}

	var clock = crf.Recover(din, gate)
	if clock == nil {
		log.Fatal("no clock recovered; check the symbol rate and threshold")
	}
	log.Info("clock recovered", "edges", clock.Len())

	return []periscope.CSVChannel{{Name: "clock", Waveform: clock}}
}

func runArea(cfg *periscope.SessionConfig, din periscope.Waveform) []periscope.CSVChannel {
	var analog, ok = din.(periscope.AnalogWaveform)
	if !ok {
		log.Fatal("area measurement needs an analog channel")
	}

	var m = &periscope.AreaMeasurement{}
	if cfg.AreaMode == "per-cycle" {
		m.Mode = periscope.CycleArea
	}
	if cfg.AreaKind == "absolute" {
		m.Kind = periscope.AbsoluteArea
	}

	var wfm, final = m.Measure(analog)
	if wfm == nil {
		log.Fatal("nothing to measure; per-cycle needs at least one full cycle")
	}
	if m.Mode == periscope.FullRecord {
		log.Info("area measured", "volt-seconds", final)
	}

	return []periscope.CSVChannel{{Name: "area", Waveform: wfm}}
}

// pickChannel returns the named channel, or the first usable one when
// no name is given.
func pickChannel(capture *periscope.CSVImportResult, name string) periscope.Waveform {
	for _, ch := range capture.Channels {
		if name == "" && ch.Waveform != nil {
			return ch.Waveform
		}
		if ch.Name == name {
			return ch.Waveform
		}
	}
	return nil
}
