package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Write waveform channels back out as CSV.
 *
 * Description:	Inverse of the import filter, close enough that a
 *		round trip reproduces the channels.  The first column
 *		is the timestamp of each sample taken from the first
 *		channel; every channel contributes one further column.
 *		Digital samples are written as 0/1, analog samples in
 *		full float precision.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lestrrat-go/strftime"
)

// ExportCSV writes the channels as CSV. All channels are sampled at
// the row timestamps of the first one; shorter channels pad with
// their last value. When inSeconds is set, timestamps are written as
// fractional seconds instead of femtoseconds.
func ExportCSV(w io.Writer, channels []CSVChannel, inSeconds bool) error {
	if len(channels) == 0 || channels[0].Waveform == nil {
		return fmt.Errorf("no channels to export")
	}

	var cw = csv.NewWriter(w)

	var header = []string{"Time"}
	for _, ch := range channels {
		header = append(header, ch.Name)
	}
	cw.Write(header)

	var ref = channels[0].Waveform
	for i := 0; i < ref.Len(); i++ {
		var row = make([]string, 0, len(channels)+1)

		var t = ref.OffsetScaled(i)
		if inSeconds {
			row = append(row, strconv.FormatFloat(float64(t)/FS_PER_SECOND, 'g', -1, 64))
		} else {
			row = append(row, strconv.FormatInt(t, 10))
		}

		for _, ch := range channels {
			row = append(row, formatSample(ch.Waveform, i))
		}
		cw.Write(row)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	return nil
}

// ExportCSVFile writes the channels to the named file.
func ExportCSVFile(path string, channels []CSVChannel, inSeconds bool) error {
	var fp, err = os.Create(path)
	if err != nil {
		return fmt.Errorf("creating CSV file: %w", err)
	}
	defer fp.Close()
	return ExportCSV(fp, channels, inSeconds)
}

func formatSample(w Waveform, i int) string {
	if w == nil || w.Len() == 0 {
		return ""
	}
	if i >= w.Len() {
		i = w.Len() - 1
	}
	switch wf := w.(type) {
	case DigitalWaveform:
		if wf.Level(i) {
			return "1"
		}
		return "0"
	case AnalogWaveform:
		return strconv.FormatFloat(float64(wf.Voltage(i)), 'g', -1, 32)
	default:
		return ""
	}
}

// CaptureFileName builds a capture file path from a strftime pattern,
// e.g. "capture-%Y-%m-%d.csv" for daily files.
func CaptureFileName(dir, pattern string, t time.Time) (string, error) {
	var name, err = strftime.Format(pattern, t)
	if err != nil {
		return "", fmt.Errorf("bad timestamp format %q: %w", pattern, err)
	}
	return filepath.Join(dir, name), nil
}
