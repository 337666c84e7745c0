package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Import waveform channels from a CSV file.
 *
 * Description:	The first column is the timestamp; every remaining
 *		column becomes one channel.  Blank lines and comment
 *		lines starting with # are skipped, except that the
 *		Digilent WaveForms "#Date Time:" header is parsed
 *		into the capture timestamp.  A leading non-numeric
 *		row is treated as a header naming the channels;
 *		channels without names are called FieldN.
 *
 *		A column whose first ten rows are all 0 or 1 imports
 *		as digital, anything else as analog.  When the sample
 *		spacing turns out to be constant the channel is
 *		densified to a uniform waveform, otherwise it stays
 *		sparse at 1 fs timescale.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// CSVChannel is one imported column.
type CSVChannel struct {
	Name     string
	Waveform Waveform // nil when the column was unusable
}

// CSVImportResult is everything recovered from one CSV file.
type CSVImportResult struct {
	Channels []CSVChannel

	// Capture timestamp from Digilent metadata, zero if absent.
	Timestamp   time.Time
	TimestampFS int64 // sub-second part, femtoseconds
}

// CSVImportFilter parses CSV captures into waveforms.
type CSVImportFilter struct {
	// XIsSeconds treats the timestamp column as fractional seconds
	// to be converted to femtoseconds. When false the column is
	// taken as integer femtoseconds verbatim.
	XIsSeconds bool
}

func NewCSVImportFilter() *CSVImportFilter {
	return &CSVImportFilter{XIsSeconds: true}
}

// ImportFile imports every channel of the named CSV file.
func (f *CSVImportFilter) ImportFile(path string) (*CSVImportResult, error) {
	var fp, err = os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV file: %w", err)
	}
	defer fp.Close()

	var result *CSVImportResult
	result, err = f.Import(fp)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", path, err)
	}
	return result, nil
}

// Import imports every channel of a CSV stream.
func (f *CSVImportFilter) Import(r io.Reader) (*CSVImportResult, error) {
	var result = &CSVImportResult{}

	// Columnar structure has less allocation than per-line records
	var names []string
	var columns [][]string
	var timestamps []int64
	var digilentFormat bool
	var ncols int

	var scanner = bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var nrow int
	for scanner.Scan() {
		nrow++
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// Comments are discarded, but save timestamp metadata if present
		if strings.HasPrefix(line, "#") {
			if line == "#Digilent WaveForms Oscilloscope Acquisition" {
				digilentFormat = true
				log.Debug("found Digilent metadata header")
			} else if digilentFormat && strings.HasPrefix(line, "#Date Time: ") {
				f.parseDigilentTimestamp(strings.TrimPrefix(line, "#Date Time: "), result)
			}
			continue
		}

		var fields = strings.Split(line, ",")

		// The first data row may be a header naming the channels
		if names == nil && len(timestamps) == 0 && isHeaderRow(line) {
			// Drop the timestamp column's name
			names = append([]string{}, fields[1:]...)
			for i := range names {
				names[i] = strings.TrimSpace(names[i])
			}
			continue
		}

		// Sanity check field count
		if ncols == 0 {
			ncols = len(fields) - 1
		} else if len(fields)-1 != ncols {
			return nil, fmt.Errorf(
				"malformed file: line %d contains %d fields, but file started with %d fields",
				nrow, len(fields)-1, ncols)
		}

		var ts, err = f.parseTimestamp(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp on line %d: %w", nrow, err)
		}
		timestamps = append(timestamps, ts)

		for i, field := range fields[1:] {
			if len(columns) <= i {
				columns = append(columns, nil)
			}
			columns[i] = append(columns[i], strings.TrimSpace(field))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	if ncols == 0 {
		return result, nil
	}
	var nrows = len(timestamps)
	if len(columns[0]) < nrows {
		nrows = len(columns[0])
	}
	log.Debug("CSV parsed", "rows", nrows, "columns", ncols, "names", len(names))

	// Assign default names to channels if there's no header row or
	// not enough names
	for i := len(names); i < ncols; i++ {
		names = append(names, "Field"+strconv.Itoa(i))
	}

	for i := 0; i < ncols; i++ {
		var wfm = buildChannel(columns[i][:nrows], timestamps[:nrows])
		result.Channels = append(result.Channels, CSVChannel{Name: names[i], Waveform: wfm})
	}
	return result, nil
}

// parseTimestamp converts one timestamp field to femtoseconds.
func (f *CSVImportFilter) parseTimestamp(s string) (int64, error) {
	if f.XIsSeconds {
		var v, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		// Round, don't truncate: 3e-9 seconds is not exact in a
		// float and truncation would wreck timebase normalization.
		return int64(math.Round(v * FS_PER_SECOND)), nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// parseDigilentTimestamp handles "yyyy-mm-dd hh:mm:ss.ms.us.ns".
// No time zone information is provided; assume the current one.
func (f *CSVImportFilter) parseDigilentTimestamp(s string, result *CSVImportResult) {
	var year, mon, day, hour, min, sec, ms, us, ns int
	var n, err = fmt.Sscanf(s, "%d-%d-%d %d:%d:%d.%d.%d.%d",
		&year, &mon, &day, &hour, &min, &sec, &ms, &us, &ns)
	if err != nil || n != 9 {
		return
	}

	result.Timestamp = time.Date(year, time.Month(mon), day, hour, min, sec, 0, time.Local)

	var fs = int64(ms) * 1000
	fs = (fs + int64(us)) * 1000
	fs = (fs + int64(ns)) * 1000
	fs *= 1000
	result.TimestampFS = fs
}

// isHeaderRow reports whether a data row contains anything a number
// would not.
func isHeaderRow(line string) bool {
	for _, c := range line {
		if (c < '0' || c > '9') && c != ' ' && c != '\t' &&
			c != ',' && c != '.' && c != '-' && c != 'e' && c != '+' {
			return true
		}
	}
	return false
}

// buildChannel turns one column of fields into a waveform.
func buildChannel(fields []string, timestamps []int64) Waveform {
	if len(fields) == 0 {
		return nil
	}

	// Assume digital, then switch to analog if anything other than a
	// 0/1 shows up in the first 10 rows
	var digital = true
	for i := 0; i < len(fields) && i < 10; i++ {
		if fields[i] != "0" && fields[i] != "1" {
			digital = false
			break
		}
	}

	var offsets = append([]int64{}, timestamps...)
	var durations = make([]int64, len(offsets))
	for i := 1; i < len(offsets); i++ {
		durations[i-1] = offsets[i] - offsets[i-1]
	}
	if len(offsets) >= 2 {
		// Last one? Copy previous sample duration
		durations[len(offsets)-1] = durations[len(offsets)-2]
	}

	// Zero length samples mean an unusable timebase
	if durations[0] == 0 {
		return nil
	}

	if digital {
		var samples = make([]bool, len(fields))
		for i, field := range fields {
			samples[i] = field == "1"
		}
		if scale, ok := tryNormalizeTimebase(offsets); ok {
			return &UniformDigitalWaveform{Scale: scale, Samples: samples}
		}
		return &SparseDigitalWaveform{Scale: 1, Offsets: offsets, Durations: durations, Samples: samples}
	}

	var samples = make([]float32, len(fields))
	for i, field := range fields {
		var v, err = strconv.ParseFloat(field, 32)
		if err == nil {
			samples[i] = float32(v)
		}
	}
	if scale, ok := tryNormalizeTimebase(offsets); ok {
		return &UniformAnalogWaveform{Scale: scale, Samples: samples}
	}
	return &SparseAnalogWaveform{Scale: 1, Offsets: offsets, Durations: durations, Samples: samples}
}

// tryNormalizeTimebase reports whether the offsets are evenly spaced
// from zero, in which case the channel can be densified to a uniform
// waveform with the spacing as its timescale.
func tryNormalizeTimebase(offsets []int64) (int64, bool) {
	if len(offsets) < 2 || offsets[0] != 0 {
		return 0, false
	}
	var d = offsets[1] - offsets[0]
	if d <= 0 {
		return 0, false
	}
	for i := range offsets {
		if offsets[i] != int64(i)*d {
			return 0, false
		}
	}
	return d, true
}
