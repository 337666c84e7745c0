package main

/*------------------------------------------------------------------
 *
 * Purpose:   	Interactive SCPI console for VICP instruments.
 *
 * Description:	Connects to a LeCroy style oscilloscope over VICP and
 *		exchanges SCPI commands typed on stdin.  Lines ending
 *		in "?" are queries and print the instrument's reply;
 *		anything else is sent fire-and-forget.  Query replies
 *		can also be captured to timestamped files.
 *
 * Usage:	vicptool -H scope.example.com [ options ]
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	periscope "github.com/periscope-project/periscope/src"
)

func main() {
	var host = pflag.StringP("host", "H", "", "Instrument hostname or host:port.  Port defaults to 1861.")
	var logDir = pflag.StringP("log-dir", "l", "", "Directory for captured query replies.  Each reply is stored as a file here.")
	var timestampFormat = pflag.StringP("timestamp-format", "T", "capture-%Y%m%d-%H%M%S.txt", "'strftime' format for capture file names.")
	var verbose = pflag.BoolP("verbose", "v", false, "Verbose.  Show the VICP frame exchange.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - SCPI console for VICP instruments.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: vicptool -H host [options]\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Type SCPI commands on stdin.  Lines ending in ? are queries.\n")
		fmt.Fprintf(os.Stderr, "Type \"quit\" to disconnect.\n")
	}

	pflag.Parse()

	if *help || *host == "" {
		pflag.Usage()
		os.Exit(1)
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	var ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	var vicp, err = periscope.DialVICP(ctx, *host)
	cancel()
	if err != nil {
		log.Fatal("connect failed", "err", err)
	}
	defer vicp.Close()
	log.Info("connected", "instrument", vicp.ConnectionString())

	var scanner = bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("> ")
		if !scanner.Scan() {
			break
		}
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		if !strings.HasSuffix(line, "?") {
			if err := vicp.SendCommand(line + "\n"); err != nil {
				log.Fatal("send failed", "err", err)
			}
			continue
		}

		if err := vicp.SendCommand(line + "\n"); err != nil {
			log.Fatal("send failed", "err", err)
		}
		var reply string
		reply, err = vicp.ReadReply(progressBar())
		if err != nil {
			log.Fatal("read failed", "err", err)
		}
		fmt.Printf("%s\n", strings.TrimRight(reply, "\n"))

		if *logDir != "" {
			saveCapture(*logDir, *timestampFormat, reply)
		}
	}
}

// progressBar prints transfer progress on stderr for long waveform
// downloads, coarse enough not to flood the terminal.
func progressBar() func(float64) {
	var lastPercent = -1
	return func(f float64) {
		var percent = int(f * 100)
		if percent/10 != lastPercent/10 {
			lastPercent = percent
			fmt.Fprintf(os.Stderr, "\r%d%%", percent)
			if percent >= 100 {
				fmt.Fprintf(os.Stderr, "\r")
			}
		}
	}
}

func saveCapture(dir, pattern, reply string) {
	var path, err = periscope.CaptureFileName(dir, pattern, time.Now())
	if err != nil {
		log.Error("bad capture file name", "err", err)
		return
	}
	if err := os.WriteFile(path, []byte(reply), 0644); err != nil {
		log.Error("could not save capture", "err", err)
		return
	}
	log.Info("saved capture", "file", path, "bytes", len(reply))
}
