package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Transport to a remote instrument speaking VICP.
 *
 * Description:	VICP (Versatile Instrument Control Protocol) carries
 *		SCPI command strings over TCP, default port 1861.
 *		Every frame is an 8 byte header followed by payload:
 *
 *			byte 0		operation flags
 *			byte 1		protocol version, always 1
 *			byte 2		sequence number
 *			byte 3		reserved, always 0
 *			bytes 4-7	payload length, network order
 *
 *		Commands go out as single DATA|EOI frames.  Replies
 *		may span many frames; EOI marks the last one, with
 *		special handling for empty blocks and blocks holding
 *		only a newline.  Sequence numbers count 1..255 and
 *		wrap skipping zero.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// VICP operation flags.
const (
	OpData    = 0x80
	OpRemote  = 0x40
	OpLockout = 0x20
	OpClear   = 0x10
	OpSRQ     = 0x08
	OpEOI     = 0x01
)

const vicpDefaultPort = 1861

// vicpRxBuffer is the requested socket receive buffer. Waveform
// downloads run to tens of megabytes per channel.
const vicpRxBuffer = 32 * 1024 * 1024

// VICPTransport is a connection to a VICP instrument.
type VICPTransport struct {
	conn *net.TCPConn
	host string
	port int

	nextSequence uint8
	lastSequence uint8
}

// DialVICP connects to an instrument at host:port, with port 1861
// implied when omitted.
func DialVICP(ctx context.Context, addr string) (*VICPTransport, error) {
	var host = addr
	var port = vicpDefaultPort
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad VICP port %q: %w", p, err)
		}
	}

	log.Debug("connecting to VICP instrument", "host", host, "port", port)

	var d net.Dialer
	var conn, err = d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	var tcp = conn.(*net.TCPConn)
	if err := tcp.SetNoDelay(true); err != nil {
		tcp.Close()
		return nil, fmt.Errorf("disabling Nagle: %w", err)
	}
	if err := tcp.SetReadBuffer(vicpRxBuffer); err != nil {
		log.Warn("could not set 32 MB RX buffer; consider increasing net.core.rmem_max")
	}

	return &VICPTransport{
		conn:         tcp,
		host:         host,
		port:         port,
		nextSequence: 1,
		lastSequence: 1,
	}, nil
}

// Close shuts the connection down.
func (t *VICPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	var err = t.conn.Close()
	t.conn = nil
	return err
}

// IsConnected reports whether the transport still has a socket.
func (t *VICPTransport) IsConnected() bool {
	return t.conn != nil
}

// ConnectionString returns the host:port this transport talks to.
func (t *VICPTransport) ConnectionString() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// nextSequenceNumber returns the sequence number for the next frame.
// EOI increments the sequence. Wrap mod 256, but skip zero.
func (t *VICPTransport) nextSequenceNumber() uint8 {
	t.lastSequence = t.nextSequence
	t.nextSequence++
	if t.nextSequence == 0 {
		t.nextSequence = 1
	}
	return t.lastSequence
}

// SendCommand sends one SCPI command as a DATA|EOI frame.
func (t *VICPTransport) SendCommand(cmd string) error {
	if t.conn == nil {
		return fmt.Errorf("not connected")
	}

	log.Debug("VICP send", "host", t.host, "cmd", strings.TrimRight(cmd, "\n"))

	var payload = make([]byte, 0, 8+len(cmd))
	payload = append(payload, OpData|OpEOI, 0x01, t.nextSequenceNumber(), 0x00)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(cmd)))
	payload = append(payload, cmd...)

	if _, err := t.conn.Write(payload); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	return nil
}

// ReadReply reads one complete reply, reassembling multi block data.
// The optional progress callback is fed the fraction transferred for
// large block transfers that declare a #9 length prefix.
func (t *VICPTransport) ReadReply(progress func(float64)) (string, error) {
	if t.conn == nil {
		return "", fmt.Errorf("not connected")
	}

	var payload []byte
	var nblocks, expectedBytes int
	for {
		// Read the header
		var header [8]byte
		if _, err := io.ReadFull(t.conn, header[:]); err != nil {
			return "", fmt.Errorf("reading reply header: %w", err)
		}

		// Sanity check
		if header[1] != 1 {
			return "", fmt.Errorf("bad VICP protocol version %d", header[1])
		}
		if header[2] != t.lastSequence {
			// Some firmware versions reply with stale sequence
			// numbers; not worth failing the transfer over.
			log.Debug("VICP sequence mismatch", "got", header[2], "expected", t.lastSequence)
		}
		if header[3] != 0 {
			return "", fmt.Errorf("bad VICP reserved field %#x", header[3])
		}

		// Read the message data
		var blockLen = binary.BigEndian.Uint32(header[4:8])
		var block = make([]byte, blockLen)
		if err := t.readRawData(block, progress); err != nil {
			return "", err
		}
		var currentSize = len(payload)
		payload = append(payload, block...)

		// Skip empty blocks, or just newlines
		if blockLen == 0 || (blockLen == 1 && block[0] == '\n') {
			if header[0]&OpEOI != 0 {
				// EOI on an empty block is a stop if we have data
				// from previous blocks. With no data yet, hold off
				// and wait for the next frame.
				if currentSize != 0 {
					break
				}
				payload = payload[:0]
				continue
			}
		}

		if header[0]&OpEOI != 0 {
			break
		}

		// Expected block length for large multi block data chunks
		if expectedBytes == 0 && len(payload) >= 16 && string(payload[5:7]) == "#9" {
			expectedBytes, _ = strconv.Atoi(string(payload[7:16]))
		}
		if progress != nil && expectedBytes > 0 {
			progress(float64(len(payload)) / float64(expectedBytes))
		}

		nblocks++
	}

	if len(payload) > 256 {
		log.Debug("VICP got large data block", "host", t.host, "blocks", nblocks, "bytes", len(payload))
	} else {
		log.Debug("VICP got", "host", t.host, "reply", strings.TrimRight(string(payload), "\n"))
	}
	return string(payload), nil
}

// Query sends a command and reads back the reply.
func (t *VICPTransport) Query(cmd string) (string, error) {
	if err := t.SendCommand(cmd); err != nil {
		return "", err
	}
	return t.ReadReply(nil)
}

// readRawData fills buf completely, carving the read into 1% or 32 kB
// chunks, whichever is larger, so the progress callback stays live
// during long transfers.
func (t *VICPTransport) readRawData(buf []byte, progress func(float64)) error {
	var chunk = len(buf)
	if progress != nil {
		chunk /= 100
		if chunk < 32768 {
			chunk = 32768
		}
	}
	if chunk == 0 {
		return nil
	}

	for pos := 0; pos < len(buf); {
		var n = chunk
		if n > len(buf)-pos {
			n = len(buf) - pos
		}
		if _, err := io.ReadFull(t.conn, buf[pos:pos+n]); err != nil {
			return fmt.Errorf("reading %d bytes at offset %d: %w", len(buf), pos, err)
		}
		pos += n
		if progress != nil {
			progress(float64(pos) / float64(len(buf)))
		}
	}
	return nil
}
