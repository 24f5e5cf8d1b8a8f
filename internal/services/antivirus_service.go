package services

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediavault/backend/internal/config"
)

type ScanStatus string

const (
	ScanClean    ScanStatus = "clean"
	ScanInfected ScanStatus = "infected"
	ScanError    ScanStatus = "error"
)

// ScanResult is the three-way verdict both scan paths reduce to. Error is
// its own outcome: a failed scan must never pass as clean.
type ScanResult struct {
	Status    ScanStatus
	Signature string
	Err       error
}

const scanChunkSize = 2048

// VirusScanner checks a quarantined file before it is trusted. The primary
// path streams the file to a clamd-style daemon over a local socket; when
// the daemon is unreachable it falls back to spawning the scanner CLI with
// a hard wall-clock timeout.
type VirusScanner struct {
	enabled        bool
	network        string
	addr           string
	connectTimeout time.Duration
	scanTimeout    time.Duration
	cliPath        string
	log            zerolog.Logger

	// dial is swapped out by tests to point the daemon path at a fake.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewVirusScanner(cfg *config.Config, log zerolog.Logger) *VirusScanner {
	return &VirusScanner{
		enabled:        cfg.AVEnabled,
		network:        cfg.AVDaemonNetwork,
		addr:           cfg.AVDaemonAddr,
		connectTimeout: cfg.AVConnectTimeout,
		scanTimeout:    cfg.AVScanTimeout,
		cliPath:        cfg.AVCLIPath,
		log:            log.With().Str("component", "virus-scanner").Logger(),
		dial:           net.DialTimeout,
	}
}

func (s *VirusScanner) Enabled() bool { return s.enabled }

// Scan tries the daemon first and the CLI second. Both paths failing is a
// ScanError verdict.
func (s *VirusScanner) Scan(ctx context.Context, path string) ScanResult {
	res := s.scanDaemon(path)
	if res.Status != ScanError {
		return res
	}
	s.log.Warn().Err(res.Err).Msg("daemon scan failed, falling back to cli")

	cliRes := s.scanCLI(ctx, path)
	if cliRes.Status == ScanError {
		s.log.Error().Err(cliRes.Err).Str("path", path).Msg("virus scan failed on both paths")
	}
	return cliRes
}

// scanDaemon speaks the streaming protocol: a start command, the file as
// 4-byte big-endian length-prefixed chunks, a zero-length terminator, then
// a line-based verdict.
func (s *VirusScanner) scanDaemon(path string) ScanResult {
	f, err := os.Open(path)
	if err != nil {
		return ScanResult{Status: ScanError, Err: fmt.Errorf("open: %w", err)}
	}
	defer f.Close()

	conn, err := s.dial(s.network, s.addr, s.connectTimeout)
	if err != nil {
		return ScanResult{Status: ScanError, Err: fmt.Errorf("dial daemon: %w", err)}
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.scanTimeout))

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return ScanResult{Status: ScanError, Err: fmt.Errorf("write start: %w", err)}
	}

	buf := make([]byte, scanChunkSize)
	var prefix [4]byte
	for {
		n, err := f.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(prefix[:], uint32(n))
			if _, err := conn.Write(prefix[:]); err != nil {
				return ScanResult{Status: ScanError, Err: fmt.Errorf("write chunk length: %w", err)}
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return ScanResult{Status: ScanError, Err: fmt.Errorf("write chunk: %w", err)}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ScanResult{Status: ScanError, Err: fmt.Errorf("read source: %w", err)}
		}
	}

	// zero-length chunk terminates the stream
	binary.BigEndian.PutUint32(prefix[:], 0)
	if _, err := conn.Write(prefix[:]); err != nil {
		return ScanResult{Status: ScanError, Err: fmt.Errorf("write terminator: %w", err)}
	}

	verdict, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && verdict == "" {
		return ScanResult{Status: ScanError, Err: fmt.Errorf("read verdict: %w", err)}
	}
	return parseVerdict(verdict)
}

// scanCLI spawns the scanner binary under a wall-clock deadline; on expiry
// the process is killed.
func (s *VirusScanner) scanCLI(ctx context.Context, path string) ScanResult {
	ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cliPath, "--no-summary", path)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return ScanResult{Status: ScanError, Err: fmt.Errorf("cli scan timed out after %s", s.scanTimeout)}
	}

	text := string(output)
	if strings.Contains(text, "FOUND") {
		return ScanResult{Status: ScanInfected, Signature: extractSignature(text)}
	}
	if err != nil {
		return ScanResult{Status: ScanError, Err: fmt.Errorf("cli scan: %w (output: %s)", err, strings.TrimSpace(text))}
	}
	if strings.Contains(text, "OK") {
		return ScanResult{Status: ScanClean}
	}
	return ScanResult{Status: ScanError, Err: fmt.Errorf("cli scan: unrecognized output: %s", strings.TrimSpace(text))}
}

// parseVerdict maps a daemon response line to the three-way result.
// "stream: Eicar-Test-Signature FOUND" / "stream: OK".
func parseVerdict(line string) ScanResult {
	line = strings.TrimRight(line, "\x00\n")
	switch {
	case strings.Contains(line, "FOUND"):
		return ScanResult{Status: ScanInfected, Signature: extractSignature(line)}
	case strings.Contains(line, "OK"):
		return ScanResult{Status: ScanClean}
	default:
		return ScanResult{Status: ScanError, Err: fmt.Errorf("malformed verdict: %q", line)}
	}
}

// extractSignature pulls the signature name out of "...: <name> FOUND";
// best effort, empty on no match.
func extractSignature(text string) string {
	idx := strings.Index(text, "FOUND")
	if idx < 0 {
		return ""
	}
	head := strings.TrimSpace(text[:idx])
	if colon := strings.LastIndex(head, ":"); colon >= 0 {
		head = strings.TrimSpace(head[colon+1:])
	}
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
