// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

// ScanResult is the malware collaborator's verdict for one byte stream.
type ScanResult struct {
	Clean     bool
	Signature string // infection name when not clean
}

// Scanner submits attachment bytes to an external scanning daemon. An
// unreachable engine or scan error is a hard failure (fail-closed), never
// a pass.
type Scanner interface {
	Scan(ctx context.Context, content []byte) (ScanResult, error)
}

// ClamdScanner speaks the clamd INSTREAM protocol over TCP.
type ClamdScanner struct {
	addr    string
	timeout time.Duration
}

// NewClamdScanner creates a scanner for a clamd daemon at addr (host:port).
func NewClamdScanner(addr string, timeout time.Duration) *ClamdScanner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClamdScanner{addr: addr, timeout: timeout}
}

// Scan streams content to clamd in INSTREAM chunks and parses the verdict.
// Responses look like "stream: OK" or "stream: Eicar-Signature FOUND".
func (s *ClamdScanner) Scan(ctx context.Context, content []byte) (ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: dial %s: %v", ErrScanUnavailable, s.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return ScanResult{}, fmt.Errorf("%w: write command: %v", ErrScanUnavailable, err)
	}

	// Content goes out as <4-byte BE length><chunk>, terminated by a
	// zero-length chunk.
	const chunkSize = 64 << 10
	lenBuf := make([]byte, 4)
	for off := 0; off < len(content); off += chunkSize {
		end := off + chunkSize
		if end > len(content) {
			end = len(content)
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(end-off))
		if _, err := conn.Write(lenBuf); err != nil {
			return ScanResult{}, fmt.Errorf("%w: write chunk length: %v", ErrScanUnavailable, err)
		}
		if _, err := conn.Write(content[off:end]); err != nil {
			return ScanResult{}, fmt.Errorf("%w: write chunk: %v", ErrScanUnavailable, err)
		}
	}
	binary.BigEndian.PutUint32(lenBuf, 0)
	if _, err := conn.Write(lenBuf); err != nil {
		return ScanResult{}, fmt.Errorf("%w: write terminator: %v", ErrScanUnavailable, err)
	}

	resp := make([]byte, 512)
	n, err := conn.Read(resp)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: read response: %v", ErrScanUnavailable, err)
	}

	reply := strings.TrimRight(string(resp[:n]), "\x00\n")
	switch {
	case strings.HasSuffix(reply, "OK"):
		return ScanResult{Clean: true}, nil
	case strings.HasSuffix(reply, "FOUND"):
		sig := strings.TrimSuffix(reply, " FOUND")
		if i := strings.Index(sig, ": "); i >= 0 {
			sig = sig[i+2:]
		}
		return ScanResult{Clean: false, Signature: sig}, nil
	}
	return ScanResult{}, fmt.Errorf("%w: unexpected reply %q", ErrScanUnavailable, reply)
}

// Ping checks that clamd is reachable and answering.
func (s *ClamdScanner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte("zPING\x00")); err != nil {
		return fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	if !strings.HasPrefix(string(resp[:n]), "PONG") {
		return fmt.Errorf("%w: unexpected reply %q", ErrScanUnavailable, string(resp[:n]))
	}
	return nil
}
