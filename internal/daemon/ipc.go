// Copyright 2024 TxFS Authors
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

package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"txfs/internal/action"
)

// Request types
const (
	RequestApply      = "apply"       // Execute an action and push it on the undo stack
	RequestRecord     = "record"      // Push an action the caller already executed
	RequestUndo       = "undo"        // Revert the newest undo entry
	RequestRedo       = "redo"        // Re-apply the newest redo entry
	RequestClear      = "clear"       // Drop both history stacks
	RequestStatus     = "status"      // History depth and entries
	RequestBackupPath = "backup_path" // Allocate a backup path for a Create or Delete
	RequestSweep      = "sweep"       // Remove stale backups now
	RequestChmod      = "chmod"       // All-or-nothing permission change, not recorded
	RequestMkdirAll   = "mkdir_all"   // Create paths and their missing parents as one entry
	RequestStop       = "stop"
)

// Request represents an IPC request
type Request struct {
	Type string `json:"type"`

	// Apply/record fields
	Action json.RawMessage `json:"action,omitempty"` // Encoded action.Action

	// BackupPath fields
	Path string `json:"path,omitempty"` // Original path the backup is for

	// Chmod and MkdirAll fields
	Paths    []string `json:"paths,omitempty"`
	ReadOnly *bool    `json:"readonly,omitempty"` // Set or clear the read-only flag
	Mode     string   `json:"mode,omitempty"`     // Octal POSIX mode, e.g. "0644"

	// Sweep fields
	MaxAge string `json:"max_age,omitempty"` // Overrides backup_max_age
}

// HistoryStatus describes the undo and redo stacks, oldest first.
type HistoryStatus struct {
	CanUndo bool     `json:"can_undo"`
	CanRedo bool     `json:"can_redo"`
	Undo    []string `json:"undo"`
	Redo    []string `json:"redo"`
}

// SweepStats represents sweep results for IPC responses
type SweepStats struct {
	Removed int      `json:"removed"`
	Kept    int      `json:"kept"`
	Errors  []string `json:"errors,omitempty"`
}

// Response represents an IPC response
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"` // Taxonomy name of Error, e.g. "exists"
	PID       int    `json:"pid,omitempty"`

	History    *HistoryStatus `json:"history,omitempty"`     // Status
	BackupRoot string         `json:"backup_root,omitempty"` // Status
	BackupPath string         `json:"backup_path,omitempty"` // BackupPath
	Sweep      *SweepStats    `json:"sweep,omitempty"`       // Sweep
}

// DefaultDrainTimeout bounds how long Stop waits for in-flight requests.
const DefaultDrainTimeout = 5 * time.Second

// Server is the IPC server
type Server struct {
	listener net.Listener
	handler  func(*Request) *Response
	wg       sync.WaitGroup // accept loop and every open connection
	stopOnce sync.Once

	DrainTimeout time.Duration
}

// NewServer creates a new IPC server
func NewServer(handler func(*Request) *Response) *Server {
	return &Server{handler: handler, DrainTimeout: DefaultDrainTimeout}
}

// Start starts the IPC server
func (s *Server) Start() error {
	// Remove existing socket
	os.Remove(SocketPath())

	listener, err := net.Listen("unix", SocketPath())
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener

	// Make socket accessible
	os.Chmod(SocketPath(), 0600)

	s.wg.Add(1)
	go s.accept()

	return nil
}

// Stop closes the listener and waits up to DrainTimeout for requests that
// are still being handled. It reports whether every handler finished.
func (s *Server) Stop() bool {
	drained := true
	s.stopOnce.Do(func() {
		if s.listener == nil {
			return
		}
		s.listener.Close()
		os.Remove(SocketPath())

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.DrainTimeout):
			log.Warnf("[IPC] requests still running after %s", s.DrainTimeout)
			drained = false
		}
	})
	return drained
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Server stopped
		}
		// Counted while accept itself is counted, so never races Wait at zero.
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	var req Request
	if err := decoder.Decode(&req); err != nil {
		return
	}

	resp := s.handler(&req)

	encoder := json.NewEncoder(conn)
	encoder.Encode(resp)
}

// Client is the IPC client. The server answers one request per
// connection, so each helper below is meant for a fresh client.
type Client struct {
	conn net.Conn
}

// Connect connects to the daemon
func Connect() (*Client, error) {
	conn, err := net.Dial("unix", SocketPath())
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send sends a request and returns the response
func (c *Client) Send(req *Request) (*Response, error) {
	encoder := json.NewEncoder(c.conn)
	if err := encoder.Encode(req); err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(c.conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("daemon closed connection")
		}
		return nil, err
	}

	return &resp, nil
}

// Apply asks the daemon to execute a and record it in history
func (c *Client) Apply(a action.Action) (*Response, error) {
	raw, err := action.Encode(a)
	if err != nil {
		return nil, err
	}
	return c.Send(&Request{Type: RequestApply, Action: raw})
}

// Record registers an action that was already executed
func (c *Client) Record(a action.Action) (*Response, error) {
	raw, err := action.Encode(a)
	if err != nil {
		return nil, err
	}
	return c.Send(&Request{Type: RequestRecord, Action: raw})
}

// Undo sends an undo request
func (c *Client) Undo() (*Response, error) {
	return c.Send(&Request{Type: RequestUndo})
}

// Redo sends a redo request
func (c *Client) Redo() (*Response, error) {
	return c.Send(&Request{Type: RequestRedo})
}

// Clear sends a clear request
func (c *Client) Clear() (*Response, error) {
	return c.Send(&Request{Type: RequestClear})
}

// Status sends a status request
func (c *Client) Status() (*Response, error) {
	return c.Send(&Request{Type: RequestStatus})
}

// Stop sends a stop request
func (c *Client) Stop() (*Response, error) {
	return c.Send(&Request{Type: RequestStop})
}

// BackupPath allocates a fresh backup path for original
func (c *Client) BackupPath(original string) (string, error) {
	resp, err := c.Send(&Request{Type: RequestBackupPath, Path: original})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("backup path failed: %s", resp.Error)
	}
	return resp.BackupPath, nil
}

// Sweep removes backups older than maxAge; empty uses the daemon setting.
// Per-entry failures are reported in the stats, not as an error.
func (c *Client) Sweep(maxAge string) (*SweepStats, error) {
	resp, err := c.Send(&Request{Type: RequestSweep, MaxAge: maxAge})
	if err != nil {
		return nil, err
	}
	if resp.Sweep == nil {
		return nil, fmt.Errorf("sweep failed: %s", resp.Error)
	}
	return resp.Sweep, nil
}

// Chmod changes permissions of every path or of none
func (c *Client) Chmod(paths []string, readOnly *bool, mode string) (*Response, error) {
	return c.Send(&Request{
		Type:     RequestChmod,
		Paths:    paths,
		ReadOnly: readOnly,
		Mode:     mode,
	})
}

// MkdirAll creates every path and its missing parents as one history entry
func (c *Client) MkdirAll(paths []string) (*Response, error) {
	return c.Send(&Request{Type: RequestMkdirAll, Paths: paths})
}

// IsDaemonRunning checks if the daemon is running
func IsDaemonRunning() bool {
	client, err := Connect()
	if err != nil {
		return false
	}
	client.Close()
	return true
}
