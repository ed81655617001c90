// Package ipc exposes the daemon over a local unix socket with a
// newline-delimited JSON protocol, so the CLI can inject prompts and
// messages into a running instance.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/skippybot/skippy/internal/orchestrator"
	"github.com/skippybot/skippy/internal/tools"
)

const connDeadline = 5 * time.Minute

// Request is one client frame. Type is "prompt" or "message".
type Request struct {
	Type    string `json:"type"`
	Prompt  string `json:"prompt,omitempty"`
	Message string `json:"message,omitempty"`
	Output  string `json:"output,omitempty"` // stdout (default) or chat
	Channel string `json:"channel,omitempty"`
	User    string `json:"user,omitempty"`
	Model   string `json:"model,omitempty"`
	Context string `json:"context,omitempty"`
}

// Frame is one server response line. The stream ends with done or
// error, after which the server closes the connection.
type Frame struct {
	Type    string `json:"type"` // chunk, status, done, error
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server accepts local connections and drives prompt chains on behalf
// of CLI clients.
type Server struct {
	path   string
	orch   *orchestrator.Orchestrator
	sender tools.Sender
	user   string

	listener net.Listener
}

// Options configures the server.
type Options struct {
	SocketPath   string
	Orchestrator *orchestrator.Orchestrator
	Sender       tools.Sender
	DefaultUser  string
}

// NewServer creates a server; Start binds the socket.
func NewServer(opts Options) *Server {
	return &Server{
		path:   opts.SocketPath,
		orch:   opts.Orchestrator,
		sender: opts.Sender,
		user:   opts.DefaultUser,
	}
}

// Start binds the socket, replacing a stale one from a previous run,
// and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ipc: create socket dir: %w", err)
	}
	// A leftover socket from an unclean shutdown blocks the bind.
	if _, err := os.Stat(s.path); err == nil {
		os.Remove(s.path)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("ipc: bind %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}
	s.listener = listener
	slog.Info("IPC socket listening", "path", s.path)

	go func() {
		<-ctx.Done()
		listener.Close()
		os.Remove(s.path)
	}()
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("IPC accept failed", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn serves exactly one request and closes.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))

	enc := json.NewEncoder(conn)
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		enc.Encode(Frame{Type: "error", Message: "malformed request: " + err.Error()})
		return
	}

	switch req.Type {
	case "prompt":
		s.handlePrompt(ctx, enc, req)
	case "message":
		s.handleMessage(enc, req)
	default:
		enc.Encode(Frame{Type: "error", Message: fmt.Sprintf("unknown request type %q", req.Type)})
	}
}

func (s *Server) handlePrompt(ctx context.Context, enc *json.Encoder, req Request) {
	if req.Prompt == "" {
		enc.Encode(Frame{Type: "error", Message: "prompt is required"})
		return
	}
	output := req.Output
	if output == "" {
		output = "stdout"
	}
	if output == "chat" && req.Channel == "" {
		enc.Encode(Frame{Type: "error", Message: "chat output requires a channel"})
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = "cli"
	}
	user := req.User
	if user == "" {
		user = s.user
	}

	out, err := s.orch.Run(ctx, orchestrator.Request{
		Prompt:       req.Prompt,
		Model:        req.Model,
		ExtraContext: req.Context,
		Channel:      channel,
		User:         user,
		Status: func(text string) {
			enc.Encode(Frame{Type: "status", Message: text})
		},
	})
	if err != nil {
		enc.Encode(Frame{Type: "error", Message: err.Error()})
		return
	}
	if out.Aborted {
		enc.Encode(Frame{Type: "error", Message: "chain aborted"})
		return
	}

	switch output {
	case "chat":
		if s.sender == nil {
			enc.Encode(Frame{Type: "error", Message: "chat output is not available"})
			return
		}
		if out.FinalAnswer != "" {
			if err := s.sender.SendMessage(req.Channel, out.FinalAnswer); err != nil {
				enc.Encode(Frame{Type: "error", Message: "deliver to chat: " + err.Error()})
				return
			}
		}
		enc.Encode(Frame{Type: "done", Content: "delivered to " + req.Channel})
	default:
		if out.FinalAnswer != "" {
			enc.Encode(Frame{Type: "chunk", Content: out.FinalAnswer})
		}
		enc.Encode(Frame{Type: "done"})
	}
}

func (s *Server) handleMessage(enc *json.Encoder, req Request) {
	if req.Message == "" {
		enc.Encode(Frame{Type: "error", Message: "message is required"})
		return
	}
	if req.Channel == "" {
		enc.Encode(Frame{Type: "error", Message: "channel is required"})
		return
	}
	if s.sender == nil {
		enc.Encode(Frame{Type: "error", Message: "chat delivery is not available"})
		return
	}
	if err := s.sender.SendMessage(req.Channel, req.Message); err != nil {
		enc.Encode(Frame{Type: "error", Message: err.Error()})
		return
	}
	enc.Encode(Frame{Type: "done", Content: "sent"})
}

// Do sends one request to a running daemon and invokes onFrame for each
// response frame until done or error. Returns the error frame's message
// as an error.
func Do(socketPath string, req Request, onFrame func(Frame)) error {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("ipc: connect %s (is the daemon running?): %w", socketPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("ipc: send request: %w", err)
	}
	dec := json.NewDecoder(conn)
	for {
		var frame Frame
		if err := dec.Decode(&frame); err != nil {
			return fmt.Errorf("ipc: read response: %w", err)
		}
		if onFrame != nil {
			onFrame(frame)
		}
		switch frame.Type {
		case "done":
			return nil
		case "error":
			return errors.New(frame.Message)
		}
	}
}
