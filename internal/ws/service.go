package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/shellpane/backend/internal/model"
	"github.com/shellpane/backend/internal/repository"
	"github.com/shellpane/backend/internal/term"
)

// Service wires terminal lifecycle events to WebSocket fan-out and the
// persistence layer. Terminals keep running while no clients are
// connected; the hub only mirrors what the process produces.
type Service struct {
	hubs    *HubManager
	manager *term.Manager
	repo    *repository.TerminalRepository
	handler *Handler
	log     *zap.Logger
}

// NewService creates the WebSocket service.
func NewService(manager *term.Manager, repo *repository.TerminalRepository, log *zap.Logger) *Service {
	hubs := NewHubManager()
	return &Service{
		hubs:    hubs,
		manager: manager,
		repo:    repo,
		handler: NewHandler(hubs, manager, log),
		log:     log.Named("ws"),
	}
}

// Handler returns the connection handler for route registration.
func (s *Service) Handler() *Handler {
	return s.handler
}

// CreateTerminal spawns a terminal with output and exit events wired to
// this service, persists its record, and prepares a hub for clients.
func (s *Service) CreateTerminal(ctx context.Context, opts term.CreateOptions) (*model.Terminal, error) {
	terminalID := opts.ID

	opts.OnData = func(data []byte) {
		s.BroadcastOutput(terminalID, data)
	}
	opts.OnExit = func(exitCode int) {
		s.handleExit(terminalID, exitCode)
	}

	desc, err := s.manager.Create(opts)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, desc); err != nil {
		s.log.Error("persist terminal record",
			zap.String("terminal_id", desc.ID), zap.Error(err))
	}

	s.hubs.GetOrCreate(desc.ID)
	return desc, nil
}

// BroadcastOutput sends terminal output to every connected client.
// The data slice is only valid during the call, so it is marshaled
// before this returns.
func (s *Service) BroadcastOutput(terminalID string, data []byte) {
	hub := s.hubs.Get(terminalID)
	if hub == nil {
		return
	}

	msg := &Message{
		Type: MessageTypeStdout,
		Data: string(data),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("marshal stdout message", zap.Error(err))
		return
	}
	hub.Broadcast(payload)
}

// handleExit notifies clients, updates the stored record, and tears
// down the hub after the terminal has been deregistered.
func (s *Service) handleExit(terminalID string, exitCode int) {
	status := model.TerminalStatusExited
	if exitCode < 0 {
		status = model.TerminalStatusKilled
	}

	s.log.Info("terminal exited",
		zap.String("terminal_id", terminalID),
		zap.Int("exit_code", exitCode),
		zap.String("status", string(status)))

	if hub := s.hubs.Get(terminalID); hub != nil {
		code := exitCode
		if err := hub.BroadcastMessage(&Message{Type: MessageTypeExit, Code: &code}); err != nil {
			s.log.Warn("broadcast exit message", zap.Error(err))
		}
	}

	if err := s.repo.UpdateStatus(context.Background(), terminalID, status, &exitCode); err != nil {
		s.log.Warn("update terminal status",
			zap.String("terminal_id", terminalID), zap.Error(err))
	}

	s.hubs.Remove(terminalID)
}

// DetachTerminal closes all client connections for a terminal.
func (s *Service) DetachTerminal(terminalID string) {
	s.hubs.Remove(terminalID)
}

// ClientCount returns the number of clients attached to a terminal.
func (s *Service) ClientCount(terminalID string) int {
	hub := s.hubs.Get(terminalID)
	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

// Close closes every hub and client connection.
func (s *Service) Close() {
	s.hubs.Close()
}
