package daemon

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/indexer"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/store"
	"github.com/Aman-CERP/dirindex/internal/workitem"
)

// Backend is the indexer a Server exposes. *indexer.Manager implements it.
type Backend interface {
	QueueWorkItem(key participant.Key, kind workitem.Kind, ownerID, requestingHost string) (indexer.Change, error)
	Status() indexer.Status
	Store() *store.DocumentStore
}

// ConnectionTimeout bounds one request/response exchange.
const ConnectionTimeout = 30 * time.Second

// Server listens on a Unix socket and handles one request per connection.
type Server struct {
	socketPath string
	backend    Backend
	started    time.Time

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for backend on socketPath.
func NewServer(socketPath string, backend Backend) *Server {
	return &Server{socketPath: socketPath, backend: backend}
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ListenAndServe serves until ctx is cancelled or Close is called, then
// waits for in-flight connections and removes the socket.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// A stale socket from a crashed server blocks Listen.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	slog.Info("rpc_server_listening", slog.String("socket", s.socketPath))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isShutdown() {
				break
			}
			slog.Error("rpc_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(ConnectionTimeout)); err != nil {
		slog.Warn("rpc_deadline_failed", slog.String("error", err.Error()))
	}

	encoder := json.NewEncoder(conn)
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	start := time.Now()
	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)

	slog.Debug("rpc_request",
		slog.String("method", req.Method),
		slog.String("id", req.ID),
		slog.Bool("ok", resp.Error == nil),
		slog.Duration("duration", time.Since(start)))
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status())
	case MethodQueue:
		return s.handleQueue(req, workitem.CreateOrUpdate)
	case MethodDelete:
		return s.handleQueue(req, workitem.Delete)
	case MethodSearch:
		return s.handleSearch(ctx, req)
	case MethodCount:
		return s.handleCount(ctx, req)
	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams re-decodes the generic params into dst.
func decodeParams(params any, dst any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (s *Server) handleQueue(req Request, kind workitem.Kind) Response {
	var params QueueParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	key, err := participant.Parse(params.Participant)
	if err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, err)
	}

	host := params.RequestingHost
	if host == "" {
		host = "unix:" + s.socketPath
	}

	change, err := s.backend.QueueWorkItem(key, kind, params.OwnerID, host)
	if err != nil {
		code := ErrCodeInvalidParams
		switch {
		case stderrors.Is(err, indexer.ErrNotStarted):
			code = ErrCodeNotStarted
		case stderrors.Is(err, indexer.ErrClosed):
			code = ErrCodeShuttingDown
		}
		return errorResponse(req.ID, code, err)
	}

	return NewSuccessResponse(req.ID, QueueResult{
		Changed:     change == indexer.Changed,
		Participant: key.URIEncoded(),
		Kind:        string(kind),
	})
}

func (s *Server) handleSearch(ctx context.Context, req Request) Response {
	var params SearchParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	st := s.backend.Store()
	var (
		docs []store.Document
		err  error
	)
	if params.Text != "" {
		docs, err = st.Search(ctx, params.Text, params.Limit)
	} else {
		var opts []store.QueryOption
		if params.IncludeDeleted {
			opts = append(opts, store.IncludeDeleted())
		}
		docs, err = st.Query(ctx, store.Field(params.Field), params.Value, opts...)
	}
	if err != nil {
		return errorResponse(req.ID, ErrCodeQueryFailed, err)
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return NewSuccessResponse(req.ID, SearchResult{Documents: docs})
}

func (s *Server) handleCount(ctx context.Context, req Request) Response {
	stats, err := s.backend.Store().Stats(ctx)
	if err != nil {
		return errorResponse(req.ID, ErrCodeQueryFailed, err)
	}
	return NewSuccessResponse(req.ID, CountResult{
		Documents:        stats.Documents,
		DeletedDocuments: stats.DeletedDocuments,
		Participants:     stats.Participants,
	})
}

func (s *Server) status() StatusResult {
	st := s.backend.Status()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	return StatusResult{
		Running:      st.Started,
		PID:          os.Getpid(),
		Uptime:       time.Since(started).Round(time.Second).String(),
		StartedAt:    st.StartedAt,
		IndexPath:    s.backend.Store().Path(),
		PendingKeys:  st.PendingKeys,
		QueueLength:  st.QueueLength,
		RetryRecords: st.RetryRecords,
		Processed:    st.Processed,
	}
}

// errorResponse maps err to an RPC error, carrying its dirindex code in Data.
func errorResponse(id string, code int, err error) Response {
	resp := NewErrorResponse(id, code, err.Error())
	resp.Error.Data = errors.GetCode(err)
	return resp
}
