package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"discarchive/internal/daemon"
	"discarchive/internal/logging"
	"discarchive/internal/logs"
)

// ServiceName is the JSON-RPC receiver name; methods are "Discarchive.<Method>".
const ServiceName = "Discarchive"

const defaultCatalogLimit = 50

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Go(func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Go(func() {
				defer s.untrack(conn)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
			})
		}
	})
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Close stops the server, drops open client connections and removes the
// socket file.
func (s *Server) Close() error {
	s.cancel()
	var closeErr error
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		closeErr = fmt.Errorf("close socket listener: %w", err)
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may confuse status checks"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
	return closeErr
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Drives(_ DrivesRequest, resp *DrivesResponse) error {
	resp.Drives = s.daemon.Drives()
	return nil
}

func (s *service) Drive(req DriveRequest, resp *DriveResponse) error {
	snap, err := s.daemon.Drive(req.Drive)
	if err != nil {
		return err
	}
	resp.Drive = snap
	return nil
}

func (s *service) SubmitName(req SubmitNameRequest, resp *DriveResponse) error {
	snap, err := s.daemon.SubmitName(req.Drive, req.Name)
	if err != nil {
		return err
	}
	resp.Drive = snap
	return nil
}

func (s *service) ResolveOverwrite(req ResolveOverwriteRequest, resp *DriveResponse) error {
	snap, err := s.daemon.ResolveOverwrite(req.Drive, req.Accept)
	if err != nil {
		return err
	}
	resp.Drive = snap
	return nil
}

func (s *service) Eject(req TrayRequest, resp *TrayResponse) error {
	h, err := s.daemon.Handle(req.Drive)
	if err != nil {
		return err
	}
	if err := s.daemon.EjectTray(s.ctx, req.Drive); err != nil {
		return err
	}
	resp.Device = h.DevicePath()
	return nil
}

func (s *service) Close(req TrayRequest, resp *TrayResponse) error {
	h, err := s.daemon.Handle(req.Drive)
	if err != nil {
		return err
	}
	if err := s.daemon.CloseTray(s.ctx, req.Drive); err != nil {
		return err
	}
	resp.Device = h.DevicePath()
	return nil
}

func (s *service) Catalog(req CatalogRequest, resp *CatalogResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultCatalogLimit
	}
	records, err := s.daemon.Catalog(s.ctx, limit)
	if err != nil {
		return err
	}
	summary, err := s.daemon.CatalogSummary(s.ctx)
	if err != nil {
		return err
	}
	resp.Records = records
	resp.Summary = summary
	return nil
}

// Stop only signals the daemon; the reply must go out before the process
// tears the socket down.
func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	go s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, logs.Options{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
		Filter: logs.Filter{Drive: req.Drive, Level: req.Level},
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
