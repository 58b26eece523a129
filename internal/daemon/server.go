package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hireme/chatsync/internal/api"
	"github.com/hireme/chatsync/internal/session"
)

// Server is the profile daemon's control plane: the api.Service served
// over gRPC on a Unix socket readable only by the owner.
type Server struct {
	grpc       *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the control socket. The profile lock is already held, so
// a socket file left on disk belongs to a dead daemon and is replaced.
func NewServer(p Params, logger *zap.Logger, svc *api.Service) (*Server, error) {
	path := p.SocketPath
	if path == "" {
		path = session.SocketPath(p.ProfileName)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	logger = logger.Named("grpc")
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryLogger(logger)),
		grpc.ChainStreamInterceptor(streamLogger(logger)),
	)
	api.RegisterControlServer(srv, svc)
	return &Server{grpc: srv, listener: ln, socketPath: path, logger: logger}, nil
}

func (s *Server) SocketPath() string { return s.socketPath }

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	s.logger.Info("control socket listening", zap.String("socket", s.socketPath))
	return s.grpc.Serve(s.listener)
}

// Stop drains in-flight calls, ending watch streams when ctx expires, and
// removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, closing streams")
		s.grpc.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
	s.logger.Info("control socket closed")
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func streamLogger(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.Stringer("code", code),
		zap.Duration("took", time.Since(start)),
	}
	if code != codes.OK {
		logger.Debug("rpc failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("rpc", fields...)
}
