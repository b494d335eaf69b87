package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Path is the HTTP route serving the JSON view.
const Path = "/v1/status"

// Server serves a Tracker's state.
type Server struct {
	tracker *Tracker
	grpc    *grpc.Server
	mux     *gwruntime.ServeMux
	log     *slog.Logger
}

// NewServer returns a Server for t.
func NewServer(t *Tracker, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		tracker: t,
		grpc:    grpc.NewServer(),
		mux:     gwruntime.NewServeMux(),
		log:     log.With("component", "status"),
	}
	healthpb.RegisterHealthServer(s.grpc, t.Health())
	if err := s.mux.HandlePath(http.MethodGet, Path, s.handleStatus); err != nil {
		return nil, fmt.Errorf("status route: %w", err)
	}
	return s, nil
}

// Serve splits ln into gRPC and HTTP/1 traffic and serves both until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.HTTP1Fast())

	httpSrv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.grpc.Serve(grpcL); err != nil && !errors.Is(err, cmux.ErrListenerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Debug("grpc listener stopped", "err", err)
		}
	}()
	go func() {
		if err := httpSrv.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			s.log.Debug("http listener stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.tracker.Health().Shutdown()
		s.grpc.Stop()
		_ = httpSrv.Close()
		_ = ln.Close()
	}()

	s.log.Info("status endpoint listening", "addr", ln.Addr())
	err := m.Serve()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("status serve: %w", err)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	body, err := Render(s.tracker.Snapshot())
	if err != nil {
		s.log.Error("rendering status failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// Render encodes snap as the JSON body of the status route.
func Render(snap Snapshot) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"version":        snap.Version,
		"source":         snap.Source,
		"clipboard":      snap.Clipboard,
		"host":           snap.Host,
		"started":        snap.Started.UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(snap.Started).Round(time.Second).Seconds(),
		"chain_joined":   snap.Joined,
		"connected":      snap.Connected,
		"serving":        snap.Serving(),
		"failed":         snap.Failed,
		"pushed":         float64(snap.Pushed),
		"applied":        float64(snap.Applied),
		"write_failures": float64(snap.WriteFailures),
	})
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
}
