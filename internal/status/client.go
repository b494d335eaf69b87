package status

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dialer opens a connection to a status endpoint.
type Dialer func(ctx context.Context) (net.Conn, error)

// Client queries a running agent's status endpoint.
// No auth is needed; the socket is local and owner-restricted by the OS.
type Client struct {
	conn *grpc.ClientConn
	http *http.Client
}

// NewClient returns a Client that reaches the endpoint through dial.
func NewClient(dial Dialer) (*Client, error) {
	conn, err := grpc.NewClient("passthrough:///"+Service,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return dial(ctx) }),
	)
	if err != nil {
		return nil, fmt.Errorf("status dial: %w", err)
	}
	return &Client{
		conn: conn,
		http: &http.Client{Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) { return dial(ctx) },
		}},
	}, nil
}

// Close releases the Client's connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return c.conn.Close()
}

// Check asks the health service whether the agent is mirroring.
func (c *Client) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}

// Details fetches the JSON view.
func (c *Client) Details(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+Service+Path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status details: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("status details: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status details: %s", resp.Status)
	}
	var st structpb.Struct
	if err := protojson.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("status details: %w", err)
	}
	return st.AsMap(), nil
}
