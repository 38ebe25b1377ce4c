package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/broker"
)

// Client is a broker.Invoker calling a remote broker service.
type Client struct {
	conn grpc.ClientConnInterface
}

var _ broker.Invoker = (*Client)(nil)

// New returns a Client using conn.
func New(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to the broker at addr without transport security and
// returns the client and the connection to close on shutdown.
func Dial(addr string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	return New(conn), conn, nil
}

// Invoke implements broker.Invoker.
func (c *Client) Invoke(ctx context.Context, genericableID, fitableID string, args map[string]any) (json.RawMessage, error) {
	req, err := encodeRequest(genericableID, fitableID, args)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Value)
	if err := c.conn.Invoke(ctx, invokeMethod, req, out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", broker.ErrNoFitable, status.Convert(err).Message())
		}
		return nil, fmt.Errorf("invoke %s/%s: %w", genericableID, fitableID, err)
	}
	return decodeResult(out)
}
