package grpcapi

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls cellgate.v1.Kernel and sticks to the session the server
// assigns on the first call.
type Client struct {
	conn *grpc.ClientConn

	mu        sync.Mutex
	sessionID string
}

// Dial connects to addr without transport security.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, opts...)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// WithSession pins the client to an existing session.
func (c *Client) WithSession(id string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
	return c
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteReply, error) {
	reply := new(ExecuteReply)
	if err := c.invoke(ctx, executeMethod, req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Info(ctx context.Context) (*InfoReply, error) {
	reply := new(InfoReply)
	if err := c.invoke(ctx, infoMethod, &InfoRequest{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Release ends the client's session on the server and forgets its ID.
func (c *Client) Release(ctx context.Context) (bool, error) {
	reply := new(ReleaseReply)
	if err := c.invoke(ctx, releaseMethod, &ReleaseRequest{}, reply); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return reply.Released, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	if id := c.SessionID(); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, SessionHeader, id)
	}
	var header metadata.MD
	if err := c.conn.Invoke(ctx, method, req, reply, grpc.Header(&header)); err != nil {
		return err
	}
	if values := header.Get(SessionHeader); len(values) > 0 {
		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = values[0]
		}
		c.mu.Unlock()
	}
	return nil
}
