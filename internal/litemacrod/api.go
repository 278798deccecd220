package litemacrod

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "litemacro.v1.LiteMacroService"

// RPC method names.
const (
	MethodPing         = "Ping"
	MethodExecute      = "Execute"
	MethodReload       = "Reload"
	MethodListMacros   = "ListMacros"
	MethodListSessions = "ListSessions"
	MethodConnect      = "Connect"
)

// FullMethod returns the wire path of a method, e.g.
// "/litemacro.v1.LiteMacroService/Ping".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ConnectStream is the server side of a Connect call.
type ConnectStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

// LiteMacroServer is implemented by Server. Messages are structpb.Struct so
// the service needs no generated code.
type LiteMacroServer interface {
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reload(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMacros(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(*structpb.Struct, ConnectStream) error
}

type unaryCall func(LiteMacroServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LiteMacroServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LiteMacroServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type connectServerStream struct {
	grpc.ServerStream
}

func (s *connectServerStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LiteMacroServer).Connect(in, &connectServerStream{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LiteMacroServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodPing, LiteMacroServer.Ping),
		unaryMethod(MethodExecute, LiteMacroServer.Execute),
		unaryMethod(MethodReload, LiteMacroServer.Reload),
		unaryMethod(MethodListMacros, LiteMacroServer.ListMacros),
		unaryMethod(MethodListSessions, LiteMacroServer.ListSessions),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodConnect,
			Handler:       connectHandler,
			ServerStreams: true,
		},
	},
	Metadata: "litemacro/v1/litemacro.proto",
}

// RegisterServer registers srv on s.
func RegisterServer(s grpc.ServiceRegistrar, srv LiteMacroServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Client calls a litemacro daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a daemon at target without TLS. The daemon binds to
// loopback by default.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks the daemon.
func (c *Client) Ping(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, MethodPing, nil)
}

// Execute runs a command line. An empty session runs it as the console.
func (c *Client) Execute(ctx context.Context, session, command string) error {
	_, err := c.call(ctx, MethodExecute, map[string]any{"session": session, "command": command})
	return err
}

// Reload reloads the macro file on the daemon.
func (c *Client) Reload(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, MethodReload, nil)
}

// ListMacros returns the daemon's current macros.
func (c *Client) ListMacros(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, MethodListMacros, nil)
}

// ListSessions returns the connected sessions.
func (c *Client) ListSessions(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, MethodListSessions, nil)
}

// Connection is a live session on the daemon.
type Connection struct {
	SessionID string
	Name      string
	Backend   string

	client *Client
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Connect joins the daemon as name. Messages for the session are read with
// Recv until Close or the daemon ends the stream.
func (c *Client) Connect(ctx context.Context, name string) (*Connection, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], FullMethod(MethodConnect))
	if err != nil {
		cancel()
		return nil, err
	}

	in, err := structpb.NewStruct(map[string]any{"name": name})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}

	hello := new(structpb.Struct)
	if err := stream.RecvMsg(hello); err != nil {
		cancel()
		return nil, err
	}
	fields := hello.GetFields()
	return &Connection{
		SessionID: fields["session_id"].GetStringValue(),
		Name:      fields["name"].GetStringValue(),
		Backend:   fields["backend"].GetStringValue(),
		client:    c,
		stream:    stream,
		cancel:    cancel,
	}, nil
}

// Recv blocks for the next message. It returns io.EOF when the daemon
// closes the session.
func (c *Connection) Recv() (string, error) {
	out := new(structpb.Struct)
	if err := c.stream.RecvMsg(out); err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", err
	}
	return out.GetFields()["text"].GetStringValue(), nil
}

// Execute runs a command line as this session.
func (c *Connection) Execute(ctx context.Context, command string) error {
	return c.client.Execute(ctx, c.SessionID, command)
}

// Close leaves the daemon; the session is disconnected server side.
func (c *Connection) Close() {
	c.cancel()
}
