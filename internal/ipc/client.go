package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Drives lists every drive snapshot.
func (c *Client) Drives() (*DrivesResponse, error) {
	return call[DrivesResponse](c, "Drives", DrivesRequest{})
}

// Drive fetches one drive by index or device path.
func (c *Client) Drive(ref string) (*DriveResponse, error) {
	return call[DriveResponse](c, "Drive", DriveRequest{Drive: ref})
}

// SubmitName names the pending image on a drive.
func (c *Client) SubmitName(ref, name string) (*DriveResponse, error) {
	return call[DriveResponse](c, "SubmitName", SubmitNameRequest{Drive: ref, Name: name})
}

// ResolveOverwrite answers the overwrite prompt on a drive.
func (c *Client) ResolveOverwrite(ref string, accept bool) (*DriveResponse, error) {
	return call[DriveResponse](c, "ResolveOverwrite", ResolveOverwriteRequest{Drive: ref, Accept: accept})
}

// Eject opens the tray of a drive.
func (c *Client) Eject(ref string) (*TrayResponse, error) {
	return call[TrayResponse](c, "Eject", TrayRequest{Drive: ref})
}

// CloseTray closes the tray of a drive.
func (c *Client) CloseTray(ref string) (*TrayResponse, error) {
	return call[TrayResponse](c, "Close", TrayRequest{Drive: ref})
}

// Catalog returns recent catalog records.
func (c *Client) Catalog(limit int) (*CatalogResponse, error) {
	return call[CatalogResponse](c, "Catalog", CatalogRequest{Limit: limit})
}

// Stop requests the daemon to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
