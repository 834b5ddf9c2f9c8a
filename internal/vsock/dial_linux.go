package vsock

import (
	"fmt"

	mvsock "github.com/mdlayher/vsock"
)

// HostCID is the well-known vsock context ID of the hypervisor host.
const HostCID = 2

// DialVsock connects to the host over AF_VSOCK from inside a guest that
// runs with a native vsock device. The returned client speaks the same
// framed protocol as the unix-socket transport.
func DialVsock(cid, port uint32) (*Client, error) {
	conn, err := mvsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("dial vsock cid=%d port=%d: %w", cid, port, err)
	}
	return NewClient(conn), nil
}
