package protocol

import (
	"io"

	"go.pueued.dev/pueued/internal/wire"
)

// SendRequest frames and sends a request.
func SendRequest(w io.Writer, req Request) error { return wire.WriteCBOR(w, req) }

// ReceiveRequest reads and decodes one request frame. It returns
// wire.ErrClosed on a clean client disconnect.
func ReceiveRequest(r io.Reader) (Request, error) {
	var req Request
	err := wire.ReadCBOR(r, &req)
	return req, err
}

// SendResponse frames and sends a response.
func SendResponse(w io.Writer, resp Response) error { return wire.WriteCBOR(w, resp) }

// ReceiveResponse reads and decodes one response frame.
func ReceiveResponse(r io.Reader) (Response, error) {
	var resp Response
	err := wire.ReadCBOR(r, &resp)
	return resp, err
}
