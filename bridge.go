package modbus

// NewBridgeHandler builds a Server Handler that re-issues an incoming
// request on client's transport and forwards whatever comes back,
// implementing spec.md's Bridge Adapter: a dispatcher whose "handler" is
// itself a client call rather than local logic. Every forwarded request is
// addressed to farSide, so farSide.ServerID replaces the incoming request's
// server-id on the far side; the reply is framed back under the incoming
// server-id by the Server.
func NewBridgeHandler(client *Client, farSide Target) Handler {
	return func(req *ParsedFrame) ([]byte, ErrorCode) {
		resp, errCode := client.SyncRequest(farSide, req.FuncCode, req.Payload)
		if errCode != Success {
			return nil, errCode
		}
		return resp.Bytes()[2:], Success
	}
}
