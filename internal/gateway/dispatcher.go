package gateway

import (
	"log"

	"github.com/quizdash/chat-service/internal/protocol"
)

// MessageHandler is the callback signature for a parsed client message.
// msg is the concrete struct returned by protocol.ParseClientMessage
// (protocol.PrivateSendMsg, protocol.JoinContestMsg, and so on).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to registered handlers by
// message type. Ping/pong keepalive is handled internally; malformed or
// unsupported messages get a structured error reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a dispatcher bound to the given server.
// The server may be nil at construction and assigned later with
// SetServer, since NewServer needs the Dispatch callback first.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference after construction.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a handler with a message type, replacing any
// previous registration.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the gateway's onMessage callback. It parses the raw
// bytes, answers pings directly, and routes everything else to the
// registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("gateway: dispatch parse error conn=%s: %v", conn.ID, err)
		d.SendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("gateway: unsupported message type=%q conn=%s", msgType, conn.ID)
		d.SendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// SendError sends a structured error event to one connection. Build or
// write failures are logged, not propagated; connection-scoped errors
// are best-effort like any other emission.
func (d *MessageDispatcher) SendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("gateway: failed to build error message conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("gateway: failed to send error message conn=%s: %v", conn.ID, err)
	}
}

// sendPong answers a client ping and refreshes the liveness timestamp.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("gateway: failed to build pong conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("gateway: failed to send pong conn=%s: %v", conn.ID, err)
	}
}
