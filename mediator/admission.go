package mediator

import (
	"encoding/hex"
	"net"
	"strings"

	"github.com/coregx/relay/protocol"
)

// readText reads one frame from conn and returns its content as a
// string, applying the server's refresh timeout as a read deadline.
func (s *Server) readText(conn net.Conn) (string, error) {
	msg, err := protocol.DecodeDeadline(conn, s.cfg.RefreshTimeout)
	if err != nil {
		return "", err
	}
	return msg.ContentString(), nil
}

// writeText encodes body as a ServerInteraction message and writes it.
func (s *Server) writeText(conn net.Conn, body string) error {
	msg, err := protocol.NewMessage(protocol.ServerInteraction, []byte(body))
	if err != nil {
		return err
	}
	wire, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(wire)
	return err
}

// admissionResult carries what performAdmission learned once it
// succeeds: either a brand-new client (login/signup) or an existing one
// a sibling connection is joining (token).
type admissionResult struct {
	client *Client
	name   string
	role   Role
}

// performAdmission runs the full dialogue of spec §4.6 over conn: method,
// info body, validation, the status reply, and the drain-confirming
// "ready" handshake. On any admission error it writes the matching fixed
// status string and returns that error; the caller is responsible for
// closing conn afterward.
func (s *Server) performAdmission(conn net.Conn) (admissionResult, error) {
	method, err := s.readText(conn)
	if err != nil {
		return admissionResult{}, err
	}

	switch method {
	case "login", "signup":
		return s.admitLoginOrSignup(conn, method)
	case "token":
		return s.admitToken(conn)
	default:
		_ = s.writeText(conn, ErrUnknownMethod.Error())
		return admissionResult{}, ErrUnknownMethod
	}
}

func (s *Server) admitLoginOrSignup(conn net.Conn, method string) (admissionResult, error) {
	info, err := s.readText(conn)
	if err != nil {
		return admissionResult{}, err
	}
	fields := strings.Split(info, "\n")
	if len(fields) != 4 {
		_ = s.writeText(conn, ErrUnknownServer.Error())
		return admissionResult{}, ErrUnknownServer
	}
	username, password, roleStr, name := fields[0], fields[1], fields[2], fields[3]

	role, ok := ParseRole(roleStr)
	if !ok || role != RoleConnector {
		_ = s.writeText(conn, ErrUnknownServer.Error())
		return admissionResult{}, ErrUnknownServer
	}

	if method == "signup" {
		if err := s.creds.AddUser(username, password); err != nil {
			_ = s.writeText(conn, ErrBadCredentials.Error())
			return admissionResult{}, ErrBadCredentials
		}
	}

	stored, ok := s.creds.PasswordOf(username)
	if !ok || stored != password {
		_ = s.writeText(conn, ErrBadCredentials.Error())
		return admissionResult{}, ErrBadCredentials
	}

	if _, alreadyConnected := s.Client(username); alreadyConnected && !s.cfg.AllowMultipleConnectors {
		_ = s.writeText(conn, ErrAlreadyConnected.Error())
		return admissionResult{}, ErrAlreadyConnected
	}

	client := newClient(User{Username: username, Password: password}, s)

	if err := s.confirmReady(conn); err != nil {
		return admissionResult{}, err
	}

	return admissionResult{client: client, name: name, role: RoleConnector}, nil
}

func (s *Server) admitToken(conn net.Conn) (admissionResult, error) {
	info, err := s.readText(conn)
	if err != nil {
		return admissionResult{}, err
	}
	fields := strings.Split(info, "\n")
	if len(fields) != 4 {
		_ = s.writeText(conn, ErrUnknownServer.Error())
		return admissionResult{}, ErrUnknownServer
	}
	username, presentedHex, roleStr, name := fields[0], fields[1], fields[2], fields[3]

	role, ok := ParseRole(roleStr)
	if !ok {
		_ = s.writeText(conn, ErrUnknownServer.Error())
		return admissionResult{}, ErrUnknownServer
	}

	client, ok := s.Client(username)
	if !ok {
		_ = s.writeText(conn, ErrTokenNotFound.Error())
		return admissionResult{}, ErrTokenNotFound
	}

	presented, err := hex.DecodeString(presentedHex)
	if err != nil {
		_ = s.writeText(conn, ErrTokenMismatch.Error())
		return admissionResult{}, ErrTokenMismatch
	}

	if err := s.tokens.Consume(username, name, presented); err != nil {
		_ = s.writeText(conn, err.Error())
		return admissionResult{}, err
	}

	if err := s.confirmReady(conn); err != nil {
		return admissionResult{}, err
	}

	return admissionResult{client: client, name: name, role: role}, nil
}

// confirmReady writes the first "ready", then exchanges a second "ready"
// in each direction to confirm buffers are drained before any state
// change (spec §4.6, §6).
func (s *Server) confirmReady(conn net.Conn) error {
	if err := s.writeText(conn, "ready"); err != nil {
		return err
	}
	reply, err := s.readText(conn)
	if err != nil {
		return err
	}
	if reply != "ready" {
		return &ProtocolAdmissionError{Got: reply}
	}
	return s.writeText(conn, "ready")
}

// ProtocolAdmissionError reports that the client's side of the
// drain-confirming ready handshake sent something other than "ready".
type ProtocolAdmissionError struct {
	Got string
}

func (e *ProtocolAdmissionError) Error() string {
	return "mediator: expected \"ready\" handshake, got " + e.Got
}
