package vpn

import (
	"fmt"

	"github.com/merdocx/veilbot-sub000/internal/db"
)

// ForServer возвращает протокольный клиент для записи сервера.
func ForServer(srv db.Server) (Client, error) {
	switch srv.Protocol {
	case db.ProtocolOutline:
		return NewOutlineClient(srv.APIURL, srv.CertSHA256), nil
	case db.ProtocolV2Ray:
		return NewV2RayClient(srv.APIURL, srv.APIKey), nil
	default:
		return nil, fmt.Errorf("server %d: unknown protocol %q", srv.ID, srv.Protocol)
	}
}
