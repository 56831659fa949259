package db

import "fmt"

// ListServers возвращает серверы, опционально по протоколу и только активные.
func (s *Store) ListServers(protocol string, activeOnly bool) ([]Server, error) {
	q := s.db.Model(&Server{})
	if protocol != "" {
		q = q.Where("protocol = ?", protocol)
	}
	if activeOnly {
		q = q.Where("active = true")
	}
	var servers []Server
	if err := q.Order("id").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func (s *Store) GetServer(id uint) (*Server, error) {
	var srv Server
	if err := s.db.First(&srv, id).Error; err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *Store) CreateServer(srv *Server) error {
	if srv.Protocol != ProtocolOutline && srv.Protocol != ProtocolV2Ray {
		return fmt.Errorf("unknown protocol %q", srv.Protocol)
	}
	return s.db.Create(srv).Error
}

func (s *Store) UpdateServer(srv *Server) error {
	return s.db.Save(srv).Error
}

// DeleteServer удаляет запись сервера. Ключи сервера не трогаем:
// их снимает cleanup либо синхронизация с delete_inactive_server_keys.
func (s *Store) DeleteServer(id uint) error {
	return s.db.Delete(&Server{}, id).Error
}
