package db

import (
	"time"

	"gorm.io/gorm"
)

// ListFilter — общие параметры листингов админ-панели.
type ListFilter struct {
	ServerID uint
	UserID   uint
	// Status: "" | "active" | "expired"
	Status string
	// Search — подстрока по id, имени/uuid и email.
	Search string
	Offset int
	Limit  int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 200 {
		return 50
	}
	return f.Limit
}

func applyKeyFilter(q *gorm.DB, f ListFilter, searchCols string) *gorm.DB {
	if f.ServerID != 0 {
		q = q.Where("server_id = ?", f.ServerID)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	switch f.Status {
	case "active":
		q = q.Where("active = true AND expires_at > ?", time.Now())
	case "expired":
		q = q.Where("expires_at <= ?", time.Now())
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where(searchCols, like, like, like)
	}
	return q
}

// --- Outline ---

func (s *Store) ListOutlineKeys(f ListFilter) ([]OutlineKey, int64, error) {
	q := applyKeyFilter(s.db.Model(&OutlineKey{}), f,
		"CAST(id AS TEXT) LIKE ? OR name LIKE ? OR email LIKE ?")
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var keys []OutlineKey
	if err := q.Order("id").Offset(f.Offset).Limit(f.limit()).Find(&keys).Error; err != nil {
		return nil, 0, err
	}
	return keys, total, nil
}

// OutlineKeysByServer — все записи ключей сервера, для синхронизации.
func (s *Store) OutlineKeysByServer(serverID uint) ([]OutlineKey, error) {
	var keys []OutlineKey
	err := s.db.Where("server_id = ?", serverID).Find(&keys).Error
	return keys, err
}

func (s *Store) GetOutlineKey(id uint) (*OutlineKey, error) {
	var key OutlineKey
	if err := s.db.First(&key, id).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) CreateOutlineKey(key *OutlineKey) error {
	return s.db.Create(key).Error
}

func (s *Store) UpdateOutlineKey(key *OutlineKey) error {
	return s.db.Save(key).Error
}

func (s *Store) UpdateOutlineKeyTraffic(id uint, used int64) error {
	return s.db.Model(&OutlineKey{}).Where("id = ?", id).Update("traffic_used", used).Error
}

func (s *Store) DeleteOutlineKey(id uint) error {
	return s.db.Delete(&OutlineKey{}, id).Error
}

// --- V2Ray ---

func (s *Store) ListV2RayKeys(f ListFilter) ([]V2RayKey, int64, error) {
	q := applyKeyFilter(s.db.Model(&V2RayKey{}), f,
		"CAST(id AS TEXT) LIKE ? OR uuid LIKE ? OR email LIKE ?")
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var keys []V2RayKey
	if err := q.Order("id").Offset(f.Offset).Limit(f.limit()).Find(&keys).Error; err != nil {
		return nil, 0, err
	}
	return keys, total, nil
}

func (s *Store) V2RayKeysByServer(serverID uint) ([]V2RayKey, error) {
	var keys []V2RayKey
	err := s.db.Where("server_id = ?", serverID).Find(&keys).Error
	return keys, err
}

func (s *Store) V2RayKeysBySubscription(subID uint) ([]V2RayKey, error) {
	var keys []V2RayKey
	err := s.db.Where("subscription_id = ?", subID).Order("server_id").Find(&keys).Error
	return keys, err
}

func (s *Store) GetV2RayKey(id uint) (*V2RayKey, error) {
	var key V2RayKey
	if err := s.db.First(&key, id).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) CreateV2RayKey(key *V2RayKey) error {
	return s.db.Create(key).Error
}

func (s *Store) UpdateV2RayKey(key *V2RayKey) error {
	return s.db.Save(key).Error
}

func (s *Store) UpdateV2RayKeyTraffic(id uint, used int64) error {
	return s.db.Model(&V2RayKey{}).Where("id = ?", id).Update("traffic_used", used).Error
}

func (s *Store) DeleteV2RayKey(id uint) error {
	return s.db.Delete(&V2RayKey{}, id).Error
}

// ExpiredOutlineKeys возвращает активные ключи с истёкшим сроком,
// кандидаты на отзыв удалённого ключа и деактивацию.
func (s *Store) ExpiredOutlineKeys(now time.Time) ([]OutlineKey, error) {
	var keys []OutlineKey
	err := s.db.Where("active = true AND expires_at <= ?", now).Find(&keys).Error
	return keys, err
}

func (s *Store) ExpiredV2RayKeys(now time.Time) ([]V2RayKey, error) {
	var keys []V2RayKey
	err := s.db.Where("active = true AND expires_at <= ?", now).Find(&keys).Error
	return keys, err
}

func (s *Store) CountActiveKeys() (int64, error) {
	var outline, v2ray int64
	if err := s.db.Model(&OutlineKey{}).Where("active = true").Count(&outline).Error; err != nil {
		return 0, err
	}
	if err := s.db.Model(&V2RayKey{}).Where("active = true").Count(&v2ray).Error; err != nil {
		return 0, err
	}
	return outline + v2ray, nil
}
