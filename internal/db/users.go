package db

import "gorm.io/gorm"

// GetOrCreateUser находит пользователя по Telegram ID либо создаёт его.
func (s *Store) GetOrCreateUser(telegramID int64) (*User, error) {
	var user User
	err := s.db.Where("telegram_id = ?", telegramID).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		user = User{TelegramID: telegramID}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(id uint) (*User, error) {
	var user User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(f ListFilter) ([]User, int64, error) {
	q := s.db.Model(&User{})
	if f.Search != "" {
		q = q.Where("CAST(telegram_id AS TEXT) LIKE ?", "%"+f.Search+"%")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []User
	if err := q.Order("id").Offset(f.Offset).Limit(f.limit()).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *Store) SetUserVIP(id uint, vip bool) error {
	return s.db.Model(&User{}).Where("id = ?", id).Update("vip", vip).Error
}

func (s *Store) CountUsers() (int64, error) {
	var count int64
	err := s.db.Model(&User{}).Count(&count).Error
	return count, err
}
