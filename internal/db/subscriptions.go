package db

func (s *Store) CreateSubscription(sub *Subscription) error {
	return s.db.Create(sub).Error
}

func (s *Store) GetSubscription(id uint) (*Subscription, error) {
	var sub Subscription
	if err := s.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// SubscriptionByToken — поиск по токену subscription-ссылки.
func (s *Store) SubscriptionByToken(token string) (*Subscription, error) {
	var sub Subscription
	if err := s.db.Where("token = ?", token).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) ListSubscriptions(f ListFilter) ([]Subscription, int64, error) {
	q := s.db.Model(&Subscription{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("CAST(id AS TEXT) LIKE ? OR token LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var subs []Subscription
	if err := q.Order("id").Offset(f.Offset).Limit(f.limit()).Find(&subs).Error; err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

func (s *Store) UpdateSubscription(sub *Subscription) error {
	return s.db.Save(sub).Error
}

func (s *Store) DeleteSubscription(id uint) error {
	return s.db.Delete(&Subscription{}, id).Error
}

// UnnotifiedSubscriptions — подписки, о выдаче которых пользователь
// ещё не уведомлён; их подхватывает фоновый повтор доставки.
func (s *Store) UnnotifiedSubscriptions() ([]Subscription, error) {
	var subs []Subscription
	err := s.db.Where("notified = false AND active = true").Find(&subs).Error
	return subs, err
}

func (s *Store) MarkSubscriptionNotified(id uint) error {
	return s.db.Model(&Subscription{}).Where("id = ?", id).Update("notified", true).Error
}
