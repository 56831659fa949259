package db

import (
	"errors"
)

// ErrTariffReferenced — тариф уже упомянут платежом и потому неизменяем.
var ErrTariffReferenced = errors.New("tariff is referenced by payments and is immutable")

func (s *Store) ListTariffs(protocol string, activeOnly bool) ([]Tariff, error) {
	q := s.db.Model(&Tariff{})
	if protocol != "" {
		q = q.Where("protocol = ?", protocol)
	}
	if activeOnly {
		q = q.Where("active = true")
	}
	var tariffs []Tariff
	if err := q.Order("price").Find(&tariffs).Error; err != nil {
		return nil, err
	}
	return tariffs, nil
}

func (s *Store) GetTariff(id uint) (*Tariff, error) {
	var t Tariff
	if err := s.db.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTariff(t *Tariff) error {
	return s.db.Create(t).Error
}

// UpdateTariff сохраняет тариф; отклоняется, если на тариф уже ссылаются
// платежи. Разрешено только снятие с продажи (active=false).
func (s *Store) UpdateTariff(t *Tariff) error {
	referenced, err := s.tariffReferenced(t.ID)
	if err != nil {
		return err
	}
	if referenced {
		var cur Tariff
		if err := s.db.First(&cur, t.ID).Error; err != nil {
			return err
		}
		if cur.Name != t.Name || !cur.Price.Equal(t.Price) ||
			cur.DurationDays != t.DurationDays || cur.TrafficLimit != t.TrafficLimit ||
			cur.Protocol != t.Protocol {
			return ErrTariffReferenced
		}
	}
	return s.db.Save(t).Error
}

func (s *Store) DeleteTariff(id uint) error {
	referenced, err := s.tariffReferenced(id)
	if err != nil {
		return err
	}
	if referenced {
		return ErrTariffReferenced
	}
	return s.db.Delete(&Tariff{}, id).Error
}

func (s *Store) tariffReferenced(id uint) (bool, error) {
	var count int64
	if err := s.db.Model(&Payment{}).Where("tariff_id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
