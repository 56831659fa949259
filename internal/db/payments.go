package db

import (
	"errors"
	"time"
)

// ErrPaymentNotPending — попытка перевести платёж из конечного статуса.
var ErrPaymentNotPending = errors.New("payment is not pending")

func (s *Store) CreatePayment(p *Payment) error {
	return s.db.Create(p).Error
}

func (s *Store) GetPayment(id uint) (*Payment, error) {
	var p Payment
	if err := s.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// PaymentByGatewayID ищет платёж по идентификатору платёжного шлюза.
func (s *Store) PaymentByGatewayID(gatewayID string) (*Payment, error) {
	var p Payment
	if err := s.db.Where("gateway_id = ?", gatewayID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePaymentMetadata сохраняет JSON metadata из уведомления шлюза.
func (s *Store) SavePaymentMetadata(id uint, metadata string) error {
	return s.db.Model(&Payment{}).Where("id = ?", id).Update("metadata", metadata).Error
}

func (s *Store) ListPayments(f ListFilter, status string, from, to time.Time) ([]Payment, int64, error) {
	q := s.db.Model(&Payment{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("gateway_id LIKE ? OR email LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var pays []Payment
	if err := q.Order("id desc").Offset(f.Offset).Limit(f.limit()).Find(&pays).Error; err != nil {
		return nil, 0, err
	}
	return pays, total, nil
}

// ClaimPendingPayment атомарно захватывает платёж под выдачу ключей.
// Условный UPDATE с проверкой числа затронутых строк: из двух конкурентных
// доставок webhook выдачу выполняет только та, что захватила флаг первой,
// вторая получает claimed=false и просто подтверждает приём.
func (s *Store) ClaimPendingPayment(id uint) (claimed bool, err error) {
	res := s.db.Model(&Payment{}).
		Where("id = ? AND status = ? AND processing = false", id, PaymentPending).
		Update("processing", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleasePayment снимает флаг выдачи, не меняя статус (для повторной попытки).
func (s *Store) ReleasePayment(id uint) error {
	return s.db.Model(&Payment{}).Where("id = ?", id).Update("processing", false).Error
}

// CompletePayment переводит платёж pending -> completed и снимает флаг выдачи.
func (s *Store) CompletePayment(id uint) error {
	return s.finishPayment(id, PaymentCompleted)
}

// FailPayment переводит платёж pending -> failed и снимает флаг выдачи.
func (s *Store) FailPayment(id uint) error {
	return s.finishPayment(id, PaymentFailed)
}

func (s *Store) finishPayment(id uint, status string) error {
	res := s.db.Model(&Payment{}).
		Where("id = ? AND status = ?", id, PaymentPending).
		Updates(map[string]interface{}{"status": status, "processing": false})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPaymentNotPending
	}
	return nil
}

// HasCompletedPayment — guard "раз на пользователя на тариф" для бесплатной выдачи.
func (s *Store) HasCompletedPayment(userID, tariffID uint) (bool, error) {
	var count int64
	err := s.db.Model(&Payment{}).
		Where("user_id = ? AND tariff_id = ? AND status = ?", userID, tariffID, PaymentCompleted).
		Count(&count).Error
	return count > 0, err
}

// SumPayments — сумма завершённых платежей за период, для статистики.
func (s *Store) SumPayments(from, to time.Time) (float64, error) {
	var sum float64
	err := s.db.Model(&Payment{}).
		Where("status = ? AND created_at >= ? AND created_at <= ?", PaymentCompleted, from, to).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error
	return sum, err
}
