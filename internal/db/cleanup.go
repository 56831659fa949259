package db

import "time"

// CleanupReport — итог удаления заведомо неконсистентных записей.
type CleanupReport struct {
	KeysWithoutServer    int64 `json:"keys_without_server"`
	StaleInactiveKeys    int64 `json:"stale_inactive_keys"`
	EmptySubscriptions   int64 `json:"empty_subscriptions"`
	ExpiredSubscriptions int64 `json:"expired_subscriptions"`
}

// Cleanup удаляет локальный мусор: ключи несуществующих серверов,
// давно выключенные просроченные ключи, подписки без единого ключа.
// Удалённые API здесь не трогаем — это чисто локальная уборка,
// рассинхрон с серверами чинит синхронизация.
func (s *Store) Cleanup(staleAfter time.Duration) (*CleanupReport, error) {
	rep := &CleanupReport{}

	res := s.db.Exec(`DELETE FROM outline_keys WHERE server_id NOT IN (SELECT id FROM servers)`)
	if res.Error != nil {
		return nil, res.Error
	}
	rep.KeysWithoutServer += res.RowsAffected

	res = s.db.Exec(`DELETE FROM v2_ray_keys WHERE server_id NOT IN (SELECT id FROM servers)`)
	if res.Error != nil {
		return nil, res.Error
	}
	rep.KeysWithoutServer += res.RowsAffected

	cutoff := time.Now().Add(-staleAfter)
	res = s.db.Where("active = false AND expires_at < ?", cutoff).Delete(&OutlineKey{})
	if res.Error != nil {
		return nil, res.Error
	}
	rep.StaleInactiveKeys += res.RowsAffected

	res = s.db.Where("active = false AND expires_at < ?", cutoff).Delete(&V2RayKey{})
	if res.Error != nil {
		return nil, res.Error
	}
	rep.StaleInactiveKeys += res.RowsAffected

	res = s.db.Exec(`DELETE FROM subscriptions WHERE id NOT IN (SELECT DISTINCT subscription_id FROM v2_ray_keys WHERE subscription_id IS NOT NULL)`)
	if res.Error != nil {
		return nil, res.Error
	}
	rep.EmptySubscriptions = res.RowsAffected

	res = s.db.Model(&Subscription{}).
		Where("active = true AND expires_at < ?", time.Now()).
		Update("active", false)
	if res.Error != nil {
		return nil, res.Error
	}
	rep.ExpiredSubscriptions = res.RowsAffected

	return rep, nil
}
