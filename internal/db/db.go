package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store — репозиторий поверх gorm. Передаётся компонентам явно,
// глобального подключения нет.
type Store struct {
	db *gorm.DB
}

// Open подключается к Postgres и прогоняет миграции.
func Open(dsn string) (*Store, error) {
	g, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := g.AutoMigrate(
		&User{}, &Server{}, &Tariff{},
		&OutlineKey{}, &V2RayKey{}, &Subscription{}, &Payment{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: g}, nil
}

// NewStore оборачивает готовое подключение (для тестов).
func NewStore(g *gorm.DB) *Store {
	return &Store{db: g}
}
