package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// ErrAlreadyClaimed — бесплатный тариф уже выдавался этому пользователю.
var ErrAlreadyClaimed = errors.New("free tariff already claimed by this user")

// ErrNoServers — нет активных серверов нужного протокола.
var ErrNoServers = errors.New("no active servers for protocol")

// ProvisionStore — срез репозитория для выдачи ключей.
type ProvisionStore interface {
	GetTariff(id uint) (*db.Tariff, error)
	GetUser(id uint) (*db.User, error)
	ListServers(protocol string, activeOnly bool) ([]db.Server, error)
	CreateOutlineKey(key *db.OutlineKey) error
	CreateV2RayKey(key *db.V2RayKey) error
	CreateSubscription(sub *db.Subscription) error
	DeleteSubscription(id uint) error
	CreatePayment(p *db.Payment) error
	ClaimPendingPayment(id uint) (bool, error)
	CompletePayment(id uint) error
	FailPayment(id uint) error
	HasCompletedPayment(userID, tariffID uint) (bool, error)
}

// Result — итог выдачи: строка подключения либо subscription-ссылка.
type Result struct {
	Protocol        string
	AccessURL       string
	SubscriptionURL string
	SubscriptionID  uint
	ExpiresAt       time.Time
}

// Provisioner создаёт удалённые ключи и локальные записи после оплаты
// или по бесплатному тарифу.
type Provisioner struct {
	Store   ProvisionStore
	Clients func(srv db.Server) (vpn.Client, error)
	// PublicBaseURL — основа subscription-ссылок.
	PublicBaseURL string
}

func NewProvisioner(store ProvisionStore, baseURL string) *Provisioner {
	return &Provisioner{Store: store, Clients: vpn.ForServer, PublicBaseURL: baseURL}
}

// ProvisionPayment выдаёт ключ/подписку по оплаченному платежу.
// Вызывается только после успешного захвата платежа (ClaimPendingPayment),
// поэтому от конкурентной доставки webhook защищён уровнем выше.
func (p *Provisioner) ProvisionPayment(ctx context.Context, pay *db.Payment) (*Result, error) {
	tariff, err := p.Store.GetTariff(pay.TariffID)
	if err != nil {
		return nil, fmt.Errorf("tariff %d: %w", pay.TariffID, err)
	}
	user, err := p.Store.GetUser(pay.UserID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", pay.UserID, err)
	}
	expires := time.Now().Add(time.Duration(tariff.DurationDays) * 24 * time.Hour)

	switch tariff.Protocol {
	case db.ProtocolOutline:
		return p.provisionOutline(ctx, user, tariff, pay, expires)
	case db.ProtocolV2Ray:
		return p.provisionV2RaySubscription(ctx, user, tariff, pay, expires)
	default:
		return nil, fmt.Errorf("tariff %d: unknown protocol %q", tariff.ID, tariff.Protocol)
	}
}

// ClaimFreeTariff — выдача по бесплатному тарифу, мимо оплаты, но через
// тот же конвейер платежей: нулевой pending-платёж захватывается и
// закрывается, что даёт guard "раз на пользователя на тариф".
func (p *Provisioner) ClaimFreeTariff(ctx context.Context, user *db.User, tariff *db.Tariff) (*Result, error) {
	if !tariff.IsFree() {
		return nil, fmt.Errorf("tariff %d is not free", tariff.ID)
	}
	claimed, err := p.Store.HasCompletedPayment(user.ID, tariff.ID)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, ErrAlreadyClaimed
	}
	pay := &db.Payment{
		UserID:    user.ID,
		TariffID:  tariff.ID,
		GatewayID: "free-" + uuid.NewString(),
		Amount:    tariff.Price,
		Status:    db.PaymentPending,
	}
	if err := p.Store.CreatePayment(pay); err != nil {
		return nil, err
	}
	ok, err := p.Store.ClaimPendingPayment(pay.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}
	res, err := p.ProvisionPayment(ctx, pay)
	if err != nil {
		if ferr := p.Store.FailPayment(pay.ID); ferr != nil {
			logger.Error("fail free payment", zap.Uint("payment_id", pay.ID), zap.Error(ferr))
		}
		return nil, err
	}
	if err := p.Store.CompletePayment(pay.ID); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Provisioner) provisionOutline(ctx context.Context, user *db.User, tariff *db.Tariff, pay *db.Payment, expires time.Time) (*Result, error) {
	servers, err := p.Store.ListServers(db.ProtocolOutline, true)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	srv := servers[0]
	client, err := p.Clients(srv)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("veil-%d-%d", user.ID, pay.ID)
	created, err := client.CreateKey(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", srv.Name, err)
	}
	if created.Name != name {
		// Старые версии Outline игнорируют имя в теле POST, его
		// выставляет отдельный запрос.
		if sn, ok := client.(interface {
			SetName(ctx context.Context, id, name string) error
		}); ok {
			if err := sn.SetName(ctx, created.ID, name); err != nil {
				logger.Warn("set key name failed", zap.String("server", srv.Name), zap.Error(err))
			}
		}
	}
	if tariff.TrafficLimit > 0 {
		if err := client.SetDataLimit(ctx, created.ID, tariff.TrafficLimit); err != nil {
			logger.Warn("set data limit failed", zap.String("server", srv.Name), zap.Error(err))
		}
	}
	key := &db.OutlineKey{
		UserID:       user.ID,
		ServerID:     srv.ID,
		RemoteID:     created.ID,
		Name:         name,
		Email:        pay.Email,
		AccessURL:    created.AccessURL,
		TrafficLimit: tariff.TrafficLimit,
		ExpiresAt:    expires,
		Active:       true,
	}
	if err := p.Store.CreateOutlineKey(key); err != nil {
		// Локальная запись не создана — снимаем удалённый ключ,
		// чтобы не плодить orphan'ов.
		if derr := client.DeleteKey(ctx, created.ID); derr != nil {
			logger.Error("rollback remote key failed", zap.String("server", srv.Name), zap.Error(derr))
		}
		return nil, err
	}
	return &Result{Protocol: db.ProtocolOutline, AccessURL: created.AccessURL, ExpiresAt: expires}, nil
}

// provisionV2RaySubscription создаёт по ключу на каждом активном V2Ray-сервере
// и объединяет их подпиской с одним сроком и лимитом. Отказ части серверов
// не фатален, достаточно хотя бы одного созданного ключа.
func (p *Provisioner) provisionV2RaySubscription(ctx context.Context, user *db.User, tariff *db.Tariff, pay *db.Payment, expires time.Time) (*Result, error) {
	servers, err := p.Store.ListServers(db.ProtocolV2Ray, true)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	sub := &db.Subscription{
		UserID:       user.ID,
		TariffID:     tariff.ID,
		Token:        uuid.NewString(),
		TrafficLimit: tariff.TrafficLimit,
		ExpiresAt:    expires,
		Active:       true,
	}
	if err := p.Store.CreateSubscription(sub); err != nil {
		return nil, err
	}

	email := fmt.Sprintf("u%d-p%d@veilbot", user.ID, pay.ID)
	createdCount := 0
	var firstURL string
	for _, srv := range servers {
		client, err := p.Clients(srv)
		if err != nil {
			logger.Error("client init failed", zap.String("server", srv.Name), zap.Error(err))
			continue
		}
		created, err := client.CreateKey(ctx, email)
		if err != nil {
			logger.Error("create key failed", zap.String("server", srv.Name), zap.Error(err))
			continue
		}
		accessURL, err := client.GetConfig(ctx, created.ID)
		if err != nil {
			logger.Error("get config failed", zap.String("server", srv.Name), zap.Error(err))
			// Ключ без конфига бесполезен — снимаем.
			if derr := client.DeleteKey(ctx, created.ID); derr != nil {
				logger.Error("rollback remote key failed", zap.String("server", srv.Name), zap.Error(derr))
			}
			continue
		}
		if tariff.TrafficLimit > 0 {
			if err := client.SetDataLimit(ctx, created.ID, tariff.TrafficLimit); err != nil {
				logger.Warn("set data limit failed", zap.String("server", srv.Name), zap.Error(err))
			}
		}
		key := &db.V2RayKey{
			UserID:         user.ID,
			ServerID:       srv.ID,
			SubscriptionID: &sub.ID,
			UUID:           created.UUID,
			Email:          email,
			AccessURL:      accessURL,
			TrafficLimit:   tariff.TrafficLimit,
			ExpiresAt:      expires,
			Active:         true,
		}
		if err := p.Store.CreateV2RayKey(key); err != nil {
			logger.Error("save key failed", zap.String("server", srv.Name), zap.Error(err))
			if derr := client.DeleteKey(ctx, created.ID); derr != nil {
				logger.Error("rollback remote key failed", zap.String("server", srv.Name), zap.Error(derr))
			}
			continue
		}
		createdCount++
		if firstURL == "" {
			firstURL = accessURL
		}
	}
	if createdCount == 0 {
		// Запись подписки без единого ключа подхватил бы фоновый повтор
		// уведомлений и отправил пользователю ссылку по проваленной
		// выдаче. Откатываем её вместе с платежом.
		if derr := p.Store.DeleteSubscription(sub.ID); derr != nil {
			logger.Error("rollback subscription failed", zap.Uint("subscription_id", sub.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("subscription %d: no keys created on any of %d servers", sub.ID, len(servers))
	}
	return &Result{
		Protocol:        db.ProtocolV2Ray,
		AccessURL:       firstURL,
		SubscriptionURL: p.PublicBaseURL + "/api/subscription/" + sub.Token,
		SubscriptionID:  sub.ID,
		ExpiresAt:       expires,
	}, nil
}
