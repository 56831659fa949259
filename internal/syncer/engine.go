// Package syncer сверяет локальные записи ключей с фактическим состоянием
// удалённых VPN-серверов: обновляет кэш трафика и сроков, находит пары
// "есть локально, нет на сервере" и наоборот, по настройке чинит их.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// Options — конфигурация одного прогона синхронизации.
type Options struct {
	// DryRun — только отчёт, ни одного мутирующего вызова.
	DryRun bool `json:"dry_run"`
	// ServerID — 0 для всех серверов, иначе один сервер.
	ServerID       uint `json:"server_id"`
	IncludeV2Ray   bool `json:"include_v2ray"`
	IncludeOutline bool `json:"include_outline"`
	// CreateMissing — пересоздавать на сервере ключи, которые есть
	// локально, но отсутствуют удалённо.
	CreateMissing bool `json:"create_missing"`
	// DeleteOrphaned — удалять с сервера ключи без локальной записи.
	DeleteOrphaned bool `json:"delete_orphaned_on_servers"`
	// DeleteInactiveServerKeys — подчищать ключи деактивированных серверов.
	DeleteInactiveServerKeys bool `json:"delete_inactive_server_keys"`
	// SyncConfigs — после мутаций просить V2Ray-сервер применить конфиг.
	SyncConfigs bool `json:"sync_configs"`
}

// FailureDetail — структурированная запись об отказе по одному ключу/серверу.
type FailureDetail struct {
	KeyID      uint   `json:"key_id,omitempty"`
	UUIDPrefix string `json:"uuid_prefix,omitempty"`
	Server     string `json:"server"`
	Error      string `json:"error"`
}

// Report — агрегированная статистика прогона. Частичный успех — норма:
// отказ по одному ключу или серверу не прерывает прогон.
type Report struct {
	TotalKeys            int             `json:"total_keys"`
	Updated              int             `json:"updated"`
	Unchanged            int             `json:"unchanged"`
	Failed               int             `json:"failed"`
	FailedDetails        []FailureDetail `json:"failed_details,omitempty"`
	ServersProcessed     int             `json:"servers_processed"`
	MissingPairsTotal    int             `json:"missing_pairs_total"`
	MissingKeysCreated   int             `json:"missing_keys_created"`
	MissingKeysFailed    int             `json:"missing_keys_failed"`
	OrphanedRemoved      int             `json:"orphaned_removed"`
	InactiveKeysRemoved  int             `json:"inactive_keys_removed"`
	DryRun               bool            `json:"dry_run"`
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           time.Time       `json:"finished_at"`
}

// Store — срез репозитория, нужный синхронизации.
type Store interface {
	ListServers(protocol string, activeOnly bool) ([]db.Server, error)
	V2RayKeysByServer(serverID uint) ([]db.V2RayKey, error)
	OutlineKeysByServer(serverID uint) ([]db.OutlineKey, error)
	UpdateV2RayKey(key *db.V2RayKey) error
	UpdateOutlineKey(key *db.OutlineKey) error
	UpdateV2RayKeyTraffic(id uint, used int64) error
	UpdateOutlineKeyTraffic(id uint, used int64) error
	DeleteV2RayKey(id uint) error
	DeleteOutlineKey(id uint) error
}

// Engine — движок синхронизации. Clients подменяется в тестах.
type Engine struct {
	Store   Store
	Clients func(srv db.Server) (vpn.Client, error)
}

func New(store Store) *Engine {
	return &Engine{Store: store, Clients: vpn.ForServer}
}

// Run выполняет один прогон. Серверы обрабатываются параллельно,
// вызовы к одному серверу — строго последовательно, чтобы не
// перегружать его management API.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{DryRun: opts.DryRun, StartedAt: time.Now()}

	servers, err := e.targetServers(opts)
	if err != nil {
		return nil, fmt.Errorf("resolve servers: %w", err)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, srv := range servers {
		wg.Add(1)
		go func(srv db.Server) {
			defer wg.Done()
			local := e.syncServer(ctx, srv, opts)
			mu.Lock()
			report.merge(local)
			mu.Unlock()
		}(srv)
	}
	wg.Wait()

	report.FinishedAt = time.Now()
	logger.Info("sync run finished",
		zap.Int("servers", report.ServersProcessed),
		zap.Int("total", report.TotalKeys),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", report.DryRun))
	return report, nil
}

func (e *Engine) targetServers(opts Options) ([]db.Server, error) {
	all, err := e.Store.ListServers("", false)
	if err != nil {
		return nil, err
	}
	var servers []db.Server
	for _, srv := range all {
		if opts.ServerID != 0 && srv.ID != opts.ServerID {
			continue
		}
		if !srv.Active && !opts.DeleteInactiveServerKeys {
			continue
		}
		switch srv.Protocol {
		case db.ProtocolV2Ray:
			if !opts.IncludeV2Ray {
				continue
			}
		case db.ProtocolOutline:
			if !opts.IncludeOutline {
				continue
			}
		default:
			continue
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

func (r *Report) merge(o *Report) {
	r.TotalKeys += o.TotalKeys
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Failed += o.Failed
	r.FailedDetails = append(r.FailedDetails, o.FailedDetails...)
	r.ServersProcessed += o.ServersProcessed
	r.MissingPairsTotal += o.MissingPairsTotal
	r.MissingKeysCreated += o.MissingKeysCreated
	r.MissingKeysFailed += o.MissingKeysFailed
	r.OrphanedRemoved += o.OrphanedRemoved
	r.InactiveKeysRemoved += o.InactiveKeysRemoved
}

func (r *Report) fail(d FailureDetail) {
	r.Failed++
	r.FailedDetails = append(r.FailedDetails, d)
}

func uuidPrefix(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// syncServer обрабатывает один сервер: один запрос списка ключей,
// затем дифф локальных записей против удалённых.
func (e *Engine) syncServer(ctx context.Context, srv db.Server, opts Options) *Report {
	r := &Report{}
	client, err := e.Clients(srv)
	if err != nil {
		r.fail(FailureDetail{Server: srv.Name, Error: err.Error()})
		return r
	}
	remote, err := client.ListKeys(ctx)
	if err != nil {
		r.fail(FailureDetail{Server: srv.Name, Error: fmt.Sprintf("list keys: %v", err)})
		return r
	}
	r.ServersProcessed = 1

	switch srv.Protocol {
	case db.ProtocolV2Ray:
		e.syncV2Ray(ctx, srv, client, remote, opts, r)
	case db.ProtocolOutline:
		e.syncOutline(ctx, srv, client, remote, opts, r)
	}

	if opts.SyncConfigs && srv.Protocol == db.ProtocolV2Ray && !opts.DryRun {
		if sc, ok := client.(interface{ SyncConfig(context.Context) error }); ok {
			if err := sc.SyncConfig(ctx); err != nil {
				r.fail(FailureDetail{Server: srv.Name, Error: fmt.Sprintf("config sync: %v", err)})
			}
		}
	}
	return r
}

func (e *Engine) syncV2Ray(ctx context.Context, srv db.Server, client vpn.Client, remote []vpn.KeyInfo, opts Options, r *Report) {
	locals, err := e.Store.V2RayKeysByServer(srv.ID)
	if err != nil {
		r.fail(FailureDetail{Server: srv.Name, Error: fmt.Sprintf("load local keys: %v", err)})
		return
	}
	byUUID := make(map[string]vpn.KeyInfo, len(remote))
	for _, k := range remote {
		byUUID[k.UUID] = k
	}
	matched := make(map[string]bool, len(locals))

	for i := range locals {
		key := &locals[i]
		r.TotalKeys++
		info, ok := byUUID[key.UUID]
		if !ok {
			// Ключ есть локально, на сервере отсутствует.
			r.MissingPairsTotal++
			if !srv.Active && opts.DeleteInactiveServerKeys {
				e.removeLocalV2Ray(key, opts, r, srv)
				continue
			}
			if !opts.CreateMissing {
				continue
			}
			if opts.DryRun {
				r.MissingKeysCreated++
				continue
			}
			created, err := client.CreateKey(ctx, key.Email)
			if err != nil {
				r.MissingKeysFailed++
				r.fail(FailureDetail{KeyID: key.ID, UUIDPrefix: uuidPrefix(key.UUID), Server: srv.Name, Error: fmt.Sprintf("create missing: %v", err)})
				continue
			}
			key.UUID = created.UUID
			if key.TrafficLimit > 0 {
				if err := client.SetDataLimit(ctx, created.ID, key.TrafficLimit); err != nil {
					r.fail(FailureDetail{KeyID: key.ID, UUIDPrefix: uuidPrefix(key.UUID), Server: srv.Name, Error: fmt.Sprintf("set data limit: %v", err)})
				}
			}
			if err := e.Store.UpdateV2RayKey(key); err != nil {
				r.MissingKeysFailed++
				r.fail(FailureDetail{KeyID: key.ID, UUIDPrefix: uuidPrefix(key.UUID), Server: srv.Name, Error: fmt.Sprintf("save recreated key: %v", err)})
				continue
			}
			r.MissingKeysCreated++
			continue
		}
		matched[key.UUID] = true

		if !srv.Active && opts.DeleteInactiveServerKeys {
			if !opts.DryRun {
				if err := client.DeleteKey(ctx, info.ID); err != nil {
					r.fail(FailureDetail{KeyID: key.ID, UUIDPrefix: uuidPrefix(key.UUID), Server: srv.Name, Error: fmt.Sprintf("delete on inactive server: %v", err)})
					continue
				}
			}
			e.removeLocalV2Ray(key, opts, r, srv)
			continue
		}

		changed := key.TrafficUsed != info.UsedBytes
		newExpiry := key.ExpiresAt
		if info.ExpiresAt != 0 {
			remoteExp := time.Unix(info.ExpiresAt, 0)
			if !remoteExp.Equal(key.ExpiresAt) {
				newExpiry = remoteExp
				changed = true
			}
		}
		if !changed {
			r.Unchanged++
			continue
		}
		if opts.DryRun {
			r.Updated++
			continue
		}
		// Если сдвинулся только счётчик трафика, пишем один столбец:
		// полный Save затёр бы параллельное продление из админки.
		if newExpiry.Equal(key.ExpiresAt) {
			err = e.Store.UpdateV2RayKeyTraffic(key.ID, info.UsedBytes)
		} else {
			key.TrafficUsed = info.UsedBytes
			key.ExpiresAt = newExpiry
			err = e.Store.UpdateV2RayKey(key)
		}
		if err != nil {
			r.fail(FailureDetail{KeyID: key.ID, UUIDPrefix: uuidPrefix(key.UUID), Server: srv.Name, Error: fmt.Sprintf("update traffic: %v", err)})
			continue
		}
		r.Updated++
	}

	// Ключи, существующие на сервере без локальной записи.
	for _, info := range remote {
		if matched[info.UUID] {
			continue
		}
		r.TotalKeys++
		r.MissingPairsTotal++
		if !opts.DeleteOrphaned || opts.DryRun {
			continue
		}
		if err := client.DeleteKey(ctx, info.ID); err != nil {
			r.fail(FailureDetail{UUIDPrefix: uuidPrefix(info.UUID), Server: srv.Name, Error: fmt.Sprintf("delete orphan: %v", err)})
			continue
		}
		r.OrphanedRemoved++
	}
}

func (e *Engine) removeLocalV2Ray(key *db.V2RayKey, opts Options, r *Report, srv db.Server) {
	if opts.DryRun {
		r.InactiveKeysRemoved++
		return
	}
	if err := e.Store.DeleteV2RayKey(key.ID); err != nil {
		r.fail(FailureDetail{KeyID: key.ID, UUIDPrefix: uuidPrefix(key.UUID), Server: srv.Name, Error: fmt.Sprintf("delete local: %v", err)})
		return
	}
	r.InactiveKeysRemoved++
}

func (e *Engine) syncOutline(ctx context.Context, srv db.Server, client vpn.Client, remote []vpn.KeyInfo, opts Options, r *Report) {
	locals, err := e.Store.OutlineKeysByServer(srv.ID)
	if err != nil {
		r.fail(FailureDetail{Server: srv.Name, Error: fmt.Sprintf("load local keys: %v", err)})
		return
	}
	byID := make(map[string]vpn.KeyInfo, len(remote))
	for _, k := range remote {
		byID[k.ID] = k
	}
	matched := make(map[string]bool, len(locals))

	for i := range locals {
		key := &locals[i]
		r.TotalKeys++
		info, ok := byID[key.RemoteID]
		if !ok {
			r.MissingPairsTotal++
			if !srv.Active && opts.DeleteInactiveServerKeys {
				e.removeLocalOutline(key, opts, r, srv)
				continue
			}
			if !opts.CreateMissing {
				continue
			}
			if opts.DryRun {
				r.MissingKeysCreated++
				continue
			}
			created, err := client.CreateKey(ctx, key.Name)
			if err != nil {
				r.MissingKeysFailed++
				r.fail(FailureDetail{KeyID: key.ID, Server: srv.Name, Error: fmt.Sprintf("create missing: %v", err)})
				continue
			}
			key.RemoteID = created.ID
			key.AccessURL = created.AccessURL
			if key.TrafficLimit > 0 {
				if err := client.SetDataLimit(ctx, created.ID, key.TrafficLimit); err != nil {
					r.fail(FailureDetail{KeyID: key.ID, Server: srv.Name, Error: fmt.Sprintf("set data limit: %v", err)})
				}
			}
			if err := e.Store.UpdateOutlineKey(key); err != nil {
				r.MissingKeysFailed++
				r.fail(FailureDetail{KeyID: key.ID, Server: srv.Name, Error: fmt.Sprintf("save recreated key: %v", err)})
				continue
			}
			r.MissingKeysCreated++
			continue
		}
		matched[key.RemoteID] = true

		if !srv.Active && opts.DeleteInactiveServerKeys {
			if !opts.DryRun {
				if err := client.DeleteKey(ctx, info.ID); err != nil {
					r.fail(FailureDetail{KeyID: key.ID, Server: srv.Name, Error: fmt.Sprintf("delete on inactive server: %v", err)})
					continue
				}
			}
			e.removeLocalOutline(key, opts, r, srv)
			continue
		}

		if key.TrafficUsed == info.UsedBytes {
			r.Unchanged++
			continue
		}
		if opts.DryRun {
			r.Updated++
			continue
		}
		if err := e.Store.UpdateOutlineKeyTraffic(key.ID, info.UsedBytes); err != nil {
			r.fail(FailureDetail{KeyID: key.ID, Server: srv.Name, Error: fmt.Sprintf("update traffic: %v", err)})
			continue
		}
		r.Updated++
	}

	for _, info := range remote {
		if matched[info.ID] {
			continue
		}
		r.TotalKeys++
		r.MissingPairsTotal++
		if !opts.DeleteOrphaned || opts.DryRun {
			continue
		}
		if err := client.DeleteKey(ctx, info.ID); err != nil {
			r.fail(FailureDetail{UUIDPrefix: info.ID, Server: srv.Name, Error: fmt.Sprintf("delete orphan: %v", err)})
			continue
		}
		r.OrphanedRemoved++
	}
}

func (e *Engine) removeLocalOutline(key *db.OutlineKey, opts Options, r *Report, srv db.Server) {
	if opts.DryRun {
		r.InactiveKeysRemoved++
		return
	}
	if err := e.Store.DeleteOutlineKey(key.ID); err != nil {
		r.fail(FailureDetail{KeyID: key.ID, Server: srv.Name, Error: fmt.Sprintf("delete local: %v", err)})
		return
	}
	r.InactiveKeysRemoved++
}

// Describe — краткая строка для лога админ-действия.
func (o Options) Describe() string {
	scope := "all"
	if o.ServerID != 0 {
		scope = "server " + strconv.FormatUint(uint64(o.ServerID), 10)
	}
	return fmt.Sprintf("scope=%s dry_run=%v create_missing=%v delete_orphaned=%v", scope, o.DryRun, o.CreateMissing, o.DeleteOrphaned)
}
