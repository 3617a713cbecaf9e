package feature

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/cache"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Directory is the read-only supplier directory with an offline copy.
type Directory struct {
	d         Deps
	Suppliers *optimistic.List[model.Supplier]
}

// NewDirectory creates an empty directory.
func NewDirectory(d Deps) *Directory {
	return &Directory{d: d.withDefaults(), Suppliers: optimistic.NewList[model.Supplier]()}
}

// Load fetches suppliers online and overwrites the offline copy. Offline it
// reads the cached copy, or returns NOT_AVAILABLE_OFFLINE.
func (s *Directory) Load(ctx context.Context) ([]model.Supplier, error) {
	if !s.d.online() {
		suppliers, err := cache.Get[[]model.Supplier](ctx, s.d.Content, cache.KeySuppliers)
		if err != nil {
			return nil, err
		}
		s.Suppliers.Set(suppliers)
		return suppliers, nil
	}

	suppliers, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.d.Content.Put(ctx, cache.KeySuppliers, suppliers); err != nil {
		s.d.Logger.Named("suppliers").Warn("caching suppliers failed", zap.Error(err))
	}
	return suppliers, nil
}

// DownloadForOffline refreshes the offline copy and returns how many
// suppliers it holds. It needs a connection.
func (s *Directory) DownloadForOffline(ctx context.Context) (int, error) {
	if !s.d.online() {
		return 0, errors.NewOnlineOperationFailed("suppliers.download", errOffline)
	}
	suppliers, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.d.Content.Put(ctx, cache.KeySuppliers, suppliers); err != nil {
		return 0, err
	}
	return len(suppliers), nil
}

// OfflineAvailable reports whether a cached copy exists.
func (s *Directory) OfflineAvailable(ctx context.Context) bool {
	_, err := s.d.Content.GetRaw(ctx, cache.KeySuppliers)
	return err == nil
}

// Search filters the loaded suppliers by name or district, ignoring case.
func (s *Directory) Search(term string) []model.Supplier {
	term = strings.ToLower(term)
	var out []model.Supplier
	for _, sup := range s.Suppliers.Snapshot() {
		if strings.Contains(strings.ToLower(sup.Name), term) ||
			strings.Contains(strings.ToLower(sup.District), term) {
			out = append(out, sup)
		}
	}
	return out
}

func (s *Directory) fetch(ctx context.Context) ([]model.Supplier, error) {
	suppliers, err := s.d.Backend.Suppliers.Select(ctx, supplierQuery)
	if err != nil {
		return nil, remoteErr("suppliers.load", err)
	}
	s.Suppliers.Set(suppliers)
	return suppliers, nil
}
