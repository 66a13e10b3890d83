package snapshot

// file.go — snapshot atómico del estado de trading.
//
// Protocolo de escritura: serializar a un temporal en el MISMO directorio,
// fsync del archivo, rename atómico sobre el destino, fsync del directorio.
// Un crash en cualquier punto deja en disco el snapshot anterior o el
// nuevo, nunca uno parcial.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// FileStore implementa ports.SnapshotStore sobre un único archivo JSON
// versionado.
type FileStore struct {
	path string
}

// NewFileStore crea el store apuntando a la ruta dada.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save persiste el snapshot con el protocolo tmp+fsync+rename+dirsync.
func (f *FileStore) Save(_ context.Context, snap domain.TradingStateSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot.Save: marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot.Save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	// Si algo falla antes del rename, el temporal no debe quedar colgando.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot.Save: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot.Save: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot.Save: close temp: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("snapshot.Save: rename: %w", err)
	}

	// fsync del directorio para que la entrada renombrada sea durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	return nil
}

// Load devuelve el snapshot previo, o found=false en el primer arranque.
func (f *FileStore) Load(_ context.Context) (domain.TradingStateSnapshot, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return domain.TradingStateSnapshot{}, false, nil
	}
	if err != nil {
		return domain.TradingStateSnapshot{}, false, fmt.Errorf("snapshot.Load: read: %w", err)
	}

	var snap domain.TradingStateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.TradingStateSnapshot{}, false, fmt.Errorf("snapshot.Load: parse: %w", err)
	}
	if snap.Version != domain.SnapshotVersion {
		return domain.TradingStateSnapshot{}, false,
			fmt.Errorf("snapshot.Load: unsupported version %d", snap.Version)
	}
	if snap.Positions == nil {
		snap.Positions = make(map[string]domain.Position)
	}
	if snap.PendingOrders == nil {
		snap.PendingOrders = make(map[string]domain.Order)
	}
	return snap, true, nil
}
