package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	devicePrefix = "device:"
	logPrefix    = "log:"

	cacheTTL = 60 * time.Second
)

// Store is a BadgerDB-backed device settings and conversation log store with a
// short-lived in-memory cache in front of the config reads.
type Store struct {
	db       *badger.DB
	defaults Defaults
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedConfig
}

type cachedConfig struct {
	cfg       DeviceConfig
	expiresAt time.Time
}

// Open opens (or creates) the store under dir.
func Open(dir string, defaults Defaults, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("devices: open store: %w", err)
	}
	return &Store{
		db:       db,
		defaults: defaults,
		logger:   logger,
		cache:    make(map[string]cachedConfig),
	}, nil
}

// GetConfig returns the device's stored settings, creating a default record
// for a device seen for the first time. Reads within the cache TTL do not
// touch the database.
func (s *Store) GetConfig(ctx context.Context, deviceID string) (DeviceConfig, error) {
	s.mu.Lock()
	if c, ok := s.cache[deviceID]; ok && time.Now().Before(c.expiresAt) {
		s.mu.Unlock()
		return c.cfg, nil
	}
	s.mu.Unlock()

	var cfg DeviceConfig
	key := []byte(devicePrefix + deviceID)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &cfg)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		now := time.Now().UTC()
		cfg = DeviceConfig{
			DeviceID:     deviceID,
			VoiceID:      s.defaults.VoiceID,
			SystemPrompt: s.defaults.SystemPrompt,
			CreatedAt:    now,
			LastActiveAt: now,
		}
		if err := s.putConfig(cfg); err != nil {
			return DeviceConfig{}, err
		}
		s.logger.Info().Str("device_id", deviceID).Msg("Created default device record")
		err = nil
	}
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("devices: get config: %w", err)
	}

	s.mu.Lock()
	s.cache[deviceID] = cachedConfig{cfg: cfg, expiresAt: time.Now().Add(cacheTTL)}
	s.mu.Unlock()
	return cfg, nil
}

// UpdateDevice stores new settings for a device and invalidates its cache
// entry. Empty fields keep their current value.
func (s *Store) UpdateDevice(ctx context.Context, deviceID, voiceID, systemPrompt string) (DeviceConfig, error) {
	cfg, err := s.GetConfig(ctx, deviceID)
	if err != nil {
		return DeviceConfig{}, err
	}
	if voiceID != "" {
		cfg.VoiceID = voiceID
	}
	if systemPrompt != "" {
		cfg.SystemPrompt = systemPrompt
	}
	cfg.LastActiveAt = time.Now().UTC()

	if err := s.putConfig(cfg); err != nil {
		return DeviceConfig{}, err
	}

	s.mu.Lock()
	delete(s.cache, deviceID)
	s.mu.Unlock()
	return cfg, nil
}

func (s *Store) putConfig(cfg DeviceConfig) error {
	val, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("devices: encode config: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(devicePrefix+cfg.DeviceID), val)
	})
	if err != nil {
		return fmt.Errorf("devices: put config: %w", err)
	}
	return nil
}

// VoiceID implements Provider. Store errors fall back to the default.
func (s *Store) VoiceID(ctx context.Context, deviceID string) string {
	cfg, err := s.GetConfig(ctx, deviceID)
	if err != nil || cfg.VoiceID == "" {
		if err != nil {
			s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Falling back to default voice")
		}
		return s.defaults.VoiceID
	}
	return cfg.VoiceID
}

// SystemPrompt implements Provider. Store errors fall back to the default.
func (s *Store) SystemPrompt(ctx context.Context, deviceID string) string {
	cfg, err := s.GetConfig(ctx, deviceID)
	if err != nil || cfg.SystemPrompt == "" {
		if err != nil {
			s.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Falling back to default prompt")
		}
		return s.defaults.SystemPrompt
	}
	return cfg.SystemPrompt
}

// LogConversation appends one turn entry to the device's conversation log.
func (s *Store) LogConversation(ctx context.Context, entry ConversationEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("devices: encode log entry: %w", err)
	}

	// Key layout sorts entries chronologically per device; reads iterate in
	// reverse for most-recent-first.
	key := fmt.Sprintf("%s%s:%020d:%s", logPrefix, entry.DeviceID, entry.Timestamp.UnixNano(), uuid.NewString())
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("devices: append log: %w", err)
	}
	return nil
}

// DeviceLogs returns up to limit log entries for the device, most recent
// first.
func (s *Store) DeviceLogs(ctx context.Context, deviceID string, limit int) ([]ConversationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	prefix := []byte(logPrefix + deviceID + ":")

	var entries []ConversationEntry
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// Reverse iteration seeks to the last possible key under the prefix.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var entry ConversationEntry
			if err := json.Unmarshal(val, &entry); err != nil {
				s.logger.Warn().Err(err).Msg("Skipping undecodable log entry")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("devices: read logs: %w", err)
	}
	return entries, nil
}

// Devices lists all known device configs.
func (s *Store) Devices(ctx context.Context) ([]DeviceConfig, error) {
	prefix := []byte(devicePrefix)
	var configs []DeviceConfig
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var cfg DeviceConfig
			if err := json.Unmarshal(val, &cfg); err != nil {
				continue
			}
			configs = append(configs, cfg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("devices: list devices: %w", err)
	}
	return configs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ Provider = (*Store)(nil)
