package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingSetupRecordVersion1 = 1
)

var (
	ErrPendingSetupNotFound = errors.New("pending setup not found")
	ErrPendingSetupExpired  = errors.New("pending setup expired")
	ErrPendingSetupBackend  = errors.New("pending setup backend unavailable")
)

// PendingSetup is a two-factor enrollment waiting for its first valid
// code. The secret and backup codes are provisional until confirmed.
type PendingSetup struct {
	Secret      string
	BackupCodes []string
	ExpiresAt   int64
}

// PendingSetupStore keeps one in-flight enrollment per account.
// Starting a new setup overwrites any previous unconfirmed one.
type PendingSetupStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPendingSetupStore(redisClient redis.UniversalClient, prefix string) *PendingSetupStore {
	if prefix == "" {
		prefix = "aps"
	}
	return &PendingSetupStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PendingSetupStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

func (s *PendingSetupStore) Save(
	ctx context.Context,
	accountID string,
	record *PendingSetup,
	ttl time.Duration,
) error {
	record.ExpiresAt = time.Now().Add(ttl).Unix()
	encoded, err := encodePendingSetup(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(accountID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingSetupBackend, err)
	}
	return nil
}

func (s *PendingSetupStore) Get(ctx context.Context, accountID string) (*PendingSetup, error) {
	data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingSetupNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingSetupBackend, err)
	}

	record, err := decodePendingSetup(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(accountID)).Result()
		return nil, ErrPendingSetupExpired
	}
	return record, nil
}

func (s *PendingSetupStore) Delete(ctx context.Context, accountID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPendingSetupBackend, err)
	}
	return n > 0, nil
}

func encodePendingSetup(record *PendingSetup) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingSetupRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Secret) > 65535 {
		return nil, errors.New("pending setup secret length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Secret))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Secret)

	if len(record.BackupCodes) > 65535 {
		return nil, errors.New("pending setup code count exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.BackupCodes))); err != nil {
		return nil, err
	}
	for _, code := range record.BackupCodes {
		if len(code) > 255 {
			return nil, errors.New("pending setup code length exceeded")
		}
		buf.WriteByte(byte(len(code)))
		buf.WriteString(code)
	}

	return buf.Bytes(), nil
}

func decodePendingSetup(data []byte) (*PendingSetup, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingSetupRecordVersion1 {
		return nil, errors.New("invalid pending setup version")
	}

	record := &PendingSetup{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var secretLen uint16
	if err := binary.Read(reader, binary.BigEndian, &secretLen); err != nil {
		return nil, err
	}
	secret := make([]byte, secretLen)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, err
	}
	record.Secret = string(secret)

	var codeCount uint16
	if err := binary.Read(reader, binary.BigEndian, &codeCount); err != nil {
		return nil, err
	}
	record.BackupCodes = make([]string, 0, codeCount)
	for i := uint16(0); i < codeCount; i++ {
		codeLen, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		code := make([]byte, codeLen)
		if _, err := io.ReadFull(reader, code); err != nil {
			return nil, err
		}
		record.BackupCodes = append(record.BackupCodes, string(code))
	}

	return record, nil
}
