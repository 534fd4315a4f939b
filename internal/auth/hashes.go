package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/internal/verification"
)

const prefixHashes = "hashes/"

// HashAssociation links a user to a document digest they recorded on the ledger.
type HashAssociation struct {
	BatchID         string    `json:"batchId"`
	FileHash        string    `json:"fileHash"`
	TxHash          string    `json:"txHash"`
	ContractAddress string    `json:"contractAddress,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	ProductName     string    `json:"productName,omitempty"`
	Simulated       bool      `json:"simulated,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Stats summarizes a user's account.
type Stats struct {
	TotalHashes int        `json:"totalHashes"`
	LastUpload  *time.Time `json:"lastUpload"`
	LastLogin   *time.Time `json:"lastLogin"`
	MemberSince time.Time  `json:"memberSince"`
	Role        string     `json:"role"`
	Verified    bool       `json:"verified"`
}

// AssociateHash records that userID stored a document.
func (s *Service) AssociateHash(userID string, h HashAssociation) (HashAssociation, error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now().UTC()
	}
	key := fmt.Sprintf("%s%s/%020d-%s", prefixHashes, userID, h.CreatedAt.UnixNano(), h.BatchID)

	err := s.kv.Update(func(txn registry.Txn) error {
		if _, err := txn.Get(prefixUser + userID); err != nil {
			return err
		}
		return putJSON(txn, key, h)
	})
	if errors.Is(err, registry.ErrKeyNotFound) {
		return HashAssociation{}, ErrNotFound
	}
	if err != nil {
		return HashAssociation{}, fmt.Errorf("failed to associate hash: %w", err)
	}
	return h, nil
}

// Hashes lists the associations of userID, oldest first.
func (s *Service) Hashes(userID string) ([]HashAssociation, error) {
	if _, err := s.Profile(userID); err != nil {
		return nil, err
	}

	out := []HashAssociation{}
	err := s.kv.Scan(prefixHashes+userID+"/", func(_ string, value []byte) error {
		var h HashAssociation
		if err := json.Unmarshal(value, &h); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read hashes: %w", err)
	}
	return out, nil
}

// Stats summarizes the account of userID.
func (s *Service) Stats(userID string) (Stats, error) {
	user, err := s.Profile(userID)
	if err != nil {
		return Stats{}, err
	}
	hashes, err := s.Hashes(userID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalHashes: len(hashes),
		LastLogin:   user.LastLogin,
		MemberSince: user.CreatedAt,
		Role:        string(user.Role),
		Verified:    user.Verified,
	}
	if n := len(hashes); n > 0 {
		last := hashes[n-1].CreatedAt
		stats.LastUpload = &last
	}
	return stats, nil
}

// Handle associates a stored document with its uploader. It implements
// verification.Notifier; anonymous uploads are skipped.
func (s *Service) Handle(ctx context.Context, n verification.Notification) error {
	if n.Uploader.UserID == "" {
		return nil
	}
	_, err := s.AssociateHash(n.Uploader.UserID, HashAssociation{
		BatchID:         n.ProductID,
		FileHash:        n.Digest.String(),
		TxHash:          n.Receipt.TxHash,
		ContractAddress: n.Attributes["contractAddress"],
		BlockNumber:     n.Receipt.BlockNumber,
		ProductName:     n.Attributes["batchName"],
		Simulated:       n.Simulated,
		CreatedAt:       n.StoredAt,
	})
	return err
}
